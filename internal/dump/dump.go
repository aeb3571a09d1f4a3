// Package dump writes an offline reproduction of a job's device-memory
// image: an INI-like runtime.cfg and a human-readable metadata.txt,
// suitable for replaying or inspecting a run without live hardware.
package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/humanize"
)

// FastPerfConfig is the optional fast-perf profiling block.
type FastPerfConfig struct {
	Enabled bool
	Mode    string
}

// CommonConfig mirrors the common section of runtime.cfg.
type CommonConfig struct {
	ArchCode   uint32
	AVX        bool
	LogLevel   string
	GMSizeByte uint64
	Plugin     string
	FastPerf   *FastPerfConfig
}

// InputFile is one dumped input section: the host file it was written to
// and the device physical address it was loaded at.
type InputFile struct {
	Name   string
	Path   string
	BasePA uint64
}

// OutputFile is one dumped output tensor: its host file, device base, and
// resolved byte size.
type OutputFile struct {
	Name   string
	Path   string
	BasePA uint64
	Size   uint64
}

// HostEntry records where the NPU's TCB chain starts and how long it runs.
type HostEntry struct {
	TCBPHi   uint32
	TCBPLo   uint32
	TCBCount uint32
}

// JobDump is everything needed to reproduce one job's memory image offline.
type JobDump struct {
	GridID  uint16
	Common  CommonConfig
	Inputs  []InputFile
	Host    HostEntry
	Outputs []OutputFile
}

// WriteRuntimeCfg writes dir/runtime.cfg, an INI-like file describing jd's
// common config, input/output file table, and host TCB entry point.
func WriteRuntimeCfg(dir string, jd JobDump) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap("dump.WriteRuntimeCfg", err)
	}

	var b []byte
	b = appendLine(b, "[COMMON]")
	b = appendLine(b, fmt.Sprintf("ARCH_CODE=%#x", jd.Common.ArchCode))
	b = appendLine(b, fmt.Sprintf("AVX=%d", boolToInt(jd.Common.AVX)))
	b = appendLine(b, fmt.Sprintf("LOG_LEVEL=%s", jd.Common.LogLevel))
	b = appendLine(b, fmt.Sprintf("GM_SIZE=%d", jd.Common.GMSizeByte))
	b = appendLine(b, fmt.Sprintf("PLUGIN=%s", jd.Common.Plugin))
	if jd.Common.FastPerf != nil {
		b = appendLine(b, "[FAST_PERF]")
		b = appendLine(b, fmt.Sprintf("ENABLED=%d", boolToInt(jd.Common.FastPerf.Enabled)))
		b = appendLine(b, fmt.Sprintf("MODE=%s", jd.Common.FastPerf.Mode))
	}

	b = appendLine(b, "[INPUT]")
	for i, in := range jd.Inputs {
		b = appendLine(b, fmt.Sprintf("FILE_%d=%s", i, in.Path))
		b = appendLine(b, fmt.Sprintf("BASE_%d=%#x", i, in.BasePA))
	}

	b = appendLine(b, "[HOST]")
	b = appendLine(b, fmt.Sprintf("TCBP_HI=%#x", jd.Host.TCBPHi))
	b = appendLine(b, fmt.Sprintf("TCBP_LO=%#x", jd.Host.TCBPLo))
	b = appendLine(b, fmt.Sprintf("TCB_COUNT=%d", jd.Host.TCBCount))

	b = appendLine(b, "[OUTPUT]")
	for i, out := range jd.Outputs {
		b = appendLine(b, fmt.Sprintf("FILE_%d=%s", i, out.Path))
		b = appendLine(b, fmt.Sprintf("BASE_%d=%#x", i, out.BasePA))
		b = appendLine(b, fmt.Sprintf("SIZE_%d=%d", i, out.Size))
	}

	if err := os.WriteFile(filepath.Join(dir, "runtime.cfg"), b, 0o644); err != nil {
		return errs.Wrap("dump.WriteRuntimeCfg", err)
	}
	return nil
}

// WriteMetadata writes dir/metadata.txt, a human-readable summary of jd
// using humanize for every byte-size field.
func WriteMetadata(dir string, jd JobDump) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap("dump.WriteMetadata", err)
	}

	var b []byte
	b = appendLine(b, fmt.Sprintf("grid %d", jd.GridID))
	b = appendLine(b, fmt.Sprintf("arch code:    %#x", jd.Common.ArchCode))
	b = appendLine(b, fmt.Sprintf("gm size:      %s", humanize.Bytes(jd.Common.GMSizeByte).Humanized()))
	b = appendLine(b, fmt.Sprintf("plugin:       %s", jd.Common.Plugin))

	b = appendLine(b, "")
	b = appendLine(b, "inputs:")
	for _, in := range jd.Inputs {
		b = appendLine(b, fmt.Sprintf("  %-16s %s  base=%#x", in.Name, in.Path, in.BasePA))
	}

	b = appendLine(b, "")
	b = appendLine(b, fmt.Sprintf("host entry: tcbp=%#x:%#x count=%d", jd.Host.TCBPHi, jd.Host.TCBPLo, jd.Host.TCBCount))

	b = appendLine(b, "")
	b = appendLine(b, "outputs:")
	for _, out := range jd.Outputs {
		b = appendLine(b, fmt.Sprintf("  %-16s %s  base=%#x size=%s", out.Name, out.Path, out.BasePA, humanize.Bytes(out.Size).Humanized()))
	}

	if err := os.WriteFile(filepath.Join(dir, "metadata.txt"), b, 0o644); err != nil {
		return errs.Wrap("dump.WriteMetadata", err)
	}
	return nil
}

func appendLine(b []byte, line string) []byte {
	b = append(b, line...)
	return append(b, '\n')
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// MultiDumper emits a combined dump across every live job, at most once
// per process.
type MultiDumper struct {
	once sync.Once
	err  error
}

// DumpAll writes dir/job<i>/runtime.cfg and dir/job<i>/metadata.txt for
// each job in jobs, i being its position in jobs. Only the first call
// actually writes; later calls return the first call's result.
func (d *MultiDumper) DumpAll(dir string, jobs []JobDump) error {
	d.once.Do(func() {
		d.err = dumpCombined(dir, jobs)
	})
	return d.err
}

func dumpCombined(dir string, jobs []JobDump) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap("dump.dumpCombined", err)
	}
	for i, jd := range jobs {
		jobDir := filepath.Join(dir, fmt.Sprintf("job%d", i))
		if err := WriteRuntimeCfg(jobDir, jd); err != nil {
			return err
		}
		if err := WriteMetadata(jobDir, jd); err != nil {
			return err
		}
	}
	return nil
}
