package jobbuild

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/npu31/umd/internal/dump"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/wire"
)

// DumpInfo writes every device buffer this job owns out to dir as flat
// binary files and returns the descriptor dump.WriteRuntimeCfg/WriteMetadata
// need to describe them.
func (j *Job) DumpInfo(dir string) (dump.JobDump, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dump.JobDump{}, errs.Wrap("jobbuild.DumpInfo", err)
	}

	jd := dump.JobDump{GridID: j.gridID}
	jd.Common = dump.CommonConfig{ArchCode: j.graph.Hardware.Arch, Plugin: "default"}
	if gm := j.gmConfig(); gm != nil {
		jd.Common.GMSizeByte = gm.SizeBytes
	}

	if buf := j.graph.TextBuf; buf != nil {
		path := filepath.Join(dir, "text.bin")
		if err := j.mm.DumpFile(buf, path, buf.Size); err != nil {
			return dump.JobDump{}, errs.Wrap("jobbuild.DumpInfo", err)
		}
		jd.Inputs = append(jd.Inputs, dump.InputFile{Name: "text", Path: path, BasePA: buf.Base})
	}

	for _, w := range j.graph.Weights {
		path := filepath.Join(dir, fmt.Sprintf("weight%d.bin", w.BSSIdx))
		if err := j.mm.DumpFile(w.Buf, path, w.Buf.Size); err != nil {
			return dump.JobDump{}, errs.Wrap("jobbuild.DumpInfo", err)
		}
		jd.Inputs = append(jd.Inputs, dump.InputFile{Name: fmt.Sprintf("weight%d", w.BSSIdx), Path: path, BasePA: w.Buf.Base})
	}

	if j.rodata != nil {
		path := filepath.Join(dir, "rodata.bin")
		if err := j.mm.DumpFile(j.rodata, path, j.rodata.Size); err != nil {
			return dump.JobDump{}, errs.Wrap("jobbuild.DumpInfo", err)
		}
		jd.Inputs = append(jd.Inputs, dump.InputFile{Name: "rodata", Path: path, BasePA: j.rodata.Base})
	}

	if j.descriptor != nil {
		path := filepath.Join(dir, "dcr.bin")
		if err := j.mm.DumpFile(j.descriptor, path, j.descriptor.Size); err != nil {
			return dump.JobDump{}, errs.Wrap("jobbuild.DumpInfo", err)
		}
		jd.Inputs = append(jd.Inputs, dump.InputFile{Name: "dcr", Path: path, BasePA: j.descriptor.Base})
	}

	if j.tcb != nil {
		path := filepath.Join(dir, "tcb.bin")
		if err := j.mm.DumpFile(j.tcb, path, j.tcb.Size); err != nil {
			return dump.JobDump{}, errs.Wrap("jobbuild.DumpInfo", err)
		}
		jd.Inputs = append(jd.Inputs, dump.InputFile{Name: "tcb", Path: path, BasePA: j.tcb.Base})
		jd.Host = dump.HostEntry{
			TCBPHi:   wire.Hi(j.tcb.Base),
			TCBPLo:   wire.Lo(j.tcb.Base),
			TCBCount: uint32(chainLen(j.subgraphCount)),
		}
	}

	for bssIdx, bss := range j.graph.BSSList {
		for outIdx, out := range bss.Outputs {
			buf := j.ReuseBuffer(bssIdx, out.RefSectionIter)
			if buf == nil {
				continue
			}
			size := uint64(out.Size)
			if resolved, ok := j.OutputSize(bssIdx, outIdx); ok {
				size = uint64(resolved)
			}

			path := filepath.Join(dir, fmt.Sprintf("output_%d_%d.bin", bssIdx, outIdx))
			if err := j.mm.DumpFile(buf, path, size); err != nil {
				return dump.JobDump{}, errs.Wrap("jobbuild.DumpInfo", err)
			}
			jd.Outputs = append(jd.Outputs, dump.OutputFile{
				Name:   fmt.Sprintf("output%d", out.ID),
				Path:   path,
				BasePA: buf.Base + uint64(out.OffsetInSection),
				Size:   size,
			})
		}
	}

	return jd, nil
}

// Dump writes dir/runtime.cfg and dir/metadata.txt describing this job's
// full device-memory image.
func (j *Job) Dump(dir string) error {
	jd, err := j.DumpInfo(dir)
	if err != nil {
		return err
	}
	if err := dump.WriteRuntimeCfg(dir, jd); err != nil {
		return err
	}
	return dump.WriteMetadata(dir, jd)
}
