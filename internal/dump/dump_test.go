package dump

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleJobDump() JobDump {
	return JobDump{
		GridID: 7,
		Common: CommonConfig{
			ArchCode:   0x31,
			LogLevel:   "info",
			GMSizeByte: 1 << 20,
			Plugin:     "none",
		},
		Inputs: []InputFile{
			{Name: "text", Path: "text.bin", BasePA: 0x10000000},
		},
		Host: HostEntry{TCBPHi: 0, TCBPLo: 0x10001000, TCBCount: 10},
		Outputs: []OutputFile{
			{Name: "output0", Path: "output0.bin", BasePA: 0x10002000, Size: 4000},
		},
	}
}

func TestWriteRuntimeCfgProducesExpectedKeys(t *testing.T) {
	dir := t.TempDir()
	if err := WriteRuntimeCfg(dir, sampleJobDump()); err != nil {
		t.Fatalf("WriteRuntimeCfg: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "runtime.cfg"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	cfg := string(data)
	for _, want := range []string{"[COMMON]", "ARCH_CODE=0x31", "[INPUT]", "FILE_0=text.bin", "[HOST]", "TCB_COUNT=10", "[OUTPUT]", "SIZE_0=4000"} {
		if !strings.Contains(cfg, want) {
			t.Errorf("runtime.cfg missing %q:\n%s", want, cfg)
		}
	}
}

func TestWriteMetadataHumanizesSizes(t *testing.T) {
	dir := t.TempDir()
	if err := WriteMetadata(dir, sampleJobDump()); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "metadata.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	meta := string(data)
	if !strings.Contains(meta, "1.00 MB") {
		t.Errorf("expected humanized GM size, got:\n%s", meta)
	}
	if !strings.Contains(meta, "output0.bin") {
		t.Errorf("expected output file name, got:\n%s", meta)
	}
}

func TestMultiDumperRunsOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	var d MultiDumper

	jobs := []JobDump{sampleJobDump()}
	if err := d.DumpAll(dir, jobs); err != nil {
		t.Fatalf("DumpAll: %v", err)
	}

	// Remove the written tree; a second call must not rewrite it since the
	// once-guard already fired.
	if err := os.RemoveAll(filepath.Join(dir, "job0")); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if err := d.DumpAll(dir, jobs); err != nil {
		t.Fatalf("second DumpAll: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "job0", "runtime.cfg")); err == nil {
		t.Fatalf("expected second DumpAll to be a no-op, but job0/runtime.cfg was recreated")
	}
}
