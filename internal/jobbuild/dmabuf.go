package jobbuild

import (
	"encoding/binary"

	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/errs"
)

// dmaBufPayloadSize is the ioctl payload shared by dma-buf import/release:
// {fd:u32, _pad:u32, size:u64, pa:u64}. Import fills in pa; release only
// reads fd.
const dmaBufPayloadSize = 24

func marshalDMABufPayload(fd int, size uint64) []byte {
	buf := make([]byte, dmaBufPayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(fd))
	binary.LittleEndian.PutUint64(buf[8:16], size)
	return buf
}

func dmaBufImportedPA(payload []byte) uint64 {
	return binary.LittleEndian.Uint64(payload[16:24])
}

// setupDMABufs resolves cfg.DMABufImports' global indices into reuseKeys
// and rejects any that are simultaneously referenced as an output, per the
// DMABUF_SHARED_IO guard.
func (j *Job) setupDMABufs() error {
	if len(j.cfg.DMABufImports) == 0 {
		return nil
	}

	keys := globalReuseSections(j.graph)
	j.dmaBufKeys = make(map[reuseKey]DMABufImport, len(j.cfg.DMABufImports))
	for globalIdx, imp := range j.cfg.DMABufImports {
		if globalIdx < 0 || globalIdx >= len(keys) {
			return errs.New("jobbuild.setupDMABufs", errs.CodeInvalidBin, "dma-buf import references unknown section")
		}
		key := keys[globalIdx]
		if j.isOutputSection(key) {
			return errs.New("jobbuild.setupDMABufs", errs.CodeDMABufSharedIO,
				"reuse section is both a dma-buf input and an output")
		}
		j.dmaBufKeys[key] = imp
	}
	j.dmaBufPAs = make(map[reuseKey]uint64, len(j.dmaBufKeys))
	return nil
}

// isOutputSection reports whether key's reuse section is also referenced
// by any output tensor in the same BSS bucket.
func (j *Job) isOutputSection(key reuseKey) bool {
	bss := j.graph.BSSList[key.BSSIdx]
	for _, out := range bss.Outputs {
		if out.RefSectionIter == key.SectionID {
			return true
		}
	}
	return false
}

// dmaBufPA returns the imported physical address for key, importing it
// through the device back end on first use and caching the result.
func (j *Job) dmaBufPA(key reuseKey) (uint64, bool, error) {
	imp, marked := j.dmaBufKeys[key]
	if !marked {
		return 0, false, nil
	}
	if pa, ok := j.dmaBufPAs[key]; ok {
		return pa, true, nil
	}

	payload := marshalDMABufPayload(imp.FD, imp.Size)
	resp, err := j.dev.IoctlCmd(device.IoctlDMABufImport, payload)
	if err != nil {
		return 0, true, errs.Wrap("jobbuild.dmaBufPA", err)
	}
	pa := dmaBufImportedPA(resp)
	j.dmaBufPAs[key] = pa
	j.dmaBufFDs = append(j.dmaBufFDs, imp.FD)
	return pa, true, nil
}

// releaseDMABufs releases every dma-buf imported for this job.
func (j *Job) releaseDMABufs() {
	for _, fd := range j.dmaBufFDs {
		j.dev.IoctlCmd(device.IoctlDMABufRelease, marshalDMABufPayload(fd, 0))
	}
}
