// Package memmgr implements the multi-ASID physical memory manager: a
// single mutex-protected free-extent allocator per address space, backed
// by sharded-lock host byte slices standing in for device memory.
package memmgr

import (
	"os"
	"sync"

	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/errs"
)

// Buffer is a physical memory region descriptor. A buffer
// either owns its allocation (owner == nil, released by Free) or is a
// sub-view carved from a larger owning buffer.
type Buffer struct {
	Base          uint64
	Size          uint64
	RequestedSize uint64
	ASIDBase      uint64
	AlignAsidPA   uint64
	Name          string

	region int
	owner  *Buffer
}

// View returns a sub-view of b covering [offset, offset+size). Releasing a
// view never returns memory to the allocator; only releasing the owning
// buffer does.
func (b *Buffer) View(offset, size uint64, name string) *Buffer {
	owner := b
	if b.owner != nil {
		owner = b.owner
	}
	return &Buffer{
		Base:          b.Base + offset,
		Size:          size,
		RequestedSize: size,
		ASIDBase:      b.ASIDBase,
		AlignAsidPA:   b.Base + offset,
		Name:          name,
		region:        b.region,
		owner:         owner,
	}
}

// Manager owns up to ASIDMax regions, each an independently addressed
// physical window.
type Manager struct {
	mu      sync.Mutex
	regions [constants.ASIDMax]*region
}

// NewManager constructs a manager with ASID0 and ASID1 pre-configured at
// the given bases/sizes; additional regions may be configured via
// ConfigureRegion.
func NewManager(asid0Base, asid0Size, asid1Base, asid1Size uint64) *Manager {
	m := &Manager{}
	m.regions[constants.ASID0] = newRegion(asid0Base, asid0Size)
	m.regions[constants.ASID1] = newRegion(asid1Base, asid1Size)
	return m
}

// ConfigureRegion installs an additional ASID region (2..ASIDMax-1).
func (m *Manager) ConfigureRegion(id int, base, size uint64) error {
	if id < 0 || id >= constants.ASIDMax {
		return errs.New("ConfigureRegion", errs.CodeInvalidPartitionID, "asid out of range")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[id] = newRegion(base, size)
	return nil
}

func (m *Manager) regionFor(id int) (*region, error) {
	if id == -1 {
		id = constants.ASID0
	}
	if id < 0 || id >= constants.ASIDMax || m.regions[id] == nil {
		return nil, errs.New("memmgr", errs.CodeInvalidPartitionID, "unconfigured asid region")
	}
	return m.regions[id], nil
}

// Malloc atomically reserves an aligned extent in the given region
// (region == -1 selects ASID0, the default). Align of 0 means page
// alignment.
func (m *Manager) Malloc(size uint64, alignInPage uint32, name string, regionID int) (*Buffer, error) {
	align := uint64(alignInPage)
	if align == 0 {
		align = constants.PageSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rg, err := m.regionFor(regionID)
	if err != nil {
		return nil, err
	}

	offset, ok := rg.alloc(size, align)
	if !ok {
		return nil, errs.New("Malloc", errs.CodeBufAllocFail, "region exhausted")
	}

	if regionID == -1 {
		regionID = constants.ASID0
	}

	return &Buffer{
		Base:          rg.base + offset,
		Size:          size,
		RequestedSize: size,
		ASIDBase:      rg.base,
		AlignAsidPA:   rg.base + offset,
		Name:          name,
		region:        regionID,
	}, nil
}

// Free returns an owning allocation to its region; releasing a view only
// drops the descriptor.
func (m *Manager) Free(buf *Buffer) error {
	if buf == nil {
		return nil
	}
	if buf.owner != nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rg, err := m.regionFor(buf.region)
	if err != nil {
		return err
	}
	rg.release(buf.Base-rg.base, buf.Size)
	return nil
}

// Zeroize zeroes size device-visible bytes of buf starting at offset.
func (m *Manager) Zeroize(buf *Buffer, offset, size uint64) error {
	rg, err := m.regionForBuffer(buf)
	if err != nil {
		return err
	}
	rg.mem.zero(buf.Base-rg.base+offset, size)
	return nil
}

// Write copies src into device memory at buf's base plus offset.
func (m *Manager) Write(buf *Buffer, offset uint64, src []byte) error {
	rg, err := m.regionForBuffer(buf)
	if err != nil {
		return err
	}
	if offset+uint64(len(src)) > buf.Size {
		return errs.New("Write", errs.CodeInvalidBin, "write exceeds buffer bounds")
	}
	rg.mem.writeAt(src, buf.Base-rg.base+offset)
	return nil
}

// Read copies size bytes from buf's base plus offset into dst.
func (m *Manager) Read(buf *Buffer, offset uint64, dst []byte) error {
	rg, err := m.regionForBuffer(buf)
	if err != nil {
		return err
	}
	if offset+uint64(len(dst)) > buf.Size {
		return errs.New("Read", errs.CodeInvalidBin, "read exceeds buffer bounds")
	}
	rg.mem.readAt(dst, buf.Base-rg.base+offset)
	return nil
}

func (m *Manager) regionForBuffer(buf *Buffer) (*region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regionFor(buf.region)
}

// ResetASIDBase overrides a region's base before any allocation has
// happened against it; a debug aid for relocating a region after the
// fact.
func (m *Manager) ResetASIDBase(regionID int, base uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg, err := m.regionFor(regionID)
	if err != nil {
		return err
	}
	if len(rg.free) != 1 || rg.free[0].Offset != 0 || rg.free[0].Size != rg.size {
		return errs.New("ResetASIDBase", errs.CodeInvalidOp, "region already has live allocations")
	}
	rg.base = base
	return nil
}

// GetASIDBase returns the configured base physical address of a region.
func (m *Manager) GetASIDBase(regionID int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg, err := m.regionFor(regionID)
	if err != nil {
		return 0, err
	}
	return rg.base, nil
}

// DumpFile persists size bytes starting at buf's base to a host file.
func (m *Manager) DumpFile(buf *Buffer, path string, size uint64) error {
	dst := make([]byte, size)
	if err := m.Read(buf, 0, dst); err != nil {
		return errs.Wrap("DumpFile", err)
	}
	if err := os.WriteFile(path, dst, 0o644); err != nil {
		return errs.Wrap("DumpFile", err)
	}
	return nil
}
