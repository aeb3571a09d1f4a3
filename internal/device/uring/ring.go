// Package uring implements the io_uring device back end: chains are
// submitted to the NPU control device as URING_CMD SQEs rather than
// through ioctl, following the same raw io_uring_setup/io_uring_enter
// shape the ublk control plane uses for its command submissions.
package uring

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/ids"
	"github.com/npu31/umd/internal/logging"
)

const (
	opSched uint32 = 1
	opWait  uint32 = 2
)

const (
	ioringOpUringCmd      = 50
	ioringSetupSQE128     = 1 << 10
	ioringSetupCQE32      = 1 << 11
	ioringEnterGetEvents  = 1 << 0
)

// sqe128 mirrors the 128-byte submission-queue entry layout URING_CMD
// requires: fixed header fields plus an 80-byte command payload.
type sqe128 struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opcodeFlags uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceOff   int32
	addr3       uint64
	_           uint64
	cmd         [80]byte
}

type cqe32 struct {
	userData uint64
	res      int32
	flags    uint32
	bigCQE   [16]uint8
}

type sqOffsets struct {
	head, tail, ringMask, ringEntries, flags, dropped, array, resv1 uint32
	userAddr                                                        uint64
}

type cqOffsets struct {
	head, tail, ringMask, ringEntries, overflow, cqes, flags, resv1 uint32
	userAddr                                                        uint64
}

type ioUringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCpu  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        sqOffsets
	cqOff        cqOffsets
}

// Ring is the minimal raw io_uring surface this device back end needs:
// submit one URING_CMD SQE and block for its completion.
type Ring interface {
	Submit(opcode uint32, controlFd int32, payload []byte, userData uint64) (int32, error)
	Close() error
}

// rawRing is the default Ring: a hand-rolled io_uring setup using raw
// io_uring_setup/io_uring_enter syscalls, mapping just enough of the SQ/CQ
// rings to drive URING_CMD.
type rawRing struct {
	fd     int
	params ioUringParams
	sqMem  []byte
	cqMem  []byte
}

// NewRing creates the default raw-syscall ring with the given queue depth.
func NewRing(entries uint32) (Ring, error) {
	logger := logging.Default()
	params := ioUringParams{
		sqEntries: entries,
		cqEntries: entries * 2,
		flags:     ioringSetupSQE128 | ioringSetupCQE32,
	}

	ringFd, _, errno := syscall.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %v", errno)
	}
	logger.Debug("io_uring_setup succeeded", "ring_fd", ringFd, "entries", entries)

	sqSize := params.sqOff.array + params.sqEntries*4
	cqSize := params.cqOff.cqes + params.cqEntries*uint32(unsafe.Sizeof(cqe32{}))

	sqMem, err := unix.Mmap(int(ringFd), 0, int(sqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		syscall.Close(int(ringFd))
		return nil, fmt.Errorf("mmap sq: %w", err)
	}
	cqMem, err := unix.Mmap(int(ringFd), 0x8000000, int(cqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(sqMem)
		syscall.Close(int(ringFd))
		return nil, fmt.Errorf("mmap cq: %w", err)
	}

	return &rawRing{fd: int(ringFd), params: params, sqMem: sqMem, cqMem: cqMem}, nil
}

// Submit encodes payload into a URING_CMD SQE against controlFd, submits
// it, and blocks for exactly one completion.
func (r *rawRing) Submit(opcode uint32, controlFd int32, payload []byte, userData uint64) (int32, error) {
	sqe := sqe128{
		opcode:   ioringOpUringCmd,
		fd:       controlFd,
		addr:     uint64(uintptr(unsafe.Pointer(&payload[0]))),
		len:      uint32(len(payload)),
		userData: userData,
	}
	copy(sqe.cmd[:4], (*[4]byte)(unsafe.Pointer(&opcode))[:])

	sqHead := (*uint32)(unsafe.Add(unsafe.Pointer(&r.sqMem[0]), r.params.sqOff.head))
	sqTail := (*uint32)(unsafe.Add(unsafe.Pointer(&r.sqMem[0]), r.params.sqOff.tail))
	sqMask := r.params.sqEntries - 1
	if (*sqTail - *sqHead) >= r.params.sqEntries {
		return 0, fmt.Errorf("submission queue full")
	}

	sqArray := unsafe.Add(unsafe.Pointer(&r.sqMem[0]), r.params.sqOff.array)
	idx := *sqTail & sqMask
	slot := unsafe.Add(unsafe.Pointer(&r.sqMem[0]), uintptr(128*idx))
	*(*sqe128)(slot) = sqe
	*(*uint32)(unsafe.Add(sqArray, uintptr(4*idx))) = idx
	*sqTail++

	_, _, errno := syscall.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), 1, 1, uintptr(ioringEnterGetEvents), 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("io_uring_enter: %v", errno)
	}

	cqHead := (*uint32)(unsafe.Add(unsafe.Pointer(&r.cqMem[0]), r.params.cqOff.head))
	cqTail := (*uint32)(unsafe.Add(unsafe.Pointer(&r.cqMem[0]), r.params.cqOff.tail))
	if *cqHead == *cqTail {
		return 0, fmt.Errorf("no completion available")
	}
	cqMask := r.params.cqEntries - 1
	cqIdx := *cqHead & cqMask
	cqe := (*cqe32)(unsafe.Add(unsafe.Pointer(&r.cqMem[0]), uintptr(32*cqIdx)))
	res := cqe.res
	*cqHead++

	if res < 0 {
		return res, syscall.Errno(-res)
	}
	return res, nil
}

func (r *rawRing) Close() error {
	unix.Munmap(r.sqMem)
	unix.Munmap(r.cqMem)
	return syscall.Close(r.fd)
}

// Device submits schedule/wait requests to the NPU control device through
// a Ring instead of ioctl.
type Device struct {
	ring        Ring
	controlFd   int32
	coreCount   int
	partCount   int
	clusterID   int
	grid        ids.GridAllocator
	groups      *ids.GroupAllocator
	userDataSeq uint64
}

// Config configures a ring-backed device instance.
type Config struct {
	ControlPath    string
	QueueDepth     uint32
	CoreCount      int
	PartitionCount int
	ClusterID      int
}

// Open opens the control device and a fresh ring.
func Open(cfg Config) (*Device, error) {
	path := cfg.ControlPath
	if path == "" {
		path = "/dev/npu-ctl"
	}
	depth := cfg.QueueDepth
	if depth == 0 {
		depth = constants.DefaultQueueDepth
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errs.NewWithErrno("uring.Open", errs.CodeOpenFileFail, err.(unix.Errno))
	}
	ring, err := NewRing(depth)
	if err != nil {
		unix.Close(fd)
		return nil, errs.Wrap("uring.Open", err)
	}
	return &Device{
		ring:      ring,
		controlFd: int32(fd),
		coreCount: cfg.CoreCount,
		partCount: cfg.PartitionCount,
		clusterID: cfg.ClusterID,
		groups:    ids.NewGroupAllocator(),
	}, nil
}

func (d *Device) GetCoreCount() int      { return d.coreCount }
func (d *Device) GetPartitionCount() int { return d.partCount }
func (d *Device) GetClusterID() int      { return d.clusterID }
func (d *Device) GetGridID() uint16      { return d.grid.Next() }

func (d *Device) GetStartGroupID(count int) (int, error) { return d.groups.GetStartGroupID(count) }
func (d *Device) PutStartGroupID(start, count int)       { d.groups.PutStartGroupID(start, count) }

func (d *Device) Schedule(desc device.ChainDesc) (device.Handle, error) {
	payload := make([]byte, 32)
	le := func(off int, v uint64, n int) {
		for i := 0; i < n; i++ {
			payload[off+i] = byte(v >> (8 * i))
		}
	}
	le(0, uint64(desc.GridID), 2)
	le(8, desc.TCBAddr, 8)
	le(16, uint64(desc.TCBCount), 4)
	le(20, uint64(desc.Partition), 4)
	le(24, uint64(desc.QoS), 4)

	d.userDataSeq++
	if _, err := d.ring.Submit(opSched, d.controlFd, payload, d.userDataSeq); err != nil {
		return device.Handle{Pool: -1}, errs.Wrap("uring.Schedule", err)
	}
	return device.Handle{GridID: desc.GridID, Pool: -1}, nil
}

func (d *Device) PollStatus(handle device.Handle, timeout time.Duration) (device.Status, error) {
	if timeout == 0 {
		timeout = constants.DefaultPollTimeout
	}
	payload := make([]byte, 8)
	payload[0] = byte(handle.GridID)
	payload[1] = byte(handle.GridID >> 8)
	ms := uint32(timeout.Milliseconds())
	for i := 0; i < 4; i++ {
		payload[4+i] = byte(ms >> (8 * i))
	}

	d.userDataSeq++
	_, err := d.ring.Submit(opWait, d.controlFd, payload, d.userDataSeq)
	switch {
	case err == nil:
		return device.StatusDone, nil
	case err == unix.ETIMEDOUT:
		return device.StatusTimeout, nil
	default:
		return device.StatusException, errs.Wrap("uring.PollStatus", err)
	}
}

// IoctlCmd is not supported over the ring: it returns CodeInvalidOp for
// every op, including the dma-buf and tick-counter operations.
func (d *Device) IoctlCmd(op device.IoctlOp, payload []byte) ([]byte, error) {
	return nil, errs.New("uring.IoctlCmd", errs.CodeInvalidOp, "use the kmd back end for ioctl-only operations")
}

func (d *Device) Close() error {
	d.ring.Close()
	return unix.Close(int(d.controlFd))
}
