// Package kmd implements the kernel-driver device back end: chains are
// submitted to an NPU control device via ioctl, following the same
// open-control-fd / marshal-struct / submit-command shape the ublk
// control plane uses against /dev/ublk-control.
package kmd

import (
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/ids"
	"github.com/npu31/umd/internal/logging"
)

// ControlPath is the default NPU control-device node.
const ControlPath = "/dev/npu-ctl"

// ioctl request numbers for the NPU control device. Values are placeholders
// for a character-device driver this module does not ship; they exist so
// the ioctl encoding/call-site shape is concrete and testable.
const (
	ioctlSched       = 0xC0104e01
	ioctlWait        = 0xC0104e02
	ioctlDMABufImport = 0xC0104e03
	ioctlDMABufRelease = 0xC0104e04
	ioctlTickStart   = 0xC0104e05
	ioctlTickStop    = 0xC0104e06
)

// schedRequest is the ioctl payload for ioctlSched, matching ChainDesc's
// fields in fixed little-endian layout.
type schedRequest struct {
	GridID    uint16
	_         [6]byte
	TCBAddr   uint64
	TCBCount  uint32
	Partition uint32
	QoS       uint32
}

func marshalSchedRequest(desc device.ChainDesc) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint16(buf[0:2], desc.GridID)
	binary.LittleEndian.PutUint64(buf[8:16], desc.TCBAddr)
	binary.LittleEndian.PutUint32(buf[16:20], desc.TCBCount)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(desc.Partition))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(desc.QoS))
	return buf
}

// waitRequest/waitResponse encode PollStatus's ioctl round trip.
type waitRequest struct {
	GridID     uint16
	TimeoutMs  uint32
}

func marshalWaitRequest(gridID uint16, timeout time.Duration) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[0:2], gridID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(timeout.Milliseconds()))
	return buf
}

// Device is the kernel back end, submitting chains through the NPU
// control device's ioctl surface.
type Device struct {
	fd             int
	coreCount      int
	partitionCount int
	clusterID      int

	grid   ids.GridAllocator
	groups *ids.GroupAllocator

	logger *logging.Logger
}

// Config configures a kernel-driver device instance.
type Config struct {
	ControlPath    string
	CoreCount      int
	PartitionCount int
	ClusterID      int
	Logger         *logging.Logger
}

// Open opens the NPU control device and returns a ready Device.
func Open(cfg Config) (*Device, error) {
	path := cfg.ControlPath
	if path == "" {
		path = ControlPath
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errs.NewWithErrno("kmd.Open", errs.CodeOpenFileFail, err.(unix.Errno))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Debug("opened control device", "path", path)

	return &Device{
		fd:             fd,
		coreCount:      cfg.CoreCount,
		partitionCount: cfg.PartitionCount,
		clusterID:      cfg.ClusterID,
		groups:         ids.NewGroupAllocator(),
		logger:         logger,
	}, nil
}

func (d *Device) GetCoreCount() int      { return d.coreCount }
func (d *Device) GetPartitionCount() int { return d.partitionCount }
func (d *Device) GetClusterID() int      { return d.clusterID }
func (d *Device) GetGridID() uint16      { return d.grid.Next() }

func (d *Device) GetStartGroupID(count int) (int, error) { return d.groups.GetStartGroupID(count) }
func (d *Device) PutStartGroupID(start, count int)       { d.groups.PutStartGroupID(start, count) }

// Schedule submits the chain to the kernel driver via ioctlSched.
func (d *Device) Schedule(desc device.ChainDesc) (device.Handle, error) {
	payload := marshalSchedRequest(desc)
	d.logger.Debug("submitting SCHED", "grid_id", desc.GridID, "tcb_count", desc.TCBCount,
		"partition", desc.Partition, "qos", desc.QoS)

	if err := ioctlPtr(d.fd, ioctlSched, payload); err != nil {
		return device.Handle{Pool: -1}, errs.NewWithErrno("kmd.Schedule", errs.CodeJobException, err.(unix.Errno))
	}
	return device.Handle{GridID: desc.GridID, Pool: -1}, nil
}

// PollStatus blocks in-kernel (via ioctlWait) until the grid completes or
// the timeout elapses.
func (d *Device) PollStatus(handle device.Handle, timeout time.Duration) (device.Status, error) {
	if timeout == 0 {
		timeout = constants.DefaultPollTimeout
	}
	payload := marshalWaitRequest(handle.GridID, timeout)
	err := ioctlPtr(d.fd, ioctlWait, payload)
	switch {
	case err == nil:
		return device.StatusDone, nil
	case err == unix.ETIMEDOUT:
		return device.StatusTimeout, nil
	default:
		return device.StatusException, errs.NewWithErrno("kmd.PollStatus", errs.CodeJobException, err.(unix.Errno))
	}
}

// IoctlCmd issues one of the dma-buf or tick-counter control operations.
func (d *Device) IoctlCmd(op device.IoctlOp, payload []byte) ([]byte, error) {
	var req uint
	switch op {
	case device.IoctlDMABufImport:
		req = ioctlDMABufImport
	case device.IoctlDMABufRelease:
		req = ioctlDMABufRelease
	case device.IoctlTickCounterStart:
		req = ioctlTickStart
	case device.IoctlTickCounterStop:
		req = ioctlTickStop
	default:
		return nil, errs.New("kmd.IoctlCmd", errs.CodeInvalidOp, fmt.Sprintf("unknown ioctl op %d", op))
	}
	if err := ioctlPtr(d.fd, req, payload); err != nil {
		return nil, errs.NewWithErrno("kmd.IoctlCmd", errs.CodeJobException, err.(unix.Errno))
	}
	return payload, nil
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// ioctlPtr issues a pointer-argument ioctl, matching the
// addr-of-marshaled-buffer pattern used to submit fixed-layout structs to
// the kernel.
func ioctlPtr(fd int, req uint, payload []byte) error {
	if len(payload) == 0 {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), 0)
		if errno != 0 {
			return errno
		}
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&payload[0])))
	if errno != 0 {
		return errno
	}
	return nil
}
