package npu31

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/npu31/umd/internal/device"
	"github.com/npu31/umd/internal/device/kmd"
	"github.com/npu31/umd/internal/device/sim"
	"github.com/npu31/umd/internal/device/uring"
	"github.com/npu31/umd/internal/dump"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/logging"
)

// PartitionMode selects how a job's working set is distributed across the
// device's partitions.
type PartitionMode int

const (
	// PartMode0 is a single shared partition (default).
	PartMode0 PartitionMode = iota
	// PartMode1 splits feature maps across two partitions.
	PartMode1
	// PartMode2 splits feature maps across four partitions.
	PartMode2
)

// Options configures a Driver: logging, device back end selection, ASID
// layout, and partition mode. DefaultOptions returns a usable in-process
// simulator configuration; the zero value has no cores and empty ASID
// regions.
type Options struct {
	// UseHardware selects the kernel ioctl back end (internal/device/kmd)
	// instead of the in-process simulator.
	UseHardware bool
	// UseURing selects the io_uring URING_CMD back end (internal/device/uring)
	// instead of ioctl; only consulted when UseHardware is set.
	UseURing bool
	// ControlPath overrides the NPU control-device node when UseHardware
	// is set; defaults to kmd.ControlPath or uring's own default.
	ControlPath string
	// URingQueueDepth sizes the io_uring submission/completion rings when
	// UseURing is set; zero uses constants.DefaultQueueDepth.
	URingQueueDepth uint32

	CoreCount      int
	PartitionCount int
	ClusterID      int
	PartMode       PartitionMode

	// ASID0Base/ASID0Size and ASID1Base/ASID1Size describe the feature-map
	// and weight address spaces the memory manager carves buffers from.
	ASID0Base, ASID0Size uint64
	ASID1Base, ASID1Size uint64

	LogLevel  logging.LogLevel
	Logger    *logging.Logger
	Observer  Observer
}

// DefaultOptions returns a simulator configuration with sane sizing,
// overridden by any UMD_* environment variables that are set.
func DefaultOptions() Options {
	o := Options{
		CoreCount:      4,
		PartitionCount: 1,
		ClusterID:      0,
		PartMode:       PartMode0,
		ASID0Base:      0x40000000,
		ASID0Size:      1 << 28, // 256MiB
		ASID1Base:      0x80000000,
		ASID1Size:      1 << 28,
		LogLevel:       logging.LevelInfo,
		Observer:       NoOpObserver{},
	}
	o.applyEnv()
	return o
}

// applyEnv overrides o from UMD_ASID_BASE, UMD_PART_MODE and
// UMD_LOG_LEVEL when present, mirroring the way the kernel back end's
// control path is itself overridable.
func (o *Options) applyEnv() {
	if v := os.Getenv("UMD_ASID_BASE"); v != "" {
		if base, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64); err == nil {
			o.ASID0Base = base
		}
	}
	if v := os.Getenv("UMD_PART_MODE"); v != "" {
		switch v {
		case "0":
			o.PartMode = PartMode0
		case "1":
			o.PartMode = PartMode1
		case "2":
			o.PartMode = PartMode2
		}
	}
	if v := os.Getenv("UMD_LOG_LEVEL"); v != "" {
		o.LogLevel = logging.LevelFromString(v)
	}
}

// partitionCountFor resolves how many partitions PartMode actually
// requires, independent of whatever PartitionCount the caller supplied.
func (o Options) partitionCountFor() int {
	switch o.PartMode {
	case PartMode1:
		return 2
	case PartMode2:
		return 4
	default:
		if o.PartitionCount > 0 {
			return o.PartitionCount
		}
		return 1
	}
}

// Status is a job's completion state as reported by Job.PollStatus.
type Status = device.Status

const (
	StatusPending   = device.StatusPending
	StatusDone      = device.StatusDone
	StatusException = device.StatusException
	StatusTimeout   = device.StatusTimeout
)

// Device wraps an internal/device.Device back end (simulator or kernel)
// together with the metrics observer every Job built against it reports
// through.
type Device struct {
	back     device.Device
	observer Observer

	mu     sync.Mutex
	jobs   []*Job
	dumper dump.MultiDumper
}

// OpenDevice constructs a Device from opts: the in-process simulator
// unless opts.UseHardware requests a real back end, in which case
// opts.UseURing picks io_uring URING_CMD submission over plain ioctl.
func OpenDevice(opts Options) (*Device, error) {
	observer := opts.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}
	partitionCount := opts.partitionCountFor()

	if opts.UseHardware {
		if opts.UseURing {
			back, err := uring.Open(uring.Config{
				ControlPath:    opts.ControlPath,
				QueueDepth:     opts.URingQueueDepth,
				CoreCount:      opts.CoreCount,
				PartitionCount: partitionCount,
				ClusterID:      opts.ClusterID,
			})
			if err != nil {
				return nil, errs.Wrap("npu31.OpenDevice", err)
			}
			return &Device{back: back, observer: observer}, nil
		}

		logger := opts.Logger
		if logger == nil {
			logConf := logging.DefaultConfig()
			logConf.Level = opts.LogLevel
			logger = logging.NewLogger(logConf)
		}
		back, err := kmd.Open(kmd.Config{
			ControlPath:    opts.ControlPath,
			CoreCount:      opts.CoreCount,
			PartitionCount: partitionCount,
			ClusterID:      opts.ClusterID,
			Logger:         logger,
		})
		if err != nil {
			return nil, errs.Wrap("npu31.OpenDevice", err)
		}
		return &Device{back: back, observer: observer}, nil
	}

	back := sim.New(sim.Config{
		CoreCount:      opts.CoreCount,
		PartitionCount: partitionCount,
		ClusterID:      opts.ClusterID,
	})
	return &Device{back: back, observer: observer}, nil
}

// Close releases the underlying back end.
func (d *Device) Close() error {
	return d.back.Close()
}

// Observer returns the metrics observer every Job built against d reports
// its Schedule/PollStatus/Replay calls through.
func (d *Device) Observer() Observer {
	return d.observer
}

// trackJob registers j so DumpAll can find it later. CreateJob calls this.
func (d *Device) trackJob(j *Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, j)
}

// DumpAll writes a combined dump of every job created against d, one
// subdirectory per job under dir. Only the first call actually writes;
// later calls return the first call's result, matching internal/dump's
// once-per-process dump semantics.
func (d *Device) DumpAll(dir string) error {
	d.mu.Lock()
	jobs := make([]*Job, len(d.jobs))
	copy(jobs, d.jobs)
	d.mu.Unlock()

	dumps := make([]dump.JobDump, 0, len(jobs))
	for i, j := range jobs {
		jd, err := j.inner.DumpInfo(filepath.Join(dir, fmt.Sprintf("job%d-files", i)))
		if err != nil {
			return errs.Wrap("npu31.Device.DumpAll", err)
		}
		dumps = append(dumps, jd)
	}
	return d.dumper.DumpAll(dir, dumps)
}
