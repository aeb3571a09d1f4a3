// Command npu31dump loads a compiled graph binary, builds and submits one
// job against the in-process simulator (or real hardware with
// --hardware), waits for completion, and writes an offline
// runtime.cfg/metadata.txt reproduction of the job's device-memory image
// under <--out dir>/job0/.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	npu31 "github.com/npu31/umd"
	"github.com/npu31/umd/internal/logging"
)

type rootOpts struct {
	graphPath string
	outDir    string
	qos       int
	partMode  int
	hardware  bool
	uring     bool
	ctrlPath  string
	logLevel  string
	timeout   time.Duration
	shapes    []string
}

func main() {
	var o rootOpts

	cmd := &cobra.Command{
		Use:   "npu31dump --graph FILE --out DIR",
		Short: "Build one job from a graph binary and dump its device-memory image",
		Long: `npu31dump parses a compiled NPU v3.1 graph binary, allocates and
relocates its working set, builds its TCB chain, submits it to a device
back end, and writes runtime.cfg/metadata.txt describing the resulting
device-memory image for offline inspection or replay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.graphPath, "graph", "", "path to the compiled graph binary (required)")
	flags.StringVar(&o.outDir, "out", "dump", "directory to write runtime.cfg/metadata.txt into")
	flags.IntVar(&o.qos, "qos", 0, "command-pool QoS class")
	flags.IntVar(&o.partMode, "part-mode", 0, "partition mode: 0, 1 or 2")
	flags.BoolVar(&o.hardware, "hardware", false, "submit against a real device back end instead of the simulator")
	flags.BoolVar(&o.uring, "uring", false, "use the io_uring URING_CMD back end instead of ioctl (only with --hardware)")
	flags.StringVar(&o.ctrlPath, "control-path", "", "NPU control-device node (only with --hardware)")
	flags.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.DurationVar(&o.timeout, "timeout", 30*time.Second, "completion poll timeout")
	flags.StringArrayVar(&o.shapes, "input-shape", nil, "INPUT_ID=d0,d1,... dynamic input shape override (BSS bucket 0), repeatable")
	cmd.MarkFlagRequired("graph")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(o rootOpts) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LevelFromString(o.logLevel)
	logger := logging.NewLogger(logCfg)

	f, err := os.Open(o.graphPath)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	opts := npu31.DefaultOptions()
	opts.UseHardware = o.hardware
	opts.UseURing = o.uring
	opts.ControlPath = o.ctrlPath
	opts.LogLevel = logCfg.Level
	switch o.partMode {
	case 1:
		opts.PartMode = npu31.PartMode1
	case 2:
		opts.PartMode = npu31.PartMode2
	default:
		opts.PartMode = npu31.PartMode0
	}

	g, err := npu31.LoadGraph(f, opts)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	logger.Info("graph loaded", "arch", g.Arch(), "subgraphs", g.SubgraphCount())

	dev, err := npu31.OpenDevice(opts)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	inputShapes, err := parseInputShapes(o.shapes)
	if err != nil {
		return err
	}

	j, err := npu31.CreateJob(g, dev, npu31.JobConfig{QoS: o.qos, InputShapes: inputShapes})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	defer j.Destroy()

	if err := j.Schedule(); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	logger.Info("job scheduled", "grid_id", j.GridID())

	status, err := j.PollStatus(o.timeout)
	if err != nil {
		return fmt.Errorf("poll job: %w", err)
	}
	logger.Info("job finished", "status", status)

	if err := j.ResolveOutputShapes(); err != nil {
		logger.Warn("output shapes not resolved", "error", err)
	}

	if err := dev.DumpAll(o.outDir); err != nil {
		return fmt.Errorf("dump job: %w", err)
	}
	fmt.Printf("wrote %s/job0/runtime.cfg and %s/job0/metadata.txt\n", o.outDir, o.outDir)
	return nil
}

// parseInputShapes parses repeated "INPUT_ID=d0,d1,..." flags into the
// BSS-bucket-0 map CreateJob's JobConfig.InputShapes expects.
func parseInputShapes(raw []string) (map[int][]uint32, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := map[int][]uint32{}
	for _, spec := range raw {
		eq := strings.SplitN(spec, "=", 2)
		if len(eq) != 2 {
			return nil, fmt.Errorf("invalid --input-shape %q: expected INPUT_ID=d0,d1,...", spec)
		}
		inputID, err := strconv.Atoi(eq[0])
		if err != nil {
			return nil, fmt.Errorf("invalid input id in %q: %w", spec, err)
		}

		var dims []uint32
		for _, d := range strings.Split(eq[1], ",") {
			v, err := strconv.ParseUint(d, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid dim in %q: %w", spec, err)
			}
			dims = append(dims, uint32(v))
		}
		out[inputID] = dims
	}
	return out, nil
}
