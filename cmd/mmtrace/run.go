package main

import (
	"io"
	"os"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/memmgr/internal/trace"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/memutils/fit"
	"github.com/vkngwrapper/memmgr/mm"
	"github.com/vkngwrapper/memmgr/region"
	"golang.org/x/exp/slog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	runPolicy         string
	runNoWrap         bool
	runCoalesceExtend bool
	runRegion         string
	runMaxRegion      int
	runChunk          int
	runCheck          bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().StringVar(&runPolicy, "policy", "first", "Placement policy: first, next or best")
	cmd.Flags().BoolVar(&runNoWrap, "no-wrap", false, "Fail a next-fit scan at the heap end instead of wrapping around")
	cmd.Flags().BoolVar(&runCoalesceExtend, "coalesce-extend", false, "Merge heap extensions with a trailing free block")
	cmd.Flags().StringVar(&runRegion, "region", "buffer", "Region provider: buffer or mmap")
	cmd.Flags().IntVar(&runMaxRegion, "max-region", 64<<20, "Largest region size in bytes; 0 means the buffer default of 1Gb")
	cmd.Flags().IntVar(&runChunk, "chunk", mm.DefaultChunkSize, "Minimum heap extension in bytes (a power of two)")
	cmd.Flags().BoolVar(&runCheck, "check", false, "Walk and verify the heap after the replay")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <trace>",
		Short: "Replay a trace file",
		Long: `The run command replays a trace file against a fresh allocator and
prints the replay statistics. Use "-" to read the trace from stdin.

Example:
  mmtrace run workload.trace
  mmtrace run workload.trace --policy best --check
  mmtrace run workload.trace --policy next --no-wrap --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
		},
	}
	return cmd
}

func readTrace(path string) ([]trace.Op, error) {
	if path == "-" {
		return trace.Parse(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open trace")
	}
	defer f.Close()

	return trace.Parse(f)
}

func newProvider() (region.Provider, func() error, error) {
	switch runRegion {
	case "buffer":
		buffer, err := region.NewBuffer(region.BufferOptions{MaxSize: runMaxRegion})
		return buffer, func() error { return nil }, err
	case "mmap":
		mmap, err := region.NewMmap(runMaxRegion)
		if err != nil {
			return nil, nil, err
		}
		return mmap, mmap.Close, nil
	}

	return nil, nil, errors.Errorf("unknown region provider %q", runRegion)
}

func newLogger(stderr io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbosity > 1 {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

func runTrace(stdout, stderr io.Writer, path string) error {
	policy, err := fit.ParsePolicy(runPolicy)
	if err != nil {
		return err
	}

	ops, err := readTrace(path)
	if err != nil {
		return err
	}

	provider, closeProvider, err := newProvider()
	if err != nil {
		return err
	}
	defer closeProvider()

	options := mm.CreateOptions{
		ChunkSize:        runChunk,
		CoalesceOnExtend: runCoalesceExtend,
	}
	if runNoWrap {
		options.NextFitMode = fit.NextFitNoWrap
	}

	allocator, err := mm.New(newLogger(stderr), provider, options)
	if err != nil {
		return err
	}
	if err := allocator.Init(policy); err != nil {
		return err
	}
	allocator.SetLogLevel(mm.LogLevel(verbosity))

	result, err := trace.Replay(allocator, ops)
	if err != nil {
		return err
	}

	if runCheck {
		if _, err := allocator.Check(); err != nil {
			return err
		}
	}

	var stats memutils.DetailedStatistics
	stats.Clear()
	allocator.AddDetailedStatistics(&stats)

	if jsonOut {
		return printJSON(stdout, allocator, policy, result, &stats)
	}

	printSummary(stdout, policy, result, &stats)
	return nil
}

func printSummary(w io.Writer, policy fit.Policy, result trace.Result, stats *memutils.DetailedStatistics) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "Policy:                 %s\n", policy)
	p.Fprintf(w, "Operations:             %d\n", result.Ops)
	p.Fprintf(w, "Out of memory:          %d\n", result.Failures)
	p.Fprintf(w, "Peak heap:              %d bytes\n", result.PeakHeap)
	p.Fprintf(w, "Peak live payload:      %d bytes\n", result.PeakLive)
	p.Fprintf(w, "Peak utilization:       %.1f%%\n", 100*result.Utilization())
	p.Fprintf(w, "Final heap:             %d bytes\n", stats.HeapBytes)
	p.Fprintf(w, "Live allocations:       %d (%d bytes)\n", stats.AllocationCount, stats.AllocationBytes)
	p.Fprintf(w, "Free blocks:            %d (%d bytes)\n", stats.FreeBlockCount, stats.FreeBytes())
	p.Fprintf(w, "Internal fragmentation: %.1f%%\n", 100*stats.InternalFragmentation())
	p.Fprintf(w, "External fragmentation: %.1f%%\n", 100*stats.ExternalFragmentation())
}

func printJSON(w io.Writer, allocator *mm.Allocator, policy fit.Policy, result trace.Result, stats *memutils.DetailedStatistics) error {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	obj.Name("Policy").String(policy.String())
	obj.Name("Operations").Int(result.Ops)
	obj.Name("OutOfMemory").Int(result.Failures)
	obj.Name("PeakHeap").Int(result.PeakHeap)
	obj.Name("PeakLive").Int(result.PeakLive)
	obj.Name("Utilization").Float64(result.Utilization())
	obj.Name("InternalFragmentation").Float64(stats.InternalFragmentation())
	obj.Name("ExternalFragmentation").Float64(stats.ExternalFragmentation())
	if err := allocator.PrintDetailedMap(obj.Name("Map")); err != nil {
		return err
	}
	obj.End()

	if err := writer.Error(); err != nil {
		return err
	}

	out := writer.Bytes()
	out = append(out, '\n')
	_, err := w.Write(out)
	return err
}
