// Package cmd provides the command-line interface for virtmem.
package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/virtmem/paging"
	"github.com/sarchlab/virtmem/simulation"
	"github.com/sarchlab/virtmem/workload"
)

// fatalExitCode is the status of a run that hit a broken invariant.
const fatalExitCode = 134

type config struct {
	numPages  int
	numFrames int
	policy    paging.Policy
	program   workload.Program
}

func parseArgs(args []string) (config, error) {
	var c config

	numPages, err := strconv.Atoi(args[0])
	if err != nil || numPages <= 0 {
		return c, fmt.Errorf("invalid number of pages: %s", args[0])
	}

	numFrames, err := strconv.Atoi(args[1])
	if err != nil || numFrames <= 0 {
		return c, fmt.Errorf("invalid number of frames: %s", args[1])
	}

	c.numPages = numPages
	c.numFrames = numFrames

	c.policy, err = paging.ParsePolicy(args[2])
	if err != nil {
		return c, err
	}

	c.program, err = workload.ParseProgram(args[3])
	if err != nil {
		return c, err
	}

	return c, nil
}

type runFlags struct {
	seed        int64
	diskDir     string
	traceDB     string
	monitor     bool
	monitorPort int
	openBrowser bool
	verbose     bool
	printTable  bool
	check       bool
	hotPages    int
}

func newRootCommand() *cobra.Command {
	f := &runFlags{}

	rootCmd := &cobra.Command{
		Use:   "virtmem <npages> <nframes> <rand|random|fifo|custom> <sort|scan|focus>",
		Short: "virtmem runs a workload over a simulated virtual memory.",
		Long: `virtmem backs <npages> virtual pages with <nframes> physical ` +
			`frames and a block file on disk. Every access to a page that is ` +
			`not resident is trapped and resolved by the chosen replacement ` +
			`policy. The checksum of the workload and the number of page ` +
			`faults, disk reads, and disk writes are printed at the end.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseArgs(args)
			if err != nil {
				return err
			}

			return run(cmd, c, f)
		},
	}

	flags := rootCmd.Flags()
	flags.Int64Var(&f.seed, "seed", envInt64("VIRTMEM_SEED", 0),
		"seed of the random replacement policy")
	flags.StringVar(&f.diskDir, "disk-dir", envString("VIRTMEM_DISK_DIR", "."),
		"directory that holds the backing file")
	flags.StringVar(&f.traceDB, "trace-db", envString("VIRTMEM_TRACE_DB", ""),
		"record every fault into this SQLite database")
	flags.BoolVar(&f.monitor, "monitor", false,
		"serve the monitoring API while the workload runs")
	flags.IntVar(&f.monitorPort, "monitor-port", int(envInt64("VIRTMEM_MONITOR_PORT", 0)),
		"port of the monitoring server, random if 0")
	flags.BoolVar(&f.openBrowser, "open-browser", false,
		"open the monitor in a browser")
	flags.BoolVar(&f.verbose, "verbose", false,
		"print every trap and fault")
	flags.BoolVar(&f.printTable, "print-table", false,
		"print the page table after the run")
	flags.BoolVar(&f.check, "check", false,
		"verify the page table against the reverse map after the run")
	flags.IntVar(&f.hotPages, "hot-pages", 0,
		"print the pages that faulted most, at most this many")

	rootCmd.AddCommand(newTraceCommand())

	return rootCmd
}

func run(cmd *cobra.Command, c config, f *runFlags) error {
	b := simulation.MakeBuilder().
		WithNumPages(c.numPages).
		WithNumFrames(c.numFrames).
		WithPolicy(c.policy).
		WithSeed(f.seed).
		WithDiskDir(f.diskDir).
		WithTraceDB(f.traceDB)

	if f.monitor {
		b = b.WithMonitor().WithMonitorPort(f.monitorPort)
		if f.openBrowser {
			b = b.WithOpenBrowser()
		}
	}

	if f.verbose {
		b = b.WithLogger(log.New(cmd.ErrOrStderr(), "", 0))
	}

	s, err := b.Build()
	if err != nil {
		return err
	}
	defer s.Terminate()

	cmd.SilenceUsage = true

	result := s.Run(c.program)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s result is %d\n", result.Program, result.Checksum)
	fmt.Fprintf(out, "page faults: %d\n", result.Stats.PageFaults)
	fmt.Fprintf(out, "disk reads: %d\n", result.Stats.DiskReads)
	fmt.Fprintf(out, "disk writes: %d\n", result.Stats.DiskWrites)

	if f.printTable {
		err = s.PageTable().Print(out)
		if err != nil {
			return err
		}
	}

	if f.hotPages > 0 {
		for _, p := range s.FaultCounter().HotPages(f.hotPages) {
			fmt.Fprintf(out, "page %d faulted %d times\n", p.Page, p.Faults)
		}
	}

	if f.check {
		err = s.Engine().CheckConsistency(s.PageTable())
		if err != nil {
			return fmt.Errorf("consistency check failed: %w", err)
		}

		fmt.Fprintln(out, "page table is consistent")
	}

	return nil
}

func envString(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}

	return v
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ignoring %s=%q: not an integer\n", key, v)
		return def
	}

	return n
}

// Execute loads the .env file if there is one, then runs the command line.
// A broken invariant during the run is reported and ends the process with
// status 134 after the exit handlers have released the disk and the trace.
func Execute() {
	_ = godotenv.Load()

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "virtmem: fatal: %v\n", r)
			atexit.Exit(fatalExitCode)
		}
	}()

	err := newRootCommand().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
