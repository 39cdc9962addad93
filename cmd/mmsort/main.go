// Command mmsort sorts more random bytes than fit into its memory budget, spilling
// segments to disk as needed, and prints a JSON report of the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"runtime"
	"time"

	"go.uber.org/multierr"

	"github.com/iamBelugaa/manmem/pkg/errors"
	"github.com/iamBelugaa/manmem/pkg/logger"
	"github.com/iamBelugaa/manmem/pkg/manmem"
	"github.com/iamBelugaa/manmem/pkg/options"
)

type config struct {
	configFile string
	size       string
	capacity   string
	segment    string
	spillDir   string
	ioLimit    string
	seed       uint64
	workers    int
	window     string
	logLevel   string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.configFile, "config", "", "INI file with [memory] and [spill] sections")
	flag.StringVar(&cfg.size, "size", "64MiB", "number of bytes to sort")
	flag.StringVar(&cfg.capacity, "capacity", "", "memory capacity, overrides the config file")
	flag.StringVar(&cfg.segment, "segment", "", "segment size, overrides the config file")
	flag.StringVar(&cfg.spillDir, "spill-dir", "", "spill directory, overrides the config file")
	flag.StringVar(&cfg.ioLimit, "io-limit", "", "spill throughput limit per second, overrides the config file")
	flag.Uint64Var(&cfg.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	flag.IntVar(&cfg.workers, "workers", runtime.GOMAXPROCS(0), "segments sorted in parallel")
	flag.StringVar(&cfg.window, "window", "4KiB", "read-ahead per merged segment")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "log level")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "mmsort: %v\n", err)
		if se, ok := errors.AsStorageError(err); ok {
			fmt.Fprintf(os.Stderr, "  code=%s op=%s path=%s offset=%d details=%v\n", se.Code(), se.Operation(), se.Path(), se.Offset(), se.Details())
		}
		os.Exit(1)
	}
}

func run(cfg config) (err error) {
	log, err := logger.NewWithLevel("mmsort", cfg.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts, err := cfg.options()
	if err != nil {
		return err
	}

	size, err := options.ParseSize("size", cfg.size, math.MaxInt64)
	if err != nil {
		return err
	}
	window, err := options.ParseSize("window", cfg.window, math.MaxInt)
	if err != nil {
		return err
	}
	if window == 0 || cfg.workers <= 0 {
		return fmt.Errorf("window and workers must be positive")
	}

	inst, err := manmem.NewInstanceWithLogger(log, opts...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, inst.Close()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s := &sorter{inst: inst, log: log, workers: cfg.workers, window: int(window)}
	var phases []phase
	timed := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		phases = append(phases, phase{name: name, took: time.Since(start)})
		return err
	}

	var (
		input, output []*manmem.Segment
		hist          histogram
		verified      int64
	)

	if err := timed("generate", func() (err error) {
		input, hist, err = s.generate(ctx, int64(size), cfg.seed)
		return err
	}); err != nil {
		return err
	}

	if err := timed("sort", func() error { return s.sortChunks(ctx, input) }); err != nil {
		return err
	}

	if err := timed("merge", func() (err error) {
		output, err = s.merge(ctx, input)
		return err
	}); err != nil {
		return err
	}

	if err := timed("verify", func() (err error) {
		verified, err = verify(output, hist)
		return err
	}); err != nil {
		return err
	}

	doc, err := report(int64(size), verified, phases, inst.Stats())
	if err != nil {
		return err
	}
	fmt.Println(string(doc))

	return manmem.ReleaseAll(output)
}

// options layers the config file, then the flags that were set, over the defaults.
func (c config) options() ([]options.OptionFunc, error) {
	var opts []options.OptionFunc
	if c.configFile != "" {
		fileOpts, err := options.LoadFile(c.configFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fileOpts...)
	}

	if c.capacity != "" {
		n, err := options.ParseSize("capacity", c.capacity, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		opts = append(opts, options.WithCapacity(int64(n)))
	}

	if c.segment != "" {
		n, err := options.ParseSize("segment", c.segment, uint64(options.MaxSegmentSize))
		if err != nil {
			return nil, err
		}
		opts = append(opts, options.WithSegmentSize(int(n)))
	}

	if c.ioLimit != "" {
		n, err := options.ParseSize("io-limit", c.ioLimit, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		opts = append(opts, options.WithIOLimit(int64(n)))
	}

	if c.spillDir != "" {
		opts = append(opts, options.WithSpillDir(c.spillDir))
	}
	return opts, nil
}
