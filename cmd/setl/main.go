package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/setl/internal/aggregate"
	"github.com/danmuck/setl/internal/comm"
	"github.com/danmuck/setl/internal/config"
	"github.com/danmuck/setl/internal/logging"
	"github.com/danmuck/setl/internal/report"
	"github.com/danmuck/setl/internal/server"
	"github.com/danmuck/setl/internal/worker"
	"github.com/danmuck/setl/internal/worldio"
)

const usageLine = "Usage: setl [flags] <world file> <generations> <pattern file>"

var errUsage = errors.New("usage")

type options struct {
	cfg         config.Config
	worldPath   string
	generations int
	patternPath string
	verify      bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "setl: %v\n", err)
		}
		return 1
	}
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, opts, stdout); err != nil {
		fmt.Fprintf(stderr, "setl: %v\n", err)
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("setl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "TOML config file")
	workers := fs.Int("workers", 0, "number of workers (local transport) or ranks")
	transport := fs.String("transport", "", "worker transport: local|tcp")
	rank := fs.Int("rank", 0, "this process's rank (tcp transport)")
	peers := fs.String("peers", "", "comma separated listen address per rank (tcp transport)")
	margin := fs.Int("margin", 0, "search margin, -1 derives it from the pattern size")
	monitor := fs.String("monitor", "", "serve /health, /status and /metrics on this address (rank 0)")
	verify := fs.Bool("verify", false, "check the result against a single-process search")
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, errUsage
	}
	if fs.NArg() < 3 {
		fs.Usage()
		return options{}, errUsage
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return options{}, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Workers = *workers
		case "transport":
			cfg.Transport = strings.ToLower(strings.TrimSpace(*transport))
		case "rank":
			cfg.Rank = *rank
		case "peers":
			cfg.Peers = splitList(*peers)
		case "margin":
			cfg.SearchMargin = *margin
		case "monitor":
			cfg.MonitorAddr = strings.TrimSpace(*monitor)
		}
	})
	if cfg.Transport == config.TransportTCP {
		cfg.Workers = len(cfg.Peers)
	}
	if err := cfg.Validate(); err != nil {
		return options{}, err
	}

	generations, err := strconv.Atoi(fs.Arg(1))
	if err != nil || generations < 0 {
		fmt.Fprintf(stderr, "setl: invalid generations %q\n", fs.Arg(1))
		fs.Usage()
		return options{}, errUsage
	}
	return options{
		cfg:         cfg,
		worldPath:   fs.Arg(0),
		generations: generations,
		patternPath: fs.Arg(2),
		verify:      *verify,
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func execute(ctx context.Context, opts options, stdout io.Writer) error {
	tracker := server.NewTracker()
	switch opts.cfg.Transport {
	case config.TransportTCP:
		ep, err := comm.DialMesh(ctx, comm.TCPConfig{
			Rank:    opts.cfg.Rank,
			Peers:   opts.cfg.Peers,
			Session: opts.cfg.Session,
		})
		if err != nil {
			return err
		}
		defer ep.Close()
		if ep.Rank() != aggregate.Coordinator {
			_, err := worker.Run(ctx, ep, worker.Job{})
			return err
		}
		return coordinate(ctx, opts, ep, tracker, stdout)
	default:
		return runLocal(ctx, opts, tracker, stdout)
	}
}

// runLocal starts every rank as a goroutine of this process.
func runLocal(ctx context.Context, opts options, tracker *server.Tracker, stdout io.Writer) error {
	mesh := comm.NewLocalMesh(opts.cfg.Workers)
	errs := make([]error, len(mesh))
	var wg sync.WaitGroup
	for rank := 1; rank < len(mesh); rank++ {
		wg.Add(1)
		go func(ep *comm.LocalEndpoint) {
			defer wg.Done()
			defer ep.Close()
			_, errs[ep.Rank()] = worker.Run(ctx, ep, worker.Job{Progress: tracker.Generation})
		}(mesh[rank])
	}
	errs[0] = coordinate(ctx, opts, mesh[0], tracker, stdout)
	_ = mesh[0].Close()
	wg.Wait()
	if errs[0] != nil {
		// The other ranks only report how the coordinator's failure reached them.
		return errs[0]
	}
	return errors.Join(errs[1:]...)
}

// coordinate loads the inputs on rank 0, runs it and prints the report.
func coordinate(ctx context.Context, opts options, ep comm.Endpoint, tracker *server.Tracker, stdout io.Writer) error {
	world, err := worldio.ReadWorld(opts.worldPath)
	if err != nil {
		_ = worker.Abort(ctx, ep, err)
		return err
	}
	pattern, err := worldio.ReadPattern(opts.patternPath)
	if err != nil {
		_ = worker.Abort(ctx, ep, err)
		return err
	}
	logging.Infof("setl.coordinate loaded world=%d pattern=%d live=%d", world.Rows()-2, pattern.Rows(), world.LiveCount())
	in := &worker.Input{
		World:       world,
		Pattern:     pattern,
		Generations: opts.generations,
		Margin:      opts.cfg.SearchMargin,
	}

	out := report.NewWriter(stdout)
	if err := out.Header(in.GridSize(), in.Generations, pattern.Rows()); err != nil {
		_ = worker.Abort(ctx, ep, err)
		return err
	}

	if opts.cfg.MonitorAddr != "" {
		monitor := server.New(tracker, opts.cfg.CorsOrigins)
		if _, err := monitor.Start(opts.cfg.MonitorAddr); err != nil {
			_ = worker.Abort(ctx, ep, err)
			return fmt.Errorf("monitor: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = monitor.Shutdown(shutdownCtx)
		}()
	}
	tracker.Begin(in.GridSize(), pattern.Rows(), in.Generations, ep.Size())

	collected := &aggregate.Collector{}
	job := worker.Job{
		Input:    in,
		Sink:     tee{out, collected},
		Progress: tracker.Generation,
	}
	start := time.Now()
	_, err = worker.Run(ctx, ep, job)
	elapsed := time.Since(start)
	tracker.Finish(collected.Count, err)
	if err != nil {
		return err
	}
	if err := out.Finish(elapsed); err != nil {
		return err
	}
	logging.Infof("setl.coordinate done workers=%d matches=%d elapsed=%s", ep.Size(), collected.Count, elapsed)

	if opts.verify {
		if err := verify(in, collected.Records); err != nil {
			return err
		}
		logging.Infof("setl.verify ok records=%d", len(collected.Records))
	}
	return nil
}
