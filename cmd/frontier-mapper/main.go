// Command frontier-mapper builds an occupancy map from a synthetic depth
// sensor, tracks exploration frontiers, and publishes them over gRPC and an
// HTTP monitor. Per-frame outcomes are recorded in a SQLite run store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/frontier.map/internal/config"
	"github.com/banshee-data/frontier.map/internal/lidar/l2cloud"
	"github.com/banshee-data/frontier.map/internal/lidar/l4update"
	"github.com/banshee-data/frontier.map/internal/lidar/l5frontier"
	"github.com/banshee-data/frontier.map/internal/lidar/monitor"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/frontier.map/internal/lidar/storage/sqlite"
	"github.com/banshee-data/frontier.map/internal/lidar/visualiser"
	"github.com/banshee-data/frontier.map/internal/monitoring"
	"github.com/banshee-data/frontier.map/internal/version"
)

var (
	configPath    = flag.String("config", "", "Mapper config file (.json, .yaml); empty uses built-in defaults")
	grpcListen    = flag.String("grpc-listen", "localhost:50061", "gRPC frontier service address (empty disables)")
	httpListen    = flag.String("http-listen", "localhost:8081", "HTTP monitor address (empty disables)")
	dbPath        = flag.String("db", "frontier.db", "SQLite run store path (empty disables)")
	frameRate     = flag.Float64("rate", 10, "Synthetic frames per second")
	frameLimit    = flag.Int("frames", 0, "Stop after this many frames (0 runs until interrupted)")
	seed          = flag.Int64("seed", 1, "Synthetic scanner random seed")
	snapshotEvery = flag.Int("snapshot-every", sqlite.DefaultSnapshotEvery, "Applied frames between frontier snapshots")
	plotDir       = flag.String("plots", "", "Write frontier plots to this directory on exit")
	feedKeys      = flag.Bool("feed-keys", false, "Include frontier keys in websocket feed messages")
	slowStage     = flag.Duration("slow-stage", 250*time.Millisecond, "Log any pipeline stage slower than this (0 disables)")
	verbose       = flag.Bool("v", false, "Log per-frame diagnostics")
	veryVerbose   = flag.Bool("vv", false, "Log per-frame diagnostics and trace output")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// options are the command-line settings run needs beyond the mapper config.
type options struct {
	GRPCListen    string
	HTTPListen    string
	DBPath        string
	FrameRate     float64
	FrameLimit    int
	Seed          int64
	SnapshotEvery int
	PlotDir       string
	FeedKeys      bool
	SlowStage     time.Duration
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("frontier-mapper", version.String())
		return
	}

	configureLogging(os.Stderr, os.Stdout, *verbose || *veryVerbose, *veryVerbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		GRPCListen:    *grpcListen,
		HTTPListen:    *httpListen,
		DBPath:        *dbPath,
		FrameRate:     *frameRate,
		FrameLimit:    *frameLimit,
		Seed:          *seed,
		SnapshotEvery: *snapshotEvery,
		PlotDir:       *plotDir,
		FeedKeys:      *feedKeys,
		SlowStage:     *slowStage,
	}
	if err := run(ctx, cfg, opts); err != nil {
		log.Fatalf("frontier-mapper: %v", err)
	}
	log.Print("frontier-mapper stopped")
}

// configureLogging routes ops to opsW and, when enabled, diag and trace to
// diagW. FRONTIER_DEBUG_LOG, if set, sends all three streams of every
// package to that file instead.
func configureLogging(opsW, diagW io.Writer, diag, trace bool) {
	var d, tr io.Writer
	if diag {
		d = diagW
	}
	if trace {
		tr = diagW
	}
	setLogWriters(opsW, d, tr)
	if opsW != nil {
		monitoring.SetLogger(log.New(opsW, "[monitoring] ", log.LstdFlags|log.Lmicroseconds).Printf)
	} else {
		monitoring.SetLogger(nil)
	}

	if path := os.Getenv("FRONTIER_DEBUG_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Printf("cannot open FRONTIER_DEBUG_LOG %s: %v", path, err)
			return
		}
		setLogWriters(f, f, f)
	}
}

func setLogWriters(ops, diag, trace io.Writer) {
	l4update.SetLogWriters(ops, diag, trace)
	l5frontier.SetLogWriters(ops, diag, trace)
	pipeline.SetLogWriters(ops, diag, trace)
	visualiser.SetLogWriters(ops, diag, trace)
	monitor.SetLogWriters(ops, diag, trace)
}

func loadConfig(path string) (*config.MapperConfig, error) {
	if path == "" {
		return config.DefaultMapperConfig(), nil
	}
	return config.LoadMapperConfig(path)
}

// run wires the mapper and its sinks and blocks until ctx is cancelled or
// the frame limit is reached.
func run(ctx context.Context, cfg *config.MapperConfig, opts options) error {
	var (
		publisher *visualiser.Publisher
		recorder  *sqlite.Recorder
		web       *monitor.WebServer
		runStore  *sqlite.RunStore
	)

	if opts.DBPath != "" {
		db, err := sqlite.Open(opts.DBPath)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer db.Close()
		runStore = sqlite.NewRunStore(db.DB)
		r := &sqlite.Run{MapFrame: engineConfig(cfg).MapFrame, ConfigJSON: configJSON(cfg)}
		if err := runStore.StartRun(r); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		recorder = sqlite.NewRecorder(runStore, r.RunID, opts.SnapshotEvery)
		log.Printf("recording run %s to %s", r.RunID, opts.DBPath)
	}

	if opts.GRPCListen != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = opts.GRPCListen
		vcfg.CompressMap = cfg.GetCompressMap()
		publisher = visualiser.NewPublisher(vcfg)
	}

	c, err := buildCore(cfg, opts.Seed, nil, func(mc *pipeline.MapperConfig) {
		if publisher != nil {
			mc.Publishers = append(mc.Publishers, publisher)
		}
		if recorder != nil {
			mc.Persistence = recorder
		}
	})
	if err != nil {
		return err
	}
	c.mapper.Spans().WarnAbove(opts.SlowStage)

	if opts.HTTPListen != "" {
		wcfg := monitor.WebServerConfig{
			Address:  opts.HTTPListen,
			Mapper:   c.mapper,
			FeedKeys: opts.FeedKeys,
		}
		if publisher != nil {
			wcfg.Publisher = publisher
		}
		if runStore != nil {
			wcfg.Runs = runStore
			wcfg.RunID = recorder.RunID()
		}
		web, err = monitor.NewWebServer(wcfg)
		if err != nil {
			return err
		}
		c.mapper.AddPublisher(web)
	}

	if publisher != nil {
		if err := publisher.Start(); err != nil {
			return fmt.Errorf("start gRPC publisher: %w", err)
		}
		log.Printf("gRPC frontier service on %s", opts.GRPCListen)
		defer publisher.Stop()
	}

	period := time.Second
	if opts.FrameRate > 0 {
		period = time.Duration(float64(time.Second) / opts.FrameRate)
	}
	source := &l2cloud.SyntheticSource{
		Scanner:  c.scanner,
		Resolver: c.resolver,
		Period:   period,
		Limit:    opts.FrameLimit,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	frames := make(chan *l2cloud.Frame, 4)

	g.Go(func() error {
		if err := source.Run(gctx, frames); !isContextErr(err) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := c.mapper.Run(gctx, frames)
		// The source finished on its frame limit; stop the other surfaces.
		cancel()
		if isContextErr(err) {
			return nil
		}
		return err
	})
	if web != nil {
		g.Go(func() error { return web.Start(gctx) })
	}
	runErr := g.Wait()

	stats := c.mapper.Stats()
	log.Printf("frames: received=%d processed=%d partial=%d rate_limited=%d failed=%d frontier=%d",
		stats.Received, stats.Processed, stats.Partial, stats.RateLimited, stats.Failed, len(c.mapper.Frontier()))
	for _, s := range c.mapper.Spans().Summary() {
		log.Printf("stage %-8s n=%d mean=%.2fms p95=%.2fms max=%.2fms", s.Stage, s.Count, s.MeanMs, s.P95Ms, s.MaxMs)
	}

	if opts.PlotDir != "" && web != nil {
		if err := monitor.SavePlots(web.History(), opts.PlotDir); err != nil {
			log.Printf("failed to save plots: %v", err)
		}
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Printf("failed to close run: %v", err)
		}
	}
	return runErr
}

func isContextErr(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
