package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera/opencv"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/counting"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/location"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/storage"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath string
		envFile    string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.StringVar(&envFile, "env", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	// Bootstrap logger until the configured one exists
	bootLog, err := logger.New(logger.LogConfig{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfgSvc, err := config.NewService(configPath, bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting traffic counter",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	if err := run(cfgSvc, log); err != nil {
		log.Error("Traffic counter failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfgSvc *config.Service, log *logger.Logger) error {
	cfg := cfgSvc.Get()

	desc, err := camera.ParseDescriptor(cfg.Source.Descriptor)
	if err != nil {
		return fmt.Errorf("invalid frame source: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event store and log
	stateMgr, err := state.NewManager(cfg.Storage.DatabasePath, log)
	if err != nil {
		return err
	}
	if recovered, err := stateMgr.RecoverState(ctx); err != nil {
		log.Warn("State recovery failed", "error", err)
	} else if prev := recovered.SystemState["last_source"]; prev != "" && prev != desc.Redacted() {
		log.Info("Frame source changed since last run", "previous", prev, "current", desc.Redacted())
	}
	if err := stateMgr.SaveSystemState(ctx, "last_source", desc.Redacted()); err != nil {
		log.Warn("Failed to save system state", "key", "last_source", "error", err)
	}
	if err := stateMgr.SaveSystemState(ctx, "last_start", time.Now().Format(state.TimestampLayout)); err != nil {
		log.Warn("Failed to save system state", "key", "last_start", "error", err)
	}

	csvLog, err := events.OpenCSVLog(cfg.Storage.LogPath)
	if err != nil {
		stateMgr.Close()
		return err
	}
	sink := events.NewSink(csvLog, events.NewStorage(stateMgr, log), log)

	locations, err := location.NewRegister(location.Config{
		File:         cfg.Location.File,
		Default:      cfg.Location.Default,
		Available:    cfg.Location.Available,
		PollInterval: cfg.Location.PollInterval,
	}, log)
	if err != nil {
		sink.CloseLog()
		sink.CloseStore()
		return err
	}

	engine, pcfg, err := buildEngine(cfg)
	if err != nil {
		sink.CloseLog()
		sink.CloseStore()
		return err
	}
	pcfg.FrameStride = cfg.Source.FrameStride
	pcfg.JPEGQuality = cfg.Source.JPEGQuality

	tracker := ai.NewClient(ai.ClientConfig{
		ServiceURL:          cfg.Tracker.ServiceURL,
		Timeout:             cfg.Tracker.Timeout,
		ConfidenceThreshold: cfg.Tracker.ConfidenceThreshold,
		Tracker:             cfg.Tracker.Tracker,
		StreamID:            cfg.Tracker.StreamID,
	}, log)

	src, err := buildSource(cfg, desc, log)
	if err != nil {
		sink.CloseLog()
		sink.CloseStore()
		return err
	}
	capture := camera.NewSupervisor(src, camera.SupervisorConfig{
		MaxReadFailures: cfg.Reconnect.MaxReadFailures,
		ReadRetryDelay:  cfg.Reconnect.ReadRetryDelay,
		ReconnectDelay:  cfg.Reconnect.ReconnectDelay,
		OpenRetryDelay:  cfg.Reconnect.OpenRetryDelay,
		MaxOpenAttempts: cfg.Reconnect.MaxOpenAttempts,
	}, log)

	m := metrics.New()
	shared := video.NewSharedFrame()

	pipe, err := pipeline.New(pcfg, pipeline.Deps{
		Capture:  capture,
		Tracker:  tracker,
		Engine:   engine,
		Sink:     sink,
		Location: locations,
		Shared:   shared,
		Metrics:  m,
	}, log)
	if err != nil {
		capture.Close()
		sink.CloseLog()
		sink.CloseStore()
		return err
	}

	svcMgr := service.NewManager(log)

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(&health.SystemChecker{})
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr, cfg.Storage.DatabasePath))
	healthMgr.RegisterChecker(health.NewTrackerChecker(tracker))
	healthMgr.RegisterChecker(health.NewCameraChecker(capture))
	healthMgr.RegisterChecker(health.NewStorageChecker(cfg.Storage.DataDir, cfg.Storage.LogPath))
	if disk, err := storage.NewDiskMonitor(cfg.Storage.DataDir, cfg.Storage.MaxDiskUsage, log); err != nil {
		log.Warn("Disk monitor disabled", "error", err)
	} else {
		healthMgr.RegisterChecker(health.NewDiskChecker(disk))
	}

	webServer := web.NewServer(&cfg.Web, log)
	webServer.SetVersion(version)
	webServer.SetFrameSource(shared)
	webServer.SetPipeline(pipe)
	webServer.SetLocations(locations)
	webServer.SetTrafficStore(stateMgr, cfg.Counting.Classes)
	webServer.SetObservability(healthMgr, m)

	// Shutdown runs in reverse: pipeline, web, location
	svcMgr.Register(locations)
	svcMgr.Register(webServer)
	svcMgr.Register(pipe)

	cfgSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		locations.SetAvailable(newCfg.Location.Available)
		if oldCfg.Source.Descriptor != newCfg.Source.Descriptor {
			log.Warn("Frame source change requires a restart", "source", newCfg.Source.Descriptor)
		}
		return nil
	})

	if err := svcMgr.Start(ctx); err != nil {
		pipe.Stop(context.Background())
		return fmt.Errorf("failed to start services: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var runErr error
wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := cfgSvc.Reload(ctx); err != nil {
					log.Error("Failed to reload configuration", "error", err)
				}
				continue
			}
			log.Info("Received shutdown signal", "signal", sig)
			break wait
		case <-pipe.Done():
			runErr = pipe.Err()
			if runErr == nil {
				log.Info("Frame source exhausted, shutting down")
			}
			break wait
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	st := pipe.Status()
	log.Info("Final counts",
		"total", st.Counting.Total,
		"totals", st.Counting.Totals,
		"events_lost", st.EventsLost,
	)
	return runErr
}

// buildEngine creates the crossing engine and the matching overlay boundary
func buildEngine(cfg *config.Config) (*counting.Engine, pipeline.Config, error) {
	band := counting.BandPolicy{
		Position: float64(cfg.Counting.Band.Position),
		Offset:   float64(cfg.Counting.Band.Offset),
	}
	s := cfg.Counting.Segment
	line := counting.Segment{
		A: counting.Point{X: float64(s.X1), Y: float64(s.Y1)},
		B: counting.Point{X: float64(s.X2), Y: float64(s.Y2)},
	}

	policy, err := counting.NewPolicy(cfg.Counting.Policy, band, line)
	if err != nil {
		return nil, pipeline.Config{}, err
	}

	var pcfg pipeline.Config
	switch policy.(type) {
	case counting.BandPolicy:
		pcfg.Band = &video.Band{Y: cfg.Counting.Band.Position, Offset: cfg.Counting.Band.Offset}
	case counting.SegmentPolicy:
		pcfg.Line = &[2]image.Point{image.Pt(s.X1, s.Y1), image.Pt(s.X2, s.Y2)}
	}

	engine := counting.NewEngine(counting.Config{
		Policy:           policy,
		Classes:          cfg.Counting.Classes,
		MinConfidence:    cfg.Counting.MinConfidence,
		EvictAfterFrames: uint64(cfg.Counting.EvictAfterFrames),
	})
	return engine, pcfg, nil
}

// buildSource picks the capture backend for desc
func buildSource(cfg *config.Config, desc camera.Descriptor, log *logger.Logger) (camera.Source, error) {
	var src camera.Source
	switch cfg.Source.Backend {
	case "ffmpeg":
		ff, err := video.NewFFmpegWrapper(log)
		if err != nil {
			return nil, err
		}
		src = camera.NewFFmpegSource(desc, ff, camera.FFmpegSourceConfig{
			FPS:         cfg.Source.FPS,
			Width:       cfg.Source.Width,
			Height:      cfg.Source.Height,
			ReadTimeout: cfg.Source.ReadTimeout,
		}, log)
	case "opencv":
		src = opencv.NewSource(desc, opencv.Config{
			FPS:         cfg.Source.FPS,
			Width:       cfg.Source.Width,
			Height:      cfg.Source.Height,
			OpenTimeout: cfg.Source.OpenTimeout,
			ReadTimeout: cfg.Source.ReadTimeout,
			DropStale:   cfg.Source.DropStale,
			JPEGQuality: cfg.Source.JPEGQuality,
		}, log)
	default:
		return nil, errors.New("unknown source backend " + cfg.Source.Backend)
	}

	if cfg.Source.ProbeRTSP {
		src = camera.WithRTSPProbe(src, desc, cfg.Source.OpenTimeout)
	}
	return src, nil
}
