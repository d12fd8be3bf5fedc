package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera/opencv"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

func main() {
	var (
		configPath string
		sourceArg  string
		backend    string
		frames     int
		track      bool
		snapshot   string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&sourceArg, "source", "", "Frame source; overrides source.descriptor")
	flag.StringVar(&backend, "backend", "", "Capture backend (opencv or ffmpeg); overrides source.backend")
	flag.IntVar(&frames, "frames", 10, "Number of frames to read")
	flag.BoolVar(&track, "track", false, "Send every frame to the tracking service")
	flag.StringVar(&snapshot, "snapshot", "", "Write the last frame to this JPEG file")
	flag.Parse()

	fmt.Println("=== Frame Source Probe ===")
	fmt.Println()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// The source may come from the flag alone, so a missing or invalid
	// config file only costs the defaults
	cfg, err := config.Load(configPath)
	if err != nil {
		if sourceArg == "" {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = &config.Config{}
		cfg.Source.Descriptor = sourceArg
		cfg.Source.Backend = "opencv"
		cfg.Source.JPEGQuality = 80
		cfg.Source.OpenTimeout = 10 * time.Second
		cfg.Tracker.ServiceURL = "http://localhost:8080"
	}
	if sourceArg != "" {
		cfg.Source.Descriptor = sourceArg
	}
	if backend != "" {
		cfg.Source.Backend = backend
	}

	desc, err := camera.ParseDescriptor(cfg.Source.Descriptor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Source:  %s\n", desc.String())
	fmt.Printf("Backend: %s\n", cfg.Source.Backend)
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if desc.Kind == camera.KindRTSP {
		fmt.Println("Describing RTSP stream...")
		res, err := camera.ProbeRTSP(ctx, desc.Raw, cfg.Source.OpenTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ RTSP probe failed: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		if !res.HasVideo {
			fmt.Fprintln(os.Stderr, "❌ Stream has no video media")
			os.Exit(1)
		}
		fmt.Println("✅ RTSP stream described")
		fmt.Println()
	}

	src, err := newSource(cfg, desc, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	capture := camera.NewSupervisor(src, camera.SupervisorConfig{
		MaxReadFailures: 3,
		ReadRetryDelay:  200 * time.Millisecond,
		OpenRetryDelay:  time.Second,
		MaxOpenAttempts: 1,
	}, log)
	defer capture.Close()

	var tracker *ai.Client
	if track {
		tracker = ai.NewClient(ai.ClientConfig{
			ServiceURL:          cfg.Tracker.ServiceURL,
			Timeout:             cfg.Tracker.Timeout,
			ConfidenceThreshold: cfg.Tracker.ConfidenceThreshold,
			Tracker:             cfg.Tracker.Tracker,
			StreamID:            "probe",
		}, log)
		if err := tracker.HealthCheck(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Tracking service not reachable: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Tracking service is healthy")
		fmt.Println()
	}

	start := time.Now()
	var last *video.Frame
	read := 0
	for read < frames {
		frame, err := capture.Next(ctx)
		if err != nil {
			if errors.Is(err, camera.ErrEndOfStream) {
				fmt.Println("ℹ️  End of stream")
				break
			}
			fmt.Fprintf(os.Stderr, "❌ Read failed: %v\n", err)
			os.Exit(1)
		}
		read++
		last = frame
		fmt.Printf("[Frame %d] %dx%d, %d bytes\n", frame.Seq, frame.Width, frame.Height, len(frame.Data))

		if tracker == nil {
			continue
		}
		res, err := tracker.Track(ctx, frame)
		if err != nil {
			fmt.Printf("  ❌ Tracking failed: %v\n", err)
			continue
		}
		for _, d := range res.Detections {
			fmt.Printf("    - %s #%d (confidence: %.2f%%)\n", d.ClassName, d.TrackID, d.Confidence*100)
		}
	}

	elapsed := time.Since(start)
	fmt.Println()
	fmt.Printf("Read %d frames in %s", read, elapsed.Round(time.Millisecond))
	if read > 0 && elapsed > 0 {
		fmt.Printf(" (%.1f fps)", float64(read)/elapsed.Seconds())
	}
	fmt.Println()

	if snapshot != "" && last != nil {
		if err := os.WriteFile(snapshot, last.Data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to write snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Snapshot written to %s\n", snapshot)
	}
}

func newSource(cfg *config.Config, desc camera.Descriptor, log *logger.Logger) (camera.Source, error) {
	switch cfg.Source.Backend {
	case "ffmpeg":
		ff, err := video.NewFFmpegWrapper(log)
		if err != nil {
			return nil, err
		}
		return camera.NewFFmpegSource(desc, ff, camera.FFmpegSourceConfig{
			FPS:         cfg.Source.FPS,
			Width:       cfg.Source.Width,
			Height:      cfg.Source.Height,
			ReadTimeout: cfg.Source.ReadTimeout,
		}, log), nil
	case "opencv", "":
		return opencv.NewSource(desc, opencv.Config{
			FPS:         cfg.Source.FPS,
			Width:       cfg.Source.Width,
			Height:      cfg.Source.Height,
			OpenTimeout: cfg.Source.OpenTimeout,
			ReadTimeout: cfg.Source.ReadTimeout,
			JPEGQuality: cfg.Source.JPEGQuality,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Source.Backend)
	}
}
