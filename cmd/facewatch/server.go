package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/facewatch/internal/api"
	"github.com/kalambet/facewatch/internal/config"
	"github.com/kalambet/facewatch/internal/cooldown"
	"github.com/kalambet/facewatch/internal/detector"
	"github.com/kalambet/facewatch/internal/evidence"
	"github.com/kalambet/facewatch/internal/gallery"
	"github.com/kalambet/facewatch/internal/matcher"
	"github.com/kalambet/facewatch/internal/metrics"
	"github.com/kalambet/facewatch/internal/notifylog"
	"github.com/kalambet/facewatch/internal/recognition"
	"github.com/kalambet/facewatch/internal/speech"
	"github.com/kalambet/facewatch/internal/storage"
	"github.com/kalambet/facewatch/internal/video"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start recognition and the web gateway (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		knownFaces, _ := cmd.Flags().GetString("known-faces")
		return runServer(startOptions{mcp: mcp, knownFaces: knownFaces})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running facewatch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show facewatch status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	startCmd.Flags().String("known-faces", "", "directory of face images to enroll at startup")
}

type startOptions struct {
	mcp        bool
	knownFaces string
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "facewatch.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(opts startOptions) error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Video.URL == "" {
		return fmt.Errorf("video.url is not set; run `facewatch config set video.url <url>`")
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	// Refuse to start twice. A live health endpoint wins over a stale PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if serverRunning(cfg) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("facewatch is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("facewatch is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	det := detector.New(cfg.Detector.BaseURL, cfg.Detector.Timeout)
	if err := detector.EnsureReady(ctx, det, 10, 2*time.Second, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	alerts := notifylog.New(cfg.Alert.Capacity, store)
	if err := alerts.Restore(store); err != nil {
		slog.Warn("could not restore alert history", "error", err)
	}

	faces, err := gallery.Open(gallery.NewFileStore(cfg.GalleryPath()), det, slog.Default())
	if err != nil {
		return fmt.Errorf("opening gallery: %w", err)
	}
	if opts.knownFaces != "" {
		res, err := faces.ImportDir(ctx, opts.knownFaces)
		if err != nil {
			return fmt.Errorf("importing known faces: %w", err)
		}
		for name, reason := range res.Failed {
			slog.Warn("known face skipped", "file", name, "error", reason)
		}
		slog.Info("known faces imported", "dir", opts.knownFaces, "enrolled", len(res.Enrolled))
	}

	synth, err := speech.New(ctx, speech.Options{
		Backend:       cfg.Speech.Backend,
		BaseURL:       cfg.Speech.BaseURL,
		APIKey:        cfg.Speech.APIKey,
		Voice:         cfg.Speech.Voice,
		RatePerMinute: cfg.Speech.RatePerMinute,
	})
	if err != nil {
		printWarning("speech disabled: %v", err)
		synth = speech.Disabled{}
	}

	writer, err := evidence.NewWriter(synth, evidence.WriterOptions{
		Dir:      cfg.EvidenceDir(),
		Lang:     cfg.Speech.Lang,
		Template: cfg.Speech.Template,
		Metrics:  m,
	})
	if err != nil {
		return err
	}
	pool := evidence.NewPool(writer, alerts, cfg.Evidence.Workers, cfg.Evidence.Queue, m)
	pool.Start()

	source := video.NewAdapter(&video.FFmpegSource{
		URL:               cfg.Video.URL,
		Binary:            cfg.Video.FFmpegPath,
		FirstFrameTimeout: cfg.Video.ReadTimeout,
	}, cfg.Video.OpenRetries, cfg.Video.ReconnectDelay, cfg.Video.ReadTimeout)

	loop := recognition.New(
		source,
		det,
		faces,
		matcher.New(cfg.Match.Threshold),
		cooldown.New(cfg.Alert.Cooldown, time.Duration(cfg.Alert.RetentionFactor)*cfg.Alert.Cooldown),
		pool,
		recognition.Options{
			Location:          cfg.Alert.Location,
			FrameSkip:         cfg.Video.FrameSkip,
			Scale:             cfg.Detector.Scale,
			FrameInterval:     cfg.Video.FrameInterval,
			ReconnectDelay:    cfg.Video.ReconnectDelay,
			ReconnectMaxDelay: cfg.Video.ReconnectMaxDelay,
			Annotate:          cfg.Alert.Annotate,
		},
		m,
	)

	handler := api.NewAppHandler(api.AppDeps{
		Alerts:      alerts,
		History:     store,
		Gallery:     faces,
		Loop:        loop,
		EvidenceDir: writer.Dir(),
		Location:    cfg.Alert.Location,
		PageSize:    cfg.Alert.LogSize,
		Gatherer:    registry,
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.mcp {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Alerts:  alerts,
			History: store,
			Gallery: faces,
			Version: version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	g, gctx := errgroup.WithContext(ctx)
	srv.BaseContext = func(_ net.Listener) context.Context { return gctx }

	g.Go(func() error {
		if err := loop.Run(gctx); err != nil {
			return fmt.Errorf("recognition: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "facewatch listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// The loop has stopped, so nothing submits anymore. Drain queued evidence.
	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		slog.Warn("evidence queue not fully drained", "pending", pool.Len(), "error", err)
	}

	return runErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("facewatch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop facewatch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to facewatch (PID %d)", pid)
	return nil
}

// statusReport mirrors the /api/status payload.
type statusReport struct {
	Recognition     recognition.Status `json:"recognition"`
	KnownFaces      int                `json:"known_faces"`
	ActiveAlerts    int                `json:"active_alerts"`
	TotalDetections int64              `json:"total_detections"`
	Location        string             `json:"location"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	det := detector.New(cfg.Detector.BaseURL, 2*time.Second)
	if det.IsRunning(ctx) {
		printStatus("Detector", "running at %s", cfg.Detector.BaseURL)
	} else {
		printStatus("Detector", "not reachable at %s", cfg.Detector.BaseURL)
	}

	client, err := newAPIClient()
	if err == nil {
		var report statusReport
		resp, reqErr := client.get(ctx, "/api/status")
		if reqErr != nil {
			printStatus("Server", "stopped")
		} else if err := decodeJSON(resp, &report); err != nil {
			printStatus("Server", "error (%v)", err)
		} else {
			printStatusReport(cfg, report)
		}
	}

	printStatus("Camera", "%s", cfg.Video.URL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printStatusReport(cfg config.Config, r statusReport) {
	printStatus("Server", "running on port %d", cfg.Server.Port)
	printStatus("Stream", "%s", r.Recognition.State)
	printStatus("Frames", "%d read, %d processed", r.Recognition.Frames, r.Recognition.Processed)
	printStatus("Faces", "%d detected", r.Recognition.Faces)
	printStatus("Alerts", "%d raised, %d active, %d total", r.Recognition.Alerts, r.ActiveAlerts, r.TotalDetections)
	printStatus("Known faces", "%d", r.KnownFaces)
	if r.Recognition.Reconnects > 0 {
		printStatus("Reconnects", "%d", r.Recognition.Reconnects)
	}
	if r.Recognition.LastError != "" {
		printStatus("Last error", "%s", r.Recognition.LastError)
	}
}
