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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ocky/internal/api"
	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/choice"
	"github.com/kalambet/ocky/internal/config"
	"github.com/kalambet/ocky/internal/embedding"
	"github.com/kalambet/ocky/internal/engine"
	"github.com/kalambet/ocky/internal/features"
	"github.com/kalambet/ocky/internal/feedback"
	"github.com/kalambet/ocky/internal/gate"
	"github.com/kalambet/ocky/internal/metrics"
	"github.com/kalambet/ocky/internal/pipeline"
	"github.com/kalambet/ocky/internal/storage"
	"github.com/kalambet/ocky/internal/training"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ocky server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ocky server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ocky system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve the MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ocky.pid")
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

func parseLogLevel(s string) slog.Level {
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

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "ocky version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))
	logger := slog.Default()
	if cfg.Server.APIToken == "" {
		logger.Warn("OCKY_API_TOKEN is not set, the HTTP API is unauthenticated")
	}

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ocky is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ocky is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{OllamaBaseURL: cfg.Ollama.BaseURL})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	dim, err := engine.EnsureReady(ctx, eng, cfg.Ollama.EmbedModel, os.Stderr)
	if err != nil {
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	encoder := embedding.NewService(eng, embedding.Options{
		Model:     cfg.Ollama.EmbedModel,
		KeepAlive: cfg.Ollama.KeepAlive,
		Dim:       dim,
		Logger:    logger,
	})
	cat := catalog.New(cfg.CatalogPath())
	gk := gate.New(gate.Options{
		Threshold:   cfg.Bot.Threshold,
		Observation: cfg.Bot.ObservationMode,
		Logger:      logger,
	})
	chooser := choice.New(cat, encoder, cfg.Choice.Randomness, choice.NewSource(uint64(cfg.Choice.Seed)))
	fbLog := feedback.NewLog(store)

	trainer := training.New(training.Deps{
		Gate:    gk,
		Catalog: cat,
		Log:     fbLog,
		Store:   store,
		Encoder: encoder,
		Session: encoder,
		Metrics: m,
		Logger:  logger,
	}, training.Config{
		MinExamples:  cfg.Training.MinExamples,
		LearningRate: cfg.Training.LearningRate,
	})
	sched := training.NewScheduler(trainer, cfg.TrainingInterval())

	var emitter pipeline.Emitter = pipeline.LogEmitter{Logger: logger}
	if cfg.Bot.WebhookURL != "" {
		emitter = pipeline.NewWebhookEmitter(cfg.Bot.WebhookURL, nil)
	}

	bot := pipeline.New(pipeline.Deps{
		Gate:     gk,
		Catalog:  cat,
		Choice:   chooser,
		Log:      fbLog,
		Tracker:  features.NewTracker(),
		Encoder:  encoder,
		Session:  encoder,
		Trainer:  trainer,
		Requests: sched,
		Store:    store,
		Emitter:  emitter,
		Metrics:  m,
		Logger:   logger,
	}, pipeline.Options{
		BotID:         cfg.Bot.ID,
		Channel:       cfg.Bot.Channel,
		RequestEmoji:  cfg.Bot.RequestEmoji,
		ForcefulEmoji: cfg.Bot.ForcefulEmoji,
	})
	if err := bot.Reload(ctx, pipeline.ComponentAll); err != nil {
		logger.Warn("starting with an empty catalog", "path", cfg.CatalogPath(), "error", err)
	}

	handler := api.NewHandler(api.Deps{
		Bot:     bot,
		Token:   cfg.Server.APIToken,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	srv.BaseContext = func(net.Listener) context.Context { return egCtx }

	eg.Go(func() error {
		logger.Info("ocky listening", "addr", addr, "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		sched.Run(egCtx)
		return nil
	})
	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Bot: bot, Version: version})
		eg.Go(func() error {
			logger.Info("MCP server started (stdio transport)")
			err := server.NewStdioServer(mcpSrv).Listen(egCtx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if encoder.Loaded() {
			if err := encoder.Unload(shutdownCtx); err != nil {
				logger.Warn("unloading embedding model failed", "error", err)
			}
		}
		return nil
	})

	return eg.Wait()
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
		printError("ocky is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ocky (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ocky (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.httpClient.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if running {
		if s, err := fetchStats(ctx, client); err == nil {
			printStats(s)
		}
	}

	printStatus("Catalog", "%s", cfg.CatalogPath())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
