package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelsmith/reelsmith"
	"github.com/reelsmith/reelsmith/internal/api"
	"github.com/reelsmith/reelsmith/internal/config"
	"github.com/reelsmith/reelsmith/internal/events"
	"github.com/reelsmith/reelsmith/internal/ffmpeg"
	"github.com/reelsmith/reelsmith/internal/generate"
	"github.com/reelsmith/reelsmith/internal/jobs"
	"github.com/reelsmith/reelsmith/internal/logger"
	"github.com/reelsmith/reelsmith/internal/storage"
	"github.com/reelsmith/reelsmith/internal/store"
	"github.com/reelsmith/reelsmith/internal/timeline"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file (default: ./config/reelsmith.yaml)")
	port := flag.Int("port", 8080, "Port to listen on")
	dataPath := flag.String("data", "", "Override data path from config")
	flag.Parse()

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/reelsmith.yaml"
		}
	}

	// Load config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Init("info", "text")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}
	if err := cfg.LoadEnv(".env"); err != nil {
		logger.Init("info", "text")
		logger.Warn("Could not load .env", "error", err)
	}
	if *dataPath != "" {
		cfg.DataPath = *dataPath
	}

	// Initialize logger with configured level
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	for _, dir := range []string{cfg.DataPath, cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("Could not create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize SQLite store (resets jobs interrupted by a previous run)
	jobStore, err := store.InitStore(ctx, cfg.DBPath())
	if err != nil {
		logger.Error("Failed to initialize job store", "error", err)
		os.Exit(1)
	}
	defer jobStore.Close()

	media, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", "backend", cfg.Storage.Backend, "error", err)
		jobStore.Close()
		os.Exit(1) //nolint:gocritic // store closed explicitly above
	}

	printBanner(cfg, cfgPath, jobStore.Path(), *port)

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	broadcaster := events.NewBroadcaster()

	renderer := ffmpeg.NewRenderer(ffmpeg.RendererOptions{
		FFmpegPath: cfg.FFmpegPath,
		TempDir:    cfg.GetTempDir(),
		OutputDir:  cfg.OutputDir(),
		Storage:    media,
		Prober:     ffmpeg.NewProber(cfg.FFprobePath),
		Fonts:      ffmpeg.Fonts{Serif: cfg.Fonts.Serif, Sans: cfg.Fonts.Sans},
		Encoding: ffmpeg.Encoding{
			Preset:       cfg.Render.Preset,
			CRF:          cfg.Render.CRF,
			AudioBitrate: cfg.Render.AudioBitrate,
		},
		MaxConcurrent: cfg.MaxConcurrentRenders,
		HTTPClient:    httpClient,
	})

	chat := generate.NewChatClient(generate.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}, httpClient)
	collab := jobs.Collaborators{
		Research: generate.NewResearcher(chat, cfg.Research.Queries),
		Writer:   generate.NewWriter(chat),
		Images:   generate.NewImageGenerator(cfg.Images.GeneratorURL, media, httpClient),
		Speech:   generate.NewSpeechClient(cfg.TTS.BaseURL, cfg.TTS.APIKey, cfg.TTS.Model, media, httpClient),
	}
	if cfg.Images.StockAPIKey != "" {
		collab.Stock = generate.NewStockFinder(cfg.Images.StockURL, cfg.Images.StockAPIKey, media, httpClient)
	}

	orch := jobs.NewOrchestrator(jobStore, collab, jobs.Options{
		PollInterval: cfg.PollInterval,
		ItemDelay:    cfg.ItemDelay,
		Notifier:     broadcaster,
	})

	buildOpts := timeline.DefaultBuildOptions()
	buildOpts.Resolution = timeline.Resolution{Width: cfg.Render.Width, Height: cfg.Render.Height}
	buildOpts.FPS = cfg.Render.FPS
	buildOpts.ColorGrade = timeline.ColorGrade(config.ValidateColorGrade(cfg.Render.ColorGrade))
	buildOpts.MusicURL = cfg.Render.MusicURL

	handler := api.NewHandler(orch, broadcaster, renderer, buildOpts)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Reelsmith started", "version", reelsmith.Version, "port", *port, "storage", cfg.Storage.Backend)
	if caps, err := ffmpeg.DetectCapabilities(cfg.FFmpegPath); err != nil {
		logger.Warn("FFmpeg not usable, renders will fail", "path", cfg.FFmpegPath, "error", err)
	} else if missing := caps.Missing(); len(missing) > 0 {
		logger.Warn("FFmpeg is missing render components", "missing", missing)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orch.Start(gctx)
		<-gctx.Done()
		orch.Stop()
		return nil
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n  Shutting down...")
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		handler.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		jobStore.Close()
		os.Exit(1)
	}

	logger.Info("Server stopped")
	fmt.Println("  Goodbye!")
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.Storage.Backend == "s3" {
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			PublicURL:       cfg.Storage.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	local, err := storage.NewLocalStorage(cfg.LocalStorageRoot(), cfg.Storage.PublicURL)
	if err != nil {
		return nil, err
	}
	return local, nil
}

func printBanner(cfg *config.Config, cfgPath, dbPath string, port int) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                         REELSMITH                         ║")
	fmt.Println("║         Research, script, voice and render a film         ║")
	versionLine := fmt.Sprintf("v%s", reelsmith.Version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Data path:    %s\n", cfg.DataPath)
	fmt.Printf("  Config:       %s\n", cfgPath)
	fmt.Printf("  Database:     %s\n", dbPath)
	fmt.Printf("  Temp path:    %s\n", cfg.GetTempDir())
	fmt.Printf("  Storage:      %s\n", cfg.Storage.Backend)
	fmt.Printf("  LLM:          %s (%s)\n", cfg.LLM.Model, cfg.LLM.BaseURL)
	fmt.Printf("  Renders:      %d concurrent\n", cfg.MaxConcurrentRenders)
	fmt.Printf("  FFmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:      %s\n", cfg.FFprobePath)
	fmt.Println()

	caps, err := ffmpeg.DetectCapabilities(cfg.FFmpegPath)
	if err == nil {
		fmt.Printf("  FFmpeg %s:\n", caps.Version)
		for _, comp := range caps.Components {
			marker := "  "
			if !comp.Available {
				marker = "! "
			}
			fmt.Printf("    %s%s %s (%s)\n", marker, comp.Kind, comp.Name, comp.Description)
		}
		fmt.Println()
	}

	fmt.Printf("  Starting server on port %d\n", port)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Printf("  Logging started (level: %s)\n", cfg.LogLevel)
	fmt.Println("─────────────────────────────────────────────────────────────")
}
