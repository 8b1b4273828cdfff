// Package main is the entry point for CodePromptu.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/codepromptu/codepromptu/internal/api"
	"github.com/codepromptu/codepromptu/internal/capture"
	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/conversation"
	"github.com/codepromptu/codepromptu/internal/embedding"
	"github.com/codepromptu/codepromptu/internal/gateway"
	"github.com/codepromptu/codepromptu/internal/monitoring"
	"github.com/codepromptu/codepromptu/internal/similarity"
	"github.com/codepromptu/codepromptu/internal/store"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve", "start":
			runServer(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Printf("codepromptu %s\n", gateway.Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}
	runServer(os.Args[1:])
}

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", "codepromptu", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env can override.
	_ = godotenv.Load()
}

// resolveConfig finds the config file: user flag, then standard locations,
// then built-in defaults.
func resolveConfig(userConfig string) (*config.Config, string, error) {
	if userConfig != "" {
		cfg, err := config.Load(userConfig)
		return cfg, userConfig, err
	}

	searchPaths := []string{"configs/config.yaml", "config.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(homeDir, ".config", "codepromptu", "config.yaml"))
	}
	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			return cfg, path, err
		}
	}

	return config.Default(), "(defaults)", nil
}

func runServer(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, configSource, err := resolveConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	monitoring.Global(cfg.Logging)
	logger := monitoring.New(cfg.Logging)

	log.Info().
		Str("version", gateway.Version).
		Str("config", configSource).
		Msg("CodePromptu starting")

	metrics := monitoring.NewMetrics()

	// Store backend.
	var backing store.Store
	switch cfg.Store.Type {
	case "postgres":
		pg, err := store.NewPostgresStore(cfg.Store.DSN, cfg.Store.MaxLineageDepth)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pg.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
		if err := pg.EnsureVectorIndex(ctx, cfg.Store.MinIndexRows); err != nil {
			log.Warn().Err(err).Msg("vector index maintenance failed")
		}
		cancel()
		backing = pg
	default:
		backing = store.NewMemoryStore(cfg.Store.MaxLineageDepth)
	}

	embedder, err := embedding.NewService(cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build embedding service")
	}

	prompts := store.NewService(backing, embedder, metrics)
	prompts.StartReembedWorker(0)

	engine := similarity.NewEngine(prompts, embedder, cfg.Similarity)
	correlator := conversation.NewCorrelator(backing, cfg.Sessions.IdleTimeout)
	correlator.StartExpiryWorker(0)

	// Fallback queue: Redis when configured, in-memory ring otherwise.
	// Either way, records discarded by the size bound tick the overflow
	// counter.
	onOverflow := func(n int) { metrics.FallbackOverflow.Add(float64(n)) }
	var queue capture.Queue
	if cfg.Capture.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		queue, err = capture.NewRedisQueue(ctx, cfg.Capture.RedisAddr, cfg.Capture.QueueSize, cfg.Capture.FallbackTTL, onOverflow)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis fallback queue")
		}
	} else {
		queue = capture.NewMemoryQueue(cfg.Capture.QueueSize, cfg.Capture.FallbackTTL, onOverflow)
	}

	ingestor := capture.NewStoreIngestor(prompts, prompts, engine, correlator)
	pipeline := capture.NewPipeline(ingestor, queue, metrics, cfg.Capture)
	pipeline.StartDrainWorker()

	gw := gateway.New(cfg, pipeline, metrics, logger)
	apiSrv := api.NewServer(prompts, engine, correlator, metrics, cfg.Server)

	gatewayServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.GatewayPort),
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.APIPort),
		Handler:      apiSrv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errChan := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.GatewayPort).Msg("gateway listening")
		errChan <- gatewayServer.ListenAndServe()
	}()
	go func() {
		log.Info().Int("port", cfg.Server.APIPort).Msg("api listening")
		errChan <- apiServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gatewayServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("api shutdown error")
	}
	if err := pipeline.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("capture pipeline shutdown error")
	}
	correlator.Shutdown()
	if err := prompts.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("store service shutdown error")
	}
	if err := backing.Close(); err != nil {
		log.Error().Err(err).Msg("store close error")
	}

	log.Info().Msg("CodePromptu stopped")
}

func printHelp() {
	fmt.Println("CodePromptu - zero-touch LLM prompt capture gateway")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  codepromptu [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Start the gateway and API servers (default)")
	fmt.Println("  version      Print version information")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config FILE    Config file (searches standard locations otherwise)")
	fmt.Println("  --debug          Enable debug logging")
	fmt.Println()
	fmt.Println("Point your LLM SDK base URL at the gateway port and use it normally;")
	fmt.Println("prompts are captured, versioned, and classified automatically.")
}
