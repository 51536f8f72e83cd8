package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/config"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/logging"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/server"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/tracing"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/pkg/finrag"
)

var (
	configFile  = flag.String("config", "", "YAML configuration file (default: $CONFIG_FILE)")
	envFile     = flag.String("env", ".env", "dotenv file loaded before reading the environment")
	libsqlURL   = flag.String("libsql-url", "", "libSQL database URL (default: file:./libsql.db)")
	authToken   = flag.String("auth-token", "", "Authentication token for remote databases")
	transport   = flag.String("transport", "", "Transport to use: stdio or sse (default from config: stdio)")
	addr        = flag.String("addr", "", "Address to listen on when using SSE transport")
	sseEndpoint = flag.String("sse-endpoint", "", "SSE endpoint path when using SSE transport")
	seedFile    = flag.String("seed", "", "YAML file of entities and relations to load at startup")
)

func main() {
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logrus.Fatalf("Failed to load env file: %v", err)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Override with command line flags if provided
	if *libsqlURL != "" {
		cfg.Database.URL = *libsqlURL
	}
	if *authToken != "" {
		cfg.Database.AuthToken = *authToken
	}
	if *transport != "" {
		cfg.Server.Transport = *transport
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *sseEndpoint != "" {
		cfg.Server.SSEEndpoint = *sseEndpoint
	}

	log, err := logging.Setup(cfg.Log)
	if err != nil {
		logrus.Fatalf("Invalid logging configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, closing server...")
		cancel()
	}()

	shutdownTracing, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	// Initialize metrics (noop if disabled)
	if err := metrics.Init(cfg.Metrics); err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	engine, err := finrag.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.WithError(err).Error("Error closing engine")
		}
	}()

	if *seedFile != "" {
		seed, err := finrag.LoadSeed(*seedFile)
		if err != nil {
			log.Fatalf("Failed to load seed: %v", err)
		}
		if err := engine.ApplySeed(ctx, seed); err != nil {
			log.Fatalf("Failed to apply seed: %v", err)
		}
	}

	mcpServer := server.NewMCPServer(engine)

	log.WithFields(logrus.Fields{"version": buildinfo.Version, "transport": cfg.Server.Transport}).Info("Starting agentic finance RAG server...")
	switch cfg.Server.Transport {
	case "stdio":
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				log.WithError(err).Error("Server error")
			}
			cancel()
		}()
	case "sse":
		go func() {
			if err := mcpServer.RunSSE(ctx, cfg.Server.Addr, cfg.Server.SSEEndpoint); err != nil {
				log.WithError(err).Error("SSE server error")
				cancel()
			}
		}()
	default:
		log.Fatalf("unknown transport: %s (expected: stdio or sse)", cfg.Server.Transport)
	}

	<-ctx.Done()

	log.Info("Server stopped")
}
