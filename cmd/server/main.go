package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwaldner/pinnbs/internal/config"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/server"
)

func main() {
	cfg := config.Load()

	// Initialize proper logging with config level and file path
	if err := logger.InitWithConfig(cfg.Logging.LogLevel, cfg.Logging.LogFile); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()
	logger.Always.Printf("🚀 PINN Black-Scholes server starting - Port: %s", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error.Printf("Server exited with error: %v", err)
		os.Exit(1)
	}
}
