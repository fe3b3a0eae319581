package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"traxis/internal/app"
	"traxis/internal/logger"
)

func main() {
	// .env is optional; secrets may come from the real environment.
	if err := godotenv.Load(); err == nil {
		logger.Debugf("main: loaded .env")
	}

	cfgPath := os.Getenv("TRAXIS_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.toml"
	}

	a, err := app.New(cfgPath)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("run failed: %v", err)
	}
	logger.Infof("main: shutdown complete")
}
