package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"mirrordb/internal/app"
	"mirrordb/pkg/banner"
	"mirrordb/pkg/config"
	"mirrordb/pkg/logger"
	"mirrordb/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	flags := config.ParseConfigFlags()

	cfg, err := config.LoadEffective(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	verStr := version
	if commit != "none" {
		verStr = verStr + " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr = verStr + " @ " + buildDate
	}
	banner.Print(cfg, verStr)

	a, err := app.New(cfg, version, envInfo())
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Storage.DataPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited with error", err, cfg.Storage.DataPath, 0)
	}
}
