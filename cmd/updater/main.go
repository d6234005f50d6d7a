package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"FxPull/internal/di"
	"FxPull/internal/domain/models"
	"FxPull/pkg/config"
	applogger "FxPull/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	full := flag.Bool("full", false, "fill gaps and resample with retries")
	flag.Parse()

	os.Exit(run(*configPath, *full))
}

func run(configPath string, full bool) int {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return 1
	}

	rt, err := di.InitializeUpdater(cfg)
	if err != nil {
		log.Printf("updater initialization failed: %v", err)
		return 1
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Warn("close error", applogger.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var results map[string]bool
	if full {
		results, err = rt.Updater.RunScheduledUpdate(ctx)
	} else {
		results, err = rt.Updater.UpdateAllPairs(ctx, models.UpdateOptions{Latest: true}, 0)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rt.Logger.Info("pair result", applogger.String("pair", name), applogger.Bool("ok", results[name]))
	}

	if err != nil {
		rt.Logger.Error("update failed", applogger.Error(err))
		return 1
	}
	for _, ok := range results {
		if !ok {
			return 1
		}
	}
	return 0
}
