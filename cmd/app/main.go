package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"FxPull/internal/di"
	"FxPull/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Printf("fxpull: %v", err)
		os.Exit(1)
	}
}

// run serves the API, the scheduler and the optional consumers until
// SIGINT or SIGTERM.
func run(configPath string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Printf("env=%s pairs=%v transport=%s", cfg.Environment, cfg.PairNames(), cfg.MT5.Transport)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return app.Run()
}
