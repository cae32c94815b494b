package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ingesthub/ingesthub/internal"
	"github.com/ingesthub/ingesthub/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program. It loads the user configuration,
// constructs the IngestHub server and runs it until interrupted.
func main() {
	configPath := flag.String("config", internal.DefaultConfigPath(), "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "emit debug logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.DEBUG.Level())
	}

	config := internal.IngestHubConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "IngestHub stopped with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "IngestHub stopped\n")
}
