// Command sweep runs one retention sweep and prints the number of jobs
// deleted.
package main

import (
	"context"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"vodscribe/internal/app"
	"vodscribe/internal/config"
	"vodscribe/internal/logger"
)

func main() {
	cfg, _, err := config.Load(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log := logger.New(cfg.Environment, cfg.LogLevel)
	if err := cfg.ValidateStores(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	stores, err := app.OpenStores(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open stores")
	}
	defer stores.Close()

	n, err := app.NewSweeper(cfg, stores, log).Sweep(context.Background())
	if err != nil {
		log.WithError(err).Fatal("sweep failed")
	}
	fmt.Println(n)
}
