// Command submit queues a transcription job for a local video file or a URL.
//
//	submit [options] <file-or-url> [label]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"vodscribe/internal/app"
	"vodscribe/internal/config"
	"vodscribe/internal/logger"
	"vodscribe/internal/models"
	"vodscribe/internal/submission"
)

func main() {
	cfg, args, err := config.Load(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: submit [options] <file-or-url> [label]")
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

	svc := app.NewSubmission(cfg, stores, log)
	ctx := context.Background()

	var label string
	if len(args) == 2 {
		label = args[1]
	}

	var job *models.Job
	target := args[0]
	if strings.Contains(target, "://") {
		job, err = svc.CreateURL(ctx, target, label)
	} else {
		job, err = submitFile(ctx, svc, target)
	}
	if err != nil {
		if se, ok := submission.AsError(err); ok {
			fmt.Fprintf(os.Stderr, "rejected (%s): %s\n", se.Code, se.Detail)
			os.Exit(1)
		}
		log.WithError(err).Fatal("submit failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(job)
}

func submitFile(ctx context.Context, svc *submission.Service, path string) (*models.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	name := filepath.Base(path)
	return svc.CreateUpload(ctx, name, mime.TypeByExtension(filepath.Ext(name)), f)
}
