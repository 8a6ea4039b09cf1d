package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"vodscribe/internal/app"
	"vodscribe/internal/config"
	"vodscribe/internal/handlers"
	"vodscribe/internal/logger"
	"vodscribe/internal/version"
	"vodscribe/internal/worker"
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
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	stores, err := app.OpenStores(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open stores")
	}
	defer stores.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ワーカーの起動
	processor := app.NewProcessor(cfg, stores, log)
	w := worker.NewWorker(stores.Queue, processor.Process, cfg.Worker.Concurrency, log.Entry)
	w.SetInterval(cfg.Queue.WaitTime)
	// 実行中のジョブはシグナルで中断せず、Stopで完了を待つ
	w.Start(context.Background())

	// 日次の保持期間スイープ
	sweeper := app.NewSweeper(cfg, stores, log)
	sweepLog := log.Component("retention")
	go worker.RunDaily(ctx, cfg.Retention.Hour, sweepLog, func(ctx context.Context) {
		if _, err := sweeper.Sweep(ctx); err != nil {
			sweepLog.WithError(err).Error("retention sweep failed")
		}
	})

	// 運用APIサーバー
	var e *echo.Echo
	if cfg.HTTPAddr != "" {
		e = echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(middleware.Recover())
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:   true,
			LogURI:      true,
			LogStatus:   true,
			LogLatency:  true,
			LogError:    true,
			HandleError: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				entry := log.WithFields(logrus.Fields{
					"method":  v.Method,
					"uri":     v.URI,
					"status":  v.Status,
					"latency": v.Latency.String(),
				})
				if v.Error != nil {
					entry.WithError(v.Error).Warn("request failed")
				} else {
					entry.Debug("request")
				}
				return nil
			},
		}))
		handlers.Register(e, handlers.NewJobHandler(stores.Jobs, app.NewSubmission(cfg, stores, log)))

		go func() {
			log.WithField("addr", cfg.HTTPAddr).Info("ops server listening")
			if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("ops server stopped")
				stop()
			}
		}()
	}

	log.WithField("version", version.Version).Info("vodscribe worker started")
	<-ctx.Done()
	log.Info("shutting down")

	if e != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("ops server shutdown")
		}
		cancel()
	}
	w.Stop()
}
