package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pulpit/internal/app"
	"pulpit/internal/config"
	"pulpit/internal/logger"

	"github.com/nsqio/go-nsq"
)

func main() {
	// Structured logger with correlation id propagation
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	log := slog.New(handler)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, log)
	if err != nil {
		return err
	}

	// Maintenance Consumer
	nsqCfg := nsq.NewConfig()
	consumer, err := nsq.NewConsumer(config.TopicMaintenance, "backend", nsqCfg)
	if err != nil {
		slog.Error("failed to create NSQ maintenance consumer", "error", err)
	} else {
		mc := application.MaintenanceConsumer
		consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
			return mc.HandleMessage(m)
		}))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to NSQLookupd", "error", err)
		} else {
			slog.Info("NSQ maintenance consumer connected")
		}
		defer consumer.Stop()
	}

	return application.Run(ctx)
}
