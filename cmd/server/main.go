package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hrpay/internal/app/server"
	"hrpay/internal/platform/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(ctx)
}
