package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cipherbid/api"
)

func main() {
	os.Exit(run())
}

func run() int {
	args := ParseArgs()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: args.LogLevel})))
	if err := args.Validate(); err != nil {
		slog.Error("Invalid arguments", slog.Any("error", err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := api.NewServer(ctx, args.ServerConfig)
	if err != nil {
		slog.Error("Fail to initialize service", slog.Any("error", err))
		return 1
	}
	defer service.Close()

	// 失去租約時直接結束，由外部重新啟動後再排隊等待租約
	if err := service.Run(ctx, args.ServerURL); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Service stopped", slog.Any("error", err))
		return 1
	}
	return 0
}
