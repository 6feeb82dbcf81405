package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"example.com/carevisits/internal/app"
	"example.com/carevisits/internal/cli"
	"example.com/carevisits/internal/config"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stderr, "carectl ", log.LstdFlags)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := cli.NewRootCommand(cfg, func(ctx context.Context) (*app.App, error) {
		return app.Open(ctx, cfg, logger)
	})
	if err := root.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
