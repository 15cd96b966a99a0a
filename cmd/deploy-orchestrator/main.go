// Package main is the entry point for the deploy-orchestrator CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrapLog := slog.New(slog.NewTextHandler(os.Stderr, nil))
	root := cli.NewCLI(bootstrapLog).GetRootCommand()

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(os.Stderr, "deploy-orchestrator: aborted")
		return 130
	}

	fmt.Fprintf(os.Stderr, "deploy-orchestrator: %v\n", err)
	return 1
}
