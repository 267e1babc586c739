// Package main provides the entry point for the detect-changes CLI tool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/goplus/detect-changes/cmd/detect-changes/commands"
	"github.com/goplus/detect-changes/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.NewRootCommand().ExecuteContext(ctx)

	stop()
	os.Exit(commands.ExitCode(err, os.Stderr))
}
