// Intent sensor: watches a visitor's page, polls the intent backend and
// surfaces the chat widget once buying intent is detected.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, newRootCmd(), os.Args[1:]); err != nil {
		stop()
		os.Exit(1)
	}
}

// execute runs root with args and logs the error it fails with.
func execute(ctx context.Context, root *cobra.Command, args []string) error {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "args", args, "error", err)
		return err
	}
	return nil
}
