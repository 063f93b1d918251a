package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"courtbot/internal/app"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	var stopTimeout time.Duration
	c := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, *cfgPath, app.WithVersion(version))
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
				defer scancel()
				_ = a.Stop(sctx, "start failed")
				return fmt.Errorf("start: %w", err)
			}

			reason := "signal"
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = "fatal error"
			}

			sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
			defer scancel()
			if err := a.Stop(sctx, reason); err != nil {
				fmt.Fprintln(os.Stderr, "stop:", err)
			}
			return a.Err()
		},
	}
	c.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return c
}
