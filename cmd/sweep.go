package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/logging"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired polls once and exit",
	Long:  `Run a single sweep of expired polls. Intended for cron when the server's sweeper is disabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		zapLogger, err := logging.New(cfg.Server.Env)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger := logging.NewLogger(zapLogger)
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		var cleanup closers
		defer cleanup.closeAll()

		svc, _, err := buildService(ctx, cfg, clock.New(), logger, &cleanup)
		if err != nil {
			return err
		}

		deleted, err := svc.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep expired polls: %w", err)
		}

		logger.Info("Sweep finished", zap.Int64("deleted", deleted))
		fmt.Printf("Deleted %s expired %s\n", humanize.Comma(deleted), pluralPolls(deleted))
		return nil
	},
}

func pluralPolls(n int64) string {
	if n == 1 {
		return "poll"
	}
	return "polls"
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", time.Minute, "maximum time to spend sweeping")
	rootCmd.AddCommand(sweepCmd)
}
