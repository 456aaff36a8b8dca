package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noisewatch/ingestd/ingester"
	"github.com/noisewatch/ingestd/internal/config"
	"github.com/noisewatch/ingestd/internal/errors"
	"github.com/noisewatch/ingestd/internal/logger"
	"github.com/noisewatch/ingestd/internal/version"
	"github.com/noisewatch/ingestd/queue"
	"github.com/noisewatch/ingestd/store"
)

var (
	jsonLogs bool
	verbose  int
)

var rootCmd = &cobra.Command{
	Use:   "ingestd-ingester",
	Short: "Batch ingester for noise/environment sensor telemetry",
	Long: `ingestd-ingester discovers non-empty per-device queues, allocates
gap-free sequence ranges, and writes batches to the time-series store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Initialize(jsonLogs, verbose)
	},
	RunE: runIngester,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (repeat for more detail)")
}

func runIngester(cmd *cobra.Command, args []string) error {
	logger.Infow("starting ingester", "version", version.Get().String())

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	q := queue.New(cfg.RedisAddr(), cfg.RedisPassword, cfg.QueuePrefix)
	defer q.Close()
	if err := q.Ping(ctx); err != nil {
		return errors.Wrap(err, "connecting to queue backend")
	}

	ts, err := store.New(ctx, cfg.MongoURI)
	if err != nil {
		return errors.Wrap(err, "connecting to time-series store")
	}
	defer ts.Close(context.Background())

	if err := ts.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensuring time-series indexes")
	}

	ing := ingester.New(q, q, ts)

	logger.Infow("ingester running")
	if err := ing.Run(ctx); err != nil {
		return errors.Wrap(err, "ingester loop failed")
	}
	logger.Infow("ingester stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
