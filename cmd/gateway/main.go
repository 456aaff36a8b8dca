package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noisewatch/ingestd/gateway"
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
	Use:   "ingestd-gateway",
	Short: "Ingress gateway for noise/environment sensor telemetry",
	Long: `ingestd-gateway accepts device and dashboard WebSocket connections,
buffers readings per device, hands batches off to the durable queue, and
serves the REST surface for history, sync, and command dispatch.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Initialize(jsonLogs, verbose)
	},
	RunE: runGateway,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (repeat for more detail)")
}

func runGateway(cmd *cobra.Command, args []string) error {
	logger.Infow("starting gateway", "version", version.Get().String())

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

	srv := gateway.NewServer(cfg, q, q, ts)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "gateway server failed")
	case <-ctx.Done():
		logger.Infow("shutdown signal received")
		return srv.Stop()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
