// Command bot runs the cluster manager, or one cluster of shards when started
// by the manager with CLUSTER_ID set.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/keshon/shardbot/internal/cluster"
	"github.com/keshon/shardbot/internal/config"
	"github.com/keshon/shardbot/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration", "err", err)
	}
	logger := logging.Default(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := runManager
	if cfg.Cluster.IsChild() {
		logger = logging.ForCluster(logger, cfg.Cluster.ID)
		run = runCluster
	}
	logger.Info("Starting", "bot", config.Name, "cluster", cfg.Cluster.ID)

	errCh := make(chan error, 1)
	go func() {
		if err := run(ctx, cfg, logger); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("Received signal, shutting down", "signal", s)
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Shutdown", "err", err)
		}
	case err := <-errCh:
		cancel()
		if err != nil {
			logger.Error("Bot stopped", "err", err)
			os.Exit(1)
		}
	}

	logger.Info("Exited cleanly")
}

// runManager spawns one child per cluster and supervises them.
func runManager(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	total := cfg.Cluster.TotalShards
	if total <= 0 {
		n, err := recommendedShards(cfg.BotToken)
		if err != nil {
			return err
		}
		total = n
		logger.Info("Using recommended shard count", "shards", total)
	}

	m := &cluster.Manager{
		TotalShards:     total,
		PerCluster:      cfg.Cluster.ShardsPerCluster,
		RestartMax:      cfg.Cluster.RestartMax,
		RestartInterval: cfg.Cluster.RestartInterval,
		Logger:          logger.WithPrefix("manager"),
	}
	return m.Run(ctx)
}

func recommendedShards(token string) (int, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	gw, err := s.GatewayBot()
	if err != nil {
		return 0, fmt.Errorf("query gateway: %w", err)
	}
	return max(gw.Shards, 1), nil
}
