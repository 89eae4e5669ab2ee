package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment (and an optional
// .env file). Only BOT_TOKEN is required; every other integration switches itself
// off when its variable is empty.
type Config struct {
	BotToken         string `env:"BOT_TOKEN,required,notEmpty"`
	DatabaseURL      string `env:"DATABASE_URL"`
	WebsocketURL     string `env:"WEBSOCKET_URL"`
	KoreanBotsToken  string `env:"KOREANBOTS_TOKEN"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	CommandCachePath string `env:"COMMAND_CACHE_PATH" envDefault:"data/commands.json"`

	Cluster Cluster
}

// Cluster describes the sharding layout. The manager process reads the first
// block; CLUSTER_ID, CLUSTER_COUNT and SHARD_LIST are set by the manager on
// every child it spawns.
type Cluster struct {
	ShardsPerCluster int           `env:"SHARDS_PER_CLUSTER" envDefault:"4"`
	TotalShards      int           `env:"TOTAL_SHARDS" envDefault:"0"`
	RestartMax       int           `env:"CLUSTER_RESTARTS" envDefault:"6"`
	RestartInterval  time.Duration `env:"CLUSTER_RESTART_INTERVAL" envDefault:"1h"`

	ID        int   `env:"CLUSTER_ID" envDefault:"-1"`
	Count     int   `env:"CLUSTER_COUNT" envDefault:"0"`
	ShardList []int `env:"SHARD_LIST" envSeparator:","`
}

// IsChild reports whether this process was spawned as a cluster by the manager.
func (c Cluster) IsChild() bool {
	return c.ID >= 0
}

// Load reads .env (if present) into the process environment and parses it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
		log.Debug("No .env file found, falling back to system environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, cfg.validate()
}

// FromMap parses configuration from an explicit variable set instead of the
// process environment.
func FromMap(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Cluster.ShardsPerCluster < 1 {
		return fmt.Errorf("SHARDS_PER_CLUSTER must be positive, got %d", c.Cluster.ShardsPerCluster)
	}
	if c.Cluster.IsChild() && len(c.Cluster.ShardList) == 0 {
		return fmt.Errorf("cluster %d started without SHARD_LIST", c.Cluster.ID)
	}
	return nil
}
