package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"github.com/keshon/datastore"

	"github.com/keshon/shardbot/internal/cluster"
	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/commands"
	"github.com/keshon/shardbot/internal/component"
	"github.com/keshon/shardbot/internal/config"
	"github.com/keshon/shardbot/internal/control"
	"github.com/keshon/shardbot/internal/discord"
	"github.com/keshon/shardbot/internal/locale"
	"github.com/keshon/shardbot/internal/policy"
	"github.com/keshon/shardbot/internal/stats"
	"github.com/keshon/shardbot/internal/storage"
	"github.com/keshon/shardbot/internal/voice"
	"github.com/keshon/shardbot/pkg/jobmgr"
)

// runCluster runs the shards listed in SHARD_LIST and talks to the manager over
// stdin and stdout. Nothing else may write to stdout.
func runCluster(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if len(cfg.Cluster.ShardList) == 0 {
		return errors.New("cluster started without shards")
	}
	total := max(cfg.Cluster.TotalShards, 1)

	store := locale.Embedded(config.DefaultLanguage, logger)
	if err := store.Init(); err != nil {
		return err
	}

	var guilds, users discord.RecordStore
	if cfg.DatabaseURL != "" {
		db, err := storage.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		guilds, users = db.Guilds(), db.Users()
	}

	hashes, err := datastore.New(cfg.CommandCachePath)
	if err != nil {
		return fmt.Errorf("open command cache: %w", err)
	}
	defer hashes.Close()

	shards := discord.NewShards(total)
	for _, id := range cfg.Cluster.ShardList {
		s, err := discordgo.New("Bot " + cfg.BotToken)
		if err != nil {
			return fmt.Errorf("create session for shard %d: %w", id, err)
		}
		s.ShardID = id
		s.ShardCount = total
		s.Identify.Intents = config.Intents
		shards.Add(id, s)
	}
	sessions := shards.All()

	directory := policy.NewDirectory(policy.SessionAppInfo(sessions[0]))
	state := policy.SessionState{Session: shards.For}
	guard := policy.NewGuard(store, state, directory, logger)
	components := component.NewRegistry()

	player := voice.NewManager(&voice.DiscordTransport{Session: shards.For, Logger: logger}, logger)
	player.OnFatal = func(guildID string, err error) {
		logger.Error("Playback stopped", "guild", guildID, "err", err)
	}
	defer player.QuitAll()

	link := cluster.NewClient(cfg.Cluster.ID, cfg.Cluster.Count, os.Stdin, os.Stdout, logger)
	link.Provide(commands.KeyGuilds, func(context.Context) (int64, error) {
		return countGuilds(sessions, func(*discordgo.Guild) int64 { return 1 }), nil
	})
	link.Provide(commands.KeyMembers, func(context.Context) (int64, error) {
		return countGuilds(sessions, func(g *discordgo.Guild) int64 { return int64(g.MemberCount) }), nil
	})

	cmds, texts := commands.All(commands.Deps{
		Locale:       store,
		Components:   components,
		Voice:        player,
		YouTube:      voice.NewYouTube(),
		Counter:      link,
		ClusterID:    cfg.Cluster.ID,
		ClusterCount: cfg.Cluster.Count,
		TotalShards:  total,
	})
	registry := command.NewRegistry(store)
	if err := registry.Register(cmds...); err != nil {
		return err
	}
	if err := registry.RegisterText(texts...); err != nil {
		return err
	}

	dispatcher := &discord.Dispatcher{
		Commands:   registry,
		Components: components,
		Guard:      guard,
		Locale:     store,
		State:      state,
		Prefixes:   config.CommandPrefixes,
		Logger:     logger,
		Voice:      player,
		Guilds:     guilds,
		Users:      users,
	}
	if cfg.Cluster.ID == 0 {
		appID, err := directory.ClientID(ctx)
		if err != nil {
			return err
		}
		dispatcher.Publisher = command.NewPublisher(registry, sessions[0], appID, hashes, logger)
	}

	jobs := jobmgr.NewManager(func(status string) { logger.Debug("Job", "status", status) })
	defer jobs.StopAll()

	if err := jobs.StartAsync(ctx, "cluster-link", link.Serve); err != nil {
		return err
	}
	if cfg.WebsocketURL != "" {
		ctl := control.New(cfg.WebsocketURL, cfg.Cluster.ID, directory.ClientID, logger)
		ctl.Handle("ping", pong(cfg.Cluster.ID, shards))
		ctl.Terminate = func() {
			logger.Error("Control channel unreachable, stopping every cluster")
			_ = syscall.Kill(os.Getppid(), syscall.SIGTERM)
		}
		if err := jobs.StartAsync(ctx, "control", ctl.Run); err != nil {
			return err
		}
	}
	if cfg.Cluster.ID == 0 && cfg.KoreanBotsToken != "" {
		poster := &stats.Poster{
			Token:    cfg.KoreanBotsToken,
			Logger:   logger,
			ClientID: directory.ClientID,
			Servers: func(ctx context.Context) (int64, error) {
				return link.Sum(ctx, commands.KeyGuilds)
			},
			Shards: total,
		}
		if err := jobs.StartAsync(ctx, "stats", poster.Run); err != nil {
			return err
		}
	}

	for _, s := range sessions {
		dispatcher.Attach(ctx, s)
		if err := s.Open(); err != nil {
			return fmt.Errorf("open shard %d: %w", s.ShardID, err)
		}
		defer s.Close()
	}
	logger.Info("Cluster online", "shards", shards.IDs(), "jobs", jobs.Status())

	<-ctx.Done()
	return nil
}

func countGuilds(sessions []*discordgo.Session, value func(*discordgo.Guild) int64) int64 {
	var n int64
	for _, s := range sessions {
		s.State.RLock()
		for _, g := range s.State.Guilds {
			n += value(g)
		}
		s.State.RUnlock()
	}
	return n
}

// pong answers a control "ping" with the shards this cluster runs and their
// heartbeat latency.
func pong(clusterID int, shards *discord.Shards) control.Controller {
	return func(_ context.Context, conn *control.Conn, msg control.Message) error {
		latency := make(map[int]int64)
		for _, s := range shards.All() {
			latency[s.ShardID] = s.HeartbeatLatency().Milliseconds()
		}
		return conn.Send(struct {
			Type    string          `json:"type"`
			Cluster int             `json:"cluster"`
			Latency map[int]int64   `json:"latency"`
			Echo    json.RawMessage `json:"echo,omitempty"`
		}{"pong", clusterID, latency, msg.Raw})
	}
}
