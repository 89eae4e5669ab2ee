package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/keshon/shardbot/pkg/retrylimit"
	"github.com/keshon/shardbot/pkg/util"
)

// Overwriter is the slice of *discordgo.Session the publisher needs.
type Overwriter interface {
	ApplicationCommandBulkOverwrite(appID, guildID string, cmds []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// HashStore remembers the digest of the last tree sent per scope.
// *datastore.DataStore satisfies it.
type HashStore interface {
	Get(key string) (any, bool)
	Add(key string, value any)
}

// Publisher replaces the remote command sets with the registry's trees.
// Unchanged trees are skipped when a HashStore is configured.
type Publisher struct {
	registry *Registry
	api      Overwriter
	appID    string
	hashes   HashStore
	limiter  *retrylimit.AdaptiveLimiter
	logger   *log.Logger

	// Workers bounds concurrent guild overwrites.
	Workers int
}

// NewPublisher wires a publisher. hashes may be nil to always overwrite.
func NewPublisher(r *Registry, api Overwriter, appID string, hashes HashStore, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{
		registry: r,
		api:      api,
		appID:    appID,
		hashes:   hashes,
		limiter:  retrylimit.NewAdaptiveLimiter(5, 1, 20, 0.5, 0.5),
		logger:   logger.WithPrefix("commands"),
		Workers:  4,
	}
}

// RegisterRemote overwrites the global commands.
func (p *Publisher) RegisterRemote(ctx context.Context) error {
	tree, err := p.registry.Tree()
	if err != nil {
		return err
	}
	return p.put(ctx, "", tree)
}

// RegisterGuildRemote overwrites the commands scoped to guildID.
func (p *Publisher) RegisterGuildRemote(ctx context.Context, guildID string) error {
	tree, err := p.registry.GuildTree(guildID)
	if err != nil {
		return err
	}
	return p.put(ctx, guildID, tree)
}

// RegisterAllGuildsRemote overwrites every guild that has scoped commands.
// All guilds are attempted; failures are joined.
func (p *Publisher) RegisterAllGuildsRemote(ctx context.Context) error {
	return util.Parallel(ctx, p.registry.GuildIDs(), p.Workers, p.RegisterGuildRemote)
}

func (p *Publisher) put(ctx context.Context, guildID string, tree []*discordgo.ApplicationCommand) error {
	if tree == nil {
		tree = []*discordgo.ApplicationCommand{}
	}
	cacheKey := "commands:global"
	if guildID != "" {
		cacheKey = "commands:guild:" + guildID
	}
	sum := hashTree(tree)
	if p.hashes != nil {
		if prev, ok := p.hashes.Get(cacheKey); ok && prev == sum {
			p.logger.Debug("command tree unchanged", "scope", scopeName(guildID), "hash", sum)
			return nil
		}
	}

	err := retrylimit.WithRetry(ctx, func() error {
		_, err := p.api.ApplicationCommandBulkOverwrite(p.appID, guildID, tree, discordgo.WithContext(ctx))
		return classify(err)
	}, p.limiter)
	if err != nil {
		return fmt.Errorf("overwrite %s commands: %w", scopeName(guildID), err)
	}

	if p.hashes != nil {
		p.hashes.Add(cacheKey, sum)
	}
	p.logger.Info("registered commands", "scope", scopeName(guildID), "count", len(tree))
	return nil
}

func scopeName(guildID string) string {
	if guildID == "" {
		return "global"
	}
	return "guild " + guildID
}

// restError exposes the status code of a discordgo REST error to retrylimit.
type restError struct {
	err    error
	status int
}

func (e *restError) Error() string   { return e.err.Error() }
func (e *restError) Unwrap() error   { return e.err }
func (e *restError) StatusCode() int { return e.status }

// classify maps REST failures onto retrylimit semantics: 4xx other than 429
// is permanent, everything else is retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var re *discordgo.RESTError
	if !errors.As(err, &re) || re.Response == nil {
		return err
	}
	status := re.Response.StatusCode
	if status >= 400 && status < 500 && status != 429 {
		return &retrylimit.FatalError{Err: &restError{err: err, status: status}}
	}
	return &restError{err: err, status: status}
}
