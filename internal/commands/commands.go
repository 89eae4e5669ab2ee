// Package commands holds the concrete commands the bot ships with.
package commands

import (
	"context"

	"github.com/keshon/shardbot/internal/command"
	"github.com/keshon/shardbot/internal/component"
	"github.com/keshon/shardbot/internal/locale"
	"github.com/keshon/shardbot/internal/voice"
)

// Counter adds up a value across every cluster.
type Counter interface {
	Sum(ctx context.Context, key string) (int64, error)
}

// Deps is what the commands need from the running bot. Voice and YouTube may
// be nil, in which case the music commands are left out.
type Deps struct {
	Locale     *locale.Store
	Components *component.Registry
	Voice      *voice.Manager
	YouTube    *voice.YouTube

	Counter      Counter
	ClusterID    int
	ClusterCount int
	TotalShards  int
}

// All returns the application and text commands in registration order.
func All(d Deps) ([]*command.Command, []*command.TextCommand) {
	cmds := []*command.Command{
		info(d),
		ping(d),
		testSub(d),
		testGroup(d),
		pingMenu(d),
		button(d),
	}
	if d.Voice != nil && d.YouTube != nil {
		cmds = append(cmds, music(d)...)
	}
	return cmds, []*command.TextCommand{pingText(d)}
}
