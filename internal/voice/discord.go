package voice

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
)

// DiscordTransport connects through the gateway session owning the guild.
type DiscordTransport struct {
	Session func(guildID string) *discordgo.Session
	Logger  *log.Logger
	// NotReadyTimeout is how long a connection may stay not ready before it
	// is reported as lost.
	NotReadyTimeout time.Duration

	// discordgo hands out one VoiceConnection per guild, so a rejoin wraps
	// the same vc again. Only its latest wrapper may disconnect it.
	mu     sync.Mutex
	owners map[*discordgo.VoiceConnection]*discordConn
}

// Connect joins channelID deafened.
func (t *DiscordTransport) Connect(ctx context.Context, guildID, channelID string, ev Events) (Conn, error) {
	vc, err := t.join(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}
	c := t.wrap(guildID, channelID, vc, ev)
	go c.watch()
	return c, nil
}

func (t *DiscordTransport) wrap(guildID, channelID string, vc *discordgo.VoiceConnection, ev Events) *discordConn {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := t.NotReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &discordConn{
		transport: t,
		guildID:   guildID,
		channelID: channelID,
		vc:        vc,
		ev:        ev,
		logger:    logger.With("guild", guildID),
		timeout:   timeout,
		swapped:   make(chan struct{}),
		closed:    make(chan struct{}),
	}
	c.volume.Store(math.Float64bits(1))
	t.claim(vc, c)
	return c
}

func (t *DiscordTransport) claim(vc *discordgo.VoiceConnection, c *discordConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owners == nil {
		t.owners = make(map[*discordgo.VoiceConnection]*discordConn)
	}
	t.owners[vc] = c
}

// release drops c's claim on vc and reports whether c owned it.
func (t *DiscordTransport) release(vc *discordgo.VoiceConnection, c *discordConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owners[vc] != c {
		return false
	}
	delete(t.owners, vc)
	return true
}

func (t *DiscordTransport) join(ctx context.Context, guildID, channelID string) (*discordgo.VoiceConnection, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	done := make(chan result, 1)
	go func() {
		vc, err := t.Session(guildID).ChannelVoiceJoin(guildID, channelID, false, true)
		done <- result{vc, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("voice join: %w", r.err)
		}
		return r.vc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type playback struct {
	stop chan struct{}
	once sync.Once
}

func (p *playback) halt() { p.once.Do(func() { close(p.stop) }) }

type discordConn struct {
	transport *DiscordTransport
	guildID   string
	channelID string
	ev        Events
	logger    *log.Logger
	timeout   time.Duration
	volume    atomic.Uint64

	mu      sync.Mutex
	vc      *discordgo.VoiceConnection
	swapped chan struct{} // closed when vc is replaced
	current *playback

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *discordConn) Play(src Source, volume float64) error {
	p := &playback{stop: make(chan struct{})}
	c.SetVolume(volume)

	c.mu.Lock()
	prev := c.current
	c.current = p
	c.mu.Unlock()
	if prev != nil {
		prev.halt()
	}

	go func() {
		defer src.Close()
		var speaking *discordgo.VoiceConnection
		err := encodeOpus(src, p.stop, func(frame []byte) bool {
			return c.send(p.stop, frame, &speaking)
		}, c.loadVolume)
		if speaking != nil {
			_ = speaking.Speaking(false)
		}

		c.mu.Lock()
		current := c.current == p
		if current {
			c.current = nil
		}
		c.mu.Unlock()
		if !current {
			return
		}
		if err != nil {
			c.ev.Error(err)
			return
		}
		c.ev.Idle()
	}()
	return nil
}

// send delivers frame to the current connection. A reconnect swaps the
// connection underneath, in which case the frame goes to the new one.
func (c *discordConn) send(stop <-chan struct{}, frame []byte, speaking **discordgo.VoiceConnection) bool {
	for {
		c.mu.Lock()
		vc, swapped := c.vc, c.swapped
		c.mu.Unlock()

		if *speaking != vc {
			_ = vc.Speaking(true)
			*speaking = vc
		}
		vc.RLock()
		out := vc.OpusSend
		vc.RUnlock()

		select {
		case out <- frame:
			return true
		case <-stop:
			return false
		case <-swapped:
		}
	}
}

// swap replaces the connection and wakes any sender blocked on the old one.
func (c *discordConn) swap(vc *discordgo.VoiceConnection) {
	c.transport.claim(vc, c)
	c.mu.Lock()
	c.vc = vc
	close(c.swapped)
	c.swapped = make(chan struct{})
	c.mu.Unlock()
}

func (c *discordConn) loadVolume() float64 {
	return math.Float64frombits(c.volume.Load())
}

func (c *discordConn) SetVolume(v float64) {
	c.volume.Store(math.Float64bits(v))
}

func (c *discordConn) Stop() {
	c.mu.Lock()
	p := c.current
	c.mu.Unlock()
	if p != nil {
		p.halt()
	}
}

func (c *discordConn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	old := c.vc
	c.mu.Unlock()
	if c.transport.release(old, c) {
		_ = old.Disconnect()
	}

	vc, err := c.transport.join(ctx, c.guildID, c.channelID)
	if err != nil {
		return err
	}
	c.swap(vc)
	c.logger.Info("voice reconnected")
	return nil
}

func (c *discordConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.Stop()
		c.mu.Lock()
		vc := c.vc
		c.mu.Unlock()
		if c.transport.release(vc, c) {
			err = vc.Disconnect()
		}
	})
	return err
}

// watch reports a lost connection once the voice link stayed not ready for
// longer than the timeout. discordgo does not surface close codes, so the
// event carries none and counts as unexpected.
func (c *discordConn) watch() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var since time.Time
	for {
		select {
		case <-c.closed:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			vc := c.vc
			c.mu.Unlock()

			vc.RLock()
			ready := vc.Ready
			vc.RUnlock()

			switch {
			case ready:
				since = time.Time{}
			case since.IsZero():
				since = now
			case now.Sub(since) > c.timeout:
				since = time.Time{}
				c.ev.Disconnect(DisconnectEvent{Reason: ReasonWebSocketClose})
			}
		}
	}
}

// StateChangeFrom reduces a gateway voice state update, counting the humans
// left in the previous channel from the state cache.
func StateChangeFrom(s *discordgo.Session, ev *discordgo.VoiceStateUpdate) StateChange {
	sc := StateChange{
		GuildID:      ev.GuildID,
		UserID:       ev.UserID,
		NewChannelID: ev.ChannelID,
	}
	if s.State != nil && s.State.User != nil {
		sc.BotID = s.State.User.ID
	}
	if ev.BeforeUpdate != nil {
		sc.OldChannelID = ev.BeforeUpdate.ChannelID
	}
	if sc.OldChannelID == "" || s.State == nil {
		return sc
	}

	guild, err := s.State.Guild(ev.GuildID)
	if err != nil {
		return sc
	}
	s.State.RLock()
	states := make([]discordgo.VoiceState, 0, len(guild.VoiceStates))
	for _, vs := range guild.VoiceStates {
		states = append(states, *vs)
	}
	s.State.RUnlock()

	for _, vs := range states {
		if vs.ChannelID != sc.OldChannelID {
			continue
		}
		if vs.UserID == sc.BotID {
			sc.BotInOldChannel = true
			continue
		}
		if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
			continue
		}
		if m, err := s.State.Member(ev.GuildID, vs.UserID); err == nil && m.User != nil && m.User.Bot {
			continue
		}
		sc.HumansInOldChannel++
	}
	return sc
}
