// Package voice runs one playback session per guild: a connection, a queue
// and the recovery bookkeeping that keeps a second idle or error callback from
// advancing the queue twice.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/keshon/shardbot/pkg/retrylimit"
)

// ErrNoSession is returned for operations on a guild without a session.
var ErrNoSession = errors.New("voice: no session for guild")

const (
	// MaxPlayAttempts bounds silent resubscription after player errors.
	MaxPlayAttempts = 3
	// ReconnectAttempts and ReconnectInterval bound recovery from an
	// unexpected connection loss.
	ReconnectAttempts = 3
	ReconnectInterval = 500 * time.Millisecond
)

// Close codes that mean the bot was moved or kicked on purpose.
const (
	CloseSessionNoLongerValid = 4006
	CloseDisconnected         = 4014
)

// Source is 48kHz stereo s16le PCM.
type Source = io.ReadCloser

// QueueItem is one queued track. Resolve is only called once the item
// reaches the head of the queue.
type QueueItem struct {
	Resolve    func(ctx context.Context) (Source, error)
	Volume     *float64
	EnqueuedAt time.Time
	Metadata   any
}

func (q *QueueItem) volume() float64 {
	if q == nil || q.Volume == nil {
		return 1
	}
	return *q.Volume
}

// Option tunes a session. A nil Volume means 1.
type Option struct {
	Volume    *float64
	Repeat    bool
	AutoLeave bool
}

func (o Option) volume() float64 {
	if o.Volume == nil {
		return 1
	}
	return *o.Volume
}

// DisconnectReason classifies a connection loss.
type DisconnectReason int

const (
	ReasonWebSocketClose DisconnectReason = iota
	ReasonError
)

// DisconnectEvent is reported by a Conn when the link drops.
type DisconnectEvent struct {
	Reason    DisconnectReason
	CloseCode int
	Err       error
}

// Unexpected reports whether the loss should be recovered by reconnecting.
func (e DisconnectEvent) Unexpected() bool {
	return e.Reason == ReasonWebSocketClose &&
		e.CloseCode != CloseSessionNoLongerValid && e.CloseCode != CloseDisconnected
}

// Events are the callbacks a Conn reports to. They may be called from any
// goroutine.
type Events struct {
	Idle       func()
	Error      func(error)
	Disconnect func(DisconnectEvent)
}

// Conn is a live voice connection with its audio player.
type Conn interface {
	// Play starts streaming src asynchronously. Idle fires when it ends or is
	// stopped, Error when streaming fails.
	Play(src Source, volume float64) error
	SetVolume(volume float64)
	// Stop ends the current stream, if any, which fires Idle.
	Stop()
	Reconnect(ctx context.Context) error
	Close() error
}

// Transport opens connections.
type Transport interface {
	Connect(ctx context.Context, guildID, channelID string, ev Events) (Conn, error)
}

type state int

const (
	stateIdle state = iota
	stateAdvancing
	stateRecovering
)

func (s state) String() string {
	switch s {
	case stateAdvancing:
		return "advancing"
	case stateRecovering:
		return "recovering"
	default:
		return "idle"
	}
}

type session struct {
	guildID   string
	channelID string
	conn      Conn
	queue     []*QueueItem
	option    Option
	state     state
	attempts  int
}

// Manager owns the sessions of one process.
type Manager struct {
	transport Transport
	logger    *log.Logger
	now       func() time.Time

	// OnFatal is called when playback of a guild fails beyond recovery,
	// right before its session is torn down.
	OnFatal func(guildID string, err error)

	reconnectAttempts int
	reconnectInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager returns a manager using t for connections.
func NewManager(t Transport, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		transport:         t,
		logger:            logger.WithPrefix("voice"),
		now:               time.Now,
		reconnectAttempts: ReconnectAttempts,
		reconnectInterval: ReconnectInterval,
		sessions:          make(map[string]*session),
	}
}

// Joined reports whether guildID has a session.
func (m *Manager) Joined(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[guildID]
	return ok
}

// ChannelID returns the channel of the guild's session, or "".
func (m *Manager) ChannelID(guildID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[guildID]; ok {
		return s.channelID
	}
	return ""
}

// Join connects to channelID, replacing any existing session of the guild.
// An empty channelID is a no-op.
func (m *Manager) Join(ctx context.Context, guildID, channelID string, opt Option) error {
	if channelID == "" {
		return nil
	}

	s := &session{guildID: guildID, channelID: channelID, option: opt, attempts: 1}
	conn, err := m.transport.Connect(ctx, guildID, channelID, Events{
		Idle:       func() { m.onIdle(s) },
		Error:      func(err error) { m.onPlayerError(s, err) },
		Disconnect: func(ev DisconnectEvent) { m.onDisconnect(s, ev) },
	})
	if err != nil {
		return fmt.Errorf("join %s/%s: %w", guildID, channelID, err)
	}

	m.mu.Lock()
	s.conn = conn
	old := m.sessions[guildID]
	m.sessions[guildID] = s
	m.mu.Unlock()

	if old != nil && old.conn != nil && old.conn != conn {
		old.conn.Stop()
		_ = old.conn.Close()
	}
	m.logger.Info("joined", "guild", guildID, "channel", channelID)
	return nil
}

// Play appends item. When the queue was empty the item starts right away.
func (m *Manager) Play(ctx context.Context, guildID string, item *QueueItem) (position int, err error) {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok {
		m.mu.Unlock()
		return 0, ErrNoSession
	}
	s.queue = append(s.queue, item)
	position = len(s.queue)
	m.mu.Unlock()

	if position == 1 {
		if err := m.subscribe(ctx, s, item); err != nil {
			m.onPlayerError(s, err)
		}
	}
	return position, nil
}

// subscribe resolves head and hands it to the connection.
func (m *Manager) subscribe(ctx context.Context, s *session, head *QueueItem) error {
	src, err := head.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve audio: %w", err)
	}

	m.mu.Lock()
	live := m.sessions[s.guildID] == s
	vol := head.volume() * s.option.volume()
	conn := s.conn
	m.mu.Unlock()

	if !live {
		_ = src.Close()
		return nil
	}
	return conn.Play(src, vol)
}

// onIdle retires the head once it finished playing.
func (m *Manager) onIdle(s *session) {
	m.mu.Lock()
	if m.sessions[s.guildID] != s || s.state == stateRecovering {
		m.mu.Unlock()
		return
	}
	s.attempts = 1
	if s.state != stateIdle {
		m.mu.Unlock()
		return
	}
	s.state = stateAdvancing

	if s.option.Repeat && len(s.queue) > 0 {
		s.queue = append(s.queue, m.requeued(s.queue[0]))
	}
	if len(s.queue) > 0 {
		s.queue = s.queue[1:]
	}
	slices.SortStableFunc(s.queue, func(a, b *QueueItem) int {
		return a.EnqueuedAt.Compare(b.EnqueuedAt)
	})
	var head *QueueItem
	if len(s.queue) > 0 {
		head = s.queue[0]
	}
	m.mu.Unlock()

	var err error
	if head != nil {
		err = m.subscribe(context.Background(), s, head)
	}

	m.mu.Lock()
	if s.state == stateAdvancing {
		s.state = stateIdle
	}
	m.mu.Unlock()

	if err != nil {
		m.onPlayerError(s, err)
	}
}

// requeued copies item with a fresh arrival time so the sort keeps it last.
func (m *Manager) requeued(item *QueueItem) *QueueItem {
	c := *item
	c.EnqueuedAt = m.now()
	return &c
}

// onPlayerError resubscribes the head until MaxPlayAttempts is exceeded.
func (m *Manager) onPlayerError(s *session, cause error) {
	m.mu.Lock()
	if m.sessions[s.guildID] != s || s.state == stateRecovering {
		m.mu.Unlock()
		return
	}
	s.state = stateRecovering
	s.attempts++
	attempt := s.attempts
	m.logger.Warn("player error", "guild", s.guildID, "attempt", attempt, "err", cause)

	if attempt > MaxPlayAttempts {
		m.mu.Unlock()
		if m.OnFatal != nil {
			m.OnFatal(s.guildID, cause)
		}
		m.logger.Error("playback failed, leaving", "guild", s.guildID, "err", cause)
		_ = m.Quit(s.guildID)
		return
	}

	var head *QueueItem
	if len(s.queue) > 0 {
		head = s.queue[0]
	}
	s.state = stateIdle
	m.mu.Unlock()

	if head == nil {
		return
	}
	if err := m.subscribe(context.Background(), s, head); err != nil {
		m.onPlayerError(s, err)
	}
}

func (m *Manager) onDisconnect(s *session, ev DisconnectEvent) {
	m.mu.Lock()
	live := m.sessions[s.guildID] == s
	conn := s.conn
	m.mu.Unlock()
	if !live {
		return
	}

	switch {
	case ev.Unexpected():
		m.logger.Warn("voice connection lost, reconnecting", "guild", s.guildID, "code", ev.CloseCode)
		err := retrylimit.Fixed(context.Background(), m.reconnectAttempts, m.reconnectInterval, func(attempt int) error {
			return conn.Reconnect(context.Background())
		})
		if err != nil {
			m.logger.Error("reconnect failed", "guild", s.guildID, "err", err)
			_ = m.Quit(s.guildID)
		}
	case ev.Reason == ReasonError:
		m.logger.Warn("voice connection error", "guild", s.guildID, "err", ev.Err)
		_ = m.Quit(s.guildID)
	}
}

// Skip drops min(n, len)-1 queued items behind the head and stops the player
// so the idle handler retires the head. With repeat on, the dropped items go
// back to the tail.
func (m *Manager) Skip(guildID string, n int) error {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	k := min(n, len(s.queue)) - 1
	if k > 0 {
		removed := slices.Clone(s.queue[1 : 1+k])
		s.queue = slices.Delete(s.queue, 1, 1+k)
		if s.option.Repeat {
			for _, it := range removed {
				s.queue = append(s.queue, m.requeued(it))
			}
		}
	}
	conn := s.conn
	m.mu.Unlock()

	conn.Stop()
	return nil
}

// Shuffle randomizes everything behind the head.
func (m *Manager) Shuffle(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		return ErrNoSession
	}
	if len(s.queue) > 2 {
		rest := s.queue[1:]
		rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	}
	return nil
}

// Repeat toggles re-enqueueing of finished items.
func (m *Manager) Repeat(guildID string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		return ErrNoSession
	}
	s.option.Repeat = on
	return nil
}

// Volume sets the session volume, clamped to 0..2, and applies it to the
// current item right away.
func (m *Manager) Volume(guildID string, v float64) (float64, error) {
	v = max(0, min(2, v))

	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok {
		m.mu.Unlock()
		return v, ErrNoSession
	}
	s.option.Volume = &v
	var head *QueueItem
	if len(s.queue) > 0 {
		head = s.queue[0]
	}
	conn := s.conn
	m.mu.Unlock()

	if head != nil {
		conn.SetVolume(head.volume() * v)
	}
	return v, nil
}

// Stop clears the queue and stops the player. The session stays.
func (m *Manager) Stop(guildID string) error {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	s.queue = nil
	conn := s.conn
	m.mu.Unlock()

	conn.Stop()
	return nil
}

// Quit tears the session down. Quitting a guild without a session is a no-op.
func (m *Manager) Quit(guildID string) error {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if ok {
		delete(m.sessions, guildID)
		s.queue = nil
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.conn.Stop()
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close voice connection: %w", err)
	}
	m.logger.Info("left", "guild", guildID)
	return nil
}

// QuitAll tears down every session.
func (m *Manager) QuitAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Quit(id)
	}
}

// Queue returns a snapshot of the guild's queue, head first.
func (m *Manager) Queue(guildID string) ([]QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		return nil, ErrNoSession
	}
	out := make([]QueueItem, len(s.queue))
	for i, it := range s.queue {
		out[i] = *it
	}
	return out, nil
}

// StateChange is a voice state update reduced to what the manager needs.
type StateChange struct {
	GuildID      string
	UserID       string
	BotID        string
	OldChannelID string
	NewChannelID string
	// BotInOldChannel and HumansInOldChannel describe the old channel after
	// the change was applied.
	BotInOldChannel    bool
	HumansInOldChannel int
}

// OnVoiceStateUpdate follows the bot when it is moved and leaves when it was
// disconnected or, with AutoLeave, when no human is left with it.
func (m *Manager) OnVoiceStateUpdate(ctx context.Context, ev StateChange) error {
	m.mu.Lock()
	s, ok := m.sessions[ev.GuildID]
	var opt Option
	var current string
	if ok {
		opt = s.option
		current = s.channelID
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	isBot := ev.UserID == ev.BotID
	if isBot && ev.NewChannelID != "" && ev.OldChannelID != ev.NewChannelID && ev.NewChannelID != current {
		m.logger.Info("moved, rejoining", "guild", ev.GuildID, "channel", ev.NewChannelID)
		return m.Join(ctx, ev.GuildID, ev.NewChannelID, opt)
	}

	lonely := opt.AutoLeave && ev.BotInOldChannel && ev.HumansInOldChannel == 0
	kicked := isBot && ev.OldChannelID != "" && ev.NewChannelID == ""
	if lonely || kicked {
		return m.Quit(ev.GuildID)
	}
	return nil
}
