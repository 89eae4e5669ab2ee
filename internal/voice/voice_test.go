package voice

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu            sync.Mutex
	channelID     string
	ev            Events
	played        []string
	volume        float64
	playing       bool
	reconnectErrs []error
	reconnects    int
	closed        bool
}

func (c *fakeConn) Play(src Source, volume float64) error {
	b, _ := io.ReadAll(src)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.played = append(c.played, string(b))
	c.volume = volume
	c.playing = true
	return nil
}

func (c *fakeConn) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v
}

// Stop fires Idle synchronously when something plays.
func (c *fakeConn) Stop() {
	c.mu.Lock()
	was := c.playing
	c.playing = false
	c.mu.Unlock()
	if was {
		c.ev.Idle()
	}
}

func (c *fakeConn) finish() { c.Stop() }

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()
	c.ev.Error(err)
}

func (c *fakeConn) Reconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	if len(c.reconnectErrs) == 0 {
		return nil
	}
	err := c.reconnectErrs[0]
	c.reconnectErrs = c.reconnectErrs[1:]
	return err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.played) == 0 {
		return ""
	}
	return c.played[len(c.played)-1]
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (t *fakeTransport) Connect(_ context.Context, _, channelID string, ev Events) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &fakeConn{channelID: channelID, ev: ev}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

var epoch = time.Unix(1_700_000_000, 0)

func item(name string, offset int) *QueueItem {
	return &QueueItem{
		EnqueuedAt: epoch.Add(time.Duration(offset) * time.Second),
		Metadata:   name,
		Resolve: func(context.Context) (Source, error) {
			return io.NopCloser(strings.NewReader(name)), nil
		},
	}
}

func names(t *testing.T, m *Manager, guildID string) []string {
	t.Helper()
	q, err := m.Queue(guildID)
	require.NoError(t, err)
	out := make([]string, len(q))
	for i, it := range q {
		out[i] = it.Metadata.(string)
	}
	return out
}

func setup(t *testing.T, opt Option, items ...string) (*Manager, *fakeTransport, *fakeConn) {
	t.Helper()
	tr := &fakeTransport{}
	m := NewManager(tr, nil)
	clock := epoch.Add(time.Hour)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	m.reconnectInterval = time.Millisecond
	require.NoError(t, m.Join(context.Background(), "g", "c", opt))
	for i, n := range items {
		_, err := m.Play(context.Background(), "g", item(n, i))
		require.NoError(t, err)
	}
	return m, tr, tr.conn(0)
}

func TestPlayStartsOnlyTheHead(t *testing.T) {
	_, _, c := setup(t, Option{}, "A", "B", "C")
	assert.Equal(t, []string{"A"}, c.played)
}

func TestIdleAdvancesQueue(t *testing.T) {
	m, _, c := setup(t, Option{}, "A", "B", "C")
	c.finish()
	assert.Equal(t, []string{"B", "C"}, names(t, m, "g"))
	assert.Equal(t, "B", c.last())

	c.finish()
	c.finish()
	assert.Empty(t, names(t, m, "g"))
	assert.Equal(t, []string{"A", "B", "C"}, c.played)
}

func TestIdleWithRepeatRequeuesHead(t *testing.T) {
	m, _, c := setup(t, Option{Repeat: true}, "A", "B", "C")
	c.finish()
	assert.Equal(t, []string{"B", "C", "A"}, names(t, m, "g"))
	c.finish()
	assert.Equal(t, []string{"C", "A", "B"}, names(t, m, "g"))
}

func TestIdleSortsByArrival(t *testing.T) {
	m, _, c := setup(t, Option{}, "A")
	_, err := m.Play(context.Background(), "g", item("late", 10))
	require.NoError(t, err)
	_, err = m.Play(context.Background(), "g", item("early", 5))
	require.NoError(t, err)
	undated := item("undated", 0)
	undated.EnqueuedAt = time.Time{}
	_, err = m.Play(context.Background(), "g", undated)
	require.NoError(t, err)

	c.finish()
	assert.Equal(t, []string{"undated", "early", "late"}, names(t, m, "g"))
}

func TestSkip(t *testing.T) {
	m, _, c := setup(t, Option{}, "A", "B", "C", "D")
	require.NoError(t, m.Skip("g", 2))
	assert.Equal(t, []string{"C", "D"}, names(t, m, "g"))
	assert.Equal(t, "C", c.last())

	require.NoError(t, m.Skip("g", 0))
	assert.Equal(t, []string{"D"}, names(t, m, "g"), "skip(0) removes nothing but still retires the head")

	m, _, _ = setup(t, Option{}, "A", "B", "C")
	require.NoError(t, m.Skip("g", 10))
	assert.Empty(t, names(t, m, "g"))
}

func TestSkipWithRepeat(t *testing.T) {
	m, _, c := setup(t, Option{Repeat: true}, "A", "B", "C", "D")
	require.NoError(t, m.Skip("g", 2))
	assert.Equal(t, []string{"C", "D", "B", "A"}, names(t, m, "g"))
	assert.Equal(t, "C", c.last())
}

func TestShuffleKeepsHead(t *testing.T) {
	m, _, _ := setup(t, Option{}, "A", "B", "C", "D", "E")
	require.NoError(t, m.Shuffle("g"))
	q := names(t, m, "g")
	assert.Equal(t, "A", q[0])
	assert.ElementsMatch(t, []string{"B", "C", "D", "E"}, q[1:])
}

func TestVolume(t *testing.T) {
	m, _, c := setup(t, Option{})
	half := 0.5
	it := item("A", 0)
	it.Volume = &half
	_, err := m.Play(context.Background(), "g", it)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c.volume, 1e-9)

	v, err := m.Volume("g", 3)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	assert.InDelta(t, 1.0, c.volume, 1e-9)

	v, err = m.Volume("g", -1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	assert.InDelta(t, 0.0, c.volume, 1e-9)
}

func TestPlayerErrorRetriesThenGivesUp(t *testing.T) {
	m, _, c := setup(t, Option{}, "A", "B")
	var fatal error
	m.OnFatal = func(_ string, err error) { fatal = err }

	boom := errors.New("boom")
	c.fail(boom)
	c.fail(boom)
	assert.True(t, m.Joined("g"))
	assert.Equal(t, []string{"A", "A", "A"}, c.played, "two silent resubscriptions")

	c.fail(boom)
	assert.False(t, m.Joined("g"))
	assert.ErrorIs(t, fatal, boom)
	assert.True(t, c.closed)
}

func TestIdleResetsErrorAttempts(t *testing.T) {
	m, _, c := setup(t, Option{}, "A", "B")
	boom := errors.New("boom")
	c.fail(boom)
	c.fail(boom)
	c.finish()
	c.fail(boom)
	c.fail(boom)
	assert.True(t, m.Joined("g"))
}

func TestResolveFailureCountsAsPlayerError(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(tr, nil)
	require.NoError(t, m.Join(context.Background(), "g", "c", Option{}))

	calls := 0
	_, err := m.Play(context.Background(), "g", &QueueItem{Resolve: func(context.Context) (Source, error) {
		calls++
		return nil, errors.New("gone")
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.False(t, m.Joined("g"))
}

func TestDisconnect(t *testing.T) {
	m, _, c := setup(t, Option{}, "A")
	c.reconnectErrs = []error{errors.New("x"), errors.New("y")}
	c.ev.Disconnect(DisconnectEvent{Reason: ReasonWebSocketClose, CloseCode: 4000})
	assert.True(t, m.Joined("g"))
	assert.Equal(t, 3, c.reconnects)

	c.ev.Disconnect(DisconnectEvent{Reason: ReasonWebSocketClose, CloseCode: CloseDisconnected})
	assert.True(t, m.Joined("g"), "moved or kicked is handled by voice state updates")

	c.reconnectErrs = []error{errors.New("1"), errors.New("2"), errors.New("3")}
	c.ev.Disconnect(DisconnectEvent{Reason: ReasonWebSocketClose})
	assert.False(t, m.Joined("g"))
	assert.True(t, c.closed)
}

func TestReconnectThenAdvance(t *testing.T) {
	m, _, c := setup(t, Option{}, "A", "B")
	c.ev.Disconnect(DisconnectEvent{Reason: ReasonWebSocketClose, CloseCode: 4000})
	require.True(t, m.Joined("g"))
	assert.Equal(t, 1, c.reconnects)

	c.finish()
	assert.Equal(t, []string{"B"}, names(t, m, "g"))
	assert.Equal(t, "B", c.last())
}

func TestConnectionErrorQuits(t *testing.T) {
	m, _, c := setup(t, Option{})
	c.ev.Disconnect(DisconnectEvent{Reason: ReasonError, Err: errors.New("udp")})
	assert.False(t, m.Joined("g"))
}

func TestJoinAndQuit(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(tr, nil)
	require.NoError(t, m.Join(context.Background(), "g", "", Option{}))
	assert.False(t, m.Joined("g"))

	_, err := m.Play(context.Background(), "g", item("A", 0))
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, m.Join(context.Background(), "g", "c1", Option{}))
	require.NoError(t, m.Join(context.Background(), "g", "c2", Option{}))
	assert.True(t, tr.conn(0).closed, "joining again replaces the session")
	assert.Equal(t, "c2", m.ChannelID("g"))

	require.NoError(t, m.Quit("g"))
	require.NoError(t, m.Quit("g"))
	assert.False(t, m.Joined("g"))
}

func TestStopKeepsSession(t *testing.T) {
	m, _, _ := setup(t, Option{}, "A", "B")
	require.NoError(t, m.Stop("g"))
	assert.Empty(t, names(t, m, "g"))
	assert.True(t, m.Joined("g"))
}

func TestVoiceStateUpdate(t *testing.T) {
	vol := 1.5
	m, tr, _ := setup(t, Option{Volume: &vol, AutoLeave: true})
	ctx := context.Background()

	require.NoError(t, m.OnVoiceStateUpdate(ctx, StateChange{
		GuildID: "g", UserID: "bot", BotID: "bot", OldChannelID: "c", NewChannelID: "c",
	}))
	assert.Len(t, tr.conns, 1)

	require.NoError(t, m.OnVoiceStateUpdate(ctx, StateChange{
		GuildID: "g", UserID: "bot", BotID: "bot", OldChannelID: "c", NewChannelID: "other",
		BotInOldChannel: false, HumansInOldChannel: 0,
	}))
	require.Len(t, tr.conns, 2)
	assert.Equal(t, "other", m.ChannelID("g"))
	_, err := m.Play(ctx, "g", item("A", 0))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, tr.conn(1).volume, 1e-9, "options survive the rejoin")

	require.NoError(t, m.OnVoiceStateUpdate(ctx, StateChange{
		GuildID: "g", UserID: "human", BotID: "bot", OldChannelID: "other",
		BotInOldChannel: true, HumansInOldChannel: 1,
	}))
	assert.True(t, m.Joined("g"))

	require.NoError(t, m.OnVoiceStateUpdate(ctx, StateChange{
		GuildID: "g", UserID: "human", BotID: "bot", OldChannelID: "other",
		BotInOldChannel: true, HumansInOldChannel: 0,
	}))
	assert.False(t, m.Joined("g"))
}

func TestBotDisconnectedQuits(t *testing.T) {
	m, _, _ := setup(t, Option{})
	require.NoError(t, m.OnVoiceStateUpdate(context.Background(), StateChange{
		GuildID: "g", UserID: "bot", BotID: "bot", OldChannelID: "c",
	}))
	assert.False(t, m.Joined("g"))
}

func TestScaleClamps(t *testing.T) {
	pcm := []byte{0xff, 0x7f, 0x00, 0x80, 0x10, 0x00}
	dst := make([]int16, 3)
	scale(pcm, dst, 2)
	assert.Equal(t, []int16{32767, -32768, 32}, dst)
}
