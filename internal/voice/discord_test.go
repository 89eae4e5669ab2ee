package voice

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejoinKeepsSharedConnection(t *testing.T) {
	tr := &DiscordTransport{}
	vc := &discordgo.VoiceConnection{}

	// ChannelVoiceJoin returns the guild's existing connection on a rejoin.
	old := tr.wrap("g", "c1", vc, Events{})
	cur := tr.wrap("g", "c2", vc, Events{})

	require.NoError(t, old.Close(), "the replaced wrapper must not disconnect")
	assert.Same(t, cur, tr.owners[vc])
	assert.False(t, tr.release(vc, old))
	assert.True(t, tr.release(vc, cur))
}

func TestPlaybackFollowsReconnect(t *testing.T) {
	tr := &DiscordTransport{}
	stale := &discordgo.VoiceConnection{OpusSend: make(chan []byte)}
	fresh := &discordgo.VoiceConnection{OpusSend: make(chan []byte, 8)}

	idle := make(chan struct{})
	errs := make(chan error, 1)
	c := tr.wrap("g", "c", stale, Events{
		Idle:  func() { close(idle) },
		Error: func(err error) { errs <- err },
	})

	pcm := make([]byte, 2*frameSize*channels*2)
	require.NoError(t, c.Play(io.NopCloser(bytes.NewReader(pcm)), 1))

	// Nobody reads the stale channel, so the first frame is stuck there.
	time.Sleep(50 * time.Millisecond)
	c.swap(fresh)

	select {
	case <-idle:
	case err := <-errs:
		t.Fatalf("playback failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not finish after the connection was swapped")
	}
	assert.Len(t, fresh.OpusSend, 2)
	assert.Same(t, c, tr.owners[fresh])
}

func TestStopUnblocksSender(t *testing.T) {
	tr := &DiscordTransport{}
	vc := &discordgo.VoiceConnection{OpusSend: make(chan []byte)}
	idle := make(chan struct{})
	c := tr.wrap("g", "c", vc, Events{Idle: func() { close(idle) }})

	pcm := make([]byte, 4*frameSize*channels*2)
	require.NoError(t, c.Play(io.NopCloser(bytes.NewReader(pcm)), 1))
	c.Stop()

	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not end playback")
	}
}
