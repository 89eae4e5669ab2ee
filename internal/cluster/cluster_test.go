package cluster

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}, Plan(10, 4))
	assert.Equal(t, [][]int{{0}}, Plan(1, 4))
	assert.Nil(t, Plan(0, 4))
	assert.Nil(t, Plan(4, 0))
}

func TestChildEnv(t *testing.T) {
	assert.Equal(t, []string{
		"CLUSTER_ID=1",
		"CLUSTER_COUNT=3",
		"SHARD_LIST=4,5,6,7",
		"TOTAL_SHARDS=10",
	}, ChildEnv(1, 3, 10, []int{4, 5, 6, 7}))
}

// attach wires a client to the hub the way a child's stdin/stdout would be.
func attach(ctx context.Context, t *testing.T, h *Hub, id int) *Client {
	t.Helper()
	toChild, fromParent := io.Pipe()
	toParent, fromChild := io.Pipe()
	t.Cleanup(func() {
		_ = fromParent.Close()
		_ = fromChild.Close()
	})

	c := NewClient(id, 2, toChild, fromChild, nil)
	go h.Attach(ctx, id, toParent, fromParent)
	go func() { _ = c.Serve(ctx) }()
	return c
}

func TestFanOutSum(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := NewHub(nil)
	a := attach(ctx, t, h, 0)
	b := attach(ctx, t, h, 1)
	a.Provide("guilds", func(context.Context) (int64, error) { return 3, nil })
	b.Provide("guilds", func(context.Context) (int64, error) { return 4, nil })

	require.Eventually(t, func() bool { return len(h.Clusters()) == 2 }, time.Second, 5*time.Millisecond)

	sum, err := a.Sum(ctx, "guilds")
	require.NoError(t, err)
	assert.EqualValues(t, 7, sum)

	sum, err = b.Sum(ctx, "guilds")
	require.NoError(t, err)
	assert.EqualValues(t, 7, sum)

	_, err = a.Sum(ctx, "members")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLocalSum(t *testing.T) {
	c := Local(0, 1, nil)
	c.Provide("guilds", func(context.Context) (int64, error) { return 5, nil })

	sum, err := c.Sum(context.Background(), "guilds")
	require.NoError(t, err)
	assert.EqualValues(t, 5, sum)

	_, err = c.Sum(context.Background(), "members")
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestRestartLimiter(t *testing.T) {
	m := &Manager{RestartMax: 6, RestartInterval: time.Hour}
	lim := m.restartLimiter()
	for range 6 {
		require.True(t, lim.Allow())
	}
	assert.False(t, lim.Allow())
}
