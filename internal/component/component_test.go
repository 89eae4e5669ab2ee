package component

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decl(prefix string, ttl time.Duration) Declaration {
	return Declaration{
		Prefix:  prefix,
		TTL:     ttl,
		Handler: func(context.Context, *Interaction) error { return nil },
	}
}

func TestGenerateSetsCustomID(t *testing.T) {
	r := NewRegistry()

	b, err := r.Button(discordgo.Button{Label: "go", Style: discordgo.PrimaryButton}, decl("btn", 0))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(b.CustomID, "btn_"))
	assert.Equal(t, "go", b.Label)

	m, err := r.SelectMenu(discordgo.SelectMenu{MenuType: discordgo.UserSelectMenu}, decl("pick", 0))
	require.NoError(t, err)
	require.NotNil(t, r.Find(discordgo.UserSelectMenuComponent, m.CustomID))
	assert.Nil(t, r.Find(discordgo.ButtonComponent, m.CustomID), "lookup is keyed by component type")

	_, err = r.Generate(discordgo.ActionsRow{}, decl("row", 0))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestExpiryAndTouch(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }

	b, err := r.Button(discordgo.Button{}, decl("btn", time.Minute))
	require.NoError(t, err)
	forever, err := r.Button(discordgo.Button{}, decl("keep", 0))
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	require.NotNil(t, r.Find(discordgo.ButtonComponent, b.CustomID))
	r.Touch(discordgo.ButtonComponent, b.CustomID)

	now = now.Add(50 * time.Second)
	require.NotNil(t, r.Find(discordgo.ButtonComponent, b.CustomID), "touch refreshed the expiry")

	now = now.Add(61 * time.Second)
	assert.Nil(t, r.Find(discordgo.ButtonComponent, b.CustomID))
	assert.NotNil(t, r.Find(discordgo.ButtonComponent, forever.CustomID))
	assert.Equal(t, 1, r.Len())
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	in, err := r.TextInput(discordgo.TextInput{Label: "name"}, decl("modal", 0))
	require.NoError(t, err)
	r.Remove(discordgo.TextInputComponent, in.CustomID)
	assert.Nil(t, r.Find(discordgo.TextInputComponent, in.CustomID))
	assert.Empty(t, r.suffixes)
}

func TestGenerateRetriesOnSuffixCollision(t *testing.T) {
	r := NewRegistry()
	fixed := uuid.Must(uuid.FromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	fresh := uuid.Must(uuid.NewV4())
	ids := []uuid.UUID{fixed, fixed, fresh}
	r.newID = func() (uuid.UUID, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	first, err := r.Button(discordgo.Button{}, decl("a", 0))
	require.NoError(t, err)
	second, err := r.Button(discordgo.Button{}, decl("b", 0))
	require.NoError(t, err)

	assert.Equal(t, "a_"+fixed.String(), first.CustomID)
	assert.Equal(t, "b_"+fresh.String(), second.CustomID)
}

func TestConcurrentGenerationIsUnique(t *testing.T) {
	r := NewRegistry()
	const n = 10_000

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := r.Button(discordgo.Button{}, decl("c", time.Hour))
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			ids[b.CustomID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n)
	assert.Equal(t, n, r.Len())
}
