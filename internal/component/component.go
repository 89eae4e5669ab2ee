// Package component keeps the handlers of interactive message components
// (buttons, select menus, text inputs) keyed by a generated custom id.
package component

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gofrs/uuid/v5"

	"github.com/keshon/shardbot/internal/policy"
)

// ErrUnsupported is returned by Generate for component kinds without a custom id.
var ErrUnsupported = errors.New("component: unsupported component type")

// Interaction is what component handlers get.
type Interaction struct {
	Session *discordgo.Session
	Event   *discordgo.InteractionCreate
	Locale  discordgo.Locale
	// Prefix is the declaration prefix, ID the full custom id.
	Prefix string
	ID     string
}

// Handler runs a component interaction.
type Handler func(ctx context.Context, in *Interaction) error

// Declaration describes how a generated component behaves.
type Declaration struct {
	Prefix string
	// TTL of zero never expires. Every use pushes the expiry TTL into the future.
	TTL     time.Duration
	Once    bool
	Policy  policy.Policy
	Handler Handler
}

// Entry is a registered component.
type Entry struct {
	Type      discordgo.ComponentType
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Declaration
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
}

type key struct {
	t  discordgo.ComponentType
	id string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[key]*Entry
	// suffixes counts live entries per uuid suffix.
	suffixes map[string]int
	now      func() time.Time
	newID    func() (uuid.UUID, error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[key]*Entry),
		suffixes: make(map[string]int),
		now:      time.Now,
		newID:    uuid.NewV4,
	}
}

// Generate registers d for c and returns c with its CustomID set to
// "<prefix>_<uuid>". Supported kinds are Button, SelectMenu and TextInput.
func (r *Registry) Generate(c discordgo.MessageComponent, d Declaration) (discordgo.MessageComponent, error) {
	if d.Handler == nil {
		return nil, fmt.Errorf("component %q: no handler", d.Prefix)
	}
	switch c.(type) {
	case discordgo.Button, discordgo.SelectMenu, discordgo.TextInput:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, c.Type())
	}

	id, err := r.register(c.Type(), d)
	if err != nil {
		return nil, err
	}
	switch v := c.(type) {
	case discordgo.Button:
		v.CustomID = id
		return v, nil
	case discordgo.SelectMenu:
		v.CustomID = id
		return v, nil
	case discordgo.TextInput:
		v.CustomID = id
		return v, nil
	}
	return nil, ErrUnsupported
}

// Button is Generate for a button.
func (r *Registry) Button(b discordgo.Button, d Declaration) (discordgo.Button, error) {
	c, err := r.Generate(b, d)
	if err != nil {
		return b, err
	}
	return c.(discordgo.Button), nil
}

// SelectMenu is Generate for any select menu kind.
func (r *Registry) SelectMenu(m discordgo.SelectMenu, d Declaration) (discordgo.SelectMenu, error) {
	c, err := r.Generate(m, d)
	if err != nil {
		return m, err
	}
	return c.(discordgo.SelectMenu), nil
}

// TextInput is Generate for a modal text input.
func (r *Registry) TextInput(t discordgo.TextInput, d Declaration) (discordgo.TextInput, error) {
	c, err := r.Generate(t, d)
	if err != nil {
		return t, err
	}
	return c.(discordgo.TextInput), nil
}

func (r *Registry) register(t discordgo.ComponentType, d Declaration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var suffix string
	for {
		u, err := r.newID()
		if err != nil {
			return "", fmt.Errorf("generate component id: %w", err)
		}
		suffix = u.String()
		if r.suffixes[suffix] == 0 {
			break
		}
	}

	now := r.now()
	e := &Entry{
		Type:        t,
		ID:          d.Prefix + "_" + suffix,
		CreatedAt:   now,
		Declaration: d,
	}
	if d.TTL > 0 {
		e.ExpiresAt = now.Add(d.TTL)
	}
	r.entries[key{t, e.ID}] = e
	r.suffixes[suffix]++
	return e.ID, nil
}

func (r *Registry) drop(k key) {
	if _, ok := r.entries[k]; !ok {
		return
	}
	delete(r.entries, k)
	if i := strings.LastIndexByte(k.id, '_'); i >= 0 {
		suffix := k.id[i+1:]
		if r.suffixes[suffix]--; r.suffixes[suffix] <= 0 {
			delete(r.suffixes, suffix)
		}
	}
}

// RemoveExpired drops every entry whose expiry has passed.
func (r *Registry) RemoveExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeExpired(r.now())
}

func (r *Registry) removeExpired(now time.Time) {
	for k, e := range r.entries {
		if e.expired(now) {
			r.drop(k)
		}
	}
}

// Find expires stale entries and returns the entry for the exact custom id.
func (r *Registry) Find(t discordgo.ComponentType, id string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeExpired(r.now())
	return r.entries[key{t, id}]
}

// Touch pushes the expiry of a TTL entry TTL into the future.
func (r *Registry) Touch(t discordgo.ComponentType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key{t, id}]; ok && e.TTL > 0 {
		e.ExpiresAt = r.now().Add(e.TTL)
	}
}

// Remove deletes the entry, as done after a one-shot component ran.
func (r *Registry) Remove(t discordgo.ComponentType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop(key{t, id})
}

// Len returns the number of live and not yet swept entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
