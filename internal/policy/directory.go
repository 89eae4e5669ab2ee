package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DirectoryTTL is how long application info is trusted before refetching.
const DirectoryTTL = 4 * time.Hour

// AppInfo is the subset of GET /applications/@me the bot relies on.
type AppInfo struct {
	ID    string `json:"id"`
	Owner *struct {
		ID string `json:"id"`
	} `json:"owner"`
	Team *struct {
		Members []struct {
			Role string `json:"role"`
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"members"`
	} `json:"team"`
}

// AppInfoFetcher loads the current application info.
type AppInfoFetcher func(ctx context.Context) (*AppInfo, error)

// SessionAppInfo fetches application info through a discordgo session.
func SessionAppInfo(s *discordgo.Session) AppInfoFetcher {
	return func(ctx context.Context) (*AppInfo, error) {
		body, err := s.Request(http.MethodGet, discordgo.EndpointApplication("@me"), nil, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetch application info: %w", err)
		}
		var info AppInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, fmt.Errorf("decode application info: %w", err)
		}
		return &info, nil
	}
}

// Directory caches the client id and the bot admin and developer ids.
// Without a team the owner is the only admin and there are no developers.
type Directory struct {
	fetch AppInfoFetcher
	now   func() time.Time

	mu         sync.Mutex
	expires    time.Time
	clientID   string
	admins     []string
	developers []string
}

// NewDirectory returns a directory backed by fetch.
func NewDirectory(fetch AppInfoFetcher) *Directory {
	return &Directory{fetch: fetch, now: time.Now}
}

func (d *Directory) refresh(ctx context.Context) error {
	if d.now().Before(d.expires) {
		return nil
	}
	info, err := d.fetch(ctx)
	if err != nil {
		return err
	}

	var admins, developers []string
	if info.Team != nil {
		for _, m := range info.Team.Members {
			switch m.Role {
			case "admin":
				admins = append(admins, m.User.ID)
			case "developer":
				developers = append(developers, m.User.ID)
			}
		}
	} else if info.Owner != nil {
		admins = []string{info.Owner.ID}
	}

	d.clientID = info.ID
	d.admins = admins
	d.developers = developers
	d.expires = d.now().Add(DirectoryTTL)
	return nil
}

// ClientID returns the application id.
func (d *Directory) ClientID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.refresh(ctx); err != nil {
		return "", err
	}
	return d.clientID, nil
}

// Admins returns the bot admin ids.
func (d *Directory) Admins(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.refresh(ctx); err != nil {
		return nil, err
	}
	return d.admins, nil
}

// Developers returns the bot developer ids.
func (d *Directory) Developers(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.refresh(ctx); err != nil {
		return nil, err
	}
	return d.developers, nil
}
