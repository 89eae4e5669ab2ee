// Package stats reports the server count to koreanbots.dev.
package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL  = "https://koreanbots.dev/api/v2"
	DefaultInterval = 10 * time.Minute
)

// Payload is the body of a stats update.
type Payload struct {
	Servers int64 `json:"servers"`
	Shards  int   `json:"shards"`
}

// Poster periodically posts Payload for the bot.
type Poster struct {
	Token    string
	BaseURL  string
	Interval time.Duration
	Client   *http.Client
	Logger   *log.Logger

	// ClientID and Servers are asked on every update.
	ClientID func(ctx context.Context) (string, error)
	Servers  func(ctx context.Context) (int64, error)
	Shards   int
}

// Post sends one update.
func (p *Poster) Post(ctx context.Context) error {
	id, err := p.ClientID(ctx)
	if err != nil {
		return fmt.Errorf("client id: %w", err)
	}
	servers, err := p.Servers(ctx)
	if err != nil {
		return fmt.Errorf("count servers: %w", err)
	}
	body, err := json.Marshal(Payload{Servers: servers, Shards: p.Shards})
	if err != nil {
		return err
	}

	base := p.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/bots/"+id+"/stats", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.Token)

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("koreanbots: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

// Run posts every Interval until ctx ends. Failures are logged, not returned.
func (p *Poster) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Post(ctx); err != nil {
				logger.Error("stats update failed", "err", err)
			}
		}
	}
}
