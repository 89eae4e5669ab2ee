package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// ErrUnknownKey is returned when no provider is registered for a key.
var ErrUnknownKey = errors.New("cluster: unknown key")

// Provider returns this process's share of a counter.
type Provider func(ctx context.Context) (int64, error)

// Client is the child side. Without a parent link Sum only counts locally.
type Client struct {
	in     io.Reader
	link   *link
	logger *log.Logger

	ID    int
	Count int

	mu        sync.RWMutex
	providers map[string]Provider
}

// NewClient talks to the manager over r (parent to child) and w.
func NewClient(id, count int, r io.Reader, w io.Writer, logger *log.Logger) *Client {
	c := Local(id, count, logger)
	c.in = r
	c.link = newLink(w)
	return c
}

// Local returns a client for a process running without a manager.
func Local(id, count int, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{ID: id, Count: count, logger: logger, providers: make(map[string]Provider)}
}

// Provide registers the local value source for key.
func (c *Client) Provide(key string, p Provider) {
	c.mu.Lock()
	c.providers[key] = p
	c.mu.Unlock()
}

func (c *Client) local(ctx context.Context, key string) (int64, error) {
	c.mu.RLock()
	p, ok := c.providers[key]
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return p(ctx)
}

// Sum returns key added up across all clusters.
func (c *Client) Sum(ctx context.Context, key string) (int64, error) {
	if c.link == nil {
		return c.local(ctx, key)
	}
	res, err := c.link.call(ctx, frame{Op: opFetch, Key: key})
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", key, err)
	}
	return res.Value, nil
}

// Serve answers the manager until the input closes or ctx ends.
func (c *Client) Serve(ctx context.Context) error {
	if c.link == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	defer c.link.close()

	frames := make(chan frame)
	errc := make(chan error, 1)
	go func() {
		dec := json.NewDecoder(c.in)
		for {
			var f frame
			if err := dec.Decode(&f); err != nil {
				errc <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read manager link: %w", err)
		case f := <-frames:
			switch f.Op {
			case opReply:
				c.link.resolve(f)
			case opEval:
				go func() {
					v, err := c.local(ctx, f.Key)
					if err := c.link.send(frame{Op: opResult, ID: f.ID, Value: v, Error: errString(err)}); err != nil {
						c.logger.Warn("cluster result failed", "err", err)
					}
				}()
			}
		}
	}
}
