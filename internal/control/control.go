// Package control keeps a websocket to an external control server. Each
// inbound JSON message is routed by its "type" field.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Defaults for the reconnect loop.
const (
	DefaultAttempts = 5
	DefaultInterval = 5 * time.Second
)

// ErrGaveUp is returned by Run after the reconnect budget is spent.
var ErrGaveUp = errors.New("control: reconnect attempts exhausted")

// Message is an inbound message. Raw holds the full payload.
type Message struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Controller handles one message type.
type Controller func(ctx context.Context, conn *Conn, msg Message) error

// Conn is a websocket safe for concurrent writers.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Send writes v as a JSON text frame.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

type login struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Cluster string `json:"cluster"`
}

// Client dials URL and logs in as ClientID on behalf of Cluster.
type Client struct {
	URL      string
	ClientID func(ctx context.Context) (string, error)
	Cluster  int

	// Attempts and Interval bound reconnects. A successful login resets the count.
	Attempts int
	Interval time.Duration
	// Terminate runs once the budget is spent.
	Terminate func()

	Dialer *websocket.Dialer
	Header http.Header
	Logger *log.Logger

	mu          sync.RWMutex
	controllers map[string]Controller
}

// New returns a client with the default retry budget.
func New(url string, cluster int, clientID func(context.Context) (string, error), logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		URL:         url,
		ClientID:    clientID,
		Cluster:     cluster,
		Attempts:    DefaultAttempts,
		Interval:    DefaultInterval,
		Dialer:      websocket.DefaultDialer,
		Logger:      logger.WithPrefix("control"),
		controllers: make(map[string]Controller),
	}
}

// Handle registers c for messages of type t, replacing any previous one.
func (c *Client) Handle(t string, ctrl Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controllers == nil {
		c.controllers = make(map[string]Controller)
	}
	c.controllers[t] = ctrl
	c.Logger.Debug("added controller", "type", t)
}

func (c *Client) controller(t string) (Controller, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctrl, ok := c.controllers[t]
	return ctrl, ok
}

// Run connects and serves messages until ctx ends or reconnects run out.
func (c *Client) Run(ctx context.Context) error {
	retry := 0
	for {
		loggedIn, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if loggedIn {
			retry = 0
		}
		if retry >= c.Attempts {
			c.Logger.Error("control channel lost", "cluster", c.Cluster, "err", err)
			if c.Terminate != nil {
				c.Terminate()
			}
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		retry++
		c.Logger.Warn("control channel closed, retrying",
			"cluster", c.Cluster, "attempt", retry, "of", c.Attempts, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.Interval):
		}
	}
}

// session runs one connection. loggedIn reports whether login was sent.
func (c *Client) session(ctx context.Context) (loggedIn bool, err error) {
	ws, _, err := c.Dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	conn := &Conn{ws: ws}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.mu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.mu.Unlock()
		_ = ws.Close()
	})
	defer stop()

	id, err := c.ClientID(ctx)
	if err != nil {
		return false, fmt.Errorf("client id: %w", err)
	}
	if err := conn.Send(login{Type: "login", ID: id, Cluster: fmt.Sprint(c.Cluster)}); err != nil {
		return false, fmt.Errorf("login: %w", err)
	}
	c.Logger.Info("control channel connected", "cluster", c.Cluster)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return true, err
		}
		c.dispatch(ctx, conn, data)
	}
}

func (c *Client) dispatch(ctx context.Context, conn *Conn, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Logger.Warn("dropping malformed message", "err", err)
		return
	}
	if msg.Type == "" {
		return
	}
	ctrl, ok := c.controller(msg.Type)
	if !ok {
		c.Logger.Debug("no controller", "type", msg.Type)
		return
	}
	msg.Raw = data
	if err := ctrl(ctx, conn, msg); err != nil {
		c.Logger.Error("controller failed", "type", msg.Type, "err", err)
	}
}
