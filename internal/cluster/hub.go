package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/keshon/shardbot/pkg/util"
)

// Hub is the parent side of the fan-out: it answers every child's fetch by
// asking all children and summing.
type Hub struct {
	logger *log.Logger

	mu    sync.RWMutex
	links map[int]*link
}

// NewHub returns an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{logger: logger, links: make(map[int]*link)}
}

// Attach serves the frames a child writes to r; frames for the child go to w.
// It returns when r is exhausted.
func (h *Hub) Attach(ctx context.Context, id int, r io.Reader, w io.Writer) {
	l := newLink(w)
	h.mu.Lock()
	if old, ok := h.links[id]; ok {
		old.close()
	}
	h.links[id] = l
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.links[id] == l {
			delete(h.links, id)
		}
		h.mu.Unlock()
		l.close()
	}()

	dec := json.NewDecoder(r)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			if err != io.EOF {
				h.logger.Debug("cluster link closed", "cluster", id, "err", err)
			}
			return
		}
		switch f.Op {
		case opResult:
			l.resolve(f)
		case opFetch:
			go func() {
				sum, err := h.Sum(ctx, f.Key)
				if err := l.send(frame{Op: opReply, ID: f.ID, Value: sum, Error: errString(err)}); err != nil {
					h.logger.Warn("cluster reply failed", "cluster", id, "err", err)
				}
			}()
		default:
			h.logger.Warn("unexpected frame from cluster", "cluster", id, "op", f.Op)
		}
	}
}

// Clusters returns the ids of the attached children.
func (h *Hub) Clusters() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.links))
}

// Sum asks every attached child for key and adds the answers.
func (h *Hub) Sum(ctx context.Context, key string) (int64, error) {
	h.mu.RLock()
	links := slices.Collect(maps.Values(h.links))
	h.mu.RUnlock()

	values := make([]int64, len(links))
	idx := make([]int, len(links))
	for i := range idx {
		idx[i] = i
	}
	err := util.Parallel(ctx, idx, len(idx), func(ctx context.Context, i int) error {
		res, err := links[i].call(ctx, frame{Op: opEval, Key: key})
		if err != nil {
			return fmt.Errorf("eval %s: %w", key, err)
		}
		values[i] = res.Value
		return nil
	})
	if err != nil {
		return 0, err
	}
	return util.Sum(values), nil
}
