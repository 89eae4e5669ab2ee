package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Frames are exchanged as JSON lines over the child's stdin and stdout.
//
//	child  -> parent  fetch  {id, key}      ask for a cluster-wide sum
//	parent -> child   eval   {id, key}      ask for the local value
//	child  -> parent  result {id, value}    answer to eval
//	parent -> child   reply  {id, value}    answer to fetch
const (
	opFetch  = "fetch"
	opEval   = "eval"
	opResult = "result"
	opReply  = "reply"
)

// ErrClosed is returned for calls pending on a link that went away.
var ErrClosed = errors.New("cluster: link closed")

type frame struct {
	Op    string `json:"op"`
	ID    uint64 `json:"id"`
	Key   string `json:"key,omitempty"`
	Value int64  `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

func (f frame) err() error {
	if f.Error == "" {
		return nil
	}
	return errors.New(f.Error)
}

// link is one end of a frame stream with request/response correlation.
type link struct {
	wmu sync.Mutex
	enc *json.Encoder

	next    atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan frame
	closed  bool
}

func newLink(w io.Writer) *link {
	return &link{enc: json.NewEncoder(w), pending: make(map[uint64]chan frame)}
}

func (l *link) send(f frame) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.enc.Encode(f)
}

// call sends f with a fresh id and waits for the frame answering it.
func (l *link) call(ctx context.Context, f frame) (frame, error) {
	f.ID = l.next.Add(1)
	ch := make(chan frame, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return frame{}, ErrClosed
	}
	l.pending[f.ID] = ch
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, f.ID)
		l.mu.Unlock()
	}()

	if err := l.send(f); err != nil {
		return frame{}, err
	}
	select {
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return frame{}, ErrClosed
		}
		return res, res.err()
	}
}

func (l *link) resolve(f frame) {
	l.mu.Lock()
	ch, ok := l.pending[f.ID]
	delete(l.pending, f.ID)
	l.mu.Unlock()
	if ok {
		ch <- f
	}
}

func (l *link) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
