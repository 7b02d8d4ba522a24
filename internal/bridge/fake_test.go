package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"homedash/internal/ha"
)

var errReadTimeout = errors.New("i/o timeout")

// fakeConn is an in-memory push connection fed through in
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	writes   [][]byte
	deadline time.Time
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

// handshakeConn is a connection that completes auth and subscribe
func handshakeConn() *fakeConn {
	c := newFakeConn()
	c.in <- []byte(`{"type":"auth_required","ha_version":"2024.1.0"}`)
	c.in <- []byte(`{"type":"auth_ok","ha_version":"2024.1.0"}`)
	c.in <- []byte(`{"id":1,"type":"result","success":true,"result":null}`)
	return c
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	case <-timeout:
		return nil, errReadTimeout
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		out = append(out, string(w))
	}
	return out
}

// fakeDialer hands out connections from dial, numbered from 1
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	dial  func(n int) (ha.PushConn, error)
}

func (d *fakeDialer) Dial(ctx context.Context) (ha.PushConn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()
	return d.dial(n)
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func unreachable(int) (ha.PushConn, error) {
	return nil, ha.ErrHubUnavailable
}

// recv waits for the next frame on sub
func recv(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case frame, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return string(frame)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}
