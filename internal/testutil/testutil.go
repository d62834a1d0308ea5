// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/a-essam23/go-relay/internal/store"
	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

// NewLogger routes slog output through the test's log.
func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return logging.FromCore(zaptest.NewLogger(t).Core())
}

// Frame is a decoded outbound envelope.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// FakeTransport records every frame sent to it instead of writing to a socket.
type FakeTransport struct {
	id uuid.UUID

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	closeErr error
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{id: uuid.New()}
}

func (f *FakeTransport) ID() uuid.UUID { return f.id }

func (f *FakeTransport) Send(message []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.frames = append(f.frames, message)
	return true
}

func (f *FakeTransport) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeErr = err
}

func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Frames decodes everything sent so far.
func (f *FakeTransport) Frames(t *testing.T) []Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Frame, 0, len(f.frames))
	for _, raw := range f.frames {
		var fr Frame
		if err := json.Unmarshal(raw, &fr); err != nil {
			t.Fatalf("undecodable frame %q: %v", raw, err)
		}
		out = append(out, fr)
	}
	return out
}

// Events lists the event names sent so far, in order.
func (f *FakeTransport) Events(t *testing.T) []string {
	t.Helper()
	frames := f.Frames(t)
	names := make([]string, len(frames))
	for i, fr := range frames {
		names[i] = fr.Event
	}
	return names
}

// Last returns the most recent frame named event, failing the test if there is none.
func (f *FakeTransport) Last(t *testing.T, event string) Frame {
	t.Helper()
	frames := f.Frames(t)
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == event {
			return frames[i]
		}
	}
	t.Fatalf("no %q frame sent; got %v", event, f.Events(t))
	return Frame{}
}

func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// NewStore opens a private in-memory sqlite store closed at test end.
func NewStore(t *testing.T) *store.SQLStore {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	s, err := store.Open(context.Background(), NewLogger(t), store.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
