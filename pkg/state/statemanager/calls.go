package statemanager

import (
	"log/slog"
	"sync"

	"github.com/a-essam23/go-relay/pkg/state"
)

// BusyPolicy decides what happens when a receiver that already has an
// active call entry gets a start-call from a different caller. A repeat
// start-call from the current caller always goes through.
type BusyPolicy string

const (
	BusyOverwrite BusyPolicy = "overwrite"
	BusyReject    BusyPolicy = "reject"
)

// InMemoryCallTracker keeps receiver -> caller entries for ringing and ongoing calls.
type InMemoryCallTracker struct {
	mu     sync.RWMutex
	calls  map[string]string
	policy BusyPolicy
	logger *slog.Logger
}

func NewInMemoryCallTracker(logger *slog.Logger, policy BusyPolicy) *InMemoryCallTracker {
	if policy == "" {
		policy = BusyOverwrite
	}
	return &InMemoryCallTracker{
		calls:  make(map[string]string),
		policy: policy,
		logger: logger.With(slog.String("component", "call_tracker")),
	}
}

var _ state.CallTracker = (*InMemoryCallTracker)(nil)

func (t *InMemoryCallTracker) Start(receiver, caller string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, busy := t.calls[receiver]; busy && current != caller {
		if t.policy == BusyReject {
			t.logger.Debug("Receiver busy, call rejected",
				slog.String("receiver", receiver),
				slog.String("currentCaller", current),
				slog.String("caller", caller),
			)
			return false
		}
		t.logger.Debug("Replacing active call entry",
			slog.String("receiver", receiver),
			slog.String("previousCaller", current),
			slog.String("caller", caller),
		)
	}
	t.calls[receiver] = caller
	return true
}

func (t *InMemoryCallTracker) Caller(receiver string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	caller, ok := t.calls[receiver]
	return caller, ok
}

func (t *InMemoryCallTracker) Clear(receiver string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	caller, ok := t.calls[receiver]
	delete(t.calls, receiver)
	return caller, ok
}

func (t *InMemoryCallTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.calls)
}
