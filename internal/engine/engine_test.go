package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/a-essam23/go-relay/internal/engine"
	"github.com/a-essam23/go-relay/internal/testutil"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/pipeline"
	"github.com/a-essam23/go-relay/pkg/state/statemanager"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func newRegistry(t *testing.T) *engine.Registry {
	r := engine.New(testutil.NewLogger(t))
	r.RegisterCore(&engine.RegisterCoreOptions{JWTsecret: secret})
	return r
}

func newCargo(t *testing.T, event string, payload string) *pipeline.Cargo {
	t.Helper()
	m := statemanager.NewInMemoryManager(testutil.NewLogger(t))
	conn, err := m.RegisterConnection(testutil.NewFakeTransport(), "127.0.0.1", "")
	if err != nil {
		t.Fatalf("RegisterConnection: %v", err)
	}
	return &pipeline.Cargo{
		Logger:       testutil.NewLogger(t),
		Ctx:          context.Background(),
		Connection:   conn,
		StateManager: m,
		EventName:    event,
		Payload:      json.RawMessage(payload),
	}
}

func TestCompile(t *testing.T) {
	r := newRegistry(t)

	steps, err := r.Compile(map[string]config.EventConfig{
		"send-msg": {Modifiers: []config.ModifierConfig{{Name: "rate_limit", Params: []string{"5/s"}}}},
		"vote":     {Modifiers: []config.ModifierConfig{{Name: "secure"}}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(steps["send-msg"]) != 1 || steps["send-msg"][0].Name != "rate_limit" {
		t.Fatalf("unexpected steps %+v", steps["send-msg"])
	}

	bad := []map[string]config.EventConfig{
		{"x": {Modifiers: []config.ModifierConfig{{Name: "nope"}}}},
		{"x": {Modifiers: []config.ModifierConfig{{Name: "rate_limit", Params: []string{"ten/s"}}}}},
		{"x": {Modifiers: []config.ModifierConfig{{Name: "rate_limit", Params: []string{"10/d"}}}}},
		{"x": {Modifiers: []config.ModifierConfig{{Name: "secure", Params: []string{"extra"}}}}},
	}
	for _, events := range bad {
		if _, err := r.Compile(events); err == nil {
			t.Errorf("expected compile error for %+v", events)
		}
	}
}

func TestRegisterModifierDuplicatePanics(t *testing.T) {
	r := newRegistry(t)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.RegisterModifier("secure", func(*pipeline.Cargo, ...string) error { return nil }, nil)
}

func TestRateLimitRejectsAfterLimit(t *testing.T) {
	r := newRegistry(t)
	limit, _ := r.GetModifierFunc("rate_limit")
	pctx := newCargo(t, "send-msg", `{}`)

	for i := 0; i < 3; i++ {
		if err := limit(pctx, "3/m"); err != nil {
			t.Fatalf("request %d should pass, got %v", i+1, err)
		}
	}
	if err := limit(pctx, "3/m"); !errors.Is(err, engine.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// a different event has its own window
	pctx.EventName = "vote"
	if err := limit(pctx, "3/m"); err != nil {
		t.Fatalf("other event should not be limited, got %v", err)
	}
}

func TestRateLimitWindowExpires(t *testing.T) {
	r := newRegistry(t)
	limit, _ := r.GetModifierFunc("rate_limit")
	pctx := newCargo(t, "send-msg", `{}`)

	if err := limit(pctx, "1/s"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := limit(pctx, "1/s"); err == nil {
		t.Fatal("second request in window should be rejected")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, found := pctx.StateManager.GetModifierState("rate_limit", pctx.Connection.ID, "send-msg"); !found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rate_limit state never expired")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := limit(pctx, "1/s"); err != nil {
		t.Fatalf("request after window should pass, got %v", err)
	}
}

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestSecureModifier(t *testing.T) {
	r := newRegistry(t)
	secure, _ := r.GetModifierFunc("secure")
	good := sign(t, secret, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	forged := sign(t, "other", jwt.MapClaims{"sub": "alice"})
	expired := sign(t, secret, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()})

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid token", `{"token":"` + good + `","pollId":"p1"}`, false},
		{"missing token", `{"pollId":"p1"}`, true},
		{"empty token", `{"token":""}`, true},
		{"wrong key", `{"token":"` + forged + `"}`, true},
		{"expired", `{"token":"` + expired + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pctx := newCargo(t, "vote", tt.payload)
			err := secure(pctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && pctx.TokenClaims["sub"] != "alice" {
				t.Fatalf("expected claims to be attached, got %v", pctx.TokenClaims)
			}
		})
	}
}
