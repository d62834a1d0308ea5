package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/golang-jwt/jwt/v5"
)

/*
 * The purpose of this is to detach the implementation of handlers and modifiers
 * from the actual router
 */

type Cargo struct {
	Logger       *slog.Logger
	Ctx          context.Context
	Connection   *state.Connection
	StateManager state.Manager
	EventName    string
	Payload      json.RawMessage
	// set by the secure modifier once a token checks out
	TokenClaims jwt.MapClaims
}

// ModifierFunc runs before an event handler; a non-nil error rejects the event.
type ModifierFunc func(pctx *Cargo, params ...string) error

// HandlerFunc carries out one inbound event.
type HandlerFunc func(pctx *Cargo) error

// represents one modifier bound to an event, with its raw params from config.
type Step struct {
	Name     string
	Function ModifierFunc
	Params   []string
}

// Run applies steps in order and stops at the first rejection.
func Run(pctx *Cargo, steps []Step) error {
	for _, step := range steps {
		if err := step.Function(pctx, step.Params...); err != nil {
			return err
		}
	}
	return nil
}
