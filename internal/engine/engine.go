package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/pipeline"
)

/*
* The central registry for event modifiers.
* Modifiers are registered once at startup and attached to events through configuration.
 */
type Registry struct {
	logger *slog.Logger

	modifiers  map[string]pipeline.ModifierFunc
	validators map[string]func(params []string) error
	modifierMu sync.RWMutex
}

type RegisterCoreOptions struct {
	JWTsecret string
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		modifiers:  make(map[string]pipeline.ModifierFunc),
		validators: make(map[string]func([]string) error),
		logger:     logger.With(slog.String("component", "engine")),
	}
}

func (e *Registry) RegisterCore(opts *RegisterCoreOptions) {
	e.RegisterModifier(ModifierSecure, newSecureModifier(opts.JWTsecret), validateSecureParams)
	e.RegisterModifier(ModifierRateLimit, newRateLimitModifier(e.logger), validateRateLimitParams)
	e.logger.Info("Registered core modifiers", slog.Int("count", len(e.modifiers)))
}

// RegisterModifier panics on duplicate names. validate may be nil.
func (e *Registry) RegisterModifier(name string, fn pipeline.ModifierFunc, validate func(params []string) error) {
	e.modifierMu.Lock()
	defer e.modifierMu.Unlock()
	if _, exists := e.modifiers[name]; exists {
		panic("modifier function already registered: " + name)
	}
	e.modifiers[name] = fn
	if validate != nil {
		e.validators[name] = validate
	}
}

func (e *Registry) GetModifierFunc(name string) (pipeline.ModifierFunc, bool) {
	e.modifierMu.RLock()
	defer e.modifierMu.RUnlock()
	fn, ok := e.modifiers[name]
	return fn, ok
}

// Compile resolves the configured modifier bindings into executable steps,
// failing on unknown modifiers or malformed params.
func (e *Registry) Compile(events map[string]config.EventConfig) (map[string][]pipeline.Step, error) {
	e.modifierMu.RLock()
	defer e.modifierMu.RUnlock()

	compiled := make(map[string][]pipeline.Step, len(events))
	for eventName, eventCfg := range events {
		steps := make([]pipeline.Step, 0, len(eventCfg.Modifiers))
		for _, mod := range eventCfg.Modifiers {
			fn, ok := e.modifiers[mod.Name]
			if !ok {
				return nil, fmt.Errorf("event '%s': unknown modifier '%s'", eventName, mod.Name)
			}
			if validate, ok := e.validators[mod.Name]; ok {
				if err := validate(mod.Params); err != nil {
					return nil, fmt.Errorf("event '%s': modifier '%s': %w", eventName, mod.Name, err)
				}
			}
			steps = append(steps, pipeline.Step{Name: mod.Name, Function: fn, Params: mod.Params})
		}
		compiled[eventName] = steps
	}
	e.logger.Debug("Compiled event modifiers", slog.Int("events", len(compiled)))
	return compiled, nil
}
