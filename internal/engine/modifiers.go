package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/a-essam23/go-relay/pkg/pipeline"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

const (
	ModifierSecure    = "secure"
	ModifierRateLimit = "rate_limit"
)

var ErrRateLimited = errors.New("rate limit exceeded")

func validateSecureParams(params []string) error {
	if len(params) != 0 {
		return errors.New("'secure' modifier does not accept any parameters")
	}
	return nil
}

func newSecureModifier(jwtSecret string) pipeline.ModifierFunc {
	return func(pctx *pipeline.Cargo, params ...string) error {
		if err := validateSecureParams(params); err != nil {
			return err
		}
		if jwtSecret == "" {
			return errors.New("secure event rejected: no signing secret configured")
		}

		tokenResult := gjson.GetBytes(pctx.Payload, "token")
		if !tokenResult.Exists() {
			return errors.New("request payload missing required 'token' field for secure event")
		}
		tokenString := tokenResult.String()
		if tokenString == "" {
			return errors.New("'token' field cannot be empty")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(jwtSecret), nil
		})
		if err != nil {
			return fmt.Errorf("token validation failed: %w", err)
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			pctx.TokenClaims = claims
			pctx.Logger.Debug("Secure modifier check passed", slog.Any("sub", claims["sub"]))
			return nil
		}
		return errors.New("invalid token")
	}
}

type rateLimitState struct {
	Requests int
}

// parseRate reads "<count>/<s|m|h>".
func parseRate(raw string) (int, time.Duration, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate_limit format: %s", raw)
	}
	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("invalid rate_limit count: %s", parts[0])
	}

	var window time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		window = time.Second
	case "m":
		window = time.Minute
	case "h":
		window = time.Hour
	default:
		return 0, 0, fmt.Errorf("invalid rate_limit duration unit: %s", parts[1])
	}
	return limit, window, nil
}

func validateRateLimitParams(params []string) error {
	if len(params) != 1 {
		return errors.New("'rate_limit' modifier requires exactly one parameter (e.g., '10/m')")
	}
	_, _, err := parseRate(params[0])
	return err
}

// newRateLimitModifier counts events per connection and event name in a fixed window.
// Events from one connection arrive one at a time, so the counter needs no lock of its own.
func newRateLimitModifier(logger *slog.Logger) pipeline.ModifierFunc {
	return func(pctx *pipeline.Cargo, params ...string) error {
		if err := validateRateLimitParams(params); err != nil {
			return err
		}
		limit, window, _ := parseRate(params[0])

		connID := pctx.Connection.ID
		eventName := pctx.EventName
		manager := pctx.StateManager

		existing, found := manager.GetModifierState(ModifierRateLimit, connID, eventName)
		if !found {
			newState := &state.ModifierState{Value: &rateLimitState{Requests: 1}}
			newState.Timer = time.AfterFunc(window, func() {
				logger.Debug("Auto-cleaning expired rate_limit state", slog.String("connID", connID.String()), slog.String("event", eventName))
				manager.DeleteModifierState(ModifierRateLimit, connID, eventName)
			})
			manager.SetModifierState(ModifierRateLimit, connID, eventName, newState)
			return nil
		}

		current := existing.Value.(*rateLimitState)
		if current.Requests < limit {
			current.Requests++
			return nil
		}
		return fmt.Errorf("event '%s': %w", eventName, ErrRateLimited)
	}
}
