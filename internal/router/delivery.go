package router

import (
	"encoding/json"
	"log/slog"

	"github.com/a-essam23/go-relay/pkg/state"
)

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(ServerMessage{Event: event, Payload: payload})
}

// Forward sends event to the connection currently registered for identity.
// Offline identities are dropped, never queued.
func (r *EventRouter) Forward(identity, event string, payload any) Delivery {
	d := r.forward(identity, event, payload)
	r.metrics.RecordDelivery(event, d)
	return d
}

func (r *EventRouter) forward(identity, event string, payload any) Delivery {
	if identity == "" {
		return Dropped
	}
	conn, ok := r.stateManager.Lookup(identity)
	if !ok {
		r.logger.Debug("Recipient offline, dropping event", slog.String("identity", identity), slog.String("event", event))
		return Dropped
	}
	msg, err := encode(event, payload)
	if err != nil {
		r.logger.Error("Failed to marshal outbound event", slog.String("event", event), slog.Any("error", err))
		return Dropped
	}
	if !conn.Transport.Send(msg) {
		r.logger.Debug("Recipient connection refused frame", slog.String("identity", identity), slog.String("event", event))
		return Dropped
	}
	return Delivered
}

// Broadcast sends event to every live connection and returns how many accepted it.
func (r *EventRouter) Broadcast(event string, payload any) int {
	return r.fanOut(r.stateManager.AllConnections(), event, payload)
}

// RoomBroadcast sends event to every connection subscribed to roomID.
func (r *EventRouter) RoomBroadcast(roomID, event string, payload any) int {
	return r.fanOut(r.stateManager.RoomConnections(roomID), event, payload)
}

func (r *EventRouter) fanOut(conns []*state.Connection, event string, payload any) int {
	if len(conns) == 0 {
		return 0
	}
	msg, err := encode(event, payload)
	if err != nil {
		r.logger.Error("Failed to marshal outbound event", slog.String("event", event), slog.Any("error", err))
		return 0
	}
	delivered := 0
	for _, c := range conns {
		if c.Transport.Send(msg) {
			delivered++
		}
	}
	r.logger.Debug("Fanned out event", slog.String("event", event), slog.Int("targets", len(conns)), slog.Int("delivered", delivered))
	return delivered
}

// emitError answers the origin connection only.
func (r *EventRouter) emitError(conn *state.Connection, message string) {
	msg, err := encode(OutError, errorPayload{Message: message})
	if err != nil {
		r.logger.Error("Failed to marshal error event", slog.Any("error", err))
		return
	}
	conn.Transport.Send(msg)
}
