package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/internal/models"
	"github.com/a-essam23/go-relay/pkg/pipeline"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/a-essam23/go-relay/internal/router"

// PollService is the part of the vote aggregator the router drives.
type PollService interface {
	Vote(ctx context.Context, pollID, optionID, voterID string) (*models.Poll, error)
	Delete(ctx context.Context, pollID, requesterID string) error
}

// Notifier lets the REST layer push live events through the router.
type Notifier interface {
	Forward(identity, event string, payload any) Delivery
	Broadcast(event string, payload any) int
}

type Options struct {
	// Steps holds compiled modifiers per event name.
	Steps   map[string][]pipeline.Step
	Metrics *Metrics
	Tracer  trace.Tracer
}

type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	calls        state.CallTracker
	polls        PollService
	steps        map[string][]pipeline.Step
	handlers     map[string]pipeline.HandlerFunc
	metrics      *Metrics
	tracer       trace.Tracer
}

var _ Notifier = (*EventRouter)(nil)

// failure messages sent to the origin when a handler fails for an internal reason.
var failureMessages = map[string]string{
	EventVote:       "Failed to vote",
	EventDeletePoll: "Failed to delete poll",
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, calls state.CallTracker, polls PollService, opts Options) *EventRouter {
	r := &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		calls:        calls,
		polls:        polls,
		steps:        opts.Steps,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	if r.steps == nil {
		r.steps = map[string][]pipeline.Step{}
	}

	r.handlers = map[string]pipeline.HandlerFunc{
		EventAddUser:          r.handleAddUser,
		EventJoin:             r.handleJoin,
		EventSendMsg:          r.handleSendMsg,
		EventSendMessage:      r.handleSendMsg,
		EventSendVoiceMsg:     r.handleSendVoiceMsg,
		EventSendVoiceMessage: r.handleSendVoiceMsg,
		EventSendNotification: r.handleSendNotification,
		EventStartCall:        r.handleStartCall,
		EventAcceptCall:       r.handleAcceptCall,
		EventDeclineCall:      r.handleDeclineCall,
		EventEndCall:          r.handleEndCall,
		EventToggleMute:       r.handleToggleMute,
		EventHoldCall:         r.handleHoldCall,
		EventJoinRoom:         r.handleJoinRoom,
		EventLeaveRoom:        r.handleLeaveRoom,
		EventAddUserToCall:    r.handleAddUserToCall,
		EventVote:             r.handleVote,
		EventDeletePoll:       r.handleDeletePoll,
		EventNewInvite:        r.handleNewInvite,
	}
	return r
}

// Events lists the inbound event names the router understands, sorted.
func (r *EventRouter) Events() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HandleMessage decodes one inbound frame and runs it to completion. The transport
// calls it from the connection's read loop, so events of one connection never overlap.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "relay.event", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("relay.conn_id", connID.String()))

	conn, ok := r.stateManager.GetConnection(connID)
	if !ok {
		r.logger.Error("could not find connection profile for active connection", slog.String("connID", connID.String()))
		span.SetStatus(codes.Error, "unknown connection")
		return
	}

	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil || clientMsg.Event == "" {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		r.emitError(conn, "malformed message")
		r.finish(span, "invalid", "malformed", start)
		return
	}
	span.SetAttributes(attribute.String("relay.event", clientMsg.Event))

	handler, ok := r.handlers[clientMsg.Event]
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
		r.emitError(conn, fmt.Sprintf("unknown event '%s'", clientMsg.Event))
		r.finish(span, "unknown", "unknown", start)
		return
	}

	pctx := &pipeline.Cargo{
		Logger:       r.logger.With(slog.String("event", clientMsg.Event), slog.String("connID", connID.String())),
		Ctx:          ctx,
		Connection:   conn,
		StateManager: r.stateManager,
		EventName:    clientMsg.Event,
		Payload:      clientMsg.Payload,
	}

	if err := pipeline.Run(pctx, r.steps[clientMsg.Event]); err != nil {
		pctx.Logger.Warn("Event rejected by modifier", slog.Any("error", err))
		r.emitError(conn, err.Error())
		span.RecordError(err)
		r.finish(span, clientMsg.Event, "rejected", start)
		return
	}

	pctx.Logger.Debug("Executing event handler")
	if err := handler(pctx); err != nil {
		pctx.Logger.Warn("Event handler failed", slog.Any("error", err), slog.String("kind", apperr.KindOf(err).String()))
		r.emitError(conn, r.publicMessage(clientMsg.Event, err))
		span.RecordError(err)
		r.finish(span, clientMsg.Event, "error", start)
		return
	}
	r.finish(span, clientMsg.Event, "ok", start)
}

func (r *EventRouter) finish(span trace.Span, event, result string, start time.Time) {
	if result != "ok" {
		span.SetStatus(codes.Error, result)
	}
	r.metrics.RecordEvent(event, result, time.Since(start))
}

func (r *EventRouter) publicMessage(event string, err error) string {
	if apperr.KindOf(err) == apperr.Internal {
		if msg, ok := failureMessages[event]; ok {
			return msg
		}
	}
	return apperr.PublicMessage(err)
}

// HandleDisconnect releases everything the connection held. Call entries stay.
func (r *EventRouter) HandleDisconnect(connID uuid.UUID) {
	removed := r.stateManager.Unregister(connID)
	if err := r.stateManager.DeregisterConnection(connID); err != nil {
		r.logger.Error("Failed to deregister connection from state", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}
	r.logger.Info("Connection disconnected", slog.String("connID", connID.String()), slog.Any("identities", removed))
}

// decode unmarshals an event payload, reporting failures as validation errors.
func decode(pctx *pipeline.Cargo, v any) error {
	if len(pctx.Payload) == 0 {
		return apperr.Validationf("missing payload for '%s'", pctx.EventName)
	}
	if err := json.Unmarshal(pctx.Payload, v); err != nil {
		return apperr.Wrap(apperr.Validation, fmt.Sprintf("invalid payload for '%s'", pctx.EventName), err)
	}
	return nil
}

// require takes name/value pairs and fails on the first empty value.
func require(pctx *pipeline.Cargo, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return apperr.Validationf("'%s' requires '%s'", pctx.EventName, pairs[i])
		}
	}
	return nil
}
