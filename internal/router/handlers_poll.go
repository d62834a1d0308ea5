package router

import (
	"log/slog"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/pkg/pipeline"
)

func (r *EventRouter) handleVote(pctx *pipeline.Cargo) error {
	var p votePayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	poll, err := r.polls.Vote(pctx.Ctx, p.PollID, p.OptionID, p.UserID)
	if err != nil {
		return err
	}
	// recipients are read after the save, so late joiners still get the update
	r.Broadcast(OutPollUpdated, poll)
	return nil
}

// Non-creators and unknown polls get no answer on the wire.
func (r *EventRouter) handleDeletePoll(pctx *pipeline.Cargo) error {
	var p deletePollPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	err := r.polls.Delete(pctx.Ctx, p.PollID, p.UserID)
	switch {
	case err == nil:
		r.Broadcast(OutPollDeleted, p.PollID)
		return nil
	case apperr.IsKind(err, apperr.Forbidden), apperr.IsKind(err, apperr.NotFound):
		pctx.Logger.Info("Poll delete refused", slog.String("pollID", p.PollID), slog.String("userID", p.UserID), slog.Any("error", err))
		return nil
	default:
		return err
	}
}
