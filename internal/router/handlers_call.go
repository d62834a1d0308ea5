package router

import (
	"log/slog"

	"github.com/a-essam23/go-relay/pkg/pipeline"
)

func (r *EventRouter) handleStartCall(pctx *pipeline.Cargo) error {
	var p callPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "callerId", p.CallerID, "receiverId", p.ReceiverID); err != nil {
		return err
	}

	if !r.calls.Start(p.ReceiverID, p.CallerID) {
		pctx.Logger.Info("Receiver busy", slog.String("caller", p.CallerID), slog.String("receiver", p.ReceiverID))
		r.Forward(p.CallerID, OutCallBusy, callBusy{ReceiverID: p.ReceiverID})
		return nil
	}
	d := r.Forward(p.ReceiverID, OutIncomingCall, incomingCall{CallerID: p.CallerID, PeerID: p.PeerID})
	pctx.Logger.Info("Call initiated", slog.String("caller", p.CallerID), slog.String("receiver", p.ReceiverID), slog.String("outcome", d.String()))
	return nil
}

// accept-call leaves the call entry in place.
func (r *EventRouter) handleAcceptCall(pctx *pipeline.Cargo) error {
	var p callPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "callerId", p.CallerID); err != nil {
		return err
	}
	r.Forward(p.CallerID, OutCallAccepted, callAccepted{PeerID: p.PeerID})
	return nil
}

func (r *EventRouter) handleDeclineCall(pctx *pipeline.Cargo) error {
	var p callPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "callerId", p.CallerID, "receiverId", p.ReceiverID); err != nil {
		return err
	}
	r.calls.Clear(p.ReceiverID)
	r.Forward(p.CallerID, OutCallDeclined, nil)
	return nil
}

func (r *EventRouter) handleEndCall(pctx *pipeline.Cargo) error {
	var p callPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "callerId", p.CallerID, "receiverId", p.ReceiverID); err != nil {
		return err
	}
	r.calls.Clear(p.ReceiverID)
	r.Forward(p.ReceiverID, OutCallEnded, nil)
	r.Forward(p.CallerID, OutCallEnded, nil)
	pctx.Logger.Info("Call ended", slog.String("caller", p.CallerID), slog.String("receiver", p.ReceiverID))
	return nil
}

func (r *EventRouter) handleToggleMute(pctx *pipeline.Cargo) error {
	var p mutePayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "userId", p.UserID); err != nil {
		return err
	}
	r.Forward(p.UserID, OutToggleMute, muteState{IsMuted: p.IsMuted})
	return nil
}

func (r *EventRouter) handleHoldCall(pctx *pipeline.Cargo) error {
	var p holdPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "userId", p.UserID); err != nil {
		return err
	}
	r.Forward(p.UserID, OutHoldCall, holdState{IsOnHold: p.IsOnHold})
	return nil
}

func (r *EventRouter) handleAddUserToCall(pctx *pipeline.Cargo) error {
	var p addToCallPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "roomId", p.RoomID, "newUserId", p.NewUserID); err != nil {
		return err
	}
	n := r.RoomBroadcast(p.RoomID, OutUserAdded, userAdded{NewUserID: p.NewUserID})
	pctx.Logger.Debug("User added to call", slog.String("roomID", p.RoomID), slog.Int("notified", n))
	return nil
}
