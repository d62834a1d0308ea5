package router

import (
	"log/slog"
	"strings"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/pkg/pipeline"
	"github.com/tidwall/gjson"
)

// identityFrom accepts a bare JSON string or number, or an object carrying one of keys.
func identityFrom(payload []byte, keys ...string) string {
	res := gjson.ParseBytes(payload)
	switch res.Type {
	case gjson.String:
		return strings.TrimSpace(res.String())
	case gjson.Number:
		return res.Raw
	case gjson.JSON:
		if !res.IsObject() {
			return ""
		}
		for _, key := range keys {
			if v := res.Get(key); v.Exists() && v.String() != "" {
				return strings.TrimSpace(v.String())
			}
		}
	}
	return ""
}

func (r *EventRouter) register(pctx *pipeline.Cargo, active bool, keys ...string) (string, error) {
	identity := identityFrom(pctx.Payload, keys...)
	if identity == "" {
		return "", apperr.Validationf("'%s' requires an identity", pctx.EventName)
	}
	register := r.stateManager.Register
	if active {
		register = r.stateManager.RegisterActive
	}
	if err := register(identity, pctx.Connection); err != nil {
		return "", apperr.Wrap(apperr.Internal, "register identity", err)
	}
	pctx.Logger.Info("Identity online", slog.String("identity", identity))
	return identity, nil
}

func (r *EventRouter) handleAddUser(pctx *pipeline.Cargo) error {
	_, err := r.register(pctx, false, "email", "userId")
	return err
}

func (r *EventRouter) handleJoin(pctx *pipeline.Cargo) error {
	if _, err := r.register(pctx, true, "userId", "email"); err != nil {
		return err
	}
	r.Broadcast(OutActiveUsers, r.stateManager.ActiveUsers())
	return nil
}

func (r *EventRouter) handleSendMsg(pctx *pipeline.Cargo) error {
	var p sendMsgPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "to", p.To); err != nil {
		return err
	}
	d := r.Forward(p.To, OutMsgReceive, msgReceive{Msg: p.Msg, From: p.From})
	pctx.Logger.Debug("Message routed", slog.String("to", p.To), slog.String("from", p.From), slog.String("outcome", d.String()))
	return nil
}

func (r *EventRouter) handleSendVoiceMsg(pctx *pipeline.Cargo) error {
	var p sendVoicePayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "to", p.To, "audioUrl", p.AudioURL); err != nil {
		return err
	}
	r.Forward(p.To, OutReceiveVoiceMsg, voiceReceive{AudioURL: p.AudioURL, From: p.From})
	return nil
}

func (r *EventRouter) handleSendNotification(pctx *pipeline.Cargo) error {
	var p notificationPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "email", p.Email); err != nil {
		return err
	}
	r.Forward(p.Email, OutNewNotification, p)
	return nil
}

func (r *EventRouter) handleJoinRoom(pctx *pipeline.Cargo) error {
	var p roomPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "roomId", p.RoomID); err != nil {
		return err
	}
	if err := r.stateManager.JoinRoom(pctx.Connection.ID, p.RoomID); err != nil {
		return apperr.Wrap(apperr.Internal, "join room", err)
	}
	return nil
}

func (r *EventRouter) handleLeaveRoom(pctx *pipeline.Cargo) error {
	var p roomPayload
	if err := decode(pctx, &p); err != nil {
		return err
	}
	if err := require(pctx, "roomId", p.RoomID); err != nil {
		return err
	}
	if err := r.stateManager.LeaveRoom(pctx.Connection.ID, p.RoomID); err != nil {
		return apperr.Wrap(apperr.Internal, "leave room", err)
	}
	return nil
}

func (r *EventRouter) handleNewInvite(pctx *pipeline.Cargo) error {
	if len(pctx.Payload) == 0 {
		return apperr.Validationf("missing payload for '%s'", pctx.EventName)
	}
	r.Broadcast(OutNewInvite, pctx.Payload)
	return nil
}
