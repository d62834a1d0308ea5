package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/internal/blob"
	"github.com/a-essam23/go-relay/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const messageNotFound = "Message not found"

func (h *Handler) addMessage(c *gin.Context) {
	var req models.AddMessageRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.fail(c, apperr.Validationf("Message cannot be empty"))
		return
	}
	if req.From == "" || req.To == "" {
		h.fail(c, apperr.Validationf("Sender and receiver are required"))
		return
	}

	now := h.nowFn().UTC()
	m := &models.Message{
		ID:        uuid.NewString(),
		From:      req.From,
		To:        req.To,
		Text:      req.Message,
		Type:      models.MessageText,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateMessage(c.Request.Context(), m); err != nil {
		h.fail(c, fromStore(err, ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "Message added successfully."})
}

func (h *Handler) getMessages(c *gin.Context) {
	var req models.PairRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	msgs, err := h.store.ListMessages(c.Request.Context(), req.From, req.To, "")
	if err != nil {
		h.fail(c, fromStore(err, ""))
		return
	}
	lines := make([]models.ChatLine, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, models.ChatLine{FromSelf: m.From == req.From, Message: m.Text})
	}
	c.JSON(http.StatusOK, lines)
}

func (h *Handler) updateMessage(c *gin.Context) {
	var req models.UpdateMessageRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.fail(c, apperr.Validationf("Message cannot be empty"))
		return
	}
	if err := h.store.UpdateMessageText(c.Request.Context(), c.Param("messageId"), req.Message, h.nowFn().UTC()); err != nil {
		h.fail(c, fromStore(err, messageNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "Message updated successfully."})
}

func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.store.DeleteMessage(c.Request.Context(), c.Param("messageId")); err != nil {
		h.fail(c, fromStore(err, messageNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "Message deleted successfully."})
}

// addCall stores a call log entry as a message of kind call.
func (h *Handler) addCall(c *gin.Context) {
	var req models.AddCallRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.From == "" || req.To == "" {
		h.fail(c, apperr.Validationf("Sender and receiver are required"))
		return
	}

	now := h.nowFn().UTC()
	m := &models.Message{
		ID:        uuid.NewString(),
		From:      req.From,
		To:        req.To,
		Text:      fmt.Sprintf("Call %s: %s", req.Status, req.Type),
		Type:      models.MessageCall,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateMessage(c.Request.Context(), m); err != nil {
		h.fail(c, fromStore(err, ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": m})
}

func (h *Handler) getCalls(c *gin.Context) {
	var req models.PairRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	calls, err := h.store.ListMessages(c.Request.Context(), req.From, req.To, models.MessageCall)
	if err != nil {
		h.fail(c, fromStore(err, ""))
		return
	}
	if calls == nil {
		calls = []models.Message{}
	}
	c.JSON(http.StatusOK, calls)
}

// addVoice takes multipart fields from, to and the audio file.
func (h *Handler) addVoice(c *gin.Context) {
	from, to := c.PostForm("from"), c.PostForm("to")
	if from == "" || to == "" {
		h.fail(c, apperr.Validationf("Sender and receiver are required"))
		return
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		h.fail(c, apperr.Wrap(apperr.Validation, "Audio file is required", err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, apperr.Wrap(apperr.Internal, "open upload", err))
		return
	}
	defer f.Close()

	url, err := h.blobs.Save(fh.Filename, f)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			h.fail(c, apperr.Wrap(apperr.Validation, "Audio file is too large", err))
			return
		}
		h.fail(c, apperr.Wrap(apperr.Internal, "store audio", err))
		return
	}

	v := &models.VoiceMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		AudioURL:  url,
		CreatedAt: h.nowFn().UTC(),
	}
	if err := h.store.CreateVoiceMessage(c.Request.Context(), v); err != nil {
		if dErr := h.blobs.Delete(url); dErr != nil {
			h.logger.Warn("Failed to remove orphaned audio", slog.String("url", url), slog.Any("error", dErr))
		}
		h.fail(c, fromStore(err, ""))
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) getVoice(c *gin.Context) {
	voices, err := h.store.ListVoiceMessages(c.Request.Context(), c.Param("from"), c.Param("to"))
	if err != nil {
		h.fail(c, fromStore(err, ""))
		return
	}
	if voices == nil {
		voices = []models.VoiceMessage{}
	}
	c.JSON(http.StatusOK, voices)
}

func (h *Handler) deleteVoice(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	v, err := h.store.GetVoiceMessage(ctx, id)
	if err != nil {
		h.fail(c, fromStore(err, "Voice message not found"))
		return
	}
	if err := h.blobs.Delete(v.AudioURL); err != nil {
		h.logger.Warn("Failed to remove voice audio", slog.String("url", v.AudioURL), slog.Any("error", err))
	}
	if err := h.store.DeleteVoiceMessage(ctx, id); err != nil {
		h.fail(c, fromStore(err, "Voice message not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "Voice message deleted successfully."})
}
