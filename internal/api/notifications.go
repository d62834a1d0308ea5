package api

import (
	"net/http"
	"strings"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/internal/models"
	"github.com/a-essam23/go-relay/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const notificationKey = "message"

// addNotification stores the notification and pushes it when the recipient is online.
func (h *Handler) addNotification(c *gin.Context) {
	var req models.AddNotificationRequest
	if err := bind(c, &req); err != nil {
		h.failAs(c, notificationKey, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" || req.Email == "" {
		h.failAs(c, notificationKey, apperr.Validationf("Message and email are required."))
		return
	}

	n := &models.Notification{
		ID:        uuid.NewString(),
		Email:     req.Email,
		Message:   req.Message,
		Timestamp: h.nowFn().UTC(),
	}
	if err := h.store.CreateNotification(c.Request.Context(), n); err != nil {
		h.failAs(c, notificationKey, fromStore(err, ""))
		return
	}
	h.notifier.Forward(n.Email, router.OutNewNotification, n)
	c.JSON(http.StatusCreated, gin.H{notificationKey: "Notification added successfully."})
}

func (h *Handler) listNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	email := c.Param("email")
	notes, err := h.store.ListNotifications(ctx, email)
	if err != nil {
		h.failAs(c, notificationKey, fromStore(err, ""))
		return
	}
	unread, err := h.store.CountUnread(ctx, email)
	if err != nil {
		h.failAs(c, notificationKey, fromStore(err, ""))
		return
	}
	if notes == nil {
		notes = []models.Notification{}
	}
	c.JSON(http.StatusOK, models.NotificationList{Notifications: notes, UnreadCount: unread})
}

func (h *Handler) markNotificationsRead(c *gin.Context) {
	updated, err := h.store.MarkAllRead(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.failAs(c, notificationKey, fromStore(err, ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{notificationKey: "Notifications marked as read.", "updated": updated})
}
