// Package api exposes the document store over REST. Handlers are thin: they
// validate, call the store, and push live events through the router.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/internal/models"
	"github.com/a-essam23/go-relay/internal/router"
	"github.com/a-essam23/go-relay/internal/store"
	"github.com/gin-gonic/gin"
)

// PollService is the part of the vote aggregator the REST layer needs.
type PollService interface {
	Create(ctx context.Context, question string, options []models.CreatePollOption, createdBy string) (*models.Poll, error)
	List(ctx context.Context) ([]models.Poll, error)
}

// BlobStore keeps voice note audio.
type BlobStore interface {
	Save(originalName string, r io.Reader) (string, error)
	Delete(url string) error
}

type Handler struct {
	logger   *slog.Logger
	store    store.Store
	polls    PollService
	blobs    BlobStore
	notifier router.Notifier
	nowFn    func() time.Time
}

func New(logger *slog.Logger, st store.Store, polls PollService, blobs BlobStore, notifier router.Notifier) *Handler {
	return &Handler{
		logger:   logger.With(slog.String("component", "api")),
		store:    st,
		polls:    polls,
		blobs:    blobs,
		notifier: notifier,
		nowFn:    time.Now,
	}
}

// Register mounts every route under /api.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	users := api.Group("/users")
	users.POST("", h.createUser)
	users.GET("", h.listUsers)
	users.GET("/:id", h.getUser)

	groups := api.Group("/groups")
	groups.POST("/create", h.createGroup)
	groups.GET("/user/:userId", h.listGroups)
	groups.GET("/:groupId", h.getGroup)
	groups.POST("/add-member", h.addMember)
	groups.POST("/addMembers", h.addMembers)
	groups.POST("/remove-member", h.removeMember)
	groups.POST("/delete", h.deleteGroup)

	messages := api.Group("/messages")
	messages.POST("/addmsg", h.addMessage)
	messages.POST("/getmsg", h.getMessages)
	messages.PUT("/:messageId", h.updateMessage)
	messages.DELETE("/:messageId", h.deleteMessage)
	messages.POST("/add-call", h.addCall)
	messages.POST("/get-calls", h.getCalls)
	messages.POST("/addvoice", h.addVoice)
	messages.GET("/:from/:to", h.getVoice)
	messages.DELETE("/deletevoice/:id", h.deleteVoice)

	polls := api.Group("/polls")
	polls.POST("/Sendpoll", h.createPoll)
	polls.GET("/Getpoll", h.listPolls)

	notes := api.Group("/notification")
	notes.POST("/add", h.addNotification)
	notes.GET("/notifications/:email", h.listNotifications)
	notes.PUT("/notifications/read/:email", h.markNotificationsRead)
}

// fail writes {"msg": ...} with the status matching err's kind.
func (h *Handler) fail(c *gin.Context, err error) {
	h.failAs(c, "msg", err)
}

// failAs is fail with the message under key. Notification routes answer with "message".
func (h *Handler) failAs(c *gin.Context, key string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
	} else {
		h.logger.Debug("Request rejected", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(status, gin.H{key: apperr.PublicMessage(err)})
}

// bind decodes a JSON body, reporting failures as validation errors.
func bind(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperr.Wrap(apperr.Validation, "Invalid request body", err)
	}
	return nil
}

// fromStore classifies store errors; msg is shown for not-found and duplicate.
func fromStore(err error, msg string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, msg, err)
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Wrap(apperr.Conflict, msg, err)
	default:
		return apperr.Wrap(apperr.Internal, "store failure", err)
	}
}
