package api

import (
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-relay/internal/models"
	"github.com/a-essam23/go-relay/internal/router"
	"github.com/gin-gonic/gin"
)

// createPoll persists a poll and announces it to every live connection.
func (h *Handler) createPoll(c *gin.Context) {
	var req models.CreatePollRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	p, err := h.polls.Create(c.Request.Context(), req.Question, req.Options, req.CreatedBy)
	if err != nil {
		h.fail(c, err)
		return
	}
	n := h.notifier.Broadcast(router.OutNewPoll, p)
	h.logger.Debug("Announced new poll", slog.String("pollID", p.ID), slog.Int("delivered", n))
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listPolls(c *gin.Context) {
	list, err := h.polls.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []models.Poll{}
	}
	c.JSON(http.StatusOK, list)
}
