package api

import (
	"net/http"
	"strings"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func (h *Handler) createUser(c *gin.Context) {
	var req models.CreateUserRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" || req.Email == "" {
		h.fail(c, apperr.Validationf("Username and email are required"))
		return
	}

	u := &models.User{
		ID:        uuid.NewString(),
		Username:  req.Username,
		Email:     req.Email,
		Avatar:    req.Avatar,
		CreatedAt: h.nowFn().UTC(),
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			h.fail(c, apperr.Wrap(apperr.Validation, "Invalid password", err))
			return
		}
		u.PasswordHash = string(hash)
	}

	if err := h.store.CreateUser(c.Request.Context(), u); err != nil {
		h.fail(c, fromStore(err, "Email already used"))
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		h.fail(c, fromStore(err, ""))
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) getUser(c *gin.Context) {
	u, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, fromStore(err, "User not found"))
		return
	}
	c.JSON(http.StatusOK, u)
}
