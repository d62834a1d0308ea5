package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const groupNotFound = "Group not found"

func (h *Handler) createGroup(c *gin.Context) {
	var req models.CreateGroupRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Members == nil || req.CreatedBy == "" {
		h.fail(c, apperr.Validationf("Please provide all required fields"))
		return
	}
	members := dedupe(req.Members)
	if len(members) < 2 {
		h.fail(c, apperr.Validationf("A group must have at least 2 members"))
		return
	}

	now := h.nowFn().UTC()
	g := &models.Group{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Username:  req.Name,
		Members:   members,
		CreatedBy: req.CreatedBy,
		IsGroup:   true,
		Avatar:    req.Avatar,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateGroup(c.Request.Context(), g); err != nil {
		h.fail(c, fromStore(err, "Group already exists"))
		return
	}
	h.logger.Info("Group created", slog.String("groupID", g.ID), slog.String("createdBy", g.CreatedBy))
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) listGroups(c *gin.Context) {
	groups, err := h.store.ListGroupsByMember(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, fromStore(err, ""))
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	c.JSON(http.StatusOK, groups)
}

func (h *Handler) getGroup(c *gin.Context) {
	g, err := h.store.GetGroup(c.Request.Context(), c.Param("groupId"))
	if err != nil {
		h.fail(c, fromStore(err, groupNotFound))
		return
	}
	c.JSON(http.StatusOK, g)
}

// loadOwned fetches the group and checks that actor created it.
func (h *Handler) loadOwned(c *gin.Context, groupID, actor, denied string) (*models.Group, error) {
	g, err := h.store.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		return nil, fromStore(err, groupNotFound)
	}
	if g.CreatedBy != actor {
		return nil, apperr.Forbiddenf("%s", denied)
	}
	return g, nil
}

func (h *Handler) addMember(c *gin.Context) {
	var req models.AddMemberRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.GroupID == "" || req.UserID == "" || req.AddedBy == "" {
		h.fail(c, apperr.Validationf("Group ID, User ID and addedBy are required"))
		return
	}
	g, err := h.loadOwned(c, req.GroupID, req.AddedBy, "Only the group admin can add members")
	if err != nil {
		h.fail(c, err)
		return
	}
	if g.HasMember(req.UserID) {
		h.fail(c, apperr.Validationf("User is already a member of this group"))
		return
	}
	h.saveMembers(c, g, append(g.Members, req.UserID))
}

func (h *Handler) addMembers(c *gin.Context) {
	var req models.AddMembersRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.GroupID == "" || len(req.NewMembers) == 0 || req.AddedBy == "" {
		h.fail(c, apperr.Validationf("Group ID, addedBy and new members array are required"))
		return
	}
	g, err := h.loadOwned(c, req.GroupID, req.AddedBy, "Only the group admin can add members")
	if err != nil {
		h.fail(c, err)
		return
	}
	members := g.Members
	for _, id := range dedupe(req.NewMembers) {
		if !g.HasMember(id) {
			members = append(members, id)
		}
	}
	if len(members) == len(g.Members) {
		h.fail(c, apperr.Validationf("All users are already members of this group"))
		return
	}
	h.saveMembers(c, g, members)
}

func (h *Handler) removeMember(c *gin.Context) {
	var req models.RemoveMemberRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.GroupID == "" || req.UserID == "" || req.RemovedBy == "" {
		h.fail(c, apperr.Validationf("Group ID, User ID and removedBy are required"))
		return
	}
	g, err := h.loadOwned(c, req.GroupID, req.RemovedBy, "Only the group admin can remove members")
	if err != nil {
		h.fail(c, err)
		return
	}
	if !g.HasMember(req.UserID) {
		h.fail(c, apperr.Validationf("User is not a member of this group"))
		return
	}
	if req.UserID == g.CreatedBy {
		h.fail(c, apperr.Validationf("Cannot remove the group creator"))
		return
	}
	members := make([]string, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m != req.UserID {
			members = append(members, m)
		}
	}
	h.saveMembers(c, g, members)
}

func (h *Handler) saveMembers(c *gin.Context, g *models.Group, members []string) {
	now := h.nowFn().UTC()
	if err := h.store.SetGroupMembers(c.Request.Context(), g.ID, members, now); err != nil {
		h.fail(c, fromStore(err, groupNotFound))
		return
	}
	g.Members = members
	g.UpdatedAt = now
	c.JSON(http.StatusOK, g)
}

func (h *Handler) deleteGroup(c *gin.Context) {
	var req models.DeleteGroupRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.GroupID == "" || req.UserID == "" {
		h.fail(c, apperr.Validationf("Group ID and User ID are required"))
		return
	}
	if _, err := h.loadOwned(c, req.GroupID, req.UserID, "Only the group admin can delete the group"); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.DeleteGroup(c.Request.Context(), req.GroupID); err != nil {
		h.fail(c, fromStore(err, groupNotFound))
		return
	}
	h.logger.Info("Group deleted", slog.String("groupID", req.GroupID))
	c.JSON(http.StatusOK, gin.H{"msg": "Group deleted successfully"})
}

// dedupe keeps first occurrences and drops empty ids.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
