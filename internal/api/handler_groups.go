package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"push-messenger-backend/internal/model"
)

const maxLabelLength = 255

// bindLabels reads a JSON array of group labels from the body.
func bindLabels(c *gin.Context) ([]string, bool) {
	var labels []string
	if err := c.ShouldBindJSON(&labels); err != nil {
		badRequest(c, "body must be a JSON array of group labels")
		return nil, false
	}
	if err := validateLabels(labels); err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	return labels, true
}

func validateLabels(labels []string) error {
	for _, l := range labels {
		if l == "" {
			return fmt.Errorf("group labels must not be empty")
		}
		if len(l) > maxLabelLength {
			return fmt.Errorf("group label longer than %d bytes", maxLabelLength)
		}
	}
	return nil
}

func labelsOf(groups []model.Group) []string {
	labels := make([]string, len(groups))
	for i, g := range groups {
		labels[i] = g.Label
	}
	return labels
}

func quoted(labels []string) string {
	return `"` + strings.Join(labels, `", "`) + `"`
}

// GetGroups handles listing the groups a user belongs to.
func (h *Handler) GetGroups(c *gin.Context) {
	userID := c.Param("userId")

	groups, err := h.store.ListGroups(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	labels := labelsOf(groups)
	c.JSON(http.StatusOK, gin.H{
		"groupLabels": labels,
		"message":     fmt.Sprintf("User %q is in groups %s", userID, quoted(labels)),
	})
}

// JoinGroups handles adding a user to groups, creating unknown ones.
func (h *Handler) JoinGroups(c *gin.Context) {
	userID := c.Param("userId")
	labels, ok := bindLabels(c)
	if !ok {
		return
	}

	groups, err := h.store.JoinGroups(c.Request.Context(), userID, labels)
	if err != nil {
		h.fail(c, err)
		return
	}

	joined := labelsOf(groups)
	c.JSON(http.StatusOK, gin.H{
		"groupLabels": joined,
		"message":     fmt.Sprintf("User %q added to groups %s", userID, quoted(joined)),
	})
}

// LeaveGroups handles removing a user from groups. Labels the user is not in are ignored.
func (h *Handler) LeaveGroups(c *gin.Context) {
	userID := c.Param("userId")
	labels, ok := bindLabels(c)
	if !ok {
		return
	}

	if err := h.store.LeaveGroups(c.Request.Context(), userID, labels); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"groupLabels": labels,
		"message":     fmt.Sprintf("User %q removed from groups %s", userID, quoted(labels)),
	})
}
