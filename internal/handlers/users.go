package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nexchat-service/internal/middleware"
	"nexchat-service/internal/users"
)

type UserHandler struct {
	users *users.Directory
}

func NewUserHandler(dir *users.Directory) *UserHandler {
	return &UserHandler{users: dir}
}

// PutPushToken refreshes the caller's device push token.
func (h *UserHandler) PutPushToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.users.SetPushToken(c.Request.Context(), middleware.UserID(c), req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store push token"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMe returns the caller's profile.
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, users.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
