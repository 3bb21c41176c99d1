package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/backend/internal/notify"
	"github.com/inkwell-labs/inkwell/backend/internal/users"
)

func (h *httpHandler) handleFollow(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	followeeID := c.Param("id")

	err := h.userService.Follow(c.Request.Context(), userID, followeeID)
	if err != nil {
		switch err {
		case users.ErrSelfFollow, users.ErrInvalidUser:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		case users.ErrUserNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		default:
			h.logger.Error("follow failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "follow_failed"})
		}
		return
	}

	err = h.dispatcher.Dispatch(c.Request.Context(), notify.Notification{
		RecipientID: followeeID,
		ActorID:     userID,
		Type:        notify.TypeNewFollower,
		LocationRef: "/users/" + userID,
	})
	if err != nil {
		h.logger.Warn("follow notification failed",
			zap.String("followee_id", followeeID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"result": "followed"})
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.userService.Unfollow(c.Request.Context(), userID, c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unfollow_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "unfollowed"})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	limit, _ := strconv.Atoi(c.Query("limit"))

	rows, err := h.notifications.ListForRecipient(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("notification listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": rows})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.notifications.MarkRead(c.Request.Context(), userID, c.Param("id"), time.Now().UTC())
	if err != nil {
		if err == notify.ErrNotificationNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "read"})
}

func (h *httpHandler) handleTopFollowers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	nicknames, err := h.userService.TopFollowers(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nicknames": nicknames})
}
