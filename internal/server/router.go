package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/backend/internal/auth"
	"github.com/inkwell-labs/inkwell/backend/internal/boards"
	"github.com/inkwell-labs/inkwell/backend/internal/engagement"
	"github.com/inkwell-labs/inkwell/backend/internal/notify"
	"github.com/inkwell-labs/inkwell/backend/internal/users"
)

const userIDContextKey = "inkwell_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingBoardService = errors.New("board service dependency required")
	errMissingUserService  = errors.New("user service dependency required")
	errMissingEngagement   = errors.New("engagement dependencies required")
	errMissingNotify       = errors.New("notification dependencies required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates backend session tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	TokenManager      TokenManager
	RefreshTokens     *auth.RefreshStore
	UserService       *users.Service
	BoardService      *boards.Service
	CounterCache      *engagement.CounterCache
	Overlay           *engagement.Overlay
	Dispatcher        *notify.Dispatcher
	Registry          *notify.Registry
	FallbackQueue     notify.Queue
	NotificationStore notify.Store
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router over the provided dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.BoardService == nil {
		return nil, errMissingBoardService
	}
	if deps.UserService == nil {
		return nil, errMissingUserService
	}
	if deps.CounterCache == nil || deps.Overlay == nil {
		return nil, errMissingEngagement
	}
	if deps.Dispatcher == nil || deps.Registry == nil || deps.FallbackQueue == nil || deps.NotificationStore == nil {
		return nil, errMissingNotify
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		refresh:       deps.RefreshTokens,
		userService:   deps.UserService,
		boardService:  deps.BoardService,
		counters:      deps.CounterCache,
		overlay:       deps.Overlay,
		dispatcher:    deps.Dispatcher,
		registry:      deps.Registry,
		fallbackQueue: deps.FallbackQueue,
		notifications: deps.NotificationStore,
		heartbeat:     heartbeat,
		logger:        logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/refresh", handler.handleRefresh)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/boards", handler.handleCreateBoard)
	protected.GET("/boards", handler.handleListBoards)
	protected.GET("/boards/:id", handler.handleGetBoard)
	protected.DELETE("/boards/:id", handler.handleDeleteBoard)
	protected.POST("/boards/:id/like", handler.handleLikeBoard)
	protected.DELETE("/boards/:id/like", handler.handleUnlikeBoard)
	protected.POST("/boards/:id/comments", handler.handleCreateComment)
	protected.GET("/boards/:id/comments", handler.handleListComments)
	protected.POST("/comments/:id/vote", handler.handleVoteComment)
	protected.DELETE("/comments/:id/vote", handler.handleUnvoteComment)
	protected.POST("/follows/:id", handler.handleFollow)
	protected.DELETE("/follows/:id", handler.handleUnfollow)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/:id/read", handler.handleMarkNotificationRead)
	protected.GET("/notifications/stream", handler.handleNotificationStream)
	protected.GET("/tags/popular", handler.handlePopularTags)
	protected.GET("/users/top-followers", handler.handleTopFollowers)
	protected.POST("/categories", handler.handleCreateCategory)
	protected.GET("/categories", handler.handleListCategories)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	refresh       *auth.RefreshStore
	userService   *users.Service
	boardService  *boards.Service
	counters      *engagement.CounterCache
	overlay       *engagement.Overlay
	dispatcher    *notify.Dispatcher
	registry      *notify.Registry
	fallbackQueue notify.Queue
	notifications notify.Store
	heartbeat     time.Duration
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

type registerPayload struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
}

type tokenResponsePayload struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Nickname) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.userService.Register(c.Request.Context(), request.Nickname, request.Email)
	if err != nil {
		h.logger.Warn("registration failed", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "registration_failed"})
		return
	}

	h.respondWithTokens(c, user.ID)
}

type refreshPayload struct {
	UserID       string `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	var request refreshPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == "" || request.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if h.refresh == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_unavailable"})
		return
	}

	if _, err := h.refresh.Rotate(c.Request.Context(), request.UserID, request.RefreshToken); err != nil {
		if errors.Is(err, auth.ErrRefreshTokenInvalid) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("refresh rotation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed"})
		return
	}

	h.respondWithTokens(c, request.UserID)
}

func (h *httpHandler) respondWithTokens(c *gin.Context, userID string) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	refreshToken := ""
	if h.refresh != nil {
		refreshToken, err = h.refresh.Issue(c.Request.Context(), userID)
		if err != nil {
			h.logger.Error("failed to issue refresh token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
			return
		}
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		UserID:       userID,
		AccessToken:  token,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		TokenType:    "Bearer",
	})
}
