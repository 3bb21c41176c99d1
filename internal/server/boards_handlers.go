package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/backend/internal/boards"
	"github.com/inkwell-labs/inkwell/backend/internal/engagement"
	"github.com/inkwell-labs/inkwell/backend/internal/notify"
)

type createBoardPayload struct {
	CategoryID string   `json:"category_id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
}

type boardPayload struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	CategoryID string    `json:"category_id,omitempty"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ViewCount  int64     `json:"view_count"`
	LikeCount  int64     `json:"like_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func toBoardPayload(board boards.Board) boardPayload {
	return boardPayload{
		ID:         board.ID,
		AuthorID:   board.AuthorID,
		CategoryID: board.CategoryID,
		Title:      board.Title,
		Content:    board.Content,
		ViewCount:  board.ViewCount,
		LikeCount:  board.LikeCount,
		CreatedAt:  board.CreatedAt,
	}
}

func (h *httpHandler) handleCreateBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createBoardPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	board, err := h.boardService.CreateBoard(c.Request.Context(), boards.CreateBoardRequest{
		AuthorID:   userID,
		CategoryID: request.CategoryID,
		Title:      request.Title,
		Content:    request.Content,
		Tags:       request.Tags,
	})
	if err != nil {
		h.logger.Error("board creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	// Fan a new-post notification out to the author's followers. Partial
	// failure is reported to the author but does not undo the post.
	followerIDs, err := h.userService.FollowerIDs(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("follower lookup failed, fan-out skipped",
			zap.String("author_id", userID), zap.Error(err))
	} else if len(followerIDs) > 0 {
		template := notify.Notification{
			ActorID:     userID,
			Type:        notify.TypeFollowedBoardPost,
			LocationRef: "/boards/" + board.ID,
		}
		if err := h.dispatcher.DispatchMany(c.Request.Context(), template, followerIDs); err != nil {
			var fanOutErr *notify.FanOutError
			if errors.As(err, &fanOutErr) {
				c.JSON(http.StatusOK, gin.H{
					"board":   toBoardPayload(board),
					"warning": fanOutErr.Error(),
				})
				return
			}
			h.logger.Error("fan-out failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"board": toBoardPayload(board)})
}

func (h *httpHandler) handleListBoards(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	rows, err := h.boardService.ListBoards(c.Request.Context(), boards.ListQuery{
		CategoryID: c.Query("category_id"),
		Search:     c.Query("q"),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		h.logger.Error("board listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	withCounts, err := h.overlay.AttachBoardCounts(c.Request.Context(), rows)
	if err != nil {
		h.logger.Error("board overlay failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payload := make([]boardPayload, 0, len(withCounts))
	for _, board := range withCounts {
		payload = append(payload, toBoardPayload(board))
	}
	c.JSON(http.StatusOK, gin.H{"boards": payload})
}

func (h *httpHandler) handleGetBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	boardID := c.Param("id")

	board, err := h.boardService.GetBoard(c.Request.Context(), boardID)
	if err != nil {
		if errors.Is(err, boards.ErrBoardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}

	if _, err := h.counters.RecordView(c.Request.Context(), boardID, userID); err != nil {
		// The read still serves; only the view de-dup was lost.
		h.logger.Warn("view record failed", zap.String("board_id", boardID), zap.Error(err))
	}

	withCounts, err := h.overlay.AttachBoardCount(c.Request.Context(), board)
	if err != nil {
		h.logger.Error("board overlay failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"board": toBoardPayload(withCounts)})
}

func (h *httpHandler) handleDeleteBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.boardService.DeleteBoard(c.Request.Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, boards.ErrBoardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLikeBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	boardID := c.Param("id")

	board, err := h.boardService.GetBoard(c.Request.Context(), boardID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	outcome, err := h.counters.RecordLike(c.Request.Context(), boardID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "like_failed"})
		return
	}
	if outcome == engagement.OutcomeDuplicate {
		c.JSON(http.StatusOK, gin.H{"result": "already_liked"})
		return
	}

	if board.AuthorID != userID {
		err := h.dispatcher.Dispatch(c.Request.Context(), notify.Notification{
			RecipientID: board.AuthorID,
			ActorID:     userID,
			Type:        notify.TypeBoardLike,
			LocationRef: "/boards/" + boardID,
		})
		if err != nil {
			h.logger.Warn("like notification failed",
				zap.String("board_id", boardID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"result": "liked"})
}

func (h *httpHandler) handleUnlikeBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.counters.CancelLike(c.Request.Context(), c.Param("id"), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unlike_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "unliked"})
}

type createCommentPayload struct {
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id"`
}

type commentPayload struct {
	ID           string    `json:"id"`
	BoardID      string    `json:"board_id"`
	AuthorID     string    `json:"author_id"`
	ParentID     *string   `json:"parent_id,omitempty"`
	Content      string    `json:"content"`
	LikeCount    int64     `json:"like_count"`
	DislikeCount int64     `json:"dislike_count"`
	CreatedAt    time.Time `json:"created_at"`
}

func toCommentPayload(comment boards.Comment) commentPayload {
	return commentPayload{
		ID:           comment.ID,
		BoardID:      comment.BoardID,
		AuthorID:     comment.AuthorID,
		ParentID:     comment.ParentID,
		Content:      comment.Content,
		LikeCount:    comment.LikeCount,
		DislikeCount: comment.DislikeCount,
		CreatedAt:    comment.CreatedAt,
	}
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	boardID := c.Param("id")

	var request createCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	board, err := h.boardService.GetBoard(c.Request.Context(), boardID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	comment, err := h.boardService.CreateComment(c.Request.Context(), boardID, userID, request.Content, request.ParentID)
	if err != nil {
		h.logger.Error("comment creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	recipientID := board.AuthorID
	if request.ParentID != nil {
		if parent, err := h.boardService.GetComment(c.Request.Context(), *request.ParentID); err == nil {
			recipientID = parent.AuthorID
		}
	}
	if recipientID != userID {
		err := h.dispatcher.Dispatch(c.Request.Context(), notify.Notification{
			RecipientID: recipientID,
			ActorID:     userID,
			Type:        notify.TypeComment,
			LocationRef: "/boards/" + boardID + "#" + comment.ID,
		})
		if err != nil {
			h.logger.Warn("comment notification failed",
				zap.String("comment_id", comment.ID), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"comment": toCommentPayload(comment)})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	rows, err := h.boardService.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	withCounts, err := h.overlay.AttachCommentCounts(c.Request.Context(), rows)
	if err != nil {
		h.logger.Error("comment overlay failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]commentPayload, 0, len(withCounts))
	for _, comment := range withCounts {
		payload = append(payload, toCommentPayload(comment))
	}
	c.JSON(http.StatusOK, gin.H{"comments": payload})
}

type votePayload struct {
	IsLike bool `json:"is_like"`
}

func (h *httpHandler) handleVoteComment(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.counters.VoteComment(c.Request.Context(), c.Param("id"), userID, request.IsLike)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vote_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": string(outcome)})
}

func (h *httpHandler) handleUnvoteComment(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.counters.UnvoteComment(c.Request.Context(), c.Param("id"), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unvote_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "unvoted"})
}

func (h *httpHandler) handleCreateCategory(c *gin.Context) {
	var request struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	category, err := h.boardService.CreateCategory(c.Request.Context(), request.Name)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"category": category})
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	rows, err := h.boardService.ListCategories(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": rows})
}

func (h *httpHandler) handlePopularTags(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	tags, err := h.boardService.PopularTags(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}
