package engagement

import "strings"

// Cache key conventions shared by the counter cache, the read overlay and the
// reconciler. One set per board metric, one hash per comment.
const (
	boardViewPrefix   = "board_view:"
	boardLikePrefix   = "board_like:"
	commentLikePrefix = "comment_like:"
)

func boardViewKey(boardID string) string {
	return boardViewPrefix + boardID
}

func boardLikeKey(boardID string) string {
	return boardLikePrefix + boardID
}

func commentLikeKey(commentID string) string {
	return commentLikePrefix + commentID
}

// entityID extracts the entity identifier from a prefixed cache key.
func entityID(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}
