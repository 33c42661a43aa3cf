package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questengine/game/quest"
	"go.uber.org/zap"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, quest.ErrInvalidQuest):
		return http.StatusBadRequest
	case errors.Is(err, quest.ErrQuestNotFound), errors.Is(err, quest.ErrProgressNotFound):
		return http.StatusNotFound
	case errors.Is(err, quest.ErrQuestInUse),
		errors.Is(err, quest.ErrAlreadyCompleted),
		errors.Is(err, quest.ErrNotRepeatable),
		errors.Is(err, quest.ErrCompletionCapReached),
		errors.Is(err, quest.ErrVersionConflict),
		errors.Is(err, quest.ErrSweepInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Internal errors are logged
// and hidden from the client.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var ve *quest.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	c.JSON(status, body)
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > max {
		return def
	}
	return limit
}
