package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questengine/game/quest"
	"go.uber.org/zap"
)

// maxBatch bounds how many activities one ingest request may carry.
const maxBatch = 500

// ActivityRecorder queues member activity.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, a quest.Activity) bool
}

// EventsHandler accepts member activity from the community platform.
// Routes should be protected by IngestAuth middleware.
type EventsHandler struct {
	engine ActivityRecorder
	logger *zap.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(engine ActivityRecorder, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{engine: engine, logger: logger}
}

// Activity queues one activity or a batch.
// POST /api/events/activity
//
// Body is either a single activity object or {"events": [...]}. The
// response reports how many were accepted; dropped events (untracked
// types, full queue) are not errors.
func (h *EventsHandler) Activity(c *gin.Context) {
	var req struct {
		quest.Activity
		Events []quest.Activity `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	events := req.Events
	if len(events) == 0 {
		events = []quest.Activity{req.Activity}
	}
	if len(events) > maxBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too many events"})
		return
	}
	for _, a := range events {
		if a.CommunityID == "" || a.UserID == "" || a.Type == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "community_id, user_id and activity_type are required"})
			return
		}
	}

	accepted := 0
	for _, a := range events {
		if h.engine.RecordActivity(c.Request.Context(), a) {
			accepted++
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"received": len(events), "accepted": accepted})
}
