package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questengine/audit"
	"github.com/kasuganosora/questengine/game/quest"
	mw "github.com/kasuganosora/questengine/middleware"
	"github.com/kasuganosora/questengine/model"
	"github.com/kasuganosora/questengine/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db      *gorm.DB
	catalog *quest.Catalog
	engine  *quest.Engine
	sweeper *quest.Sweeper
	sched   *scheduler.Scheduler
	audit   *audit.Service
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler. sched and auditSvc may be nil.
func NewAdminHandler(
	db *gorm.DB,
	catalog *quest.Catalog,
	engine *quest.Engine,
	sweeper *quest.Sweeper,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		db:      db,
		catalog: catalog,
		engine:  engine,
		sweeper: sweeper,
		sched:   sched,
		audit:   auditSvc,
		logger:  logger,
	}
}

// record writes an audit entry for an admin mutation.
func (h *AdminHandler) record(c *gin.Context, action, communityID string, req, resp interface{}, err error, start time.Time) {
	if h.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		TraceID:     mw.GetTraceID(c),
		CommunityID: communityID,
		Actor:       mw.GetActor(c),
		Action:      action,
		Request:     req,
		Response:    resp,
		IP:          c.ClientIP(),
		DurationMs:  int(time.Since(start).Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

// ListQuests returns every quest of a community, including disabled and
// hidden ones.
// GET /api/admin/communities/:cid/quests
func (h *AdminHandler) ListQuests(c *gin.Context) {
	quests, err := h.catalog.ListQuests(c.Request.Context(), c.Param("cid"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": quests})
}

// GetQuest returns one quest.
// GET /api/admin/communities/:cid/quests/:id
func (h *AdminHandler) GetQuest(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	q, err := h.catalog.GetQuest(c.Request.Context(), c.Param("cid"), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// CreateQuest adds a quest to a community.
// POST /api/admin/communities/:cid/quests
func (h *AdminHandler) CreateQuest(c *gin.Context) {
	start := time.Now()
	cid := c.Param("cid")
	var in quest.QuestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	q, err := h.catalog.CreateQuest(c.Request.Context(), cid, in)
	h.record(c, audit.ActionQuestCreate, cid, in, q, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// UpdateQuest replaces a quest's editable fields.
// PUT /api/admin/communities/:cid/quests/:id
func (h *AdminHandler) UpdateQuest(c *gin.Context) {
	start := time.Now()
	cid := c.Param("cid")
	id, ok := paramID(c)
	if !ok {
		return
	}
	var in quest.QuestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	q, err := h.catalog.UpdateQuest(c.Request.Context(), cid, id, in)
	h.record(c, audit.ActionQuestUpdate, cid, gin.H{"id": id, "quest": in}, q, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// DeleteQuest removes a quest and its progress. The completion log is kept.
// DELETE /api/admin/communities/:cid/quests/:id
func (h *AdminHandler) DeleteQuest(c *gin.Context) {
	start := time.Now()
	cid := c.Param("cid")
	id, ok := paramID(c)
	if !ok {
		return
	}
	err := h.catalog.DeleteQuest(c.Request.Context(), cid, id)
	h.record(c, audit.ActionQuestDelete, cid, gin.H{"id": id}, nil, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// EnableQuest turns a quest on.
// POST /api/admin/communities/:cid/quests/:id/enable
func (h *AdminHandler) EnableQuest(c *gin.Context) { h.setEnabled(c, true) }

// DisableQuest turns a quest off; progress is kept.
// POST /api/admin/communities/:cid/quests/:id/disable
func (h *AdminHandler) DisableQuest(c *gin.Context) { h.setEnabled(c, false) }

func (h *AdminHandler) setEnabled(c *gin.Context, enabled bool) {
	start := time.Now()
	cid := c.Param("cid")
	id, ok := paramID(c)
	if !ok {
		return
	}
	action := audit.ActionQuestDisable
	if enabled {
		action = audit.ActionQuestEnable
	}
	q, err := h.catalog.SetEnabled(c.Request.Context(), cid, id, enabled)
	h.record(c, action, cid, gin.H{"id": id}, nil, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// CompleteQuest completes a quest for a member on the admin's behalf.
// POST /api/admin/communities/:cid/quests/:id/complete {"user_id": "..."}
func (h *AdminHandler) CompleteQuest(c *gin.Context) {
	start := time.Now()
	cid := c.Param("cid")
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	entry, err := h.engine.ManualComplete(c.Request.Context(), cid, id, req.UserID)
	h.record(c, audit.ActionManualComplete, cid, gin.H{"id": id, "user_id": req.UserID}, entry, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Completions returns a quest's completion log, newest first.
// GET /api/admin/communities/:cid/quests/:id/completions?user_id=&limit=
func (h *AdminHandler) Completions(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	entries, err := h.engine.ListCompletions(c.Request.Context(),
		c.Param("cid"), id, c.Query("user_id"), queryLimit(c, 100, 500))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completions": entries})
}

// deferredResetTask names the one-shot sweep queued by ForceReset.
const deferredResetTask = "quest_reset_once"

// ForceReset runs the reset sweep now, or with ?delay=<duration> queues a
// single sweep on the scheduler and returns 202.
// POST /api/admin/quests/reset
func (h *AdminHandler) ForceReset(c *gin.Context) {
	start := time.Now()
	if raw := c.Query("delay"); raw != "" {
		h.scheduleReset(c, raw, start)
		return
	}
	res, err := h.sweeper.Sweep(c.Request.Context())
	h.record(c, audit.ActionForcedReset, "", nil, res, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AdminHandler) scheduleReset(c *gin.Context, raw string, start time.Time) {
	delay, err := time.ParseDuration(raw)
	if err != nil || delay <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "delay must be a positive duration"})
		return
	}
	if h.sched == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not running"})
		return
	}
	err = h.sched.AddDelay(deferredResetTask, delay, h.sweeper.Run)
	runAt := start.Add(delay).UTC()
	resp := gin.H{"task": deferredResetTask, "run_at": runAt}
	h.record(c, audit.ActionScheduleReset, "", gin.H{"delay": raw}, resp, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// CancelReset drops a sweep queued with ForceReset's delay.
// DELETE /api/admin/quests/reset
func (h *AdminHandler) CancelReset(c *gin.Context) {
	start := time.Now()
	cancelled := h.sched != nil && h.sched.Remove(deferredResetTask)
	h.record(c, audit.ActionCancelReset, "", nil, gin.H{"cancelled": cancelled}, nil, start)
	if !cancelled {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reset queued"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// Metrics returns catalog and engine counters.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	var quests, enabled, records, completions int64
	for _, q := range []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&quests, db.Model(&model.Quest{})},
		{&enabled, db.Model(&model.Quest{}).Where("enabled = ?", true)},
		{&records, db.Model(&model.QuestProgress{})},
		{&completions, db.Model(&model.QuestCompletion{})},
	} {
		if err := q.query.Count(q.dst).Error; err != nil {
			respondError(c, h.logger, err)
			return
		}
	}
	resp := gin.H{
		"quests":          quests,
		"enabled_quests":  enabled,
		"progress_rows":   records,
		"completions":     completions,
		"queue_depth":     h.engine.QueueDepth(),
		"scheduler_tasks": []string{},
	}
	if h.sched != nil {
		resp["scheduler_tasks"] = h.sched.ListTickers()
	}
	c.JSON(http.StatusOK, resp)
}

// ListSchedulerTasks returns the registered periodic tasks with their
// next and last run.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	if h.sched == nil {
		c.JSON(http.StatusOK, gin.H{"tasks": []scheduler.TaskStatus{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Status()})
}

// RunSchedulerTask triggers a registered task immediately.
// POST /api/admin/scheduler/:name/run
func (h *AdminHandler) RunSchedulerTask(c *gin.Context) {
	if h.sched == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduler not running"})
		return
	}
	if err := h.sched.RunNow(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}
