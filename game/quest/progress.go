package quest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kasuganosora/questengine/model"
	"github.com/kasuganosora/questengine/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// completeAttempts bounds how often a completion is retried after a
// concurrent write moved the record.
const completeAttempts = 3

// Activity is one tracked member action.
type Activity struct {
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`
	Type        string `json:"activity_type"`
	Amount      int64  `json:"amount"`
	ChannelID   string `json:"channel_id,omitempty"`
}

func (a Activity) normalized() Activity {
	if a.Amount <= 0 {
		a.Amount = 1
	}
	return a
}

func (a Activity) valid() bool {
	return a.CommunityID != "" && a.UserID != "" && a.Type != ""
}

// UpdateResult lists what one activity did.
type UpdateResult struct {
	Advanced  []int64
	Completed []*model.QuestCompletion
}

// EngineConfig tunes the Engine. Zero values pick defaults.
type EngineConfig struct {
	Location     *time.Location
	Workers      int
	QueueSize    int
	EventTimeout time.Duration
	Now          func() time.Time
}

// Engine applies member activity to quest progress. RecordActivity feeds a
// bounded queue served by a worker pool; UpdateProgress is the synchronous
// core used by the workers.
type Engine struct {
	db         *gorm.DB
	store      *progressStore
	gate       *Gate
	dispatcher *Dispatcher
	hooks      *hook.HookCenter
	loc        *time.Location
	now        func() time.Time
	timeout    time.Duration
	workers    int
	logger     *zap.Logger

	queue     chan Activity
	mu        sync.RWMutex // guards stopped against sends on a closed queue
	stopped   bool
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine creates an Engine. Call Start to run the worker pool.
func NewEngine(db *gorm.DB, gate *Gate, dispatcher *Dispatcher, hooks *hook.HookCenter, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		db:         db,
		store:      &progressStore{db: db},
		gate:       gate,
		dispatcher: dispatcher,
		hooks:      hooks,
		loc:        cfg.Location,
		now:        cfg.Now,
		timeout:    cfg.EventTimeout,
		workers:    cfg.Workers,
		logger:     logger,
		queue:      make(chan Activity, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
		e.logger.Info("quest engine started", zap.Int("workers", e.workers), zap.Int("queue", cap(e.queue)))
	})
}

// Stop stops accepting activity and waits for queued events to drain.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		close(e.queue)
		e.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordActivity queues an activity for processing and reports whether it
// was accepted. Events of untracked activity types, events interrupted by a
// before_activity_record hook and events arriving at a full queue are
// dropped. It never blocks on the store.
func (e *Engine) RecordActivity(ctx context.Context, a Activity) bool {
	a = a.normalized()
	if !a.valid() {
		e.logger.Debug("activity dropped: missing fields", zap.Any("activity", a))
		return false
	}

	if e.hooks != nil {
		out, err := e.hooks.Trigger(ctx, hook.BeforeActivityRecord, a)
		if errors.Is(err, hook.ErrInterrupt) {
			return false
		}
		if modified, ok := out.(Activity); ok {
			a = modified.normalized()
		}
	}

	tracking, err := e.gate.IsTracking(ctx, a.CommunityID, a.Type)
	if err != nil {
		// Let the worker hit the catalog; it logs its own failure.
		e.logger.Warn("tracking gate failed", zap.String("community_id", a.CommunityID), zap.Error(err))
		tracking = true
	}
	if !tracking {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return false
	}
	select {
	case e.queue <- a:
		return true
	default:
		e.logger.Warn("activity queue full, dropping event",
			zap.String("community_id", a.CommunityID),
			zap.String("user_id", a.UserID),
			zap.String("activity_type", a.Type))
		return false
	}
}

// QueueDepth returns the number of activities waiting for a worker.
func (e *Engine) QueueDepth() int { return len(e.queue) }

func (e *Engine) worker() {
	defer e.wg.Done()
	for a := range e.queue {
		e.handle(a)
	}
}

func (e *Engine) handle(a Activity) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("activity processing panicked", zap.Any("recover", r), zap.Any("activity", a))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if _, err := e.UpdateProgress(ctx, a); err != nil {
		e.logger.Warn("activity processing failed", zap.Any("activity", a), zap.Error(err))
	}
}

// UpdateProgress applies one activity to every enabled, visible quest of
// the community that tracks its type. Quests are processed independently:
// a failure on one is logged and the others continue. The returned error
// covers only loading the quests.
func (e *Engine) UpdateProgress(ctx context.Context, a Activity) (*UpdateResult, error) {
	a = a.normalized()
	now := e.now().UTC()

	var quests []model.Quest
	if err := e.db.WithContext(ctx).
		Where("community_id = ? AND activity_type = ? AND enabled = ? AND visible = ?",
			a.CommunityID, a.Type, true, true).
		Order("id").
		Find(&quests).Error; err != nil {
		return nil, err
	}
	result := &UpdateResult{}
	if len(quests) == 0 {
		return result, nil
	}

	ids := make([]int64, len(quests))
	for i := range quests {
		ids[i] = quests[i].ID
	}
	recs, err := e.store.forUser(ctx, a.UserID, ids)
	if err != nil {
		return nil, err
	}
	done, err := e.completedPrerequisites(ctx, a.UserID, quests)
	if err != nil {
		return nil, err
	}

	for i := range quests {
		q := &quests[i]
		advanced, entry, err := e.advance(ctx, q, recs[q.ID], done, a, now)
		if err != nil {
			e.logger.Error("quest progress failed",
				zap.Int64("quest_id", q.ID),
				zap.String("user_id", a.UserID),
				zap.Error(err))
			continue
		}
		if advanced {
			result.Advanced = append(result.Advanced, q.ID)
		}
		if entry != nil {
			result.Completed = append(result.Completed, entry)
		}
	}
	return result, nil
}

// advance runs the gating checks for one quest and, when they pass,
// increments the record and completes it on reaching the target.
func (e *Engine) advance(ctx context.Context, q *model.Quest, rec *model.QuestProgress, done map[int64]bool, a Activity, now time.Time) (bool, *model.QuestCompletion, error) {
	if reason := gateReason(q, rec, done, a.ChannelID, now); reason != "" {
		e.logger.Debug("quest skipped",
			zap.Int64("quest_id", q.ID),
			zap.String("user_id", a.UserID),
			zap.String("reason", reason))
		return false, nil, nil
	}

	if rec != nil && rec.Completed {
		// A capped one-shot quest whose cooldown is over starts a new round.
		if err := e.store.reset(ctx, rec, q.TargetCount, nil); err != nil && !errors.Is(err, ErrVersionConflict) {
			return false, nil, err
		}
		rec = nil
	}

	if rec == nil {
		resetAt, err := NextResetAt(q, now, e.loc)
		if err != nil {
			return false, nil, err
		}
		if rec, err = e.store.ensure(ctx, q, a.UserID, resetAt); err != nil {
			return false, nil, err
		}
	}

	// The SQL clamp happens after the addition, so keep the operand small
	// enough that current + amount cannot overflow the column.
	amount := min(a.Amount, max(rec.TargetProgress, q.TargetCount))
	if err := e.store.increment(ctx, rec.ID, amount); err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			return false, nil, nil
		}
		return false, nil, err
	}

	entry, err := e.completeIfReached(ctx, q, a.UserID)
	return true, entry, err
}

// gateReason returns why an event may not advance q, or "" if it may.
func gateReason(q *model.Quest, rec *model.QuestProgress, done map[int64]bool, channelID string, now time.Time) string {
	if rec != nil {
		if rec.Completed && q.Terminal() {
			return "terminal"
		}
		if q.CapReached(rec.CompletionCount) {
			return "completion cap reached"
		}
	}
	for _, p := range q.PrerequisiteIDs {
		if !done[p] {
			return "prerequisites not met"
		}
	}
	if until := cooldownUntil(q, rec); until != nil && now.Before(*until) {
		return "cooldown"
	}
	if !channelAllowed(q, channelID) {
		return "channel filter"
	}
	if rec != nil && rec.Completed && q.ResetType.Periodic() {
		return "awaiting reset"
	}
	return ""
}

func cooldownUntil(q *model.Quest, rec *model.QuestProgress) *time.Time {
	if rec == nil || rec.LastCompletedAt == nil || q.CooldownHours == nil || *q.CooldownHours <= 0 {
		return nil
	}
	until := rec.LastCompletedAt.Add(time.Duration(*q.CooldownHours) * time.Hour)
	return &until
}

func channelAllowed(q *model.Quest, channelID string) bool {
	if len(q.ChannelIDs) == 0 {
		return true
	}
	for _, c := range q.ChannelIDs {
		if c == channelID {
			return true
		}
	}
	return false
}

// completeIfReached re-reads the record and dispatches the completion when
// the target is reached. A lost race is retried against the fresh row; it
// stops as soon as the row shows completed.
func (e *Engine) completeIfReached(ctx context.Context, q *model.Quest, userID string) (*model.QuestCompletion, error) {
	for attempt := 0; attempt < completeAttempts; attempt++ {
		cur, err := e.store.get(ctx, q.ID, userID)
		if err != nil {
			return nil, err
		}
		if cur.Completed || cur.CurrentProgress < cur.TargetProgress {
			return nil, nil
		}
		entry, err := e.dispatcher.CompleteQuest(ctx, q, cur, cur.CurrentProgress, false)
		if errors.Is(err, ErrAlreadyCompleted) {
			continue
		}
		return entry, err
	}
	return nil, nil
}

// completedPrerequisites returns the prerequisite quest ids the member has a
// completed record for.
func (e *Engine) completedPrerequisites(ctx context.Context, userID string, quests []model.Quest) (map[int64]bool, error) {
	var ids []int64
	for i := range quests {
		ids = append(ids, quests[i].PrerequisiteIDs...)
	}
	done := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return done, nil
	}
	var completed []int64
	if err := e.db.WithContext(ctx).Model(&model.QuestProgress{}).
		Where("user_id = ? AND quest_id IN ? AND completed = ?", userID, ids, true).
		Pluck("quest_id", &completed).Error; err != nil {
		return nil, err
	}
	for _, id := range completed {
		done[id] = true
	}
	return done, nil
}
