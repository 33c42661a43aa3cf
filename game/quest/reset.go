package quest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questengine/cache"
	"github.com/kasuganosora/questengine/model"
	"github.com/kasuganosora/questengine/plugin/hook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const sweepLockKey = "quest:reset:lock"

// ResetEvent is the payload of the on_quest_reset hook.
type ResetEvent struct {
	Quest       *model.Quest
	Reset       int
	NextResetAt time.Time
}

// SweepResult summarizes one reset sweep.
type SweepResult struct {
	Quests     int `json:"quests"`
	Reset      int `json:"reset"`
	Skipped    int `json:"skipped"`
	Backfilled int `json:"backfilled"`
	Failed     int `json:"failed"`
}

func (r *SweepResult) add(o SweepResult) {
	r.Quests += o.Quests
	r.Reset += o.Reset
	r.Skipped += o.Skipped
	r.Backfilled += o.Backfilled
	r.Failed += o.Failed
}

// SweeperConfig tunes the Sweeper. Zero values pick defaults.
type SweeperConfig struct {
	Location    *time.Location
	Concurrency int
	LockTTL     time.Duration
	Now         func() time.Time
}

// Sweeper resets the progress of periodic quests once their reset instant
// has passed.
type Sweeper struct {
	db          *gorm.DB
	store       *progressStore
	cache       cache.Cache
	gate        *Gate
	hooks       *hook.HookCenter
	loc         *time.Location
	concurrency int
	lockTTL     time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewSweeper creates a Sweeper. The cache provides the cross-replica lock
// and may be nil for a single process.
func NewSweeper(db *gorm.DB, c cache.Cache, gate *Gate, hooks *hook.HookCenter, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		db:          db,
		store:       &progressStore{db: db},
		cache:       c,
		gate:        gate,
		hooks:       hooks,
		loc:         cfg.Location,
		concurrency: cfg.Concurrency,
		lockTTL:     cfg.LockTTL,
		now:         cfg.Now,
		logger:      logger,
	}
}

// Run performs a sweep for the scheduler and logs the outcome.
func (s *Sweeper) Run() {
	res, err := s.Sweep(context.Background())
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.logger.Info("reset sweep skipped: another replica holds the lock")
	case err != nil:
		s.logger.Error("reset sweep failed", zap.Error(err))
	default:
		s.logger.Info("reset sweep finished",
			zap.Int("quests", res.Quests),
			zap.Int("reset", res.Reset),
			zap.Int("skipped", res.Skipped),
			zap.Int("backfilled", res.Backfilled),
			zap.Int("failed", res.Failed))
	}
}

// Sweep resets every due record of every enabled periodic quest. Records
// of capped quests that reached max_completions are left untouched. A sweep
// never runs longer than the lock it holds.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var total SweepResult
	ctx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()

	if s.cache != nil {
		token := uuid.NewString()
		ok, err := s.cache.SetNX(ctx, sweepLockKey, token, s.lockTTL)
		switch {
		case err != nil:
			s.logger.Warn("reset lock unavailable, sweeping unlocked", zap.Error(err))
		case !ok:
			return total, ErrSweepInProgress
		default:
			defer func() {
				released, err := s.cache.DelIfEqual(context.WithoutCancel(ctx), sweepLockKey, token)
				switch {
				case err != nil:
					s.logger.Warn("reset lock release failed", zap.Error(err))
				case !released:
					s.logger.Warn("reset lock expired before the sweep finished")
				}
			}()
		}
	}

	var quests []model.Quest
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND reset_type IN ?", true,
			[]model.ResetType{model.ResetDaily, model.ResetWeekly, model.ResetMonthly}).
		Order("id").
		Find(&quests).Error; err != nil {
		return total, err
	}

	now := s.now().UTC()
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i := range quests {
		q := &quests[i]
		g.Go(func() error {
			r := s.sweepQuest(ctx, q, now)
			mu.Lock()
			total.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return total, nil
}

func (s *Sweeper) sweepQuest(ctx context.Context, q *model.Quest, now time.Time) SweepResult {
	res := SweepResult{Quests: 1}
	log := s.logger.With(zap.Int64("quest_id", q.ID), zap.String("community_id", q.CommunityID))

	next, err := NextResetAt(q, now, s.loc)
	if err != nil || next == nil {
		log.Error("cannot compute next reset", zap.Error(err))
		res.Failed++
		return res
	}

	n, err := s.store.backfillResetAt(ctx, q.ID, *next)
	if err != nil {
		log.Error("reset_at backfill failed", zap.Error(err))
		res.Failed++
		return res
	}
	res.Backfilled = int(n)

	recs, err := s.store.due(ctx, q.ID, now)
	if err != nil {
		log.Error("loading due records failed", zap.Error(err))
		res.Failed++
		return res
	}
	for i := range recs {
		rec := &recs[i]
		if q.CapReached(rec.CompletionCount) {
			res.Skipped++
			continue
		}
		done, err := s.resetRecord(ctx, q, rec, *next, now)
		switch {
		case err != nil:
			log.Warn("record reset failed", zap.String("user_id", rec.UserID), zap.Error(err))
			res.Failed++
		case done:
			res.Reset++
		default:
			res.Skipped++
		}
	}

	if err := s.gate.Invalidate(ctx, q.CommunityID, q.ActivityType); err != nil {
		log.Warn("gate invalidation failed", zap.Error(err))
	}
	if res.Reset > 0 && s.hooks != nil {
		_, _ = s.hooks.Trigger(ctx, hook.OnQuestReset, &ResetEvent{Quest: q, Reset: res.Reset, NextResetAt: *next})
	}
	return res
}

// resetRecord reopens rec, re-reading it after a concurrent write. It
// reports false when the fresh row no longer needs a reset: another sweep
// already moved reset_at forward, or a completion reached the cap.
func (s *Sweeper) resetRecord(ctx context.Context, q *model.Quest, rec *model.QuestProgress, next, now time.Time) (bool, error) {
	for attempt := 0; attempt < completeAttempts; attempt++ {
		err := s.store.reset(ctx, rec, q.TargetCount, &next)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return false, err
		}
		if rec, err = s.store.get(ctx, q.ID, rec.UserID); err != nil {
			return false, err
		}
		if rec.ResetAt != nil && rec.ResetAt.After(now) {
			return false, nil
		}
		if q.CapReached(rec.CompletionCount) {
			return false, nil
		}
	}
	return false, ErrVersionConflict
}
