package quest

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/questengine/model"
	"github.com/kasuganosora/questengine/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CompletionEvent is the payload of the on_quest_complete hook.
type CompletionEvent struct {
	Quest      *model.Quest
	Completion *model.QuestCompletion
}

// DispatcherConfig wires the Dispatcher's collaborators. Hooks and Board
// are optional.
type DispatcherConfig struct {
	Collaborators Collaborators
	Hooks         *hook.HookCenter
	Board         *Board
	RewardTimeout time.Duration
	Now           func() time.Time
}

// Dispatcher marks completions and hands out rewards exactly once per
// completion.
type Dispatcher struct {
	db      *gorm.DB
	store   *progressStore
	collab  Collaborators
	hooks   *hook.HookCenter
	board   *Board
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(db *gorm.DB, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.RewardTimeout <= 0 {
		cfg.RewardTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		db:      db,
		store:   &progressStore{db: db},
		collab:  cfg.Collaborators,
		hooks:   cfg.Hooks,
		board:   cfg.Board,
		timeout: cfg.RewardTimeout,
		now:     cfg.Now,
		logger:  logger,
	}
}

// CompleteQuest marks rec completed with the achieved progress, grants the
// quest's rewards, appends the completion log entry and notifies the member.
//
// The mark is a conditional write on rec's version: when another caller got
// there first it returns ErrAlreadyCompleted and grants nothing. Once the
// mark succeeds, reward failures are recorded in the log entry and never
// undo it.
func (d *Dispatcher) CompleteQuest(ctx context.Context, q *model.Quest, rec *model.QuestProgress, achieved int64, manual bool) (*model.QuestCompletion, error) {
	now := d.now().UTC()
	number, err := d.store.markCompleted(ctx, rec, achieved, now)
	if err != nil {
		return nil, err
	}
	// Past this point the completion stands; finish even if the caller gives up.
	ctx = context.WithoutCancel(ctx)

	to := Grantee{CommunityID: q.CommunityID, UserID: rec.UserID, QuestID: q.ID}
	rewards := RewardsFor(q)
	snapshot := make([]model.RewardGrant, 0, len(rewards))
	granted := make([]Reward, 0, len(rewards))
	partial := false
	for _, r := range rewards {
		g := r.Snapshot()
		if err := d.grant(ctx, r, to); err != nil {
			g.Status = model.GrantFailed
			g.Error = err.Error()
			partial = true
			d.logger.Error("reward grant failed",
				zap.Int64("quest_id", q.ID),
				zap.String("user_id", rec.UserID),
				zap.String("kind", g.Kind),
				zap.Int("completion_number", number),
				zap.Error(err))
		} else {
			g.Status = model.GrantOK
			granted = append(granted, r)
		}
		snapshot = append(snapshot, g)
	}

	entry := &model.QuestCompletion{
		QuestID:          q.ID,
		UserID:           rec.UserID,
		CompletionNumber: number,
		CommunityID:      q.CommunityID,
		Progress:         achieved,
		Rewards:          snapshot,
		PartialFailure:   partial,
		Manual:           manual,
		CreatedAt:        now,
	}
	if err := d.db.WithContext(ctx).Create(entry).Error; err != nil {
		d.logger.Error("completion log write failed",
			zap.Int64("quest_id", q.ID),
			zap.String("user_id", rec.UserID),
			zap.Int("completion_number", number),
			zap.Error(err))
		return nil, fmt.Errorf("quest %d: write completion log: %w", q.ID, err)
	}

	d.logger.Info("quest completed",
		zap.String("community_id", q.CommunityID),
		zap.Int64("quest_id", q.ID),
		zap.String("user_id", rec.UserID),
		zap.Int("completion_number", number),
		zap.Bool("partial_failure", partial),
		zap.Bool("manual", manual))

	d.notify(ctx, q, rec.UserID, granted)
	if d.board != nil {
		d.board.Record(ctx, q, entry)
	}
	if d.hooks != nil {
		_, _ = d.hooks.Trigger(ctx, hook.OnQuestComplete, &CompletionEvent{Quest: q, Completion: entry})
	}
	return entry, nil
}

func (d *Dispatcher) grant(ctx context.Context, r Reward, to Grantee) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reward collaborator panicked: %v", p)
		}
	}()
	return r.Grant(ctx, d.collab, to)
}

func (d *Dispatcher) notify(ctx context.Context, q *model.Quest, userID string, granted []Reward) {
	if d.collab.Notifier == nil {
		return
	}
	msg := "Quest complete: " + q.Name
	if q.Emoji != "" {
		msg = q.Emoji + " " + msg
	}
	if len(granted) > 0 {
		msg += ". Rewards: " + describeRewards(granted)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.collab.Notifier.Notify(ctx, userID, msg); err != nil {
		d.logger.Debug("completion notification not delivered",
			zap.String("user_id", userID), zap.Error(err))
	}
}
