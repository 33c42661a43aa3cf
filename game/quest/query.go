package quest

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/questengine/model"
)

// UserQuest pairs a quest with the member's progress for display.
type UserQuest struct {
	Quest    model.Quest          `json:"quest"`
	Progress *model.QuestProgress `json:"progress,omitempty"`
	// Locked is set while a prerequisite is not completed.
	Locked        bool       `json:"locked"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// GetUserQuests lists the enabled, visible quests of a community with the
// member's progress, ordered by category, chain position and creation.
// Unless includeCompleted is set, finished one-shot quests are left out.
func (e *Engine) GetUserQuests(ctx context.Context, communityID, userID, category string, includeCompleted bool) ([]UserQuest, error) {
	tx := e.db.WithContext(ctx).
		Where("community_id = ? AND enabled = ? AND visible = ?", communityID, true, true)
	if category != "" {
		tx = tx.Where("category = ?", category)
	}
	var quests []model.Quest
	if err := tx.Order("category, chain_position, id").Find(&quests).Error; err != nil {
		return nil, err
	}

	ids := make([]int64, len(quests))
	for i := range quests {
		ids[i] = quests[i].ID
	}
	recs, err := e.store.forUser(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	done, err := e.completedPrerequisites(ctx, userID, quests)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	out := make([]UserQuest, 0, len(quests))
	for i := range quests {
		q := quests[i]
		rec := recs[q.ID]
		if !includeCompleted && rec != nil && rec.Completed && q.Terminal() {
			continue
		}
		uq := UserQuest{Quest: q, Progress: rec}
		for _, p := range q.PrerequisiteIDs {
			if !done[p] {
				uq.Locked = true
				break
			}
		}
		if until := cooldownUntil(&q, rec); until != nil && now.Before(*until) {
			uq.CooldownUntil = until
		}
		out = append(out, uq)
	}
	return out, nil
}

// ManualComplete completes a quest for a member on an administrator's
// behalf, skipping prerequisite, cooldown and filter checks. Finished
// one-shot quests and capped quests are refused; a periodic quest that is
// already complete must wait for its reset.
func (e *Engine) ManualComplete(ctx context.Context, communityID string, questID int64, userID string) (*model.QuestCompletion, error) {
	q, err := getQuest(e.db.WithContext(ctx), communityID, questID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()

	rec, err := e.store.get(ctx, q.ID, userID)
	if errors.Is(err, ErrProgressNotFound) {
		resetAt, rerr := NextResetAt(q, now, e.loc)
		if rerr != nil {
			return nil, rerr
		}
		rec, err = e.store.ensure(ctx, q, userID, resetAt)
	}
	if err != nil {
		return nil, err
	}

	if q.CapReached(rec.CompletionCount) {
		return nil, ErrCompletionCapReached
	}
	if rec.Completed {
		switch {
		case q.Terminal():
			return nil, ErrNotRepeatable
		case q.ResetType.Periodic():
			return nil, ErrAlreadyCompleted
		}
		if err := e.store.reset(ctx, rec, q.TargetCount, nil); err != nil {
			return nil, err
		}
		if rec, err = e.store.get(ctx, q.ID, userID); err != nil {
			return nil, err
		}
	}
	return e.dispatcher.CompleteQuest(ctx, q, rec, rec.TargetProgress, true)
}

// ListCompletions returns the completion log of a quest, newest first,
// optionally for a single member.
func (e *Engine) ListCompletions(ctx context.Context, communityID string, questID int64, userID string, limit int) ([]model.QuestCompletion, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	tx := e.db.WithContext(ctx).Where("community_id = ? AND quest_id = ?", communityID, questID)
	if userID != "" {
		tx = tx.Where("user_id = ?", userID)
	}
	var entries []model.QuestCompletion
	err := tx.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
