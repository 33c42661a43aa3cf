package quest

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/questengine/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// progressStore holds the only code paths that write QuestProgress rows.
// Every write is a conditional update keyed by id plus either the completed
// flag or the version read earlier, so concurrent increments, completions
// and resets cannot overwrite each other.
type progressStore struct {
	db *gorm.DB
}

func (s *progressStore) get(ctx context.Context, questID int64, userID string) (*model.QuestProgress, error) {
	var rec model.QuestProgress
	err := s.db.WithContext(ctx).
		Where("quest_id = ? AND user_id = ?", questID, userID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProgressNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// forUser loads the member's records for the given quests keyed by quest id.
func (s *progressStore) forUser(ctx context.Context, userID string, questIDs []int64) (map[int64]*model.QuestProgress, error) {
	out := make(map[int64]*model.QuestProgress, len(questIDs))
	if len(questIDs) == 0 {
		return out, nil
	}
	var recs []model.QuestProgress
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND quest_id IN ?", userID, questIDs).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	for i := range recs {
		out[recs[i].QuestID] = &recs[i]
	}
	return out, nil
}

// ensure creates the record if absent and returns the stored row.
// A concurrent creator wins silently; both callers read the same row.
func (s *progressStore) ensure(ctx context.Context, q *model.Quest, userID string, resetAt *time.Time) (*model.QuestProgress, error) {
	rec := &model.QuestProgress{
		QuestID:        q.ID,
		UserID:         userID,
		CommunityID:    q.CommunityID,
		TargetProgress: q.TargetCount,
		ResetAt:        resetAt,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error; err != nil {
		return nil, err
	}
	return s.get(ctx, q.ID, userID)
}

// increment adds amount to an open record, clamped to its target.
func (s *progressStore) increment(ctx context.Context, id, amount int64) error {
	res := s.db.WithContext(ctx).Model(&model.QuestProgress{}).
		Where("id = ? AND completed = ?", id, false).
		Updates(map[string]interface{}{
			"current_progress": gorm.Expr(
				"CASE WHEN current_progress + ? > target_progress THEN target_progress ELSE current_progress + ? END",
				amount, amount),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

// markCompleted flips rec to completed if nobody touched it since it was
// read, and returns the new 1-based completion number.
func (s *progressStore) markCompleted(ctx context.Context, rec *model.QuestProgress, achieved int64, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&model.QuestProgress{}).
		Where("id = ? AND completed = ? AND version = ?", rec.ID, false, rec.Version).
		Updates(map[string]interface{}{
			"completed":         true,
			"completed_at":      now,
			"current_progress":  achieved,
			"completion_count":  gorm.Expr("completion_count + 1"),
			"last_completed_at": now,
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrAlreadyCompleted
	}
	return rec.CompletionCount + 1, nil
}

// reset reopens rec with zero progress. target refreshes the snapshot to the
// quest's current requirement; resetAt is the next cycle (nil for re-armed
// one-shot quests).
func (s *progressStore) reset(ctx context.Context, rec *model.QuestProgress, target int64, resetAt *time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.QuestProgress{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"completed":        false,
			"completed_at":     nil,
			"current_progress": 0,
			"target_progress":  target,
			"reset_at":         resetAt,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// backfillResetAt assigns a reset instant to periodic records that lack one.
func (s *progressStore) backfillResetAt(ctx context.Context, questID int64, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.QuestProgress{}).
		Where("quest_id = ? AND reset_at IS NULL", questID).
		Updates(map[string]interface{}{
			"reset_at": at,
			"version":  gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

// due lists the quest's records whose reset instant has passed.
func (s *progressStore) due(ctx context.Context, questID int64, now time.Time) ([]model.QuestProgress, error) {
	var recs []model.QuestProgress
	err := s.db.WithContext(ctx).
		Where("quest_id = ? AND reset_at <= ?", questID, now).
		Order("id").
		Find(&recs).Error
	return recs, err
}
