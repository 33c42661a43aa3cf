package quest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/questengine/cache"
	"github.com/kasuganosora/questengine/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func boardKey(communityID string) string  { return "quest:board:" + communityID }
func recentKey(communityID string) string { return "quest:recent:" + communityID }

// LeaderEntry is one row of a community leaderboard.
type LeaderEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	Completions int64  `json:"completions"`
}

// FeedEntry is one recent completion shown in a community feed.
type FeedEntry struct {
	QuestID          int64     `json:"quest_id"`
	QuestName        string    `json:"quest_name"`
	Emoji            string    `json:"emoji,omitempty"`
	UserID           string    `json:"user_id"`
	CompletionNumber int       `json:"completion_number"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Board keeps per-community completion counts in a cache sorted set and a
// capped list of recent completions. The completion log is the source of
// truth; Rebuild recomputes the counts from it.
type Board struct {
	db       *gorm.DB
	cache    cache.Cache
	feedSize int
	logger   *zap.Logger
}

// NewBoard creates a Board.
func NewBoard(db *gorm.DB, c cache.Cache, feedSize int, logger *zap.Logger) *Board {
	if feedSize <= 0 {
		feedSize = 50
	}
	return &Board{db: db, cache: c, feedSize: feedSize, logger: logger}
}

// Record adds a completion to the leaderboard and the recent feed.
func (b *Board) Record(ctx context.Context, q *model.Quest, entry *model.QuestCompletion) {
	if _, err := b.cache.ZIncrBy(ctx, boardKey(entry.CommunityID), 1, entry.UserID); err != nil {
		b.logger.Warn("leaderboard increment failed", zap.String("community_id", entry.CommunityID), zap.Error(err))
	}
	raw, err := json.Marshal(FeedEntry{
		QuestID:          q.ID,
		QuestName:        q.Name,
		Emoji:            q.Emoji,
		UserID:           entry.UserID,
		CompletionNumber: entry.CompletionNumber,
		CompletedAt:      entry.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := b.cache.LPushTrim(ctx, recentKey(entry.CommunityID), string(raw), int64(b.feedSize)); err != nil {
		b.logger.Warn("recent feed push failed", zap.String("community_id", entry.CommunityID), zap.Error(err))
	}
}

// Top returns the members with the most completions, best first.
func (b *Board) Top(ctx context.Context, communityID string, limit int) ([]LeaderEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	members, scores, err := b.cache.ZRevRangeWithScores(ctx, boardKey(communityID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]LeaderEntry, len(members))
	for i, m := range members {
		out[i] = LeaderEntry{Rank: i + 1, UserID: m, Completions: int64(scores[i])}
	}
	return out, nil
}

// Recent returns up to limit of the latest completions, newest first.
func (b *Board) Recent(ctx context.Context, communityID string, limit int) ([]FeedEntry, error) {
	if limit <= 0 || limit > b.feedSize {
		limit = b.feedSize
	}
	raw, err := b.cache.LRange(ctx, recentKey(communityID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]FeedEntry, 0, len(raw))
	for _, r := range raw {
		var e FeedEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Rebuild recomputes the leaderboard of every community that has
// completions from the completion log.
func (b *Board) Rebuild(ctx context.Context) error {
	var rows []struct {
		CommunityID string
		UserID      string
		Total       int64
	}
	if err := b.db.WithContext(ctx).Model(&model.QuestCompletion{}).
		Select("community_id, user_id, COUNT(*) AS total").
		Group("community_id, user_id").
		Scan(&rows).Error; err != nil {
		return err
	}
	boards := make(map[string]map[string]float64)
	for _, r := range rows {
		if boards[r.CommunityID] == nil {
			boards[r.CommunityID] = make(map[string]float64)
		}
		boards[r.CommunityID][r.UserID] = float64(r.Total)
	}
	for cid, scores := range boards {
		if err := b.cache.ZReplace(ctx, boardKey(cid), scores); err != nil {
			return err
		}
	}
	b.logger.Debug("leaderboards rebuilt", zap.Int("communities", len(boards)))
	return nil
}
