package quest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questengine/cache"
	"github.com/kasuganosora/questengine/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const gateKeyPrefix = "quest:gate:"

func gateKey(communityID, activityType string) string {
	return gateKeyPrefix + communityID + ":" + activityType
}

func gateIndexKey(communityID string) string {
	return gateKeyPrefix + "idx:" + communityID
}

// gateGenKey holds a token that changes on every invalidation of the
// community. A fill that started under an older token must not stick.
func gateGenKey(communityID string) string {
	return gateKeyPrefix + "gen:" + communityID
}

// Gate answers "does this community track this activity type at all" so
// most events never reach the catalog. Entries expire after ttl and are
// invalidated by every catalog write.
type Gate struct {
	db     *gorm.DB
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewGate creates a Gate. A nil cache disables caching.
func NewGate(db *gorm.DB, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Gate{db: db, cache: c, ttl: ttl, logger: logger}
}

// IsTracking reports whether any enabled quest of the community listens to
// activityType. Cache failures fall through to the catalog.
func (g *Gate) IsTracking(ctx context.Context, communityID, activityType string) (bool, error) {
	key := gateKey(communityID, activityType)
	if g.cache != nil {
		v, err := g.cache.Get(ctx, key)
		switch {
		case err == nil:
			return v == "1", nil
		case !cache.IsNotFound(err):
			g.logger.Warn("gate cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	var gen string
	fill := g.cache != nil
	if fill {
		var err error
		if gen, err = g.generation(ctx, communityID); err != nil {
			fill = false
		} else if err := g.cache.SAdd(ctx, gateIndexKey(communityID), activityType); err != nil {
			g.logger.Warn("gate index write failed", zap.String("community_id", communityID), zap.Error(err))
			fill = false
		}
	}

	var n int64
	if err := g.db.WithContext(ctx).Model(&model.Quest{}).
		Where("community_id = ? AND activity_type = ? AND enabled = ?", communityID, activityType, true).
		Limit(1).
		Count(&n).Error; err != nil {
		return false, err
	}
	tracking := n > 0

	if fill {
		g.fill(ctx, communityID, key, gen, tracking)
	}
	return tracking, nil
}

// fill stores the answer unless the community was invalidated since gen
// was read. The generation is checked again after the write so an
// invalidation racing with Set still removes the entry.
func (g *Gate) fill(ctx context.Context, communityID, key, gen string, tracking bool) {
	if cur, err := g.generation(ctx, communityID); err != nil || cur != gen {
		return
	}
	val := "0"
	if tracking {
		val = "1"
	}
	if err := g.cache.Set(ctx, key, val, g.ttl); err != nil {
		g.logger.Warn("gate cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if cur, err := g.generation(ctx, communityID); err != nil || cur != gen {
		if err := g.cache.Del(ctx, key); err != nil {
			g.logger.Warn("gate cache rollback failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (g *Gate) generation(ctx context.Context, communityID string) (string, error) {
	v, err := g.cache.Get(ctx, gateGenKey(communityID))
	if err != nil && !cache.IsNotFound(err) {
		g.logger.Warn("gate generation read failed", zap.String("community_id", communityID), zap.Error(err))
		return "", err
	}
	return v, nil
}

// Invalidate drops the listed activity types for the community, or every
// cached entry of the community when none are listed.
func (g *Gate) Invalidate(ctx context.Context, communityID string, activityTypes ...string) error {
	if g.cache == nil {
		return nil
	}
	// Bump first: a fill in flight either sees the new token or has already
	// written the entry that the Del below removes.
	if err := g.cache.Set(ctx, gateGenKey(communityID), uuid.NewString(), 0); err != nil {
		return err
	}
	idx := gateIndexKey(communityID)
	if len(activityTypes) == 0 {
		members, err := g.cache.SMembers(ctx, idx)
		if err != nil {
			return err
		}
		activityTypes = members
	}
	keys := make([]string, 0, len(activityTypes)+1)
	for _, at := range activityTypes {
		keys = append(keys, gateKey(communityID, at))
	}
	if len(keys) > 0 {
		if err := g.cache.Del(ctx, keys...); err != nil {
			return err
		}
		return g.cache.SRem(ctx, idx, activityTypes...)
	}
	return nil
}
