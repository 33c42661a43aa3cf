package quest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/kasuganosora/questengine/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultCategory = "general"

// QuestInput is the editable part of a quest definition. Nil pointers on
// update keep the stored value; on create Enabled and Visible default to true.
type QuestInput struct {
	Category     string `json:"category"`
	ActivityType string `json:"activity_type"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Emoji        string `json:"emoji"`

	TargetCount int64    `json:"target_count"`
	ChannelIDs  []string `json:"channel_ids"`

	RewardCurrency int64  `json:"reward_currency"`
	RewardXP       int64  `json:"reward_xp"`
	RewardRoleID   string `json:"reward_role_id"`
	RewardItemID   string `json:"reward_item_id"`
	RewardItemQty  int    `json:"reward_item_qty"`

	ResetType      model.ResetType `json:"reset_type"`
	ResetTime      string          `json:"reset_time"`
	ResetDayOfWeek *int            `json:"reset_day_of_week"`
	CooldownHours  *int            `json:"completion_cooldown_hours"`
	MaxCompletions *int            `json:"max_completions"`

	PrerequisiteIDs []int64 `json:"prerequisite_quest_ids"`
	ChainID         string  `json:"chain_id"`
	ChainPosition   int     `json:"chain_position"`

	Enabled *bool `json:"enabled"`
	Visible *bool `json:"visible"`
}

func (in *QuestInput) apply(q *model.Quest) {
	q.Category = in.Category
	if q.Category == "" {
		q.Category = defaultCategory
	}
	q.ActivityType = in.ActivityType
	q.Name = in.Name
	q.Slug = slug.Make(in.Name)
	q.Description = in.Description
	q.Emoji = in.Emoji
	q.TargetCount = in.TargetCount
	q.ChannelIDs = in.ChannelIDs
	q.RewardCurrency = in.RewardCurrency
	q.RewardXP = in.RewardXP
	q.RewardRoleID = in.RewardRoleID
	q.RewardItemID = in.RewardItemID
	q.RewardItemQty = in.RewardItemQty
	if q.RewardItemID != "" && q.RewardItemQty == 0 {
		q.RewardItemQty = 1
	}
	q.ResetType = in.ResetType
	if q.ResetType == "" {
		q.ResetType = model.ResetNever
	}
	q.ResetTime = in.ResetTime
	if q.ResetTime == "" {
		q.ResetTime = "00:00"
	}
	q.ResetDayOfWeek = in.ResetDayOfWeek
	q.CooldownHours = in.CooldownHours
	q.MaxCompletions = in.MaxCompletions
	q.PrerequisiteIDs = in.PrerequisiteIDs
	q.ChainID = in.ChainID
	q.ChainPosition = in.ChainPosition
	if in.Enabled != nil {
		q.Enabled = *in.Enabled
	}
	if in.Visible != nil {
		q.Visible = *in.Visible
	}
}

// Catalog manages quest definitions. Every write invalidates the
// community's tracking gate before returning.
type Catalog struct {
	db     *gorm.DB
	gate   *Gate
	logger *zap.Logger
}

// NewCatalog creates a Catalog.
func NewCatalog(db *gorm.DB, gate *Gate, logger *zap.Logger) *Catalog {
	return &Catalog{db: db, gate: gate, logger: logger}
}

// CreateQuest validates and stores a new quest.
func (c *Catalog) CreateQuest(ctx context.Context, communityID string, in QuestInput) (*model.Quest, error) {
	q := &model.Quest{CommunityID: communityID, Enabled: true, Visible: true}
	in.apply(q)
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validate(tx, q); err != nil {
			return err
		}
		return tx.Create(q).Error
	})
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, communityID)
	c.logger.Info("quest created",
		zap.String("community_id", communityID),
		zap.Int64("quest_id", q.ID),
		zap.String("activity_type", q.ActivityType))
	return q, nil
}

// UpdateQuest replaces the editable fields of an existing quest. Existing
// progress records keep their target snapshot until their next reset.
func (c *Catalog) UpdateQuest(ctx context.Context, communityID string, id int64, in QuestInput) (*model.Quest, error) {
	var q *model.Quest
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if q, err = getQuest(tx, communityID, id); err != nil {
			return err
		}
		in.apply(q)
		if err := validate(tx, q); err != nil {
			return err
		}
		return tx.Save(q).Error
	})
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, communityID)
	return q, nil
}

// DeleteQuest removes a quest and its progress records. The completion log
// is kept for audit. A quest that others list as a prerequisite cannot be
// deleted.
func (c *Catalog) DeleteQuest(ctx context.Context, communityID string, id int64) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getQuest(tx, communityID, id); err != nil {
			return err
		}
		var siblings []model.Quest
		if err := tx.Where("community_id = ? AND id <> ?", communityID, id).Find(&siblings).Error; err != nil {
			return err
		}
		for _, s := range siblings {
			for _, p := range s.PrerequisiteIDs {
				if p == id {
					return fmt.Errorf("%w: required by quest %d", ErrQuestInUse, s.ID)
				}
			}
		}
		if err := tx.Where("quest_id = ?", id).Delete(&model.QuestProgress{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Quest{}, id).Error
	})
	if err != nil {
		return err
	}
	c.invalidate(ctx, communityID)
	c.logger.Info("quest deleted", zap.String("community_id", communityID), zap.Int64("quest_id", id))
	return nil
}

// SetEnabled toggles whether a quest accepts progress.
func (c *Catalog) SetEnabled(ctx context.Context, communityID string, id int64, enabled bool) (*model.Quest, error) {
	q, err := c.GetQuest(ctx, communityID, id)
	if err != nil {
		return nil, err
	}
	if err := c.db.WithContext(ctx).Model(q).Update("enabled", enabled).Error; err != nil {
		return nil, err
	}
	q.Enabled = enabled
	c.invalidate(ctx, communityID)
	return q, nil
}

// GetQuest loads one quest of a community.
func (c *Catalog) GetQuest(ctx context.Context, communityID string, id int64) (*model.Quest, error) {
	return getQuest(c.db.WithContext(ctx), communityID, id)
}

// ListQuests returns every quest of a community, including disabled and
// hidden ones, in display order.
func (c *Catalog) ListQuests(ctx context.Context, communityID string) ([]model.Quest, error) {
	var quests []model.Quest
	err := c.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order("category, chain_position, id").
		Find(&quests).Error
	return quests, err
}

func (c *Catalog) invalidate(ctx context.Context, communityID string) {
	if err := c.gate.Invalidate(ctx, communityID); err != nil {
		c.logger.Warn("gate invalidation failed", zap.String("community_id", communityID), zap.Error(err))
	}
}

func getQuest(db *gorm.DB, communityID string, id int64) (*model.Quest, error) {
	var q model.Quest
	err := db.Where("id = ? AND community_id = ?", id, communityID).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func validate(tx *gorm.DB, q *model.Quest) error {
	switch {
	case q.Name == "":
		return invalid("name", "is required")
	case q.ActivityType == "":
		return invalid("activity_type", "is required")
	case q.TargetCount < 1:
		return invalid("target_count", "must be at least 1")
	case q.RewardCurrency < 0:
		return invalid("reward_currency", "must not be negative")
	case q.RewardXP < 0:
		return invalid("reward_xp", "must not be negative")
	case q.RewardItemQty < 0:
		return invalid("reward_item_qty", "must not be negative")
	case q.CooldownHours != nil && *q.CooldownHours < 0:
		return invalid("completion_cooldown_hours", "must not be negative")
	case q.MaxCompletions != nil && *q.MaxCompletions < 1:
		return invalid("max_completions", "must be at least 1")
	}

	switch q.ResetType {
	case model.ResetNever, model.ResetDaily, model.ResetMonthly:
	case model.ResetWeekly:
		if q.ResetDayOfWeek == nil {
			return invalid("reset_day_of_week", "is required for weekly quests")
		}
	default:
		return invalid("reset_type", fmt.Sprintf("%q is not one of never, daily, weekly, monthly", q.ResetType))
	}
	if q.ResetDayOfWeek != nil && (*q.ResetDayOfWeek < 0 || *q.ResetDayOfWeek > 6) {
		return invalid("reset_day_of_week", "must be between 0 (Sunday) and 6 (Saturday)")
	}
	if _, err := time.Parse("15:04", q.ResetTime); err != nil {
		return invalid("reset_time", "must be HH:MM")
	}

	return validatePrerequisites(tx, q)
}

func validatePrerequisites(tx *gorm.DB, q *model.Quest) error {
	if len(q.PrerequisiteIDs) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(q.PrerequisiteIDs))
	for _, id := range q.PrerequisiteIDs {
		switch {
		case id <= 0:
			return invalid("prerequisite_quest_ids", "contains an invalid id")
		case id == q.ID:
			return invalid("prerequisite_quest_ids", "must not contain the quest itself")
		case seen[id]:
			return invalid("prerequisite_quest_ids", fmt.Sprintf("lists %d twice", id))
		}
		seen[id] = true
	}

	var community []model.Quest
	if err := tx.Select("id", "prerequisite_ids").
		Where("community_id = ?", q.CommunityID).
		Find(&community).Error; err != nil {
		return err
	}
	graph := make(map[int64][]int64, len(community)+1)
	for _, other := range community {
		graph[other.ID] = other.PrerequisiteIDs
	}
	for _, id := range q.PrerequisiteIDs {
		if _, ok := graph[id]; !ok {
			return invalid("prerequisite_quest_ids", fmt.Sprintf("quest %d does not exist in this community", id))
		}
	}
	if q.ID == 0 {
		// Nothing can depend on a quest that does not exist yet.
		return nil
	}
	graph[q.ID] = q.PrerequisiteIDs
	if reachable(graph, q.PrerequisiteIDs, q.ID) {
		return invalid("prerequisite_quest_ids", "would create a prerequisite cycle")
	}
	return nil
}

// reachable reports whether target is reachable from any of start.
func reachable(graph map[int64][]int64, start []int64, target int64) bool {
	visited := make(map[int64]bool)
	stack := append([]int64(nil), start...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, graph[n]...)
	}
	return false
}
