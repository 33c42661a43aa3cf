package model

import (
	"time"

	"gorm.io/datatypes"
)

// ResetType is the recurrence policy of a quest.
type ResetType string

const (
	ResetNever   ResetType = "never"
	ResetDaily   ResetType = "daily"
	ResetWeekly  ResetType = "weekly"
	ResetMonthly ResetType = "monthly"
)

// Periodic reports whether progress is reset on a schedule.
func (r ResetType) Periodic() bool {
	return r == ResetDaily || r == ResetWeekly || r == ResetMonthly
}

// Quest is a community-scoped quest definition.
type Quest struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	CommunityID  string `gorm:"index:idx_quest_community_activity;size:32;not null" json:"community_id"`
	ActivityType string `gorm:"index:idx_quest_community_activity;size:64;not null" json:"activity_type"`
	Category     string `gorm:"size:32;not null" json:"category"`

	Name        string `gorm:"size:100;not null" json:"name"`
	Slug        string `gorm:"size:120" json:"slug"`
	Description string `gorm:"type:text" json:"description"`
	Emoji       string `gorm:"size:16" json:"emoji"`

	// Requirement
	TargetCount int64                       `gorm:"not null" json:"target_count"`
	ChannelIDs  datatypes.JSONSlice[string] `gorm:"column:channel_ids" json:"channel_ids"` // empty = any channel

	// Rewards; zero values mean "not granted".
	RewardCurrency int64  `json:"reward_currency"`
	RewardXP       int64  `json:"reward_xp"`
	RewardRoleID   string `gorm:"size:32" json:"reward_role_id"`
	RewardItemID   string `gorm:"size:64" json:"reward_item_id"`
	RewardItemQty  int    `json:"reward_item_qty"`

	ResetType      ResetType `gorm:"size:16;not null" json:"reset_type"`
	ResetTime      string    `gorm:"size:5" json:"reset_time"` // HH:MM
	ResetDayOfWeek *int      `json:"reset_day_of_week"`        // 0=Sunday
	CooldownHours  *int      `json:"completion_cooldown_hours"`
	MaxCompletions *int      `json:"max_completions"`

	PrerequisiteIDs datatypes.JSONSlice[int64] `gorm:"column:prerequisite_ids" json:"prerequisite_quest_ids"`
	ChainID         string                     `gorm:"size:64" json:"chain_id"`
	ChainPosition   int                        `json:"chain_position"`

	Enabled bool `gorm:"not null" json:"enabled"`
	Visible bool `gorm:"not null" json:"visible"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Terminal reports whether a single completion ends the quest for good.
func (q *Quest) Terminal() bool {
	return q.ResetType == ResetNever && q.MaxCompletions == nil
}

// CapReached reports whether count has hit the completion cap.
func (q *Quest) CapReached(count int) bool {
	return q.MaxCompletions != nil && count >= *q.MaxCompletions
}

// QuestProgress tracks one member's progress on one quest.
// Rows are only mutated through version-checked conditional updates.
type QuestProgress struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	QuestID         int64      `gorm:"uniqueIndex:idx_progress_quest_user;not null" json:"quest_id"`
	UserID          string     `gorm:"uniqueIndex:idx_progress_quest_user;size:32;not null" json:"user_id"`
	CommunityID     string     `gorm:"index:idx_progress_community_user;size:32;not null" json:"community_id"`
	CurrentProgress int64      `gorm:"not null" json:"current_progress"`
	TargetProgress  int64      `gorm:"not null" json:"target_progress"`
	Completed       bool       `gorm:"not null" json:"completed"`
	CompletedAt     *time.Time `json:"completed_at"`
	CompletionCount int        `gorm:"not null" json:"completion_count"`
	LastCompletedAt *time.Time `json:"last_completed_at"`
	ResetAt         *time.Time `gorm:"index:idx_progress_reset" json:"reset_at"`
	Version         int64      `gorm:"not null" json:"-"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (QuestProgress) TableName() string { return "quest_progress" }

// Reward grant outcomes recorded in the completion log.
const (
	GrantOK     = "granted"
	GrantFailed = "failed"
)

// RewardGrant is the snapshot of one reward attempted for a completion.
type RewardGrant struct {
	Kind     string `json:"kind"`
	Amount   int64  `json:"amount,omitempty"`
	RoleID   string `json:"role_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// QuestCompletion is an append-only completion log entry.
type QuestCompletion struct {
	ID               int64                            `gorm:"primaryKey;autoIncrement" json:"id"`
	QuestID          int64                            `gorm:"uniqueIndex:idx_completion_seq;not null" json:"quest_id"`
	UserID           string                           `gorm:"uniqueIndex:idx_completion_seq;size:32;not null" json:"user_id"`
	CompletionNumber int                              `gorm:"uniqueIndex:idx_completion_seq;not null" json:"completion_number"`
	CommunityID      string                           `gorm:"index:idx_completion_community;size:32;not null" json:"community_id"`
	Progress         int64                            `json:"progress"`
	Rewards          datatypes.JSONSlice[RewardGrant] `json:"rewards"`
	PartialFailure   bool                             `json:"partial_failure"`
	Manual           bool                             `json:"manual"`
	CreatedAt        time.Time                        `gorm:"index:idx_completion_created;autoCreateTime" json:"created_at"`
}
