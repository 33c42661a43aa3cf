package quest

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/questengine/model"
)

// CurrencyLedger credits community currency.
type CurrencyLedger interface {
	Credit(ctx context.Context, communityID, userID string, amount int64, reason string) error
}

// ExperienceLedger credits experience points.
type ExperienceLedger interface {
	Credit(ctx context.Context, communityID, userID string, amount int64) error
}

// RoleGrantor assigns a community role.
type RoleGrantor interface {
	Grant(ctx context.Context, communityID, userID, roleID string) error
}

// ItemGrantor hands out inventory items.
type ItemGrantor interface {
	Grant(ctx context.Context, communityID, userID, itemID string, quantity int) error
}

// Notifier delivers a best-effort message to a member.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// Collaborators bundles the external reward and notification services.
// A nil field makes every grant of that kind fail with ErrNoCollaborator.
type Collaborators struct {
	Currency   CurrencyLedger
	Experience ExperienceLedger
	Roles      RoleGrantor
	Items      ItemGrantor
	Notifier   Notifier
}

// Reward kinds as recorded in completion snapshots.
const (
	KindCurrency   = "currency"
	KindExperience = "experience"
	KindRole       = "role"
	KindItem       = "item"
)

// Grantee identifies who receives a reward and why.
type Grantee struct {
	CommunityID string
	UserID      string
	QuestID     int64
}

// Reward is one reward variant attached to a quest.
type Reward interface {
	Grant(ctx context.Context, c Collaborators, to Grantee) error
	// Snapshot returns the log entry for this reward, without status.
	Snapshot() model.RewardGrant
	// Describe renders the reward for notifications.
	Describe() string
}

// CurrencyReward credits coins through the CurrencyLedger. The ledger
// entry reason is "quest:<id>".
type CurrencyReward struct{ Amount int64 }

func (r CurrencyReward) Grant(ctx context.Context, c Collaborators, to Grantee) error {
	if c.Currency == nil {
		return ErrNoCollaborator
	}
	return c.Currency.Credit(ctx, to.CommunityID, to.UserID, r.Amount, fmt.Sprintf("quest:%d", to.QuestID))
}

func (r CurrencyReward) Snapshot() model.RewardGrant {
	return model.RewardGrant{Kind: KindCurrency, Amount: r.Amount}
}

func (r CurrencyReward) Describe() string { return fmt.Sprintf("%d coins", r.Amount) }

// ExperienceReward credits XP through the ExperienceLedger.
type ExperienceReward struct{ Amount int64 }

func (r ExperienceReward) Grant(ctx context.Context, c Collaborators, to Grantee) error {
	if c.Experience == nil {
		return ErrNoCollaborator
	}
	return c.Experience.Credit(ctx, to.CommunityID, to.UserID, r.Amount)
}

func (r ExperienceReward) Snapshot() model.RewardGrant {
	return model.RewardGrant{Kind: KindExperience, Amount: r.Amount}
}

func (r ExperienceReward) Describe() string { return fmt.Sprintf("%d XP", r.Amount) }

// RoleReward assigns a community role through the RoleGrantor.
type RoleReward struct{ RoleID string }

func (r RoleReward) Grant(ctx context.Context, c Collaborators, to Grantee) error {
	if c.Roles == nil {
		return ErrNoCollaborator
	}
	return c.Roles.Grant(ctx, to.CommunityID, to.UserID, r.RoleID)
}

func (r RoleReward) Snapshot() model.RewardGrant {
	return model.RewardGrant{Kind: KindRole, RoleID: r.RoleID}
}

func (r RoleReward) Describe() string { return "role " + r.RoleID }

// ItemReward hands out Quantity copies of an item through the ItemGrantor.
type ItemReward struct {
	ItemID   string
	Quantity int
}

func (r ItemReward) Grant(ctx context.Context, c Collaborators, to Grantee) error {
	if c.Items == nil {
		return ErrNoCollaborator
	}
	return c.Items.Grant(ctx, to.CommunityID, to.UserID, r.ItemID, r.Quantity)
}

func (r ItemReward) Snapshot() model.RewardGrant {
	return model.RewardGrant{Kind: KindItem, ItemID: r.ItemID, Quantity: r.Quantity}
}

func (r ItemReward) Describe() string { return fmt.Sprintf("%dx %s", r.Quantity, r.ItemID) }

// RewardsFor lists the populated reward fields of q in grant order.
func RewardsFor(q *model.Quest) []Reward {
	var out []Reward
	if q.RewardCurrency > 0 {
		out = append(out, CurrencyReward{Amount: q.RewardCurrency})
	}
	if q.RewardXP > 0 {
		out = append(out, ExperienceReward{Amount: q.RewardXP})
	}
	if q.RewardRoleID != "" {
		out = append(out, RoleReward{RoleID: q.RewardRoleID})
	}
	if q.RewardItemID != "" {
		qty := q.RewardItemQty
		if qty <= 0 {
			qty = 1
		}
		out = append(out, ItemReward{ItemID: q.RewardItemID, Quantity: qty})
	}
	return out
}

func describeRewards(rewards []Reward) string {
	parts := make([]string, 0, len(rewards))
	for _, r := range rewards {
		parts = append(parts, r.Describe())
	}
	return strings.Join(parts, ", ")
}
