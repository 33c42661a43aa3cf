package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/questengine/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxStack caps a single inventory stack.
const maxStack = 9999

var (
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	ErrStackFull     = errors.New("ledger: item stack full")
)

// Service stores member balances, roles and items in the database. Its
// Currency, Experience, Roles and Items views satisfy the quest reward
// collaborator interfaces.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a new ledger Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Currency credits coins.
func (s *Service) Currency() *Currency { return &Currency{s} }

// Experience credits XP.
func (s *Service) Experience() *Experience { return &Experience{s} }

// Roles grants community roles.
func (s *Service) Roles() *Roles { return &Roles{s} }

// Items grants inventory items.
func (s *Service) Items() *Items { return &Items{s} }

// credit adds amount to one wallet column and appends a transaction row.
func (s *Service) credit(ctx context.Context, communityID, userID, kind string, amount int64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w := &model.MemberWallet{CommunityID: communityID, UserID: userID}
	switch kind {
	case model.TxCoins:
		w.Coins = amount
	case model.TxXP:
		w.XP = amount
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "community_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				kind:         gorm.Expr("member_wallets."+kind+" + ?", amount),
				"updated_at": time.Now().UTC(),
			}),
		}).Create(w).Error; err != nil {
			return err
		}
		return tx.Create(&model.WalletTransaction{
			CommunityID: communityID,
			UserID:      userID,
			Kind:        kind,
			Amount:      amount,
			Reason:      reason,
		}).Error
	})
}

// Wallet returns the member's balances; a member with no credits yet has
// an empty wallet.
func (s *Service) Wallet(ctx context.Context, communityID, userID string) (*model.MemberWallet, error) {
	var w model.MemberWallet
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.MemberWallet{CommunityID: communityID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Transactions lists the member's wallet credits, newest first.
func (s *Service) Transactions(ctx context.Context, communityID, userID string, limit int) ([]model.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var txs []model.WalletTransaction
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Order("id DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// Currency is the coin view of a Service.
type Currency struct{ s *Service }

// Credit adds amount coins and records reason on the transaction row.

func (c *Currency) Credit(ctx context.Context, communityID, userID string, amount int64, reason string) error {
	return c.s.credit(ctx, communityID, userID, model.TxCoins, amount, reason)
}

// Experience is the XP view of a Service.
type Experience struct{ s *Service }

// Credit adds amount XP.

func (e *Experience) Credit(ctx context.Context, communityID, userID string, amount int64) error {
	return e.s.credit(ctx, communityID, userID, model.TxXP, amount, "")
}

// Roles is the role view of a Service.
type Roles struct{ s *Service }

// Grant assigns roleID to the member. Granting a role the member already
// holds is a no-op.
func (r *Roles) Grant(ctx context.Context, communityID, userID, roleID string) error {
	err := r.s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.MemberRole{CommunityID: communityID, UserID: userID, RoleID: roleID}).Error
	if err == nil {
		r.s.logger.Debug("role granted",
			zap.String("community_id", communityID),
			zap.String("user_id", userID),
			zap.String("role_id", roleID))
	}
	return err
}

// List returns the member's role ids.
func (r *Roles) List(ctx context.Context, communityID, userID string) ([]string, error) {
	var ids []string
	err := r.s.db.WithContext(ctx).Model(&model.MemberRole{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Order("id").
		Pluck("role_id", &ids).Error
	return ids, err
}

// Items is the inventory view of a Service.
type Items struct{ s *Service }

// Grant adds quantity of itemID to the member's stack, creating it if
// needed. Stacks hold at most maxStack items; a grant that would overflow
// leaves the stack unchanged.
func (it *Items) Grant(ctx context.Context, communityID, userID, itemID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidAmount
	}
	if quantity > maxStack {
		return ErrStackFull
	}
	return it.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "community_id"}, {Name: "user_id"}, {Name: "item_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"qty":        gorm.Expr("member_items.qty + ?", quantity),
				"updated_at": time.Now().UTC(),
			}),
		}).Create(&model.MemberItem{
			CommunityID: communityID,
			UserID:      userID,
			ItemID:      itemID,
			Qty:         quantity,
		}).Error; err != nil {
			return err
		}
		var qty int
		if err := tx.Model(&model.MemberItem{}).
			Where("community_id = ? AND user_id = ? AND item_id = ?", communityID, userID, itemID).
			Pluck("qty", &qty).Error; err != nil {
			return err
		}
		if qty > maxStack {
			return ErrStackFull
		}
		return nil
	})
}

// List returns the member's item stacks.
func (it *Items) List(ctx context.Context, communityID, userID string) ([]model.MemberItem, error) {
	var items []model.MemberItem
	err := it.s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Order("item_id").
		Find(&items).Error
	return items, err
}
