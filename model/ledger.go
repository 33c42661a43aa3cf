package model

import "time"

// MemberWallet holds a member's currency and experience balances.
type MemberWallet struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CommunityID string    `gorm:"uniqueIndex:idx_wallet_member;size:32;not null" json:"community_id"`
	UserID      string    `gorm:"uniqueIndex:idx_wallet_member;size:32;not null" json:"user_id"`
	Coins       int64     `gorm:"not null" json:"coins"`
	XP          int64     `gorm:"not null" json:"xp"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// MemberRole records a role granted to a member.
type MemberRole struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CommunityID string    `gorm:"uniqueIndex:idx_member_role;size:32;not null" json:"community_id"`
	UserID      string    `gorm:"uniqueIndex:idx_member_role;size:32;not null" json:"user_id"`
	RoleID      string    `gorm:"uniqueIndex:idx_member_role;size:32;not null" json:"role_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// MemberItem is a single item stack in a member's inventory.
type MemberItem struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CommunityID string    `gorm:"uniqueIndex:idx_member_item;size:32;not null" json:"community_id"`
	UserID      string    `gorm:"uniqueIndex:idx_member_item;size:32;not null" json:"user_id"`
	ItemID      string    `gorm:"uniqueIndex:idx_member_item;size:64;not null" json:"item_id"`
	Qty         int       `gorm:"not null" json:"qty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Wallet transaction kinds.
const (
	TxCoins = "coins"
	TxXP    = "xp"
)

// WalletTransaction is an append-only record of a wallet credit.
type WalletTransaction struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CommunityID string    `gorm:"index:idx_wallet_tx_member;size:32;not null" json:"community_id"`
	UserID      string    `gorm:"index:idx_wallet_tx_member;size:32;not null" json:"user_id"`
	Kind        string    `gorm:"size:8;not null" json:"kind"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Reason      string    `gorm:"size:64" json:"reason"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
