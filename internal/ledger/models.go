// Package ledger is the durable record of the game: issued vouchers, their
// audit drops, per-player aggregates, settled redemptions and the payout
// reserve. All addresses and hashes are stored lowercased; the store
// normalizes on write and on every lookup.
package ledger

import "time"

// Voucher is the persisted form of an issued reward voucher, keyed by its
// issuance nonce. RedeemedAt and SettlementRef transition unset to set
// exactly once, when the redemption that consumed the commitment commits.
type Voucher struct {
	Nonce         string     `gorm:"primaryKey;size:66"`
	Commitment    string     `gorm:"uniqueIndex;size:66;not null"`
	Recipient     string     `gorm:"index;size:42;not null"`
	AmountUnits   uint32     `gorm:"not null"`
	Signature     []byte     `gorm:"not null"`
	IssuedAt      time.Time  `gorm:"not null"`
	ExpiresAt     time.Time  `gorm:"not null;index"`
	RedeemedAt    *time.Time `gorm:""`
	SettlementRef *string    `gorm:"size:36"`
}

// Drop is the audit trail for one draw: the serialized descent path and the
// voucher it produced.
type Drop struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Principal     string    `gorm:"index;size:42;not null"`
	PathData      string    `gorm:"type:text;not null"`
	FinalPosition int       `gorm:"not null"`
	AmountUnits   uint32    `gorm:"not null"`
	VoucherNonce  string    `gorm:"uniqueIndex;size:66;not null"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// Player aggregates one wallet's history. Rows are created lazily on the
// first drop and updated in the same transaction as each issuance.
type Player struct {
	Address     string    `gorm:"primaryKey;size:42"`
	FirstSeenAt time.Time `gorm:"not null"`
	LastDropAt  time.Time `gorm:"not null"`
	Drops       int64     `gorm:"not null;default:0"`
	UnitsWon    int64     `gorm:"not null;default:0"`
}

// Redemption doubles as the consumed-commitment set and the settlement
// audit record. The unique index on Commitment is what makes consumption
// exactly-once: concurrent redeemers race on the insert and only one row
// ever lands.
type Redemption struct {
	SettlementRef string    `gorm:"primaryKey;size:36"`
	Commitment    string    `gorm:"uniqueIndex;size:66;not null"`
	Nonce         string    `gorm:"size:66;not null"`
	Recipient     string    `gorm:"index;size:42;not null"`
	AmountUnits   uint32    `gorm:"not null"`
	ValueWei      string    `gorm:"size:78;not null"`
	RedeemedAt    time.Time `gorm:"not null"`
}

// Reserve is the single row backing the payout pool, denominated in reward
// units. Debits are conditional updates, so the balance can never go
// negative no matter how redemptions interleave.
type Reserve struct {
	ID           uint `gorm:"primaryKey"`
	BalanceUnits int64
	UpdatedAt    time.Time
}
