package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const reserveID = 1

// Store wraps the gorm handle with the typed queries the service needs.
// Methods that participate in redemption are also available on the
// transaction-scoped store handed to Transaction callbacks.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the schema and seeds the reserve row.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Voucher{}, &Drop{}, &Player{}, &Redemption{}, &Reserve{}); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	seed := &Reserve{ID: reserveID, BalanceUnits: 0, UpdatedAt: time.Now().UTC()}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error
	if err != nil {
		return fmt.Errorf("ledger: seed reserve: %w", err)
	}
	return nil
}

// Transaction runs fn against a transaction-scoped store. Any error from fn
// rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(txdb *gorm.DB) error {
		return fn(&Store{db: txdb})
	})
}

func norm(v string) string {
	return strings.ToLower(v)
}

// ── Issuance ───────────────────────────────────────────────────────────────

// RecordIssuance persists a voucher with its audit drop and bumps the
// player aggregates, all in one transaction. A failure leaves no trace of
// the draw.
func (s *Store) RecordIssuance(ctx context.Context, v *Voucher, d *Drop) error {
	v.Nonce = norm(v.Nonce)
	v.Commitment = norm(v.Commitment)
	v.Recipient = norm(v.Recipient)
	d.Principal = norm(d.Principal)
	d.VoucherNonce = norm(d.VoucherNonce)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("ledger: create voucher: %w", err)
		}
		if err := tx.Create(d).Error; err != nil {
			return fmt.Errorf("ledger: create drop: %w", err)
		}
		player := &Player{
			Address:     d.Principal,
			FirstSeenAt: d.CreatedAt,
			LastDropAt:  d.CreatedAt,
			Drops:       1,
			UnitsWon:    int64(v.AmountUnits),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_drop_at": d.CreatedAt,
				"drops":        gorm.Expr("drops + 1"),
				"units_won":    gorm.Expr("units_won + ?", int64(v.AmountUnits)),
			}),
		}).Create(player).Error
		if err != nil {
			return fmt.Errorf("ledger: upsert player: %w", err)
		}
		return nil
	})
}

// ── Voucher queries ────────────────────────────────────────────────────────

// VouchersByRecipient returns the recipient's vouchers, newest first.
func (s *Store) VouchersByRecipient(ctx context.Context, recipient string, limit int) ([]Voucher, error) {
	var out []Voucher
	err := s.db.WithContext(ctx).
		Where("recipient = ?", norm(recipient)).
		Order("issued_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: vouchers by recipient: %w", err)
	}
	return out, nil
}

// VoucherByCommitment returns the voucher row, or nil when the commitment
// was never persisted.
func (s *Store) VoucherByCommitment(ctx context.Context, commitment string) (*Voucher, error) {
	var v Voucher
	err := s.db.WithContext(ctx).Where("commitment = ?", norm(commitment)).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: voucher by commitment: %w", err)
	}
	return &v, nil
}

// ── Redemption ─────────────────────────────────────────────────────────────

// IsRedeemed reports whether the commitment is already in the consumed set.
func (s *Store) IsRedeemed(ctx context.Context, commitment string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Redemption{}).
		Where("commitment = ?", norm(commitment)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("ledger: redeemed lookup: %w", err)
	}
	return n > 0, nil
}

// InsertRedemption adds the commitment to the consumed set. It reports
// false, nil when another redemption holds the commitment already; that is
// the losing side of the race, not an error.
func (s *Store) InsertRedemption(ctx context.Context, r *Redemption) (bool, error) {
	r.Commitment = norm(r.Commitment)
	r.Nonce = norm(r.Nonce)
	r.Recipient = norm(r.Recipient)

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "commitment"}},
		DoNothing: true,
	}).Create(r)
	if res.Error != nil {
		return false, fmt.Errorf("ledger: insert redemption: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkVoucherRedeemed stamps the voucher row for a consumed commitment. A
// missing or already-stamped row reports false so the caller can flag the
// inconsistency; the redemption itself is governed by the consumed set.
func (s *Store) MarkVoucherRedeemed(ctx context.Context, commitment, settlementRef string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Voucher{}).
		Where("commitment = ? AND redeemed_at IS NULL", norm(commitment)).
		Updates(map[string]interface{}{
			"redeemed_at":    at,
			"settlement_ref": settlementRef,
		})
	if res.Error != nil {
		return false, fmt.Errorf("ledger: mark voucher redeemed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CountRedemptionsByRecipient returns how many of the recipient's vouchers
// have settled.
func (s *Store) CountRedemptionsByRecipient(ctx context.Context, recipient string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Redemption{}).
		Where("recipient = ?", norm(recipient)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: count redemptions: %w", err)
	}
	return n, nil
}

// ── Reserve ────────────────────────────────────────────────────────────────

// ReserveBalance returns the current reserve balance in units.
func (s *Store) ReserveBalance(ctx context.Context) (int64, error) {
	var r Reserve
	if err := s.db.WithContext(ctx).First(&r, reserveID).Error; err != nil {
		return 0, fmt.Errorf("ledger: reserve balance: %w", err)
	}
	return r.BalanceUnits, nil
}

// CreditReserve adds units to the reserve.
func (s *Store) CreditReserve(ctx context.Context, units int64) error {
	res := s.db.WithContext(ctx).Model(&Reserve{}).
		Where("id = ?", reserveID).
		Updates(map[string]interface{}{
			"balance_units": gorm.Expr("balance_units + ?", units),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("ledger: credit reserve: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return errors.New("ledger: reserve row missing")
	}
	return nil
}

// DebitReserve subtracts units if and only if the balance covers them. The
// guard in the WHERE clause makes concurrent debits safe: the last unit
// goes to exactly one caller.
func (s *Store) DebitReserve(ctx context.Context, units int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Reserve{}).
		Where("id = ? AND balance_units >= ?", reserveID, units).
		Updates(map[string]interface{}{
			"balance_units": gorm.Expr("balance_units - ?", units),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("ledger: debit reserve: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ── Drops and players ──────────────────────────────────────────────────────

// RecentDrops returns the latest drops, newest first.
func (s *Store) RecentDrops(ctx context.Context, limit int) ([]Drop, error) {
	var out []Drop
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: recent drops: %w", err)
	}
	return out, nil
}

// PlayerByAddress returns the player aggregate row, or nil before the first
// drop.
func (s *Store) PlayerByAddress(ctx context.Context, address string) (*Player, error) {
	var p Player
	err := s.db.WithContext(ctx).Where("address = ?", norm(address)).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: player by address: %w", err)
	}
	return &p, nil
}

// ── Solvency ───────────────────────────────────────────────────────────────

// OutstandingLiability totals the units on unredeemed, unexpired vouchers
// as of now. This is the amount the reserve must cover.
func (s *Store) OutstandingLiability(ctx context.Context, now time.Time) (units int64, count int64, err error) {
	row := s.db.WithContext(ctx).Model(&Voucher{}).
		Select("COALESCE(SUM(amount_units), 0), COUNT(*)").
		Where("redeemed_at IS NULL AND expires_at > ?", now.UTC()).
		Row()
	if err := row.Scan(&units, &count); err != nil {
		return 0, 0, fmt.Errorf("ledger: outstanding liability: %w", err)
	}
	return units, count, nil
}
