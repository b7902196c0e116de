// Package redeem validates and settles reward vouchers. Everything a holder
// submits is untrusted: the validator recomputes the commitment, recovers
// the signer from the signature, and consumes the commitment exactly once
// in the same transaction that debits the reserve.
package redeem

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Yours-Pranav/fcplinko/internal/ledger"
	"github.com/Yours-Pranav/fcplinko/internal/metrics"
	"github.com/Yours-Pranav/fcplinko/internal/plinko"
	"github.com/Yours-Pranav/fcplinko/internal/voucher"
)

// Request carries the plaintext voucher fields and signature exactly as the
// holder submitted them.
type Request struct {
	Recipient   common.Address
	AmountUnits uint32
	Nonce       [32]byte
	ExpiresAt   int64
	Signature   []byte
}

// Receipt reports a settled redemption.
type Receipt struct {
	SettlementRef string
	AmountUnits   uint32
	ValueWei      *big.Int
	RedeemedAt    time.Time
}

// Validator is the redemption trust boundary. It trusts only its configured
// issuer identity and the consumed-commitment set; pause and issuer updates
// are the only mutable state.
type Validator struct {
	store   *ledger.Store
	inst    voucher.Instance
	unitWei *big.Int

	mu     sync.RWMutex
	issuer common.Address
	paused bool

	log *zap.Logger
	now func() time.Time
}

// New builds a validator that accepts vouchers signed by issuerAddr for
// inst. unitWei prices one reward unit for settlement records.
func New(store *ledger.Store, inst voucher.Instance, issuerAddr common.Address, unitWei *big.Int, log *zap.Logger) *Validator {
	return &Validator{
		store:   store,
		inst:    inst,
		unitWei: unitWei,
		issuer:  issuerAddr,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the time source for expiry tests.
func (v *Validator) SetClock(clock func() time.Time) {
	v.now = clock
}

// Redeem runs the full validation chain and, if every check passes, settles
// the voucher: the commitment joins the consumed set and the reserve is
// debited in one transaction. Refusals come back as *RejectionError;
// anything else is an infrastructure failure and consumes nothing.
func (v *Validator) Redeem(ctx context.Context, req Request, caller common.Address) (*Receipt, error) {
	v.mu.RLock()
	paused, issuerAddr := v.paused, v.issuer
	v.mu.RUnlock()

	if paused {
		return nil, reject(ReasonPaused, "")
	}

	now := v.now().UTC()
	if now.Unix() > req.ExpiresAt {
		return nil, reject(ReasonExpired, fmt.Sprintf("expired at %d", req.ExpiresAt))
	}
	if caller != req.Recipient {
		return nil, reject(ReasonRecipientMismatch, "")
	}
	if req.AmountUnits < plinko.MinUnits || req.AmountUnits > plinko.MaxUnits {
		return nil, reject(ReasonInvalidAmount, fmt.Sprintf("%d units", req.AmountUnits))
	}

	rv := &voucher.RewardVoucher{
		Recipient:   req.Recipient,
		AmountUnits: req.AmountUnits,
		Nonce:       req.Nonce,
		ExpiresAt:   req.ExpiresAt,
		Signature:   req.Signature,
	}
	commitment := voucher.Commit(rv, v.inst)
	chex := hexutil.Encode(commitment[:])

	// Cheap pre-check; the insert below is what actually arbitrates races.
	redeemed, err := v.store.IsRedeemed(ctx, chex)
	if err != nil {
		return nil, fmt.Errorf("redeem: consumed-set lookup: %w", err)
	}
	if redeemed {
		return nil, v.refuse(ReasonAlreadyRedeemed, "", chex)
	}

	signer, err := voucher.RecoverSigner(rv, v.inst)
	if err != nil {
		return nil, v.refuse(ReasonInvalidSignature, err.Error(), chex)
	}
	if signer != issuerAddr {
		return nil, v.refuse(ReasonInvalidSignature, "unexpected signer "+signer.Hex(), chex)
	}

	ref := uuid.NewString()
	valueWei := new(big.Int).Mul(v.unitWei, big.NewInt(int64(req.AmountUnits)))
	row := &ledger.Redemption{
		SettlementRef: ref,
		Commitment:    chex,
		Nonce:         hexutil.Encode(req.Nonce[:]),
		Recipient:     strings.ToLower(req.Recipient.Hex()),
		AmountUnits:   req.AmountUnits,
		ValueWei:      valueWei.String(),
		RedeemedAt:    now,
	}

	err = v.store.Transaction(ctx, func(tx *ledger.Store) error {
		inserted, err := tx.InsertRedemption(ctx, row)
		if err != nil {
			return err
		}
		if !inserted {
			return reject(ReasonAlreadyRedeemed, "")
		}
		debited, err := tx.DebitReserve(ctx, int64(req.AmountUnits))
		if err != nil {
			return err
		}
		if !debited {
			// Roll back so the commitment stays unconsumed; the holder
			// can retry after the reserve is funded.
			return reject(ReasonInsufficientFunds, "")
		}
		stamped, err := tx.MarkVoucherRedeemed(ctx, chex, ref, now)
		if err != nil {
			return err
		}
		if !stamped {
			v.log.Warn("no voucher record for consumed commitment",
				zap.String("commitment", chex),
				zap.String("settlement_ref", ref))
		}
		return nil
	})
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			metrics.Game().RedemptionsTotal.WithLabelValues(reason.String()).Inc()
			return nil, err
		}
		return nil, fmt.Errorf("redeem: settle: %w", err)
	}

	metrics.Game().RedemptionsTotal.WithLabelValues("SETTLED").Inc()
	metrics.Game().UnitsRedeemedTotal.Add(float64(req.AmountUnits))
	v.log.Info("voucher redeemed",
		zap.String("recipient", row.Recipient),
		zap.Uint32("units", req.AmountUnits),
		zap.String("settlement_ref", ref))

	return &Receipt{
		SettlementRef: ref,
		AmountUnits:   req.AmountUnits,
		ValueWei:      valueWei,
		RedeemedAt:    now,
	}, nil
}

func (v *Validator) refuse(reason Reason, detail, commitment string) *RejectionError {
	metrics.Game().RedemptionsTotal.WithLabelValues(reason.String()).Inc()
	v.log.Info("redemption refused",
		zap.String("reason", reason.String()),
		zap.String("commitment", commitment))
	return reject(reason, detail)
}

// ── Operator controls ──────────────────────────────────────────────────────

// Pause stops settlements. In-flight transactions finish; new requests are
// refused until Resume.
func (v *Validator) Pause() {
	v.mu.Lock()
	v.paused = true
	v.mu.Unlock()
	v.log.Warn("redemptions paused")
}

func (v *Validator) Resume() {
	v.mu.Lock()
	v.paused = false
	v.mu.Unlock()
	v.log.Info("redemptions resumed")
}

func (v *Validator) Paused() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.paused
}

// SetIssuer updates the trusted signing identity after a key rotation.
// Vouchers signed by the previous key stop verifying from this point on.
func (v *Validator) SetIssuer(addr common.Address) {
	v.mu.Lock()
	old := v.issuer
	v.issuer = addr
	v.mu.Unlock()
	v.log.Warn("validator trust updated",
		zap.String("old_issuer", old.Hex()),
		zap.String("new_issuer", addr.Hex()))
}

func (v *Validator) IssuerAddress() common.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.issuer
}

// Deposit credits the reserve.
func (v *Validator) Deposit(ctx context.Context, units int64) error {
	if units <= 0 {
		return fmt.Errorf("redeem: deposit must be positive, got %d", units)
	}
	if err := v.store.CreditReserve(ctx, units); err != nil {
		return err
	}
	v.log.Info("reserve deposited", zap.Int64("units", units))
	return nil
}

// Withdraw debits the reserve, refusing to take it below zero.
func (v *Validator) Withdraw(ctx context.Context, units int64) error {
	if units <= 0 {
		return fmt.Errorf("redeem: withdrawal must be positive, got %d", units)
	}
	ok, err := v.store.DebitReserve(ctx, units)
	if err != nil {
		return err
	}
	if !ok {
		return reject(ReasonInsufficientFunds, "withdrawal exceeds reserve")
	}
	v.log.Info("reserve withdrawn", zap.Int64("units", units))
	return nil
}
