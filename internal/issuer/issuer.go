// Package issuer builds and signs reward vouchers. One Issuer holds the
// signing key for one instance; the key changes only through Rotate, which
// excludes in-flight signing, so every voucher is signed entirely under one
// key.
package issuer

import (
	"context"
	"crypto/ecdsa"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Yours-Pranav/fcplinko/internal/ledger"
	"github.com/Yours-Pranav/fcplinko/internal/plinko"
	"github.com/Yours-Pranav/fcplinko/internal/voucher"
)

// Ledger is the slice of the voucher ledger issuance writes to.
type Ledger interface {
	RecordIssuance(ctx context.Context, v *ledger.Voucher, d *ledger.Drop) error
}

// IssuanceError reports a voucher that was signed but could not be
// persisted. The caller's draw succeeded and its quota unit is spent; the
// voucher was not handed out, so the error must surface for reconciliation
// instead of being swallowed.
type IssuanceError struct {
	Nonce string
	Err   error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issuer: voucher %s signed but not persisted: %v", e.Nonce, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

type Issuer struct {
	mu      sync.RWMutex
	privKey *ecdsa.PrivateKey
	address common.Address

	inst    voucher.Instance
	ttl     time.Duration
	entropy io.Reader
	store   Ledger
	log     *zap.Logger
	now     func() time.Time
}

// New parses the hex-encoded signing key and returns an issuer whose
// vouchers expire ttl after issuance.
func New(keyHex string, inst voucher.Instance, ttl time.Duration, store Ledger, log *zap.Logger) (*Issuer, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("issuer: parse signing key: %w", err)
	}
	return &Issuer{
		privKey: privKey,
		address: crypto.PubkeyToAddress(privKey.PublicKey),
		inst:    inst,
		ttl:     ttl,
		entropy: crand.Reader,
		store:   store,
		log:     log,
		now:     time.Now,
	}, nil
}

// SetClock overrides the time source for expiry tests.
func (i *Issuer) SetClock(clock func() time.Time) {
	i.now = clock
}

// Address returns the current signing identity.
func (i *Issuer) Address() common.Address {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.address
}

// Instance returns the identity vouchers are domain-bound to.
func (i *Issuer) Instance() voucher.Instance {
	return i.inst
}

// Issue signs a voucher for the outcome and persists it with its audit
// drop. On a storage failure the signed voucher is discarded and an
// IssuanceError is returned; nothing redeemable leaves the process.
func (i *Issuer) Issue(ctx context.Context, recipient common.Address, out plinko.Outcome) (*voucher.RewardVoucher, error) {
	var nonce [32]byte
	if _, err := io.ReadFull(i.entropy, nonce[:]); err != nil {
		return nil, fmt.Errorf("issuer: nonce entropy: %w", err)
	}

	now := i.now().UTC()
	expires := now.Add(i.ttl)

	v := &voucher.RewardVoucher{
		Recipient:   recipient,
		AmountUnits: out.AmountUnits,
		Nonce:       nonce,
		ExpiresAt:   expires.Unix(),
	}

	// Signing happens under the read lock so Rotate cannot swap the key
	// between digest and signature.
	i.mu.RLock()
	err := voucher.Sign(v, i.privKey, i.inst)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("issuer: sign voucher: %w", err)
	}

	commitment := voucher.Commit(v, i.inst)
	pathJSON, err := json.Marshal(out.Path)
	if err != nil {
		return nil, fmt.Errorf("issuer: encode path: %w", err)
	}

	nonceHex := hexutil.Encode(nonce[:])
	row := &ledger.Voucher{
		Nonce:       nonceHex,
		Commitment:  hexutil.Encode(commitment[:]),
		Recipient:   strings.ToLower(recipient.Hex()),
		AmountUnits: v.AmountUnits,
		Signature:   v.Signature,
		IssuedAt:    now,
		ExpiresAt:   expires,
	}
	drop := &ledger.Drop{
		ID:            uuid.NewString(),
		Principal:     row.Recipient,
		PathData:      string(pathJSON),
		FinalPosition: out.FinalPosition,
		AmountUnits:   out.AmountUnits,
		VoucherNonce:  nonceHex,
		CreatedAt:     now,
	}
	if err := i.store.RecordIssuance(ctx, row, drop); err != nil {
		return nil, &IssuanceError{Nonce: nonceHex, Err: err}
	}

	i.log.Info("voucher issued",
		zap.String("recipient", row.Recipient),
		zap.Uint32("units", v.AmountUnits),
		zap.String("nonce", nonceHex),
		zap.Int64("expires_at", v.ExpiresAt))
	return v, nil
}

// Rotate swaps the signing key. Vouchers signed under the old key remain
// valid only if the validator still trusts that address; callers are
// expected to update the validator in the same step.
func (i *Issuer) Rotate(keyHex string) (common.Address, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("issuer: parse rotation key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	i.mu.Lock()
	old := i.address
	i.privKey = privKey
	i.address = addr
	i.mu.Unlock()

	i.log.Warn("issuer key rotated",
		zap.String("old_address", old.Hex()),
		zap.String("new_address", addr.Hex()))
	return addr, nil
}
