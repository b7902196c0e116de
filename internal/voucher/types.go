package voucher

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RewardVoucher is a signed, single-use claim to a plinko payout. The four
// struct fields are what the signature commits to; the issuer instance is
// bound through the signing domain rather than carried in the payload.
type RewardVoucher struct {
	Recipient   common.Address
	AmountUnits uint32
	Nonce       [32]byte
	ExpiresAt   int64 // unix seconds
	Signature   []byte
}

// Instance identifies one deployed issuer. Commitments from different
// instances never collide because the domain separator hashes both fields.
type Instance struct {
	ChainID *big.Int
	Address common.Address
}

type voucherJSON struct {
	Recipient   common.Address `json:"recipient"`
	AmountUnits uint32         `json:"amount_units"`
	Nonce       string         `json:"nonce"`
	ExpiresAt   int64          `json:"expires_at"`
	Signature   string         `json:"signature"`
}

func (v RewardVoucher) MarshalJSON() ([]byte, error) {
	return json.Marshal(voucherJSON{
		Recipient:   v.Recipient,
		AmountUnits: v.AmountUnits,
		Nonce:       hexutil.Encode(v.Nonce[:]),
		ExpiresAt:   v.ExpiresAt,
		Signature:   hexutil.Encode(v.Signature),
	})
}

func (v *RewardVoucher) UnmarshalJSON(b []byte) error {
	var aux voucherJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	nonce, err := hexutil.Decode(aux.Nonce)
	if err != nil {
		return fmt.Errorf("voucher: decode nonce: %w", err)
	}
	if len(nonce) != 32 {
		return fmt.Errorf("voucher: nonce is %d bytes, want 32", len(nonce))
	}
	sig, err := hexutil.Decode(aux.Signature)
	if err != nil {
		return fmt.Errorf("voucher: decode signature: %w", err)
	}
	v.Recipient = aux.Recipient
	v.AmountUnits = aux.AmountUnits
	copy(v.Nonce[:], nonce)
	v.ExpiresAt = aux.ExpiresAt
	v.Signature = sig
	return nil
}
