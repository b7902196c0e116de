package voucher

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureLength reports a signature that is not the 65-byte (r,s,v)
// form this package produces and verifies.
var ErrSignatureLength = errors.New("voucher: signature must be 65 bytes")

var voucherTypeHash = crypto.Keccak256Hash([]byte(
	"RewardVoucher(address recipient,uint256 amountUnits,bytes32 nonce,uint256 expiresAt)",
))

// domainSeparator computes the EIP-712 domain separator. It binds the chain
// ID and the issuer instance address, so a voucher signed for one
// deployment can never verify against another.
func domainSeparator(inst Instance) [32]byte {
	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	nameHash := crypto.Keccak256Hash([]byte("Plinko Rewards"))
	versionHash := crypto.Keccak256Hash([]byte("1"))

	// ABI-encode: (bytes32, bytes32, bytes32, uint256, address)
	// Each element is padded to 32 bytes; the address is right-aligned in
	// its slot.
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	inst.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], inst.Address.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// Commit computes the digest the issuer signs and the validator recomputes:
// keccak256(0x1901 || domainSeparator || structHash). Every field occupies
// a fixed 32-byte slot, so no two distinct field sequences can produce the
// same commitment.
func Commit(v *RewardVoucher, inst Instance) [32]byte {
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], voucherTypeHash[:])
	copy(encoded[44:64], v.Recipient.Bytes()) // padded address
	new(big.Int).SetUint64(uint64(v.AmountUnits)).FillBytes(encoded[64:96])
	copy(encoded[96:128], v.Nonce[:])
	new(big.Int).SetUint64(uint64(v.ExpiresAt)).FillBytes(encoded[128:160])

	structHash := crypto.Keccak256Hash(encoded)
	sep := domainSeparator(inst)

	// Final digest: keccak256(0x1901 || domainSeparator || structHash)
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// Sign signs the voucher commitment in-place with the issuer key.
func Sign(v *RewardVoucher, privKey *ecdsa.PrivateKey, inst Instance) error {
	digest := Commit(v, inst)
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return err
	}
	// Convert V from 0/1 to 27/28 for Solidity ecrecover
	sig[64] += 27
	v.Signature = sig
	return nil
}

// RecoverSigner returns the address that signed the voucher commitment.
// Callers compare it against the issuer identity they are configured with;
// nothing claimed inside the payload is trusted.
func RecoverSigner(v *RewardVoucher, inst Instance) (common.Address, error) {
	if len(v.Signature) != 65 {
		return common.Address{}, ErrSignatureLength
	}
	digest := Commit(v, inst)
	sig := make([]byte, 65)
	copy(sig, v.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
