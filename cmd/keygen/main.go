// cmd/keygen generates a fresh secp256k1 issuer signing key. Run it once
// when provisioning an environment, put the key in ISSUER_SIGNING_KEY, and
// hand the printed address to whatever verifies vouchers downstream.
//
// Usage:
//
//	go run ./cmd/keygen/
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("address:     %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
	fmt.Printf("private key: %s\n", hex.EncodeToString(crypto.FromECDSA(key)))
	fmt.Println("\nexport ISSUER_SIGNING_KEY with the private key; never commit it.")
}
