// cmd/verifyvoucher checks a reward voucher offline: recomputes the
// commitment, recovers the signer from the 65-byte signature, and compares
// it against the expected issuer. Useful for support tickets ("my voucher
// won't redeem") without touching the service.
//
// Usage:
//
//	go run ./cmd/verifyvoucher/ --issuer 0x<address> \
//	  --chain-id 16602 --instance 0x<address> voucher.json
//
// The voucher file is the JSON object returned by POST /api/draw (pass "-"
// to read from stdin).
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Yours-Pranav/fcplinko/internal/voucher"
)

func main() {
	issuerHex := flag.String("issuer", "", "expected issuer address")
	chainID := flag.Int64("chain-id", 16602, "chain ID the voucher is bound to")
	instanceHex := flag.String("instance", "", "issuing instance address")
	flag.Parse()

	if *issuerHex == "" || *instanceHex == "" {
		fmt.Fprintln(os.Stderr, "error: --issuer and --instance are required")
		os.Exit(2)
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "error: exactly one voucher file expected")
		os.Exit(2)
	}

	raw, err := readInput(flag.Arg(0))
	if err != nil {
		fatalf("read voucher: %v", err)
	}
	var v voucher.RewardVoucher
	if err := json.Unmarshal(raw, &v); err != nil {
		fatalf("parse voucher: %v", err)
	}

	inst := voucher.Instance{
		ChainID: big.NewInt(*chainID),
		Address: common.HexToAddress(*instanceHex),
	}
	commitment := voucher.Commit(&v, inst)
	signer, err := voucher.RecoverSigner(&v, inst)
	if err != nil {
		fatalf("recover signer: %v", err)
	}

	expiry := time.Unix(v.ExpiresAt, 0).UTC()
	fmt.Printf("recipient:   %s\n", v.Recipient.Hex())
	fmt.Printf("amount:      %d units\n", v.AmountUnits)
	fmt.Printf("expires:     %s", expiry.Format(time.RFC3339))
	if time.Now().After(expiry) {
		fmt.Printf("  (EXPIRED)")
	}
	fmt.Println()
	fmt.Printf("commitment:  0x%s\n", hex.EncodeToString(commitment[:]))
	fmt.Printf("signer:      %s\n", signer.Hex())

	if signer != common.HexToAddress(*issuerHex) {
		fmt.Printf("\nsigner does not match expected issuer %s ✗\n", *issuerHex)
		os.Exit(1)
	}
	fmt.Println("\nsignature valid ✓")
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
