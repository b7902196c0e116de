package redeem

import (
	"errors"
	"fmt"
)

// Reason identifies why a redemption was refused. The string forms are the
// stable wire codes clients branch on.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonPaused
	ReasonExpired
	ReasonRecipientMismatch
	ReasonInvalidAmount
	ReasonAlreadyRedeemed
	ReasonInvalidSignature
	ReasonInsufficientFunds
)

func (r Reason) String() string {
	switch r {
	case ReasonPaused:
		return "REDEMPTIONS_PAUSED"
	case ReasonExpired:
		return "VOUCHER_EXPIRED"
	case ReasonRecipientMismatch:
		return "RECIPIENT_MISMATCH"
	case ReasonInvalidAmount:
		return "INVALID_AMOUNT"
	case ReasonAlreadyRedeemed:
		return "ALREADY_REDEEMED"
	case ReasonInvalidSignature:
		return "INVALID_SIGNATURE"
	case ReasonInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	default:
		return "UNKNOWN"
	}
}

// RejectionError is a refused redemption. Every refusal except
// INSUFFICIENT_FUNDS is terminal for the voucher as submitted;
// INSUFFICIENT_FUNDS clears once the reserve is topped up, because the
// commitment is only consumed when the debit lands.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return "redeem: " + e.Reason.String()
	}
	return fmt.Sprintf("redeem: %s: %s", e.Reason.String(), e.Detail)
}

func reject(reason Reason, detail string) *RejectionError {
	return &RejectionError{Reason: reason, Detail: detail}
}

// ReasonOf extracts the rejection reason from err, reporting false for
// infrastructure failures that are not refusals.
func ReasonOf(err error) (Reason, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return ReasonNone, false
}
