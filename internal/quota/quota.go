// Package quota enforces the per-principal draw allowance: a fixed number
// of draws per rolling window, decremented atomically, failing closed once
// the allowance reaches zero.
//
// The shared redis store is authoritative. When it is unreachable the
// Keeper serves the same semantics from a process-local store; quota is
// advisory in that mode and the degradation is surfaced to operators, never
// to clients.
package quota

import (
	"context"
	"time"
)

// Defaults mirror the deployed game: three drops per wallet per day.
const (
	DefaultAllowance = 3
	DefaultWindow    = 24 * time.Hour
)

const keyFmt = "plinko:quota:%s" // %s = lowercased principal address

// Record is the stored quota state for one principal.
type Record struct {
	Remaining       int64
	WindowExpiresAt time.Time
}

// Result reports one Keeper call. Degraded is set when the shared store was
// unreachable and the process-local fallback answered instead.
type Result struct {
	Allowed         bool
	Remaining       int64
	WindowExpiresAt time.Time
	Degraded        bool
}

// Store is the contract shared by the redis and in-memory backends.
//
// TryConsume is a single atomic read-modify-write: it starts a fresh window
// when none exists (or the old one lapsed), otherwise decrements if any
// allowance remains. Two concurrent calls can never both take the last
// unit. Principals are normalized to lowercase before every lookup, so
// checksummed and lowercase forms of an address share one record.
type Store interface {
	TryConsume(ctx context.Context, principal string) (Record, bool, error)
	Remaining(ctx context.Context, principal string) (Record, error)
	Reset(ctx context.Context, principal string) error
}
