package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(10000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// One connection serializes writers; unique indexes still arbitrate
	// the same races they do on postgres.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	s := New(db)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func randHex(t *testing.T, n int) string {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return "0x" + hex.EncodeToString(b)
}

func issuanceFixture(t *testing.T, recipient string, units uint32, at time.Time) (*Voucher, *Drop) {
	t.Helper()
	nonce := randHex(t, 32)
	v := &Voucher{
		Nonce:       nonce,
		Commitment:  randHex(t, 32),
		Recipient:   recipient,
		AmountUnits: units,
		Signature:   []byte{0x01, 0x02},
		IssuedAt:    at,
		ExpiresAt:   at.Add(720 * time.Hour),
	}
	d := &Drop{
		ID:            uuid.NewString(),
		Principal:     recipient,
		PathData:      `[{"dir":"L","col":2}]`,
		FinalPosition: 2,
		AmountUnits:   units,
		VoucherNonce:  nonce,
		CreatedAt:     at,
	}
	return v, d
}

const testRecipient = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

// ── Issuance ───────────────────────────────────────────────────────────────

func TestRecordIssuance_PersistsVoucherDropAndPlayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	v, d := issuanceFixture(t, testRecipient, 42, now)
	if err := s.RecordIssuance(ctx, v, d); err != nil {
		t.Fatalf("RecordIssuance: %v", err)
	}

	got, err := s.VouchersByRecipient(ctx, testRecipient, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d vouchers, want 1", len(got))
	}
	if got[0].AmountUnits != 42 || got[0].RedeemedAt != nil {
		t.Errorf("voucher = %+v", got[0])
	}

	drops, err := s.RecentDrops(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(drops) != 1 || drops[0].VoucherNonce != v.Nonce {
		t.Errorf("drops = %+v", drops)
	}

	p, err := s.PlayerByAddress(ctx, testRecipient)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Drops != 1 || p.UnitsWon != 42 {
		t.Errorf("player = %+v", p)
	}
}

func TestRecordIssuance_AggregatesPlayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	v1, d1 := issuanceFixture(t, testRecipient, 10, base)
	if err := s.RecordIssuance(ctx, v1, d1); err != nil {
		t.Fatal(err)
	}
	v2, d2 := issuanceFixture(t, testRecipient, 25, base.Add(time.Minute))
	if err := s.RecordIssuance(ctx, v2, d2); err != nil {
		t.Fatal(err)
	}

	p, err := s.PlayerByAddress(ctx, testRecipient)
	if err != nil {
		t.Fatal(err)
	}
	if p.Drops != 2 || p.UnitsWon != 35 {
		t.Errorf("player aggregates = drops %d units %d, want 2/35", p.Drops, p.UnitsWon)
	}
	if !p.FirstSeenAt.Equal(base) {
		t.Errorf("first seen moved to %v", p.FirstSeenAt)
	}
	if !p.LastDropAt.Equal(base.Add(time.Minute)) {
		t.Errorf("last drop = %v", p.LastDropAt)
	}
}

// TestRecordIssuance_DuplicateNonceRollsBack: a voucher collision must not
// leave a stray drop or inflated player counters behind.
func TestRecordIssuance_DuplicateNonceRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	v1, d1 := issuanceFixture(t, testRecipient, 10, now)
	if err := s.RecordIssuance(ctx, v1, d1); err != nil {
		t.Fatal(err)
	}

	v2, d2 := issuanceFixture(t, testRecipient, 20, now)
	v2.Nonce = v1.Nonce
	d2.VoucherNonce = v1.Nonce
	if err := s.RecordIssuance(ctx, v2, d2); err == nil {
		t.Fatal("duplicate nonce should fail")
	}

	drops, err := s.RecentDrops(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(drops) != 1 {
		t.Errorf("rollback left %d drops, want 1", len(drops))
	}
	p, err := s.PlayerByAddress(ctx, testRecipient)
	if err != nil {
		t.Fatal(err)
	}
	if p.Drops != 1 || p.UnitsWon != 10 {
		t.Errorf("rollback left player at drops %d units %d", p.Drops, p.UnitsWon)
	}
}

func TestVouchersByRecipient_NormalizesCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	v, d := issuanceFixture(t, testRecipient, 5, now)
	if err := s.RecordIssuance(ctx, v, d); err != nil {
		t.Fatal(err)
	}

	for _, form := range []string{
		testRecipient,
		"0xab5801a7d398351b8be11c439e05c5b3259aec9b",
		"0xAB5801A7D398351B8BE11C439E05C5B3259AEC9B",
	} {
		got, err := s.VouchersByRecipient(ctx, form, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Errorf("lookup via %s found %d vouchers", form, len(got))
		}
	}
}

func TestVoucherByCommitment_Missing(t *testing.T) {
	s := newTestStore(t)
	v, err := s.VoucherByCommitment(context.Background(), randHex(t, 32))
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("expected nil for unknown commitment, got %+v", v)
	}
}

// ── Redemption set ─────────────────────────────────────────────────────────

func redemptionFixture(commitment string, at time.Time) *Redemption {
	return &Redemption{
		SettlementRef: uuid.NewString(),
		Commitment:    commitment,
		Nonce:         commitment, // stand-in, uniqueness is all that matters here
		Recipient:     testRecipient,
		AmountUnits:   10,
		ValueWei:      "10000000000000000",
		RedeemedAt:    at,
	}
}

func TestInsertRedemption_FirstWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	commitment := randHex(t, 32)

	ok, err := s.InsertRedemption(ctx, redemptionFixture(commitment, now))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first insert should win")
	}

	ok, err = s.InsertRedemption(ctx, redemptionFixture(commitment, now))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second insert for the same commitment should lose")
	}

	redeemed, err := s.IsRedeemed(ctx, commitment)
	if err != nil {
		t.Fatal(err)
	}
	if !redeemed {
		t.Error("commitment should be in the consumed set")
	}
}

func TestInsertRedemption_ConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	commitment := randHex(t, 32)

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertRedemption(ctx, redemptionFixture(commitment, now))
			if err != nil {
				t.Error(err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("%d racing redeemers won, want exactly 1", winners)
	}
}

func TestMarkVoucherRedeemed_StampsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	v, d := issuanceFixture(t, testRecipient, 10, now)
	if err := s.RecordIssuance(ctx, v, d); err != nil {
		t.Fatal(err)
	}

	ref := uuid.NewString()
	ok, err := s.MarkVoucherRedeemed(ctx, v.Commitment, ref, now)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first stamp should succeed")
	}

	ok, err = s.MarkVoucherRedeemed(ctx, v.Commitment, uuid.NewString(), now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second stamp should find nothing to update")
	}

	got, err := s.VoucherByCommitment(ctx, v.Commitment)
	if err != nil {
		t.Fatal(err)
	}
	if got.RedeemedAt == nil || got.SettlementRef == nil || *got.SettlementRef != ref {
		t.Errorf("voucher after stamp = %+v", got)
	}
}

func TestMarkVoucherRedeemed_MissingRow(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.MarkVoucherRedeemed(context.Background(), randHex(t, 32), uuid.NewString(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("stamping an unknown commitment should report false")
	}
}

// ── Reserve ────────────────────────────────────────────────────────────────

func TestReserve_CreditAndConditionalDebit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreditReserve(ctx, 10); err != nil {
		t.Fatal(err)
	}

	ok, err := s.DebitReserve(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("covered debit should succeed")
	}

	ok, err = s.DebitReserve(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("debit beyond the balance should be refused")
	}

	bal, err := s.ReserveBalance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bal != 3 {
		t.Errorf("balance = %d, want 3", bal)
	}
}

func TestDebitReserve_ConcurrentLastUnit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreditReserve(ctx, 1); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wins := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.DebitReserve(ctx, 1)
			if err != nil {
				t.Error(err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("%d debits of the last unit succeeded, want exactly 1", winners)
	}
}

// ── Solvency ───────────────────────────────────────────────────────────────

func TestOutstandingLiability_CountsOnlyLiveVouchers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	live, dLive := issuanceFixture(t, testRecipient, 40, now)
	if err := s.RecordIssuance(ctx, live, dLive); err != nil {
		t.Fatal(err)
	}

	expired, dExp := issuanceFixture(t, testRecipient, 20, now.Add(-1000*time.Hour))
	if err := s.RecordIssuance(ctx, expired, dExp); err != nil {
		t.Fatal(err)
	}

	redeemed, dRed := issuanceFixture(t, testRecipient, 30, now)
	if err := s.RecordIssuance(ctx, redeemed, dRed); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkVoucherRedeemed(ctx, redeemed.Commitment, uuid.NewString(), now); err != nil {
		t.Fatal(err)
	}

	units, count, err := s.OutstandingLiability(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if units != 40 || count != 1 {
		t.Errorf("liability = %d units over %d vouchers, want 40/1", units, count)
	}
}

// ── Transactions ───────────────────────────────────────────────────────────

func TestTransaction_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	commitment := randHex(t, 32)

	errBoom := errors.New("boom")
	err := s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.InsertRedemption(ctx, redemptionFixture(commitment, now)); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Transaction err = %v, want boom", err)
	}

	redeemed, err := s.IsRedeemed(ctx, commitment)
	if err != nil {
		t.Fatal(err)
	}
	if redeemed {
		t.Error("rolled-back insert should not be visible")
	}
}

func TestRecentDrops_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		v, d := issuanceFixture(t, testRecipient, uint32(i+1), base.Add(time.Duration(i)*time.Minute))
		if err := s.RecordIssuance(ctx, v, d); err != nil {
			t.Fatal(err)
		}
	}

	drops, err := s.RecentDrops(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(drops) != 2 {
		t.Fatalf("got %d drops, want 2", len(drops))
	}
	if drops[0].AmountUnits != 3 || drops[1].AmountUnits != 2 {
		t.Errorf("order = %d, %d; want 3, 2", drops[0].AmountUnits, drops[1].AmountUnits)
	}
}
