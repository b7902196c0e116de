package api

import (
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestAdmin_RequiresAllowlistedWallet(t *testing.T) {
	f := newFixture(t)
	stranger := newPlayerKey(t)

	code, body := f.do(t, signedRequest(t, stranger, http.MethodGet, "/api/admin/status", "admin", nil))
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
	if body["code"] != "UNAUTHORIZED_ADMIN_ACTION" {
		t.Fatalf("code = %v, want UNAUTHORIZED_ADMIN_ACTION", body["code"])
	}
}

func TestAdmin_RejectsNonAdminAction(t *testing.T) {
	f := newFixture(t)

	// Even the allowlisted wallet must sign for the admin action.
	code, _ := f.do(t, signedRequest(t, f.adminKey, http.MethodGet, "/api/admin/status", "draw", nil))
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
}

func TestAdmin_StatusReflectsState(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, signedRequest(t, f.adminKey, http.MethodGet, "/api/admin/status", "admin", nil))
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, body)
	}
	if body["paused"] != false {
		t.Fatalf("paused = %v, want false", body["paused"])
	}
	if got := body["reserve_units"].(float64); got != 0 {
		t.Fatalf("reserve_units = %v, want 0", got)
	}
	if body["issuer_address"] != f.issuer.Address().Hex() {
		t.Fatalf("issuer_address = %v, want %s", body["issuer_address"], f.issuer.Address().Hex())
	}
	if body["quota_degraded"] != false {
		t.Fatalf("quota_degraded = %v, want false", body["quota_degraded"])
	}

	player := newPlayerKey(t)
	f.draw(t, player)
	f.fund(t, 25)

	_, body = f.do(t, signedRequest(t, f.adminKey, http.MethodGet, "/api/admin/status", "admin", nil))
	if got := body["reserve_units"].(float64); got != 25 {
		t.Fatalf("reserve_units = %v, want 25", got)
	}
	if got := body["live_vouchers"].(float64); got != 1 {
		t.Fatalf("live_vouchers = %v, want 1", got)
	}
	if got := body["liability_units"].(float64); got < 1 {
		t.Fatalf("liability_units = %v, want >= 1", got)
	}
}

func TestAdmin_PauseAndResume(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 200)
	player := newPlayerKey(t)
	v := parseVoucher(t, f.draw(t, player))

	code, body := f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/pause", "admin", nil))
	if code != http.StatusOK || body["paused"] != true {
		t.Fatalf("pause: status %d body %v", code, body)
	}

	code, _ = f.do(t, signedRequest(t, player, http.MethodPost, "/api/redeem", "redeem", v))
	if code != http.StatusServiceUnavailable {
		t.Fatalf("redeem while paused = %d, want 503", code)
	}

	code, body = f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/resume", "admin", nil))
	if code != http.StatusOK || body["paused"] != false {
		t.Fatalf("resume: status %d body %v", code, body)
	}

	code, _ = f.do(t, signedRequest(t, player, http.MethodPost, "/api/redeem", "redeem", v))
	if code != http.StatusOK {
		t.Fatalf("redeem after resume = %d, want 200", code)
	}
}

func TestAdmin_RotateInvalidatesOutstandingVouchers(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 300)
	player := newPlayerKey(t)
	oldVoucher := parseVoucher(t, f.draw(t, player))

	rotKey := newPlayerKey(t)
	rotHex := hex.EncodeToString(crypto.FromECDSA(rotKey))
	code, body := f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/rotate", "admin",
		map[string]string{"private_key": rotHex}))
	if code != http.StatusOK {
		t.Fatalf("rotate status = %d, body %v", code, body)
	}
	wantAddr := crypto.PubkeyToAddress(rotKey.PublicKey).Hex()
	if body["issuer_address"] != wantAddr {
		t.Fatalf("issuer_address = %v, want %s", body["issuer_address"], wantAddr)
	}

	// Vouchers signed by the retired key stop verifying.
	code, body = f.do(t, signedRequest(t, player, http.MethodPost, "/api/redeem", "redeem", oldVoucher))
	if code != http.StatusUnauthorized {
		t.Fatalf("old voucher status = %d, want 401", code)
	}
	if body["code"] != "INVALID_SIGNATURE" {
		t.Fatalf("code = %v, want INVALID_SIGNATURE", body["code"])
	}

	// New draws are signed and redeemable under the new key.
	fresh := parseVoucher(t, f.draw(t, player))
	code, _ = f.do(t, signedRequest(t, player, http.MethodPost, "/api/redeem", "redeem", fresh))
	if code != http.StatusOK {
		t.Fatalf("fresh voucher status = %d, want 200", code)
	}
}

func TestAdmin_RotateRejectsMalformedKey(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/rotate", "admin",
		map[string]string{"private_key": "zzzz"}))
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	code, _ = f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/rotate", "admin",
		map[string]string{}))
	if code != http.StatusBadRequest {
		t.Fatalf("missing key status = %d, want 400", code)
	}
}

func TestAdmin_DepositAndWithdraw(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/reserve/deposit", "admin",
		map[string]int64{"units": 80}))
	if code != http.StatusOK {
		t.Fatalf("deposit status = %d, body %v", code, body)
	}
	if got := body["balance_units"].(float64); got != 80 {
		t.Fatalf("balance = %v, want 80", got)
	}

	code, body = f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/reserve/withdraw", "admin",
		map[string]int64{"units": 30}))
	if code != http.StatusOK {
		t.Fatalf("withdraw status = %d", code)
	}
	if got := body["balance_units"].(float64); got != 50 {
		t.Fatalf("balance = %v, want 50", got)
	}

	code, body = f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/reserve/withdraw", "admin",
		map[string]int64{"units": 100}))
	if code != http.StatusPaymentRequired {
		t.Fatalf("overdraw status = %d, want 402", code)
	}
	if body["code"] != "INSUFFICIENT_FUNDS" {
		t.Fatalf("code = %v, want INSUFFICIENT_FUNDS", body["code"])
	}

	code, body = f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/reserve/deposit", "admin",
		map[string]int64{"units": -5}))
	if code != http.StatusBadRequest {
		t.Fatalf("negative deposit status = %d, want 400", code)
	}
	if body["code"] != "INVALID_AMOUNT" {
		t.Fatalf("code = %v, want INVALID_AMOUNT", body["code"])
	}
}

func TestAdmin_QuotaReset(t *testing.T) {
	f := newFixture(t)
	player := newPlayerKey(t)
	playerAddr := crypto.PubkeyToAddress(player.PublicKey).Hex()

	for i := 0; i < 3; i++ {
		f.draw(t, player)
	}
	code, _ := f.do(t, signedRequest(t, player, http.MethodPost, "/api/draw", "draw", nil))
	if code != http.StatusTooManyRequests {
		t.Fatalf("exhausted draw status = %d, want 429", code)
	}

	code, body := f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/quota/reset", "admin",
		map[string]string{"principal": playerAddr}))
	if code != http.StatusOK {
		t.Fatalf("reset status = %d, body %v", code, body)
	}
	if got := body["remaining"].(float64); got != 3 {
		t.Fatalf("remaining = %v, want 3", got)
	}

	f.draw(t, player)

	code, _ = f.do(t, signedRequest(t, f.adminKey, http.MethodPost, "/api/admin/quota/reset", "admin",
		map[string]string{"principal": "not-an-address"}))
	if code != http.StatusBadRequest {
		t.Fatalf("bad principal status = %d, want 400", code)
	}
}
