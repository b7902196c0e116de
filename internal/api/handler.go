// Package api is the HTTP surface of the game: the player routes (draw,
// redeem, history) and the operator routes. Authentication happens in the
// auth middleware; handlers only ever see a recovered principal.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Yours-Pranav/fcplinko/internal/auth"
	"github.com/Yours-Pranav/fcplinko/internal/issuer"
	"github.com/Yours-Pranav/fcplinko/internal/ledger"
	"github.com/Yours-Pranav/fcplinko/internal/metrics"
	"github.com/Yours-Pranav/fcplinko/internal/plinko"
	"github.com/Yours-Pranav/fcplinko/internal/quota"
	"github.com/Yours-Pranav/fcplinko/internal/redeem"
	"github.com/Yours-Pranav/fcplinko/internal/voucher"
)

type Handler struct {
	keeper    *quota.Keeper
	issuer    *issuer.Issuer
	validator *redeem.Validator
	store     *ledger.Store
	log       *zap.Logger

	// draw produces one outcome; swapped in tests to force failure paths.
	draw func() (plinko.Outcome, error)
}

func New(keeper *quota.Keeper, iss *issuer.Issuer, validator *redeem.Validator, store *ledger.Store, log *zap.Logger) *Handler {
	return &Handler{
		keeper:    keeper,
		issuer:    iss,
		validator: validator,
		store:     store,
		log:       log,
		draw: func() (plinko.Outcome, error) {
			return plinko.Draw(plinko.NewCrypto())
		},
	}
}

// Register mounts the player routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/draw", auth.RequireAction("draw"), h.handleDraw)
	rg.POST("/redeem", auth.RequireAction("redeem"), h.handleRedeem)
	rg.GET("/vouchers", h.handleVouchers)
	rg.GET("/quota", h.handleQuota)
	rg.GET("/drops/recent", h.handleRecentDrops)
	rg.GET("/stats", h.handleStats)
}

// ── Draw ───────────────────────────────────────────────────────────────────

func (h *Handler) handleDraw(c *gin.Context) {
	principal := auth.Principal(c)
	ctx := c.Request.Context()

	res, err := h.keeper.TryConsume(ctx, principal.Hex())
	if err != nil {
		h.log.Error("quota consume failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !res.Allowed {
		metrics.Game().DrawsTotal.WithLabelValues("quota_exhausted").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":            "draw quota exhausted",
			"code":             "QUOTA_EXHAUSTED",
			"remaining_quota":  0,
			"window_resets_at": res.WindowExpiresAt.Unix(),
		})
		return
	}

	out, err := h.draw()
	if err != nil {
		// The quota unit is already spent; surface loudly so operators
		// can reconcile instead of papering over a generator bug.
		metrics.Game().DrawsTotal.WithLabelValues("invariant_violation").Inc()
		h.log.Error("draw invariant violation",
			zap.Error(err),
			zap.String("principal", principal.Hex()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "draw failed",
			"code":  "DRAW_INVARIANT_VIOLATION",
		})
		return
	}

	v, err := h.issuer.Issue(ctx, principal, out)
	if err != nil {
		metrics.Game().DrawsTotal.WithLabelValues("issuance_failed").Inc()
		h.log.Error("voucher issuance failed",
			zap.Error(err),
			zap.String("principal", principal.Hex()),
			zap.Uint32("units", out.AmountUnits))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           "draw succeeded but voucher issuance failed",
			"code":            "ISSUANCE_FAILED",
			"outcome":         out,
			"remaining_quota": res.Remaining,
		})
		return
	}

	metrics.Game().DrawsTotal.WithLabelValues("issued").Inc()
	metrics.Game().UnitsIssuedTotal.Add(float64(out.AmountUnits))
	h.log.Info("draw completed",
		zap.String("principal", principal.Hex()),
		zap.Uint32("units", out.AmountUnits),
		zap.Int("final_position", out.FinalPosition),
		zap.Int64("remaining_quota", res.Remaining),
		zap.Bool("quota_degraded", res.Degraded))

	c.JSON(http.StatusOK, gin.H{
		"outcome":          out,
		"voucher":          v,
		"remaining_quota":  res.Remaining,
		"window_resets_at": res.WindowExpiresAt.Unix(),
	})
}

// ── Redeem ─────────────────────────────────────────────────────────────────

func statusForReason(r redeem.Reason) int {
	switch r {
	case redeem.ReasonPaused:
		return http.StatusServiceUnavailable
	case redeem.ReasonExpired:
		return http.StatusGone
	case redeem.ReasonRecipientMismatch:
		return http.StatusForbidden
	case redeem.ReasonInvalidAmount:
		return http.StatusBadRequest
	case redeem.ReasonAlreadyRedeemed:
		return http.StatusConflict
	case redeem.ReasonInvalidSignature:
		return http.StatusUnauthorized
	case redeem.ReasonInsufficientFunds:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) handleRedeem(c *gin.Context) {
	var v voucher.RewardVoucher
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voucher payload"})
		return
	}

	req := redeem.Request{
		Recipient:   v.Recipient,
		AmountUnits: v.AmountUnits,
		Nonce:       v.Nonce,
		ExpiresAt:   v.ExpiresAt,
		Signature:   v.Signature,
	}

	receipt, err := h.validator.Redeem(c.Request.Context(), req, auth.Principal(c))
	if err != nil {
		if reason, ok := redeem.ReasonOf(err); ok {
			c.JSON(statusForReason(reason), gin.H{
				"error": err.Error(),
				"code":  reason.String(),
			})
			return
		}
		h.log.Error("redeem failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"settlement_ref": receipt.SettlementRef,
		"amount_units":   receipt.AmountUnits,
		"value_wei":      receipt.ValueWei.String(),
		"redeemed_at":    receipt.RedeemedAt.Unix(),
	})
}

// ── History ────────────────────────────────────────────────────────────────

func (h *Handler) handleVouchers(c *gin.Context) {
	principal := auth.Principal(c)
	rows, err := h.store.VouchersByRecipient(c.Request.Context(), principal.Hex(), 100)
	if err != nil {
		h.log.Error("voucher list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	now := time.Now().UTC()
	items := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		status := "live"
		switch {
		case r.RedeemedAt != nil:
			status = "redeemed"
		case r.ExpiresAt.Before(now):
			status = "expired"
		}
		item := gin.H{
			"nonce":        r.Nonce,
			"recipient":    r.Recipient,
			"amount_units": r.AmountUnits,
			"signature":    hexutil.Encode(r.Signature),
			"issued_at":    r.IssuedAt.Unix(),
			"expires_at":   r.ExpiresAt.Unix(),
			"status":       status,
		}
		if r.RedeemedAt != nil {
			item["redeemed_at"] = r.RedeemedAt.Unix()
		}
		if r.SettlementRef != nil {
			item["settlement_ref"] = *r.SettlementRef
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"vouchers": items})
}

func (h *Handler) handleQuota(c *gin.Context) {
	res, err := h.keeper.Remaining(c.Request.Context(), auth.Principal(c).Hex())
	if err != nil {
		h.log.Error("quota lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"remaining":        res.Remaining,
		"window_resets_at": res.WindowExpiresAt.Unix(),
	})
}

func (h *Handler) handleRecentDrops(c *gin.Context) {
	drops, err := h.store.RecentDrops(c.Request.Context(), 50)
	if err != nil {
		h.log.Error("recent drops failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]gin.H, 0, len(drops))
	for _, d := range drops {
		items = append(items, gin.H{
			"id":             d.ID,
			"principal":      d.Principal,
			"path":           json.RawMessage(d.PathData),
			"final_position": d.FinalPosition,
			"amount_units":   d.AmountUnits,
			"created_at":     d.CreatedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"drops": items})
}

func (h *Handler) handleStats(c *gin.Context) {
	principal := auth.Principal(c)
	ctx := c.Request.Context()

	player, err := h.store.PlayerByAddress(ctx, principal.Hex())
	if err != nil {
		h.log.Error("player stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if player == nil {
		c.JSON(http.StatusOK, gin.H{
			"drops":          0,
			"units_won":      0,
			"redeemed_count": 0,
		})
		return
	}

	redeemedCount, err := h.store.CountRedemptionsByRecipient(ctx, principal.Hex())
	if err != nil {
		h.log.Error("redemption count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"drops":          player.Drops,
		"units_won":      player.UnitsWon,
		"redeemed_count": redeemedCount,
		"first_seen_at":  player.FirstSeenAt.Unix(),
		"last_drop_at":   player.LastDropAt.Unix(),
	})
}
