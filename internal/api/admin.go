package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Yours-Pranav/fcplinko/internal/redeem"
)

// RegisterAdmin mounts the operator routes. The caller is expected to gate
// the group with auth.AdminOnly; nothing here re-checks the principal.
func (h *Handler) RegisterAdmin(rg *gin.RouterGroup) {
	rg.GET("/status", h.handleAdminStatus)
	rg.POST("/pause", h.handlePause)
	rg.POST("/resume", h.handleResume)
	rg.POST("/rotate", h.handleRotate)
	rg.POST("/reserve/deposit", h.handleDeposit)
	rg.POST("/reserve/withdraw", h.handleWithdraw)
	rg.POST("/quota/reset", h.handleQuotaReset)
}

func (h *Handler) handleAdminStatus(c *gin.Context) {
	ctx := c.Request.Context()

	balance, err := h.store.ReserveBalance(ctx)
	if err != nil {
		h.log.Error("reserve lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	liabilityUnits, liveVouchers, err := h.store.OutstandingLiability(ctx, time.Now().UTC())
	if err != nil {
		h.log.Error("liability lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"paused":          h.validator.Paused(),
		"issuer_address":  h.issuer.Address().Hex(),
		"reserve_units":   balance,
		"liability_units": liabilityUnits,
		"live_vouchers":   liveVouchers,
		"quota_degraded":  h.keeper.Degraded(),
	})
}

func (h *Handler) handlePause(c *gin.Context) {
	h.validator.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *Handler) handleResume(c *gin.Context) {
	h.validator.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (h *Handler) handleRotate(c *gin.Context) {
	var body struct {
		PrivateKey string `json:"private_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "private_key is required"})
		return
	}

	addr, err := h.issuer.Rotate(body.PrivateKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signing key"})
		return
	}
	h.validator.SetIssuer(addr)
	c.JSON(http.StatusOK, gin.H{"issuer_address": addr.Hex()})
}

func (h *Handler) handleDeposit(c *gin.Context) {
	units, ok := bindUnits(c)
	if !ok {
		return
	}
	if err := h.validator.Deposit(c.Request.Context(), units); err != nil {
		h.log.Error("reserve deposit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.respondBalance(c)
}

func (h *Handler) handleWithdraw(c *gin.Context) {
	units, ok := bindUnits(c)
	if !ok {
		return
	}
	if err := h.validator.Withdraw(c.Request.Context(), units); err != nil {
		if reason, isReject := redeem.ReasonOf(err); isReject {
			c.JSON(statusForReason(reason), gin.H{
				"error": err.Error(),
				"code":  reason.String(),
			})
			return
		}
		h.log.Error("reserve withdrawal failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.respondBalance(c)
}

// bindUnits parses the {"units": n} body shared by the reserve endpoints.
func bindUnits(c *gin.Context) (int64, bool) {
	var body struct {
		Units int64 `json:"units"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return 0, false
	}
	if body.Units <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "units must be positive",
			"code":  "INVALID_AMOUNT",
		})
		return 0, false
	}
	return body.Units, true
}

func (h *Handler) respondBalance(c *gin.Context) {
	balance, err := h.store.ReserveBalance(c.Request.Context())
	if err != nil {
		h.log.Error("reserve lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance_units": balance})
}

func (h *Handler) handleQuotaReset(c *gin.Context) {
	var body struct {
		Principal string `json:"principal" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "principal is required"})
		return
	}
	if !common.IsHexAddress(body.Principal) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "principal is not a valid address"})
		return
	}

	principal := strings.ToLower(body.Principal)
	if err := h.keeper.Reset(c.Request.Context(), principal); err != nil {
		h.log.Error("quota reset failed",
			zap.Error(err),
			zap.String("principal", principal))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	res, err := h.keeper.Remaining(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.log.Info("quota reset", zap.String("principal", principal))
	c.JSON(http.StatusOK, gin.H{
		"principal": principal,
		"remaining": res.Remaining,
	})
}
