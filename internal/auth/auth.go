// Package auth authenticates wallet-signed requests. Clients sign a small
// JSON envelope with their wallet key (EIP-191 personal_sign); the
// middleware recovers the signer, enforces freshness, and burns the nonce
// so captured requests cannot be replayed.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
// Action names the operation the signature authorizes; Payload optionally
// binds request-specific data such as the voucher being redeemed.
type SignedRequest struct {
	Action    string          `json:"action"`
	ExpiresAt int64           `json:"expires_at"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
}

const maxFutureWindow = 5 * time.Minute

const nonceKeyPrefix = "plinko:authnonce:"

const (
	principalKey = "auth_principal"
	signedKey    = "auth_signed_request"
)

// Middleware validates EIP-191 wallet signatures on every request. On
// success the recovered principal and the signed envelope are stored on the
// context; the claimed X-Wallet-Address header is never trusted on its own.
func Middleware(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}
		if req.Nonce == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing nonce"})
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sigHex = strings.TrimPrefix(sigHex, "0x")
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}

		recovered, err := Recover(msgBytes, sig)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		if !strings.EqualFold(recovered.Hex(), walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// Nonce dedup via Redis SET NX. Fails closed: if the nonce store
		// is unreachable we refuse rather than risk a replay.
		nonceKey := nonceKeyPrefix + req.Nonce
		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(context.Background(), nonceKey, 1, ttl).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(principalKey, recovered)
		c.Set(signedKey, &req)
		c.Next()
	}
}

// RequireAction refuses requests whose signed envelope authorizes a
// different operation, so a captured draw signature can never drive a
// redemption.
func RequireAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := SignedFrom(c)
		if req == nil || req.Action != action {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signed action mismatch"})
			return
		}
		c.Next()
	}
}

// Principal returns the wallet recovered from the request signature. It is
// the zero address if Middleware did not run.
func Principal(c *gin.Context) common.Address {
	if v, ok := c.Get(principalKey); ok {
		if addr, ok := v.(common.Address); ok {
			return addr
		}
	}
	return common.Address{}
}

// SignedFrom returns the parsed signed envelope, or nil before Middleware.
func SignedFrom(c *gin.Context) *SignedRequest {
	if v, ok := c.Get(signedKey); ok {
		if req, ok := v.(*SignedRequest); ok {
			return req
		}
	}
	return nil
}
