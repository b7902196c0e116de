package auth

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// AdminOnly restricts a route group to the configured operator wallets.
// It runs after Middleware, so the principal has already been recovered
// from a signature; an empty allowlist locks the group entirely.
func AdminOnly(allowlist []common.Address) gin.HandlerFunc {
	allowed := make(map[common.Address]bool, len(allowlist))
	for _, a := range allowlist {
		allowed[a] = true
	}
	return func(c *gin.Context) {
		if !allowed[Principal(c)] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin access denied",
				"code":  "UNAUTHORIZED_ADMIN_ACTION",
			})
			return
		}
		c.Next()
	}
}
