package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const accountKey = "account_id"

// ScannerAuth enforces bearer tokens and stores the account id on the context.
func ScannerAuth(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		accountID, err := v.Verify(c.Request.Context(), tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(accountKey, accountID)
		c.Next()
	}
}

// AccountID returns the account id set by ScannerAuth.
func AccountID(c *gin.Context) string {
	return c.GetString(accountKey)
}
