package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Lllllllleong/collectionadmin/internal/database"
)

// Context keys set by the auth middleware.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// Claims are the bearer-token claims issued by the identity provider.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// parseToken validates an HS256 bearer token and returns its claims.
func parseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// BearerAuth rejects requests without a valid bearer credential: 401 for a
// missing, malformed or expired token, 403 for a valid token without the
// admin role.
func BearerAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header is required")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			respondError(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			c.Abort()
			return
		}

		claims, err := parseToken(secret, parts[1])
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			c.Abort()
			return
		}

		if claims.Role != "admin" && claims.Role != "super_admin" {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "Admin access required")
			c.Abort()
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// APILogCollection receives one row per authenticated request.
const APILogCollection = "api_logs"

// apiLog appends an api_logs row after each request. The write is
// best-effort: a failure is logged and never surfaces to the caller.
func apiLog(db database.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		fields := map[string]any{
			"timestamp": time.Now(),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"userAgent": c.Request.UserAgent(),
			"ip":        c.ClientIP(),
		}
		if userID := c.GetString(ctxUserID); userID != "" {
			fields["userId"] = userID
		}

		if _, err := db.Create(c.Request.Context(), APILogCollection, fields); err != nil {
			slog.Warn("Failed to record api log", "path", c.Request.URL.Path, "error", err)
		}
	}
}
