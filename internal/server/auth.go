package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"GridLedger/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT claims used by the admin API.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 JWT and returns its claims.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.New("auth: token expired")
	}
	return claims, nil
}

// RequireAdmin is a gin middleware that rejects requests without a valid
// bearer token carrying the admin role.
func RequireAdmin(secret []byte, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			reject(c, metrics, "missing bearer token")
			return
		}

		claims, err := ParseToken(tokenString, secret)
		if err != nil {
			reject(c, metrics, "invalid token")
			return
		}
		if claims.Role != "admin" {
			reject(c, metrics, "admin role required")
			return
		}

		c.Next()
	}
}

func reject(c *gin.Context, metrics *observability.Metrics, reason string) {
	if metrics != nil {
		metrics.AuthFailures.Inc()
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}
