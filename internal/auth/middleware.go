package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const operatorKey contextKey = "authOperator"

// Operator retrieves the authenticated token subject from context.
func Operator(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(operatorKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// JWTMiddleware accepts HS256 bearer tokens signed with secret. When audience
// is set the token must carry it. An empty secret rejects every request.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	audience = strings.TrimSpace(audience)

	return func(c *gin.Context) {
		if secret == "" {
			unauthorized(c, "authentication not configured")
			return
		}

		tokenString, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		claims := &jwt.RegisteredClaims{}
		parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if audience != "" {
			parserOpts = append(parserOpts, jwt.WithAudience(audience))
		}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, parserOpts...)
		if err != nil || !token.Valid {
			unauthorized(c, "invalid token")
			return
		}
		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		ctx := context.WithValue(c.Request.Context(), operatorKey, claims.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(operatorKey), claims.Subject)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
