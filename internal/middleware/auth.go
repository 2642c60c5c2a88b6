package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/models"
)

// callerKey is the gin context key holding the resolved models.Caller
const callerKey = "caller"

// AdminRole is the role claim that grants admin access
const AdminRole = "admin"

var (
	ErrInvalidAuthHeader = errors.New("invalid authorization header format")
	ErrInvalidToken      = errors.New("invalid token")
)

// AdminConfig holds the admin credentials. Either may be empty.
type AdminConfig struct {
	Token         string
	JWTSigningKey string
}

// NewAdminConfig creates a new admin configuration
func NewAdminConfig(token, signingKey string) AdminConfig {
	return AdminConfig{
		Token:         token,
		JWTSigningKey: signingKey,
	}
}

// IsAdmin reports whether token is the static admin token or an HS256 JWT
// signed with the admin key carrying role=admin
func (a AdminConfig) IsAdmin(token string) bool {
	if token == "" {
		return false
	}
	if a.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) == 1 {
		return true
	}
	if a.JWTSigningKey == "" || strings.Count(token, ".") != 2 {
		return false
	}

	claims, err := a.parseAdminJWT(token)
	if err != nil {
		logger.WithField("error", err.Error()).Debug("Admin JWT rejected")
		return false
	}
	role, _ := claims["role"].(string)
	return role == AdminRole
}

func (a AdminConfig) parseAdminJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.JWTSigningKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// bearerToken extracts the token of an "Authorization: Bearer" header. An
// absent header yields "".
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", nil
	}
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", ErrInvalidAuthHeader
	}
	return strings.TrimSpace(authHeader[len(prefix):]), nil
}

// Authentication resolves the bearer token into a models.Caller. Requests
// without a token continue anonymously; ownership is checked by the handlers.
func Authentication(admin AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			logger.WithField("path", c.Request.URL.Path).Warn("Authentication failed: invalid authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header must be 'Bearer <token>'",
			})
			return
		}

		caller := models.Caller{Token: token, Admin: admin.IsAdmin(token)}
		c.Set(callerKey, caller)

		if caller.Admin {
			logger.WithFields(map[string]interface{}{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Debug("Admin request")
		}

		c.Next()
	}
}

// RequireAdmin rejects callers that did not present an admin credential
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFrom(c)
		if caller.Admin {
			c.Next()
			return
		}

		status := http.StatusForbidden
		if caller.Token == "" {
			status = http.StatusUnauthorized
		}
		logger.WithField("path", c.Request.URL.Path).Warn("Admin route refused")
		c.AbortWithStatusJSON(status, gin.H{
			"error":   "unauthorized",
			"message": "Admin credential required",
		})
	}
}

// CallerFrom returns the caller resolved by Authentication, or an anonymous
// caller
func CallerFrom(c *gin.Context) models.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(models.Caller); ok {
			return caller
		}
	}
	return models.Caller{}
}
