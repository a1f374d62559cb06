package middleware

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/pulseguard/backend/internal/config"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// AuthMiddleware provides authentication middleware for Gin: JWT bearer
// tokens for users and API keys for devices on the ingest path.
type AuthMiddleware struct {
	jwtConfig    *config.JWTConfig
	ingestConfig *config.IngestConfig

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(jwtConfig *config.JWTConfig, ingestConfig *config.IngestConfig) *AuthMiddleware {
	return &AuthMiddleware{
		jwtConfig:    jwtConfig,
		ingestConfig: ingestConfig,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// RequireAuth middleware ensures that a valid JWT token is present in the
// request. Tokens are issued by the external identity service; this engine
// only validates them.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := validateToken(token, am.jwtConfig.Secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)

		c.Next()
	}
}

// RequireDeviceKey authenticates the ingest path. Devices send
// X-Device-ID plus X-API-Key; the key is checked against the configured
// bcrypt hash and the device is rate limited.
func (am *AuthMiddleware) RequireDeviceKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.GetHeader("X-Device-ID")
		apiKey := c.GetHeader("X-API-Key")

		if deviceID == "" || apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Device-ID and X-API-Key headers are required"})
			return
		}

		hash, ok := am.ingestConfig.DeviceKeyHashes[deviceID]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown device"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		if !am.limiterFor(deviceID).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Set("device_id", deviceID)

		c.Next()
	}
}

// limiterFor returns the per-device rate limiter, creating it on first use
func (am *AuthMiddleware) limiterFor(deviceID string) *rate.Limiter {
	am.limiterMu.Lock()
	defer am.limiterMu.Unlock()

	limiter, ok := am.limiters[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(am.ingestConfig.RatePerSecond), am.ingestConfig.RateBurst)
		am.limiters[deviceID] = limiter
	}
	return limiter
}

// bearerToken extracts the token from the Authorization header, falling
// back to the token query parameter for websocket clients that cannot set
// headers.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1], true
		}
		return "", false
	}

	if token := c.Query("token"); token != "" {
		return token, true
	}

	return "", false
}

// validateToken validates the JWT token and returns the claims
func validateToken(tokenString string, secretKey string) (*models.Claims, error) {
	if secretKey == "" {
		return nil, errors.New("JWT secret key is not configured")
	}

	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}

		return []byte(secretKey), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("token has expired")
		}
		return nil, errors.New("invalid token")
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
