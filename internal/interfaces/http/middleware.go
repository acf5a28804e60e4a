package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"restobot/internal/entities"
	"restobot/internal/logger"
	"restobot/internal/metrics"
	"restobot/internal/usecases"
)

const (
	ctxUserID    = "user_id"
	ctxRole      = "role"
	ctxRequestID = "request_id"
)

// TokenParser validates dashboard bearer tokens.
type TokenParser interface {
	ParseToken(raw string) (*usecases.Claims, error)
}

// OwnershipChecker answers whether a user owns a restaurant.
type OwnershipChecker interface {
	OwnsRestaurant(ctx context.Context, restaurantID, userID string) (bool, error)
}

// RateLimiter is a keyed token bucket.
type RateLimiter interface {
	Allow(key string) bool
}

type Middleware struct {
	tokens  TokenParser
	owners  OwnershipChecker
	limiter RateLimiter
	log     logger.Logger
}

func NewMiddleware(tokens TokenParser, owners OwnershipChecker, limiter RateLimiter, log logger.Logger) *Middleware {
	return &Middleware{tokens: tokens, owners: owners, limiter: limiter, log: log}
}

func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		claims, err := m.tokens.ParseToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a websocket upgrade, so upgrades may also carry the token as the
// access_token query parameter or as the subprotocol pair "bearer, <token>".
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		return ""
	}
	if t := c.Query("access_token"); t != "" {
		return t
	}
	protocols := websocket.Subprotocols(c.Request)
	for i := 0; i+1 < len(protocols); i++ {
		if protocols[i] == wsBearerProtocol {
			return protocols[i+1]
		}
	}
	return ""
}

// AdminRequired must follow AuthRequired.
func (m *Middleware) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != entities.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// RateLimitPerUser limits requests by the authenticated user id (must follow AuthRequired).
func (m *Middleware) RateLimitPerUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ctxUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user identity not found for rate limiting"})
			return
		}
		if !m.limiter.Allow("user:" + userID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RestaurantAccess rejects callers that do not own :restaurantID. Admins pass.
func (m *Middleware) RestaurantAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) == entities.RoleAdmin {
			c.Next()
			return
		}
		restaurantID := c.Param("restaurantID")
		ok, err := m.owners.OwnsRestaurant(c.Request.Context(), restaurantID, c.GetString(ctxUserID))
		if err != nil {
			writeError(c, m.log, err)
			c.Abort()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "restaurant not found"})
			return
		}
		c.Next()
	}
}

// RequestLogger tags every request with an X-Request-Id and logs it once done.
func (m *Middleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set(ctxRequestID, reqID)

		c.Next()

		lat := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(lat.Seconds())

		fields := map[string]interface{}{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       route,
			"status":     status,
			"latency_ms": lat.Milliseconds(),
			"ip":         c.ClientIP(),
		}
		if userID := c.GetString(ctxUserID); userID != "" {
			fields["user_id"] = userID
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case status >= 500:
			m.log.Error("request", fields)
		case status >= 400:
			m.log.Warn("request", fields)
		default:
			m.log.Debug("request", fields)
		}
	}
}

// CORSMiddleware allows Cross-Origin requests
func (m *Middleware) CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-Id")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RequestSizeLimiter caps request bodies.
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
