// Package gateway is the WebSocket front door: it authenticates a connecting
// client, validates its origin, upgrades the HTTP request, and hands the
// resulting connection off to the connection manager.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peroxo/gateway/internal/authrpc"
	"github.com/peroxo/gateway/internal/connmgr"
	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/ratelimit"
)

// Hub wires together authentication, rate limiting and the connection
// manager behind a single /ws endpoint.
type Hub struct {
	auth           authrpc.Client
	connMgr        *connmgr.Manager
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
}

// New constructs a Hub.
func New(auth authrpc.Client, connMgr *connmgr.Manager, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	return &Hub{auth: auth, connMgr: connMgr, rateLimiter: rateLimiter, allowedOrigins: allowedOrigins}
}

// ServeWs authenticates the connecting user, validates origin, upgrades to
// a WebSocket, and hands the connection to the connection manager.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocketIP(c) {
		return
	}

	token := extractToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token not provided"})
		return
	}

	ctx := c.Request.Context()
	verified, found, err := h.auth.VerifyUserToken(ctx, token)
	if err != nil {
		logging.Warn(ctx, "websocket auth failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token verification failed"})
		return
	}
	if !found {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if verified == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token verification returned no user"})
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.CheckWebSocketUser(ctx, verified.UserID); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections for this user"})
			return
		}
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}

	h.connMgr.HandleConnection(context.Background(), verified.UserID, conn)
}

// extractToken reads the bearer token from the query string, matching the
// spec's connection contract: ws://host/ws?token=...
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return errOriginNotAllowed(origin)
}

type originError string

func (e originError) Error() string { return "origin not allowed: " + string(e) }

func errOriginNotAllowed(origin string) error { return originError(origin) }
