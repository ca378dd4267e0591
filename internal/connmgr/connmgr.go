// Package connmgr turns an authenticated, upgraded WebSocket connection into
// a running session actor registered with the Message Router.
package connmgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/router"
	"github.com/peroxo/gateway/internal/session"
)

// Manager constructs and runs Session actors against a shared Router.
type Manager struct {
	router     *router.Router
	mailboxCap int
}

// New constructs a Manager.
func New(rt *router.Router, mailboxCap int) *Manager {
	return &Manager{router: rt, mailboxCap: mailboxCap}
}

// HandleConnection spawns a Session for conn and blocks until it exits, so
// the caller (internal/gateway) can run it in its own goroutine per
// connection. Session registration/unregistration with the Router (and its
// session-count metrics) happens inside Session.Run.
func (m *Manager) HandleConnection(ctx context.Context, userID int32, conn session.Conn) {
	logging.Info(ctx, "session connected", zap.Int32("user_id", userID))
	defer logging.Info(ctx, "session disconnected", zap.Int32("user_id", userID))

	sess := session.New(userID, conn, m.router, m.mailboxCap)
	sess.Run(ctx)
}
