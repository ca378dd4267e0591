// Package router implements the Message Router actor: the single goroutine
// that owns the session table, the online list and the room registry, and
// decides where every frame goes next.
package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/peroxo/gateway/internal/chatid"
	"github.com/peroxo/gateway/internal/idgen"
	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/metrics"
	"github.com/peroxo/gateway/internal/persistence"
	"github.com/peroxo/gateway/internal/room"
	"github.com/peroxo/gateway/internal/wire"
)

// errAlreadyOnline is the registration-conflict error: a live Session record
// already exists for the user, so the new socket must be rejected.
var errAlreadyOnline = errors.New("user already online")

// Router is the gateway's Message Router actor.
type Router struct {
	inbox chan any

	sessions map[int32]chan<- wire.Frame

	roomMu              sync.Mutex
	rooms               map[string]*room.Room
	pendingRoomCleanups map[string]*time.Timer
	roomCleanupGrace    time.Duration
	roomMetricsPeriod   time.Duration

	persistenceInbox chan<- any
}

// New constructs a Router. inboxCapacity bounds the otherwise-unbounded
// inbound channel with a large fixed buffer (internal producers are bounded
// in number, so this cannot starve under expected load).
func New(persistenceInbox chan<- any, roomCleanupGrace, roomMetricsPeriod time.Duration, inboxCapacity int) *Router {
	return &Router{
		inbox:               make(chan any, inboxCapacity),
		sessions:            make(map[int32]chan<- wire.Frame),
		rooms:               make(map[string]*room.Room),
		pendingRoomCleanups: make(map[string]*time.Timer),
		roomCleanupGrace:    roomCleanupGrace,
		roomMetricsPeriod:   roomMetricsPeriod,
		persistenceInbox:    persistenceInbox,
	}
}

// Inbox returns the Router's mailbox.
func (rt *Router) Inbox() chan<- any { return rt.inbox }

// Run processes the mailbox until ctx is canceled.
func (rt *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			rt.shutdownRooms()
			return
		case msg := <-rt.inbox:
			rt.handle(ctx, msg)
		}
	}
}

func (rt *Router) shutdownRooms() {
	rt.roomMu.Lock()
	defer rt.roomMu.Unlock()
	for _, timer := range rt.pendingRoomCleanups {
		timer.Stop()
	}
	for _, r := range rt.rooms {
		r.Shutdown()
	}
}

func (rt *Router) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case RegisterUser:
		rt.handleRegisterUser(ctx, m)
	case UnregisterUser:
		rt.handleUnregisterUser(ctx, m)
	case SendDirectMessage:
		rt.handleSendDirectMessage(ctx, m)
	case GetOnlineUsers:
		rt.handleGetOnlineUsers(m)
	case JoinRoom:
		rt.handleJoinRoom(ctx, m)
	case LeaveRoom:
		rt.handleLeaveRoom(m)
	case SendRoomMessage:
		rt.handleSendRoomMessage(ctx, m)
	case GetPaginatedMessages:
		rt.handleGetPaginatedMessages(ctx, m)
	case SyncMessages:
		rt.handleSyncMessages(ctx, m)
	}
}

func (rt *Router) handleRegisterUser(ctx context.Context, m RegisterUser) {
	if _, exists := rt.sessions[m.UserID]; exists {
		if m.ReplyTo != nil {
			m.ReplyTo <- errAlreadyOnline
		}
		return
	}

	rt.sessions[m.UserID] = m.Out
	metrics.IncSession()

	rt.broadcastPresence(ctx, m.UserID, wire.PresenceOnline)

	if m.ReplyTo != nil {
		m.ReplyTo <- nil
	}
}

func (rt *Router) handleUnregisterUser(ctx context.Context, m UnregisterUser) {
	delete(rt.sessions, m.UserID)
	metrics.DecSession()

	rt.broadcastPresence(ctx, m.UserID, wire.PresenceOffline)
}

func (rt *Router) broadcastPresence(ctx context.Context, userID int32, status string) {
	frame := wire.Frame{Kind: "Presence", Presence: &wire.Presence{User: userID, Status: status}}
	for id, out := range rt.sessions {
		if id == userID {
			continue
		}
		rt.trySend(ctx, out, frame, "presence")
	}
}

func (rt *Router) handleGetOnlineUsers(m GetOnlineUsers) {
	ids := make([]int32, 0, len(rt.sessions))
	for id := range rt.sessions {
		ids = append(ids, id)
	}
	m.ReplyTo <- ids
}

func (rt *Router) handleSendDirectMessage(ctx context.Context, m SendDirectMessage) {
	messageID, err := idgen.NewMessageID()
	if err != nil {
		logging.Error(ctx, "generate message id failed", zap.Error(err))
		m.ReplyTo <- wire.MessageAck{
			ClientMessageID: m.ClientMessageID,
			Status:          wire.MessageStatus{Kind: "Failed", Reason: err.Error()},
		}
		return
	}
	now := time.Now().UTC()
	timestamp := now.UnixMilli()
	conversationID := chatid.Conversation(m.From, m.To)

	// Delivery to the recipient is best-effort and never influences the ack:
	// the ack reflects persistence only.
	if out, ok := rt.sessions[m.To]; ok {
		rt.trySend(ctx, out, wire.Frame{Kind: "DirectMessage", DirectMessage: &wire.DirectMessage{
			From:            m.From,
			Content:         m.Content,
			ServerMessageID: messageID,
			Timestamp:       timestamp,
		}}, "direct_message")
	}

	persistReply := make(chan persistence.WriteCmdResult, 1)
	select {
	case rt.persistenceInbox <- persistence.WriteDmCmd{
		Request: persistence.WriteDirectMessageRequest{
			ConversationID: conversationID,
			MessageID:      messageID,
			SenderID:       m.From,
			RecipientID:    m.To,
			MessageText:    m.Content,
			CreatedAt:      timestamp,
		},
		ReplyTo: persistReply,
	}:
	default:
		logging.Error(ctx, "persistence actor mailbox full, dropping direct message persist")
		m.ReplyTo <- wire.MessageAck{
			ClientMessageID: m.ClientMessageID,
			MessageID:       messageID,
			Timestamp:       timestamp,
			Status:          wire.MessageStatus{Kind: "Failed", Reason: "persistence unavailable"},
		}
		return
	}

	// Spawn a detached task that awaits the persistence reply so the ack's
	// status reflects persistence only, never the Router's own goroutine.
	go func() {
		result := <-persistReply
		status := wire.MessageStatus{Kind: "Persisted"}
		if !result.Success {
			status = wire.MessageStatus{Kind: "Failed", Reason: result.ErrorMessage}
		}
		m.ReplyTo <- wire.MessageAck{
			ClientMessageID: m.ClientMessageID,
			MessageID:       messageID,
			Timestamp:       timestamp,
			Status:          status,
		}
	}()
}

func (rt *Router) handleJoinRoom(ctx context.Context, m JoinRoom) {
	r := rt.getOrCreateRoom(m.RoomID)
	r.AddMember(m.UserID, m.Out)
	if m.ReplyTo != nil {
		m.ReplyTo <- nil
	}
}

func (rt *Router) handleLeaveRoom(m LeaveRoom) {
	rt.roomMu.Lock()
	r, ok := rt.rooms[m.RoomID]
	rt.roomMu.Unlock()
	if !ok {
		return
	}
	r.RemoveMember(m.UserID)
	if r.IsEmpty() {
		rt.scheduleRoomCleanup(m.RoomID)
	}
}

func (rt *Router) handleSendRoomMessage(ctx context.Context, m SendRoomMessage) {
	rt.roomMu.Lock()
	r, ok := rt.rooms[m.RoomID]
	rt.roomMu.Unlock()

	member := false
	if ok {
		for _, id := range r.Members() {
			if id == m.From {
				member = true
				break
			}
		}
	}
	if !member {
		m.ReplyTo <- wire.MessageAck{
			ClientMessageID: m.ClientMessageID,
			Status:          wire.MessageStatus{Kind: "Failed", Reason: "not a member of this room"},
		}
		return
	}

	msg, persistReply, err := r.SendMessage(ctx, m.From, m.Content, m.ClientMessageID)
	if err != nil {
		m.ReplyTo <- wire.MessageAck{
			ClientMessageID: m.ClientMessageID,
			Status:          wire.MessageStatus{Kind: "Failed", Reason: err.Error()},
		}
		return
	}

	// Broadcast already happened inside SendMessage; the ack still awaits the
	// persistence outcome in a detached task so it reflects persistence only.
	go func() {
		result := <-persistReply
		status := wire.MessageStatus{Kind: "Persisted"}
		if !result.Success {
			status = wire.MessageStatus{Kind: "Failed", Reason: result.ErrorMessage}
		}
		m.ReplyTo <- wire.MessageAck{
			ClientMessageID: m.ClientMessageID,
			MessageID:       msg.MessageID,
			Timestamp:       msg.Timestamp,
			Status:          status,
		}
	}()
}

// getOrCreateRoom returns the room for roomID, creating it if needed. If a
// cleanup was pending for this room it is canceled, since a member just
// rejoined.
func (rt *Router) getOrCreateRoom(roomID string) *room.Room {
	rt.roomMu.Lock()
	defer rt.roomMu.Unlock()

	if r, ok := rt.rooms[roomID]; ok {
		if timer, pending := rt.pendingRoomCleanups[roomID]; pending {
			timer.Stop()
			delete(rt.pendingRoomCleanups, roomID)
		}
		return r
	}

	r := room.NewRoom(roomID, rt.persistenceInbox, rt.roomMetricsPeriod)
	rt.rooms[roomID] = r
	metrics.ActiveRooms.Inc()
	return r
}

// scheduleRoomCleanup arms a grace-period timer before tearing down an empty room.
func (rt *Router) scheduleRoomCleanup(roomID string) {
	rt.roomMu.Lock()
	defer rt.roomMu.Unlock()

	if existing, ok := rt.pendingRoomCleanups[roomID]; ok {
		existing.Stop()
		delete(rt.pendingRoomCleanups, roomID)
	}

	timer := time.AfterFunc(rt.roomCleanupGrace, func() {
		rt.roomMu.Lock()
		defer rt.roomMu.Unlock()

		r, ok := rt.rooms[roomID]
		if ok && r.IsEmpty() {
			r.Shutdown()
			delete(rt.rooms, roomID)
			metrics.ActiveRooms.Dec()
			metrics.RoomMembers.DeleteLabelValues(roomID)
		}
		delete(rt.pendingRoomCleanups, roomID)
	})
	rt.pendingRoomCleanups[roomID] = timer
}

// trySend is the Go rendering of the original's try_send: a non-blocking
// enqueue that drops the frame (with a distinct log line) rather than block
// the Router on a slow or disconnected session.
func (rt *Router) trySend(ctx context.Context, out chan<- wire.Frame, frame wire.Frame, reason string) bool {
	select {
	case out <- frame:
		return true
	default:
		logging.Warn(ctx, "session mailbox full, dropping frame", zap.String("reason", reason))
		metrics.RouterMailboxDrops.WithLabelValues(reason).Inc()
		return false
	}
}
