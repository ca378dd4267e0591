// Package session implements the User Session actor: one goroutine pair
// (readPump/writePump) per connected WebSocket, translating between the
// wire protocol and Message Router commands.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/metrics"
	"github.com/peroxo/gateway/internal/router"
	"github.com/peroxo/gateway/internal/wire"
)

// Conn is the subset of *websocket.Conn the session needs, narrow enough
// for tests to fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const writeWait = 10 * time.Second

// Session owns one authenticated WebSocket connection. framesOut carries
// server-pushed frames (DirectMessage, RoomMessage, Presence, Error); ackOut
// carries replies to a request the client itself made (MessageAck,
// ChatHistoryResponse, SyncMessagesResponse) so a burst of unrelated pushes
// can never starve a client waiting on its own ack.
type Session struct {
	UserID int32

	conn   Conn
	router *router.Router

	framesOut chan wire.Frame
	ackOut    chan wire.Frame

	joinedRooms map[string]struct{}
	roomsMu     sync.Mutex

	closeOnce sync.Once
}

// New constructs a Session. mailboxCap bounds framesOut and ackOut.
func New(userID int32, conn Conn, rt *router.Router, mailboxCap int) *Session {
	return &Session{
		UserID:      userID,
		conn:        conn,
		router:      rt,
		framesOut:   make(chan wire.Frame, mailboxCap),
		ackOut:      make(chan wire.Frame, mailboxCap),
		joinedRooms: make(map[string]struct{}),
	}
}

// FramesOut exposes the push channel so the Router can register it.
func (s *Session) FramesOut() chan<- wire.Frame { return s.framesOut }

// Run registers the session with the Router and blocks until the
// connection is closed, unregistering and leaving every joined room on the
// way out. If the Router rejects the registration (a live session already
// exists for this user), the socket is closed immediately and Run returns
// without ever registering state or starting the pumps.
func (s *Session) Run(ctx context.Context) {
	reply := make(chan error, 1)
	s.router.Inbox() <- router.RegisterUser{UserID: s.UserID, Out: s.framesOut, ReplyTo: reply}
	if err := <-reply; err != nil {
		logging.Warn(ctx, "registration rejected, dropping socket", zap.Int32("user_id", s.UserID), zap.Error(err))
		s.closeConn()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(ctx)
	}()

	s.readPump(ctx)
	cancel()
	wg.Wait()

	s.disconnect()
}

func (s *Session) disconnect() {
	s.roomsMu.Lock()
	rooms := make([]string, 0, len(s.joinedRooms))
	for id := range s.joinedRooms {
		rooms = append(rooms, id)
	}
	s.joinedRooms = make(map[string]struct{})
	s.roomsMu.Unlock()

	for _, roomID := range rooms {
		s.router.Inbox() <- router.LeaveRoom{UserID: s.UserID, RoomID: roomID}
	}

	s.router.Inbox() <- router.UnregisterUser{UserID: s.UserID}
	s.closeConn()
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

func (s *Session) writePump(ctx context.Context) {
	defer s.closeConn()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.ackOut:
			if !ok {
				return
			}
			if !s.write(frame) {
				return
			}
		case frame, ok := <-s.framesOut:
			if !ok {
				return
			}
			if !s.write(frame) {
				return
			}
		}
	}
}

func (s *Session) write(frame wire.Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "marshal outbound frame failed", zap.Error(err))
		return true
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}

func (s *Session) readPump(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError(ctx, "malformed frame")
			continue
		}

		s.dispatch(ctx, frame)
	}
}

func (s *Session) sendError(ctx context.Context, message string) {
	select {
	case s.framesOut <- wire.Frame{Kind: "Error", Error: &wire.ErrorFrame{Message: message}}:
	default:
		logging.Warn(ctx, "frames-out full, dropping error frame")
	}
}

func (s *Session) dispatch(ctx context.Context, frame wire.Frame) {
	switch frame.Kind {
	case "SendDirectMessage":
		s.handleSendDirectMessage(ctx, frame.SendDirectMessage)
	case "SendRoomMessage":
		s.handleSendRoomMessage(ctx, frame.SendRoomMessage)
	case "JoinRoom":
		s.handleJoinRoom(ctx, frame.JoinRoom)
	case "LeaveRoom":
		s.handleLeaveRoom(frame.LeaveRoom)
	case "GetPaginatedMessages":
		s.handleGetPaginatedMessages(frame.GetPaginatedMessages)
	case "SyncMessages":
		s.handleSyncMessages(frame.SyncMessages)
	default:
		logging.Warn(ctx, "dropping client frame of unexpected kind", zap.String("kind", frame.Kind))
		s.sendError(ctx, "unexpected frame kind: "+frame.Kind)
	}
}

// handleSendDirectMessage hands the command to the Router and spawns a
// detached task to await the ack, so a slow persistence round-trip never
// stalls readPump from processing the client's next frame.
func (s *Session) handleSendDirectMessage(ctx context.Context, m *wire.SendDirectMessage) {
	if m == nil {
		return
	}
	reply := make(chan wire.MessageAck, 1)
	s.router.Inbox() <- router.SendDirectMessage{
		From: s.UserID, To: m.To, Content: m.Content, ClientMessageID: m.ClientMessageID, ReplyTo: reply,
	}
	go func() {
		ack := <-reply
		s.replyAck(ctx, wire.Frame{Kind: "MessageAck", MessageAck: &ack})
	}()
}

func (s *Session) handleSendRoomMessage(ctx context.Context, m *wire.SendRoomMessage) {
	if m == nil {
		return
	}
	reply := make(chan wire.MessageAck, 1)
	s.router.Inbox() <- router.SendRoomMessage{
		From: s.UserID, RoomID: m.RoomID, Content: m.Content, ClientMessageID: m.ClientMessageID, ReplyTo: reply,
	}
	go func() {
		ack := <-reply
		s.replyAck(ctx, wire.Frame{Kind: "MessageAck", MessageAck: &ack})
	}()
}

func (s *Session) handleJoinRoom(ctx context.Context, m *wire.JoinRoom) {
	if m == nil {
		return
	}
	reply := make(chan error, 1)
	s.router.Inbox() <- router.JoinRoom{UserID: s.UserID, RoomID: m.RoomID, Out: s.framesOut, ReplyTo: reply}
	if err := <-reply; err != nil {
		s.sendError(ctx, err.Error())
		return
	}
	s.roomsMu.Lock()
	s.joinedRooms[m.RoomID] = struct{}{}
	s.roomsMu.Unlock()
}

func (s *Session) handleLeaveRoom(m *wire.LeaveRoom) {
	if m == nil {
		return
	}
	s.roomsMu.Lock()
	delete(s.joinedRooms, m.RoomID)
	s.roomsMu.Unlock()
	s.router.Inbox() <- router.LeaveRoom{UserID: s.UserID, RoomID: m.RoomID}
}

func (s *Session) handleGetPaginatedMessages(m *wire.GetPaginatedMessages) {
	if m == nil {
		return
	}
	reply := make(chan wire.ChatHistoryResponse, 1)
	s.router.Inbox() <- router.GetPaginatedMessages{Request: *m, ReplyTo: reply}
	go func() {
		resp := <-reply
		s.replyAck(context.Background(), wire.Frame{Kind: "ChatHistoryResponse", ChatHistoryResponse: &resp})
	}()
}

func (s *Session) handleSyncMessages(m *wire.SyncMessages) {
	if m == nil {
		return
	}
	reply := make(chan wire.SyncMessagesResponse, 1)
	s.router.Inbox() <- router.SyncMessages{Request: *m, ReplyTo: reply}
	go func() {
		resp := <-reply
		s.replyAck(context.Background(), wire.Frame{Kind: "SyncMessagesResponse", SyncMessagesResponse: &resp})
	}()
}

func (s *Session) replyAck(ctx context.Context, frame wire.Frame) {
	select {
	case s.ackOut <- frame:
	default:
		logging.Warn(ctx, "ack-out full, dropping reply", zap.String("kind", frame.Kind))
		metrics.RouterMailboxDrops.WithLabelValues("ack_out").Inc()
	}
}
