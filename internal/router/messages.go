package router

import "github.com/peroxo/gateway/internal/wire"

// RegisterUser registers a session's outbound channel under UserID and
// marks the user online, broadcasting Presence to everyone else already
// online.
type RegisterUser struct {
	UserID  int32
	Out     chan<- wire.Frame
	ReplyTo chan<- error
}

// UnregisterUser removes a session and broadcasts Presence offline.
type UnregisterUser struct {
	UserID int32
}

// SendDirectMessage delivers content from From to To, persisting it and
// acking the result back to the sender over ReplyTo.
type SendDirectMessage struct {
	From            int32
	To              int32
	Content         string
	ClientMessageID string
	ReplyTo         chan<- wire.MessageAck
}

// GetOnlineUsers answers with the current online user id list.
type GetOnlineUsers struct {
	ReplyTo chan<- []int32
}

// JoinRoom adds UserID as a member of RoomID, creating the room if it
// doesn't exist yet.
type JoinRoom struct {
	UserID  int32
	RoomID  string
	Out     chan<- wire.Frame
	ReplyTo chan<- error
}

// LeaveRoom removes UserID from RoomID's membership.
type LeaveRoom struct {
	UserID int32
	RoomID string
}

// SendRoomMessage posts content into RoomID, persisting it and broadcasting
// it to every current member including the sender.
type SendRoomMessage struct {
	From            int32
	RoomID          string
	Content         string
	ClientMessageID string
	ReplyTo         chan<- wire.MessageAck
}

// GetPaginatedMessages forwards a history page request to the Persistence
// actor and relays the reply back to the caller.
type GetPaginatedMessages struct {
	Request wire.GetPaginatedMessages
	ReplyTo chan<- wire.ChatHistoryResponse
}

// SyncMessages forwards a catch-up request to the Persistence actor.
type SyncMessages struct {
	Request wire.SyncMessages
	ReplyTo chan<- wire.SyncMessagesResponse
}
