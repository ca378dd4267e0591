// Package wire defines ChatFrame, the gateway's client-facing wire protocol,
// and its externally-tagged JSON encoding: {"Variant": {fields...}}.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageStatus reports what happened to a message after a client sent it.
type MessageStatus struct {
	Kind   string `json:"-"` // "Delivered", "Persisted", or "Failed"
	Reason string `json:"-"` // populated when Kind == "Failed"
}

func (s MessageStatus) MarshalJSON() ([]byte, error) {
	if s.Kind == "Failed" {
		return json.Marshal(map[string]string{"Failed": s.Reason})
	}
	return json.Marshal(s.Kind)
}

func (s *MessageStatus) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		s.Kind = plain
		return nil
	}
	var failed struct {
		Failed string `json:"Failed"`
	}
	if err := json.Unmarshal(data, &failed); err != nil {
		return fmt.Errorf("unmarshal MessageStatus: %w", err)
	}
	s.Kind = "Failed"
	s.Reason = failed.Failed
	return nil
}

const (
	PresenceOnline  = "Online"
	PresenceOffline = "Offline"
)

// SendDirectMessage is a client request to deliver content to another user.
type SendDirectMessage struct {
	To              int32  `json:"to"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

// DirectMessage is a server push delivering content from another user.
// Timestamp is milliseconds since the Unix epoch.
type DirectMessage struct {
	From            int32     `json:"from"`
	Content         string    `json:"content"`
	ServerMessageID uuid.UUID `json:"server_message_id"`
	Timestamp       int64     `json:"timestamp"`
}

// Presence is a server push announcing a user's online/offline transition.
type Presence struct {
	User   int32  `json:"user"`
	Status string `json:"status"`
}

// MessageAck is the server's acknowledgement of a SendDirectMessage or
// SendRoomMessage, delivered over ack-out. Timestamp is milliseconds since
// the Unix epoch.
type MessageAck struct {
	ClientMessageID string        `json:"client_message_id"`
	MessageID       uuid.UUID     `json:"message_id"`
	Timestamp       int64         `json:"timestamp"`
	Status          MessageStatus `json:"status"`
}

// GetPaginatedMessages is a client request for a page of conversation
// history, cursor-paginated by message id.
type GetPaginatedMessages struct {
	MessageID      *uuid.UUID `json:"message_id,omitempty"`
	ConversationID string     `json:"conversation_id"`
}

// HistoryMessage is one entry returned in a ChatHistoryResponse. CreatedAt
// is milliseconds since the Unix epoch.
type HistoryMessage struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SenderID       int32     `json:"sender_id"`
	RecipientID    int32     `json:"recipient_id"`
	MessageText    string    `json:"message_text"`
	CreatedAt      int64     `json:"created_at"`
}

// ChatHistoryResponse answers a GetPaginatedMessages request, delivered over
// ack-out.
type ChatHistoryResponse struct {
	Messages   []HistoryMessage `json:"messages"`
	HasMore    bool             `json:"has_more"`
	NextCursor *uuid.UUID       `json:"next_cursor,omitempty"`
}

// SendRoomMessage is a client request to post content into a room.
type SendRoomMessage struct {
	RoomID          string `json:"room_id"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

// RoomMessage is a server push delivering a room post to every current
// member, including the member that sent it. Timestamp is milliseconds
// since the Unix epoch.
type RoomMessage struct {
	RoomID    string    `json:"room_id"`
	From      int32     `json:"from"`
	Content   string    `json:"content"`
	MessageID uuid.UUID `json:"message_id"`
	Timestamp int64     `json:"timestamp"`
}

// JoinRoom is a client request to become a member of a room.
type JoinRoom struct {
	RoomID string `json:"room_id"`
}

// LeaveRoom is a client request to leave a room it is a member of.
type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

// SyncMessages is a client request for every message in a conversation
// created after MessageID (or the whole history, if MessageID is nil).
type SyncMessages struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      *uuid.UUID `json:"message_id,omitempty"`
}

// SyncMessagesResponse answers a SyncMessages request, delivered over
// ack-out.
type SyncMessagesResponse struct {
	Messages []HistoryMessage `json:"messages"`
}

// ErrorFrame is a server push reporting a client-protocol-level error
// (malformed frame, unknown variant) back to the offending client.
type ErrorFrame struct {
	Message string `json:"message"`
}

// Frame is the externally-tagged ChatFrame sum type. Exactly one of the
// payload fields is populated; Kind names which one.
type Frame struct {
	Kind string

	SendDirectMessage    *SendDirectMessage
	DirectMessage        *DirectMessage
	Presence             *Presence
	MessageAck           *MessageAck
	GetPaginatedMessages *GetPaginatedMessages
	ChatHistoryResponse  *ChatHistoryResponse
	SendRoomMessage      *SendRoomMessage
	RoomMessage          *RoomMessage
	JoinRoom             *JoinRoom
	LeaveRoom            *LeaveRoom
	SyncMessages         *SyncMessages
	SyncMessagesResponse *SyncMessagesResponse
	Error                *ErrorFrame
}

func (f Frame) MarshalJSON() ([]byte, error) {
	var payload any
	switch f.Kind {
	case "SendDirectMessage":
		payload = f.SendDirectMessage
	case "DirectMessage":
		payload = f.DirectMessage
	case "Presence":
		payload = f.Presence
	case "MessageAck":
		payload = f.MessageAck
	case "GetPaginatedMessages":
		payload = f.GetPaginatedMessages
	case "ChatHistoryResponse":
		payload = f.ChatHistoryResponse
	case "SendRoomMessage":
		payload = f.SendRoomMessage
	case "RoomMessage":
		payload = f.RoomMessage
	case "JoinRoom":
		payload = f.JoinRoom
	case "LeaveRoom":
		payload = f.LeaveRoom
	case "SyncMessages":
		payload = f.SyncMessages
	case "SyncMessagesResponse":
		payload = f.SyncMessagesResponse
	case "Error":
		payload = f.Error
	default:
		return nil, fmt.Errorf("wire: unknown frame kind %q", f.Kind)
	}
	return json.Marshal(map[string]any{f.Kind: payload})
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("wire: malformed frame: %w", err)
	}
	if len(envelope) != 1 {
		return fmt.Errorf("wire: frame must have exactly one variant key, got %d", len(envelope))
	}

	for kind, raw := range envelope {
		f.Kind = kind
		var err error
		switch kind {
		case "SendDirectMessage":
			f.SendDirectMessage = new(SendDirectMessage)
			err = json.Unmarshal(raw, f.SendDirectMessage)
		case "DirectMessage":
			f.DirectMessage = new(DirectMessage)
			err = json.Unmarshal(raw, f.DirectMessage)
		case "Presence":
			f.Presence = new(Presence)
			err = json.Unmarshal(raw, f.Presence)
		case "MessageAck":
			f.MessageAck = new(MessageAck)
			err = json.Unmarshal(raw, f.MessageAck)
		case "GetPaginatedMessages":
			f.GetPaginatedMessages = new(GetPaginatedMessages)
			err = json.Unmarshal(raw, f.GetPaginatedMessages)
		case "ChatHistoryResponse":
			f.ChatHistoryResponse = new(ChatHistoryResponse)
			err = json.Unmarshal(raw, f.ChatHistoryResponse)
		case "SendRoomMessage":
			f.SendRoomMessage = new(SendRoomMessage)
			err = json.Unmarshal(raw, f.SendRoomMessage)
		case "RoomMessage":
			f.RoomMessage = new(RoomMessage)
			err = json.Unmarshal(raw, f.RoomMessage)
		case "JoinRoom":
			f.JoinRoom = new(JoinRoom)
			err = json.Unmarshal(raw, f.JoinRoom)
		case "LeaveRoom":
			f.LeaveRoom = new(LeaveRoom)
			err = json.Unmarshal(raw, f.LeaveRoom)
		case "SyncMessages":
			f.SyncMessages = new(SyncMessages)
			err = json.Unmarshal(raw, f.SyncMessages)
		case "SyncMessagesResponse":
			f.SyncMessagesResponse = new(SyncMessagesResponse)
			err = json.Unmarshal(raw, f.SyncMessagesResponse)
		case "Error":
			f.Error = new(ErrorFrame)
			err = json.Unmarshal(raw, f.Error)
		default:
			return fmt.Errorf("wire: unknown frame kind %q", kind)
		}
		if err != nil {
			return fmt.Errorf("wire: decoding %s: %w", kind, err)
		}
	}
	return nil
}
