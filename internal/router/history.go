package router

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/persistence"
	"github.com/peroxo/gateway/internal/wire"
)

func (rt *Router) handleGetPaginatedMessages(ctx context.Context, m GetPaginatedMessages) {
	replyCh := make(chan persistence.GetPaginatedMessagesResult, 1)

	select {
	case rt.persistenceInbox <- persistence.GetPaginatedMessagesCmd{
		Request: persistence.GetPaginatedMessagesRequest{
			ConversationID: m.Request.ConversationID,
			MessageID:      uuidPtrToStringPtr(m.Request.MessageID),
		},
		ReplyTo: replyCh,
	}:
	default:
		m.ReplyTo <- wire.ChatHistoryResponse{}
		return
	}

	// Forward the eventual reply without blocking the Router's main loop,
	// mirroring the spawned-task-per-reply shape used for writes.
	go func() {
		result := <-replyCh
		m.ReplyTo <- toChatHistoryResponse(ctx, result)
	}()
}

func (rt *Router) handleSyncMessages(ctx context.Context, m SyncMessages) {
	replyCh := make(chan persistence.SyncMessagesResult, 1)

	select {
	case rt.persistenceInbox <- persistence.SyncMessagesCmd{
		Request: persistence.SyncMessagesRequest{
			ConversationID: m.Request.ConversationID,
			MessageID:      uuidPtrToStringPtr(m.Request.MessageID),
		},
		ReplyTo: replyCh,
	}:
	default:
		m.ReplyTo <- wire.SyncMessagesResponse{}
		return
	}

	go func() {
		result := <-replyCh
		m.ReplyTo <- toSyncMessagesResponse(ctx, result)
	}()
}

func uuidPtrToStringPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// toChatHistoryResponse converts a persistence page into the wire shape. An
// empty or unparseable next cursor becomes nil, and HasMore is true exactly
// when a next cursor is present.
func toChatHistoryResponse(ctx context.Context, result persistence.GetPaginatedMessagesResult) wire.ChatHistoryResponse {
	if result.Err != nil || result.Response == nil {
		return wire.ChatHistoryResponse{}
	}

	resp := wire.ChatHistoryResponse{
		Messages: toHistoryMessages(ctx, result.Response.Messages),
	}
	if result.Response.NextCursor != nil {
		if cursor, err := uuid.Parse(*result.Response.NextCursor); err == nil {
			resp.NextCursor = &cursor
		}
	}
	resp.HasMore = resp.NextCursor != nil
	return resp
}

func toSyncMessagesResponse(ctx context.Context, result persistence.SyncMessagesResult) wire.SyncMessagesResponse {
	if result.Err != nil || result.Response == nil {
		return wire.SyncMessagesResponse{}
	}
	return wire.SyncMessagesResponse{Messages: toHistoryMessages(ctx, result.Response.Messages)}
}

// toHistoryMessages converts a persistence page into the wire shape. A
// message whose stored id fails to parse is skipped and logged rather than
// given a fresh random id, since a fabricated id would corrupt a pagination
// cursor built from it.
func toHistoryMessages(ctx context.Context, in []persistence.ResponseMessage) []wire.HistoryMessage {
	out := make([]wire.HistoryMessage, 0, len(in))
	for _, m := range in {
		id, err := uuid.Parse(m.MessageID)
		if err != nil {
			logging.Warn(ctx, "dropping history message with unparseable id",
				zap.String("conversation_id", m.ConversationID), zap.String("message_id", m.MessageID))
			continue
		}
		out = append(out, wire.HistoryMessage{
			ConversationID: m.ConversationID,
			MessageID:      id,
			SenderID:       m.SenderID,
			RecipientID:    m.RecipientID,
			MessageText:    m.MessageText,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out
}
