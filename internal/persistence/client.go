// Package persistence talks to the external persistence service that owns
// durable storage for direct and room messages. The gateway only consumes
// this service's contract; the service itself is out of scope.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/peroxo/gateway/internal/metrics"
	_ "github.com/peroxo/gateway/internal/rpcjson"
)

// WriteDirectMessageRequest persists one direct message. CreatedAt is
// milliseconds since the Unix epoch, matching the ChatFrame wire contract.
type WriteDirectMessageRequest struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SenderID       int32     `json:"sender_id"`
	RecipientID    int32     `json:"recipient_id"`
	MessageText    string    `json:"message_text"`
	CreatedAt      int64     `json:"created_at"`
}

// WriteRoomMessageRequest persists one room message.
type WriteRoomMessageRequest struct {
	RoomID      string    `json:"room_id"`
	MessageID   uuid.UUID `json:"message_id"`
	SenderID    int32     `json:"sender_id"`
	MessageText string    `json:"message_text"`
	CreatedAt   int64     `json:"created_at"`
}

// WriteResult is the success/error_message envelope the persistence service
// wraps every write response in.
type WriteResult struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
}

// ResponseMessage mirrors one stored direct or room message.
type ResponseMessage struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       int32     `json:"sender_id"`
	RecipientID    int32     `json:"recipient_id"`
	MessageText    string    `json:"message_text"`
	CreatedAt      int64     `json:"created_at"`
}

// GetPaginatedMessagesRequest asks for one page of conversation history.
type GetPaginatedMessagesRequest struct {
	ConversationID string  `json:"conversation_id"`
	MessageID      *string `json:"message_id,omitempty"`
}

// PaginatedMessagesResponse is one page of conversation history.
type PaginatedMessagesResponse struct {
	Messages   []ResponseMessage `json:"messages"`
	NextCursor *string           `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

// SyncMessagesRequest asks for every message after MessageID.
type SyncMessagesRequest struct {
	ConversationID string  `json:"conversation_id"`
	MessageID      *string `json:"message_id,omitempty"`
}

// SyncMessagesResponse answers a SyncMessagesRequest.
type SyncMessagesResponse struct {
	Messages []ResponseMessage `json:"messages"`
}

// Client is the gateway's view of the persistence service.
type Client struct {
	conn *grpc.ClientConn
	cb   *gobreaker.CircuitBreaker
}

// NewClient dials the persistence service and wraps every call in a circuit
// breaker.
func NewClient(address string) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	st := gobreaker.Settings{
		Name:        "persistence",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("persistence").Set(stateVal)
		},
	}

	return &Client{conn: conn, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype("json"))
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("persistence").Inc()
	}
	return err
}

// WriteDm persists a single direct message. The returned WriteResult is the
// service's own success/error_message verdict (e.g. a duplicate key
// rejection); err is a transport-level failure. Callers are expected to
// apply their own retry policy (see internal/persistence's Actor).
func (c *Client) WriteDm(ctx context.Context, req WriteDirectMessageRequest) (WriteResult, error) {
	var resp WriteResult
	err := c.invoke(ctx, "/chat.PersistenceService/WriteDm", req, &resp)
	return resp, err
}

// WriteRoomMessage persists a single room message.
func (c *Client) WriteRoomMessage(ctx context.Context, req WriteRoomMessageRequest) (WriteResult, error) {
	var resp WriteResult
	err := c.invoke(ctx, "/chat.PersistenceService/WriteRoomMessage", req, &resp)
	return resp, err
}

// GetPaginatedMessages fetches one page of conversation or room history.
func (c *Client) GetPaginatedMessages(ctx context.Context, req GetPaginatedMessagesRequest) (*PaginatedMessagesResponse, error) {
	var resp PaginatedMessagesResponse
	if err := c.invoke(ctx, "/chat.PersistenceService/GetPaginatedMessages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncMessages fetches every message created after MessageID.
func (c *Client) SyncMessages(ctx context.Context, req SyncMessagesRequest) (*SyncMessagesResponse, error) {
	var resp SyncMessagesResponse
	if err := c.invoke(ctx, "/chat.PersistenceService/SyncMessages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping reports whether the gRPC connection to the persistence service is
// usable, for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	if c.conn.GetState().String() == "SHUTDOWN" {
		return context.Canceled
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
