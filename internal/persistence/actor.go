package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peroxo/gateway/internal/gatewayerr"
	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/metrics"
)

// WriteCmdResult is the one-shot reply to WriteDmCmd/WriteRoomMessageCmd: the
// persistence outcome an ack's MessageStatus is derived from. Success=false
// covers both a business rejection (e.g. duplicate key) and a transport
// failure surviving every retry; ErrorMessage is the reason in either case.
type WriteCmdResult struct {
	Success      bool
	ErrorMessage string
}

// WriteDmCmd asks the actor to persist a direct message and reports the
// persistence outcome back on ReplyTo, so the caller's ack reflects
// persistence rather than being synthesized ahead of it.
type WriteDmCmd struct {
	Request WriteDirectMessageRequest
	ReplyTo chan<- WriteCmdResult
}

// WriteRoomMessageCmd asks the actor to persist a room message.
type WriteRoomMessageCmd struct {
	Request WriteRoomMessageRequest
	ReplyTo chan<- WriteCmdResult
}

// GetPaginatedMessagesCmd asks the actor for one page of history.
type GetPaginatedMessagesCmd struct {
	Request  GetPaginatedMessagesRequest
	ReplyTo  chan<- GetPaginatedMessagesResult
}

// GetPaginatedMessagesResult is the one-shot reply to GetPaginatedMessagesCmd.
type GetPaginatedMessagesResult struct {
	Response *PaginatedMessagesResponse
	Err      error
}

// SyncMessagesCmd asks the actor for every message since a cursor.
type SyncMessagesCmd struct {
	Request SyncMessagesRequest
	ReplyTo chan<- SyncMessagesResult
}

// SyncMessagesResult is the one-shot reply to SyncMessagesCmd.
type SyncMessagesResult struct {
	Response *SyncMessagesResponse
	Err      error
}

// Actor serializes all persistence-service calls through a single goroutine,
// retrying write failures with a linear backoff, grounded on the original
// write_dm_with_retry behavior: up to maxRetries retries (maxRetries+1 total
// attempts), waiting retryBase*attempt between attempts.
type Actor struct {
	client     *Client
	inbox      chan any
	maxRetries int
	retryBase  time.Duration
}

// NewActor constructs a Persistence actor. inboxCapacity approximates the
// spec's unbounded inbound channel; callers are internal and bounded in
// number so a large fixed capacity cannot starve under expected load.
func NewActor(client *Client, maxRetries int, retryBase time.Duration, inboxCapacity int) *Actor {
	return &Actor{
		client:     client,
		inbox:      make(chan any, inboxCapacity),
		maxRetries: maxRetries,
		retryBase:  retryBase,
	}
}

// Inbox returns the actor's mailbox for use by the Router.
func (a *Actor) Inbox() chan<- any { return a.inbox }

// Run processes the mailbox until ctx is canceled.
func (a *Actor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.inbox:
			a.handle(ctx, msg)
		}
	}
}

func (a *Actor) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case WriteDmCmd:
		result := a.writeWithRetry(ctx, "write_dm", func(ctx context.Context) (WriteResult, error) {
			return a.client.WriteDm(ctx, m.Request)
		})
		if !result.Success {
			logging.Error(ctx, "persisting direct message failed",
				zap.String("message_id", m.Request.MessageID.String()), zap.String("reason", result.ErrorMessage))
		}
		m.ReplyTo <- result
	case WriteRoomMessageCmd:
		result := a.writeWithRetry(ctx, "write_room_message", func(ctx context.Context) (WriteResult, error) {
			return a.client.WriteRoomMessage(ctx, m.Request)
		})
		if !result.Success {
			logging.Error(ctx, "persisting room message failed",
				zap.String("message_id", m.Request.MessageID.String()), zap.String("reason", result.ErrorMessage))
		}
		m.ReplyTo <- result
	case GetPaginatedMessagesCmd:
		resp, err := a.client.GetPaginatedMessages(ctx, m.Request)
		m.ReplyTo <- GetPaginatedMessagesResult{Response: resp, Err: err}
	case SyncMessagesCmd:
		resp, err := a.client.SyncMessages(ctx, m.Request)
		m.ReplyTo <- SyncMessagesResult{Response: resp, Err: err}
	}
}

// writeWithRetry retries a persistence write up to a.maxRetries times with a
// linear backoff of a.retryBase*attempt. A transport error is retried unless
// gatewayerr classifies it as a business failure; a clean response (even one
// reporting Success=false, e.g. a duplicate key) is never retried since the
// service has already rendered its verdict.
func (a *Actor) writeWithRetry(ctx context.Context, operation string, write func(context.Context) (WriteResult, error)) WriteCmdResult {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.PersistenceRetries.WithLabelValues(operation).Inc()
			select {
			case <-ctx.Done():
				return WriteCmdResult{Success: false, ErrorMessage: ctx.Err().Error()}
			case <-time.After(a.retryBase * time.Duration(attempt)):
			}
		}

		result, err := write(ctx)
		if err == nil {
			return WriteCmdResult{Success: result.Success, ErrorMessage: result.ErrorMessage}
		}
		lastErr = err
		if gatewayerr.IsBusinessFailure(err) {
			return WriteCmdResult{Success: false, ErrorMessage: err.Error()}
		}
	}
	return WriteCmdResult{Success: false, ErrorMessage: lastErr.Error()}
}
