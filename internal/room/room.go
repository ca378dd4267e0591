// Package room implements per-room membership and message broadcast. A Room
// is a mutex-guarded object invoked directly by the Router's single
// goroutine — there is no separate room goroutine, since Router already
// serializes every call into a room's methods.
package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/peroxo/gateway/internal/idgen"
	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/metrics"
	"github.com/peroxo/gateway/internal/persistence"
	"github.com/peroxo/gateway/internal/wire"
)

// Room holds the live membership of one room id and persists/broadcasts the
// messages posted to it.
type Room struct {
	ID string

	mu      sync.Mutex
	members map[int32]chan<- wire.Frame

	persistenceInbox chan<- any

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRoom constructs a Room and starts its background metrics-refresh
// ticker: a recurring timer rather than the one-shot grace-period timer the
// Router uses for room cleanup, since a room's participant count changes
// continuously rather than once.
func NewRoom(id string, persistenceInbox chan<- any, refreshPeriod time.Duration) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		ID:               id,
		members:          make(map[int32]chan<- wire.Frame),
		persistenceInbox: persistenceInbox,
		cancel:           cancel,
	}

	r.wg.Add(1)
	go r.runMetricsTicker(ctx, refreshPeriod)

	return r
}

func (r *Room) runMetricsTicker(ctx context.Context, period time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			n := len(r.members)
			r.mu.Unlock()
			metrics.RoomMembers.WithLabelValues(r.ID).Set(float64(n))
		}
	}
}

// AddMember registers a session's outbound channel as a room member.
func (r *Room) AddMember(userID int32, out chan<- wire.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[userID] = out
	metrics.RoomMembers.WithLabelValues(r.ID).Set(float64(len(r.members)))
}

// RemoveMember removes a session from the room.
func (r *Room) RemoveMember(userID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, userID)
	metrics.RoomMembers.WithLabelValues(r.ID).Set(float64(len(r.members)))
}

// IsEmpty reports whether the room currently has no members.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

// Members returns the current member user ids.
func (r *Room) Members() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int32, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// SendMessage enqueues content for persistence, broadcasts it to every
// current member (including the sender — the room's own behavior actually
// broadcasts to all members, not just everyone-but-sender), and returns a
// one-shot channel the caller awaits to learn the persistence outcome. The
// broadcast itself never waits on persistence.
func (r *Room) SendMessage(ctx context.Context, from int32, content, clientMessageID string) (wire.RoomMessage, <-chan persistence.WriteCmdResult, error) {
	messageID, err := idgen.NewMessageID()
	if err != nil {
		return wire.RoomMessage{}, nil, err
	}
	now := time.Now().UTC()

	persistReply := make(chan persistence.WriteCmdResult, 1)
	select {
	case r.persistenceInbox <- persistence.WriteRoomMessageCmd{
		Request: persistence.WriteRoomMessageRequest{
			RoomID:      r.ID,
			MessageID:   messageID,
			SenderID:    from,
			MessageText: content,
			CreatedAt:   now.UnixMilli(),
		},
		ReplyTo: persistReply,
	}:
	default:
		logging.Error(ctx, "persistence actor mailbox full, dropping room message persist")
		persistReply <- persistence.WriteCmdResult{Success: false, ErrorMessage: "persistence unavailable"}
	}

	msg := wire.RoomMessage{
		RoomID:    r.ID,
		From:      from,
		Content:   content,
		MessageID: messageID,
		Timestamp: now.UnixMilli(),
	}

	frame := wire.Frame{Kind: "RoomMessage", RoomMessage: &msg}

	r.mu.Lock()
	members := make(map[int32]chan<- wire.Frame, len(r.members))
	for id, out := range r.members {
		members[id] = out
	}
	r.mu.Unlock()

	for id, out := range members {
		select {
		case out <- frame:
		default:
			logging.Warn(ctx, "room member mailbox full, dropping broadcast", zap.Int32("user_id", id))
		}
	}

	return msg, persistReply, nil
}

// Shutdown stops the room's background ticker.
func (r *Room) Shutdown() {
	r.cancel()
	r.wg.Wait()
}
