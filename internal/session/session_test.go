package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/peroxo/gateway/internal/persistence"
	"github.com/peroxo/gateway/internal/router"
	"github.com/peroxo/gateway/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn implements Conn with a queue of inbound frames and a recorder of
// outbound ones.
type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	outbound [][]byte
	closed   bool
}

func (f *fakeConn) pushInbound(v any) {
	data, _ := json.Marshal(v)
	f.mu.Lock()
	f.inbound = append(f.inbound, data)
	f.mu.Unlock()
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return 0, nil, errors.New("closed")
		}
		if len(f.inbound) > 0 {
			data := f.inbound[0]
			f.inbound = f.inbound[1:]
			f.mu.Unlock()
			return 1, data, nil
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.outbound = append(f.outbound, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetWriteDeadline(_ time.Time) error { return nil }

func (f *fakeConn) popOutbound(t *testing.T) wire.Frame {
	t.Helper()
	return f.popOutboundKind(t, "")
}

// popOutboundKind waits for the next outbound frame; if kind is non-empty it
// skips frames of any other kind (used to ignore unrelated presence pushes).
func (f *fakeConn) popOutboundKind(t *testing.T, kind string) wire.Frame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.outbound) > 0 {
			data := f.outbound[0]
			f.outbound = f.outbound[1:]
			f.mu.Unlock()
			var frame wire.Frame
			require.NoError(t, json.Unmarshal(data, &frame))
			if kind == "" || frame.Kind == kind {
				return frame
			}
			continue
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for an outbound frame")
	return wire.Frame{}
}

func startRouter(t *testing.T) *router.Router {
	t.Helper()
	persistInbox := make(chan any, 32)
	rt := router.New(persistInbox, 50*time.Millisecond, 50*time.Millisecond, 32)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(done)
	}()
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-persistInbox:
				switch cmd := m.(type) {
				case persistence.WriteDmCmd:
					cmd.ReplyTo <- persistence.WriteCmdResult{Success: true}
				case persistence.WriteRoomMessageCmd:
					cmd.ReplyTo <- persistence.WriteCmdResult{Success: true}
				}
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		<-drainDone
	})
	return rt
}

func TestSession_SendDirectMessage_ReturnsAckOnSessionAckChannel(t *testing.T) {
	rt := startRouter(t)
	conn := &fakeConn{}
	sess := New(1, conn, rt, 8)

	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	conn.pushInbound(wire.Frame{Kind: "SendDirectMessage", SendDirectMessage: &wire.SendDirectMessage{
		To: 2, Content: "hi", ClientMessageID: "c1",
	}})

	frame := conn.popOutbound(t)
	require.Equal(t, "MessageAck", frame.Kind)
	require.Equal(t, "c1", frame.MessageAck.ClientMessageID)

	conn.Close()
	<-done
}

func TestSession_Run_ClosesSocketOnDuplicateRegistration(t *testing.T) {
	rt := startRouter(t)

	firstConn := &fakeConn{}
	first := New(1, firstConn, rt, 8)
	firstDone := make(chan struct{})
	go func() { first.Run(context.Background()); close(firstDone) }()

	// give the first session time to register before the second attempts to.
	time.Sleep(20 * time.Millisecond)

	secondConn := &fakeConn{}
	second := New(1, secondConn, rt, 8)
	secondDone := make(chan struct{})
	go func() { second.Run(context.Background()); close(secondDone) }()

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("expected the rejected session's Run to return promptly")
	}

	secondConn.mu.Lock()
	closed := secondConn.closed
	secondConn.mu.Unlock()
	require.True(t, closed, "expected the rejected socket to be closed")

	firstConn.Close()
	<-firstDone
}

func TestSession_JoinRoom_BroadcastReachesSession(t *testing.T) {
	rt := startRouter(t)

	connA := &fakeConn{}
	sessA := New(1, connA, rt, 8)
	doneA := make(chan struct{})
	go func() { sessA.Run(context.Background()); close(doneA) }()

	connB := &fakeConn{}
	sessB := New(2, connB, rt, 8)
	doneB := make(chan struct{})
	go func() { sessB.Run(context.Background()); close(doneB) }()

	connA.pushInbound(wire.Frame{Kind: "JoinRoom", JoinRoom: &wire.JoinRoom{RoomID: "r1"}})
	connB.pushInbound(wire.Frame{Kind: "JoinRoom", JoinRoom: &wire.JoinRoom{RoomID: "r1"}})
	// presence push(es) may land on framesOut; give both sessions a moment to
	// register their membership before posting.
	time.Sleep(20 * time.Millisecond)

	connA.pushInbound(wire.Frame{Kind: "SendRoomMessage", SendRoomMessage: &wire.SendRoomMessage{
		RoomID: "r1", Content: "yo", ClientMessageID: "c1",
	}})

	ack := connA.popOutboundKind(t, "MessageAck")
	require.Equal(t, "Persisted", ack.MessageAck.Status.Kind)

	broadcast := connB.popOutboundKind(t, "RoomMessage")
	require.Equal(t, "yo", broadcast.RoomMessage.Content)

	connA.Close()
	connB.Close()
	<-doneA
	<-doneB
}
