package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/peroxo/gateway/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRoom_SendMessage_IncludesSender(t *testing.T) {
	persistInbox := make(chan any, 8)
	r := NewRoom("room-1", persistInbox, 50*time.Millisecond)
	defer r.Shutdown()

	senderOut := make(chan wire.Frame, 1)
	otherOut := make(chan wire.Frame, 1)
	r.AddMember(1, senderOut)
	r.AddMember(2, otherOut)

	_, _, err := r.SendMessage(context.Background(), 1, "hello", "c1")
	require.NoError(t, err)

	select {
	case f := <-senderOut:
		require.Equal(t, "RoomMessage", f.Kind)
		require.Equal(t, int32(1), f.RoomMessage.From)
	default:
		t.Fatal("expected the sender to receive its own broadcast")
	}

	select {
	case f := <-otherOut:
		require.Equal(t, "RoomMessage", f.Kind)
	default:
		t.Fatal("expected the other member to receive the broadcast")
	}
}

func TestRoom_AddRemoveMember_TracksEmpty(t *testing.T) {
	persistInbox := make(chan any, 8)
	r := NewRoom("room-2", persistInbox, 50*time.Millisecond)
	defer r.Shutdown()

	require.True(t, r.IsEmpty())

	out := make(chan wire.Frame, 1)
	r.AddMember(5, out)
	require.False(t, r.IsEmpty())

	r.RemoveMember(5)
	require.True(t, r.IsEmpty())
}

func TestRoom_SendMessage_DropsOnFullMember(t *testing.T) {
	persistInbox := make(chan any, 8)
	r := NewRoom("room-3", persistInbox, 50*time.Millisecond)
	defer r.Shutdown()

	full := make(chan wire.Frame) // unbuffered, nobody reads
	r.AddMember(9, full)

	_, _, err := r.SendMessage(context.Background(), 9, "hi", "c1")
	require.NoError(t, err)
}
