package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/peroxo/gateway/internal/persistence"
	"github.com/peroxo/gateway/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startRouter(t *testing.T) (*Router, chan any, context.CancelFunc) {
	t.Helper()
	persistInbox := make(chan any, 32)
	rt := New(persistInbox, 50*time.Millisecond, 50*time.Millisecond, 32)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rt, persistInbox, cancel
}

func TestRouter_RegisterUnregister_BroadcastsPresence(t *testing.T) {
	rt, _, _ := startRouter(t)

	aliceOut := make(chan wire.Frame, 4)
	bobOut := make(chan wire.Frame, 4)

	reply := make(chan error, 1)
	rt.Inbox() <- RegisterUser{UserID: 1, Out: aliceOut, ReplyTo: reply}
	require.NoError(t, <-reply)

	rt.Inbox() <- RegisterUser{UserID: 2, Out: bobOut, ReplyTo: reply}
	require.NoError(t, <-reply)

	select {
	case f := <-aliceOut:
		require.Equal(t, "Presence", f.Kind)
		require.Equal(t, int32(2), f.Presence.User)
		require.Equal(t, wire.PresenceOnline, f.Presence.Status)
	case <-time.After(time.Second):
		t.Fatal("expected alice to observe bob's presence")
	}

	rt.Inbox() <- UnregisterUser{UserID: 2}

	select {
	case f := <-aliceOut:
		require.Equal(t, "Presence", f.Kind)
		require.Equal(t, wire.PresenceOffline, f.Presence.Status)
	case <-time.After(time.Second):
		t.Fatal("expected alice to observe bob going offline")
	}
}

func TestRouter_RegisterUser_RejectsSecondSocketForSameUser(t *testing.T) {
	rt, _, _ := startRouter(t)

	firstOut := make(chan wire.Frame, 4)
	secondOut := make(chan wire.Frame, 4)

	reply := make(chan error, 1)
	rt.Inbox() <- RegisterUser{UserID: 1, Out: firstOut, ReplyTo: reply}
	require.NoError(t, <-reply)

	rt.Inbox() <- RegisterUser{UserID: 1, Out: secondOut, ReplyTo: reply}
	require.Error(t, <-reply)
}

func TestRouter_SendDirectMessage_DeliversAndAcks(t *testing.T) {
	rt, persistInbox, _ := startRouter(t)

	aliceOut := make(chan wire.Frame, 4)
	bobOut := make(chan wire.Frame, 4)
	reply := make(chan error, 1)
	rt.Inbox() <- RegisterUser{UserID: 1, Out: aliceOut, ReplyTo: reply}
	<-reply
	rt.Inbox() <- RegisterUser{UserID: 2, Out: bobOut, ReplyTo: reply}
	<-reply
	<-aliceOut // drain bob's online presence push

	ack := make(chan wire.MessageAck, 1)
	rt.Inbox() <- SendDirectMessage{From: 1, To: 2, Content: "hi", ClientMessageID: "c1", ReplyTo: ack}

	select {
	case f := <-bobOut:
		require.Equal(t, "DirectMessage", f.Kind)
		require.Equal(t, int32(1), f.DirectMessage.From)
		require.Equal(t, "hi", f.DirectMessage.Content)
	case <-time.After(time.Second):
		t.Fatal("expected bob to receive the direct message")
	}

	var cmd persistence.WriteDmCmd
	select {
	case m := <-persistInbox:
		var ok bool
		cmd, ok = m.(persistence.WriteDmCmd)
		require.True(t, ok)
		require.Equal(t, int32(1), cmd.Request.SenderID)
		require.Equal(t, int32(2), cmd.Request.RecipientID)
	case <-time.After(time.Second):
		t.Fatal("expected a persistence write to be enqueued")
	}
	cmd.ReplyTo <- persistence.WriteCmdResult{Success: true}

	a := <-ack
	require.Equal(t, "c1", a.ClientMessageID)
	require.Equal(t, "Persisted", a.Status.Kind)
}

func TestRouter_SendDirectMessage_PersistenceFailureFailsAck(t *testing.T) {
	rt, persistInbox, _ := startRouter(t)

	ack := make(chan wire.MessageAck, 1)
	rt.Inbox() <- SendDirectMessage{From: 1, To: 2, Content: "hi", ClientMessageID: "c1", ReplyTo: ack}

	var cmd persistence.WriteDmCmd
	select {
	case m := <-persistInbox:
		var ok bool
		cmd, ok = m.(persistence.WriteDmCmd)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a persistence write to be enqueued")
	}
	cmd.ReplyTo <- persistence.WriteCmdResult{Success: false, ErrorMessage: "dup key"}

	a := <-ack
	require.Equal(t, "Failed", a.Status.Kind)
	require.Equal(t, "dup key", a.Status.Reason)
}

func TestRouter_SendDirectMessage_OfflineRecipientPersistedOnly(t *testing.T) {
	rt, persistInbox, _ := startRouter(t)

	ack := make(chan wire.MessageAck, 1)
	rt.Inbox() <- SendDirectMessage{From: 1, To: 99, Content: "hi", ClientMessageID: "c1", ReplyTo: ack}

	var cmd persistence.WriteDmCmd
	select {
	case m := <-persistInbox:
		var ok bool
		cmd, ok = m.(persistence.WriteDmCmd)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a persistence write to be enqueued")
	}
	cmd.ReplyTo <- persistence.WriteCmdResult{Success: true}

	a := <-ack
	require.Equal(t, "Persisted", a.Status.Kind)
}

func TestRouter_JoinLeaveRoom_BroadcastsToAllMembersIncludingSender(t *testing.T) {
	rt, persistInbox, _ := startRouter(t)

	aliceOut := make(chan wire.Frame, 4)
	bobOut := make(chan wire.Frame, 4)
	reply := make(chan error, 1)

	rt.Inbox() <- JoinRoom{UserID: 1, RoomID: "r1", Out: aliceOut, ReplyTo: reply}
	require.NoError(t, <-reply)
	rt.Inbox() <- JoinRoom{UserID: 2, RoomID: "r1", Out: bobOut, ReplyTo: reply}
	require.NoError(t, <-reply)

	ack := make(chan wire.MessageAck, 1)
	rt.Inbox() <- SendRoomMessage{From: 1, RoomID: "r1", Content: "yo", ClientMessageID: "c1", ReplyTo: ack}

	select {
	case f := <-aliceOut:
		require.Equal(t, "RoomMessage", f.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected sender to receive its own room broadcast")
	}
	select {
	case f := <-bobOut:
		require.Equal(t, "RoomMessage", f.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected other member to receive the room broadcast")
	}

	var cmd persistence.WriteRoomMessageCmd
	select {
	case m := <-persistInbox:
		var ok bool
		cmd, ok = m.(persistence.WriteRoomMessageCmd)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a persistence write to be enqueued")
	}
	cmd.ReplyTo <- persistence.WriteCmdResult{Success: true}

	a := <-ack
	require.Equal(t, "Persisted", a.Status.Kind)

	rt.Inbox() <- LeaveRoom{UserID: 1, RoomID: "r1"}
	rt.Inbox() <- LeaveRoom{UserID: 2, RoomID: "r1"}
}

func TestRouter_SendRoomMessage_NotAMember(t *testing.T) {
	rt, _, _ := startRouter(t)

	ack := make(chan wire.MessageAck, 1)
	rt.Inbox() <- SendRoomMessage{From: 1, RoomID: "ghost", Content: "yo", ClientMessageID: "c1", ReplyTo: ack}

	a := <-ack
	require.Equal(t, "Failed", a.Status.Kind)
}

func TestRouter_GetPaginatedMessages_ForwardsToPersistence(t *testing.T) {
	rt, persistInbox, _ := startRouter(t)

	reply := make(chan wire.ChatHistoryResponse, 1)
	rt.Inbox() <- GetPaginatedMessages{
		Request: wire.GetPaginatedMessages{ConversationID: "1_2"},
		ReplyTo: reply,
	}

	var cmd persistence.GetPaginatedMessagesCmd
	select {
	case m := <-persistInbox:
		var ok bool
		cmd, ok = m.(persistence.GetPaginatedMessagesCmd)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a GetPaginatedMessagesCmd to be enqueued")
	}

	nextCursor := uuid.New().String()
	cmd.ReplyTo <- persistence.GetPaginatedMessagesResult{
		Response: &persistence.PaginatedMessagesResponse{
			Messages: []persistence.ResponseMessage{
				{ConversationID: "1_2", MessageID: uuid.New().String(), SenderID: 1, RecipientID: 2, MessageText: "hi"},
				{ConversationID: "1_2", MessageID: "not-a-uuid", SenderID: 2, RecipientID: 1, MessageText: "yo"},
			},
			NextCursor: &nextCursor,
			HasMore:    true,
		},
	}

	select {
	case resp := <-reply:
		require.True(t, resp.HasMore)
		// the unparseable "not-a-uuid" record is dropped rather than assigned a
		// fabricated id, so only the well-formed message survives.
		require.Len(t, resp.Messages, 1)
	case <-time.After(time.Second):
		t.Fatal("expected the chat history response to be relayed back")
	}
}

func TestRouter_SyncMessages_ForwardsToPersistence(t *testing.T) {
	rt, persistInbox, _ := startRouter(t)

	reply := make(chan wire.SyncMessagesResponse, 1)
	rt.Inbox() <- SyncMessages{
		Request: wire.SyncMessages{ConversationID: "1_2"},
		ReplyTo: reply,
	}

	var cmd persistence.SyncMessagesCmd
	select {
	case m := <-persistInbox:
		var ok bool
		cmd, ok = m.(persistence.SyncMessagesCmd)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a SyncMessagesCmd to be enqueued")
	}

	cmd.ReplyTo <- persistence.SyncMessagesResult{
		Response: &persistence.SyncMessagesResponse{
			Messages: []persistence.ResponseMessage{
				{ConversationID: "1_2", MessageID: uuid.New().String(), SenderID: 1, RecipientID: 2, MessageText: "hi"},
			},
		},
	}

	select {
	case resp := <-reply:
		require.Len(t, resp.Messages, 1)
	case <-time.After(time.Second):
		t.Fatal("expected the sync response to be relayed back")
	}
}
