package wire

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFrame_DirectMessageEnvelopeShape(t *testing.T) {
	id := uuid.Must(uuid.NewRandom())
	f := Frame{
		Kind: "DirectMessage",
		DirectMessage: &DirectMessage{
			From:            7,
			Content:         "hi",
			ServerMessageID: id,
			Timestamp:       1732180000000,
		},
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Len(t, envelope, 1)
	inner, ok := envelope["DirectMessage"]
	require.True(t, ok, "expected a single DirectMessage variant key")

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(inner, &fields))
	require.JSONEq(t, "1732180000000", string(fields["timestamp"]), "timestamp must encode as an integer, not an RFC3339 string")

	var roundTripped Frame
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	require.Equal(t, "DirectMessage", roundTripped.Kind)
	require.Equal(t, f.DirectMessage.From, roundTripped.DirectMessage.From)
	require.Equal(t, f.DirectMessage.ServerMessageID, roundTripped.DirectMessage.ServerMessageID)
	require.Equal(t, f.DirectMessage.Timestamp, roundTripped.DirectMessage.Timestamp)
}

func TestFrame_FailedMessageStatus(t *testing.T) {
	ack := MessageAck{
		ClientMessageID: "c1",
		Status:          MessageStatus{Kind: "Failed", Reason: "persistence unavailable"},
	}
	data, err := json.Marshal(ack)
	require.NoError(t, err)

	var decoded MessageAck
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "Failed", decoded.Status.Kind)
	require.Equal(t, "persistence unavailable", decoded.Status.Reason)
}

func TestFrame_UnknownVariantRejected(t *testing.T) {
	var f Frame
	err := json.Unmarshal([]byte(`{"NotAThing":{}}`), &f)
	require.Error(t, err)
}

func TestFrame_MultipleKeysRejected(t *testing.T) {
	var f Frame
	err := json.Unmarshal([]byte(`{"JoinRoom":{"room_id":"a"},"LeaveRoom":{"room_id":"b"}}`), &f)
	require.Error(t, err)
}
