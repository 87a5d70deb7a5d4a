package protocol_test

import (
	"testing"

	"chatgogo/matchclient/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMessageRoundTrip sends an outbound message frame through the codec and
// reads it back as the inbound echo the server would produce.
func TestMessageRoundTrip(t *testing.T) {
	texts := []string{
		"hi",
		"Привіт! Як справи?",
		`quotes " and \ backslashes`,
		"emoji 🙂 and\nnewlines\t",
		"<script>alert(1)</script>",
	}

	for _, text := range texts {
		t.Run(text, func(t *testing.T) {
			// Arrange
			out := protocol.MustEnvelope(protocol.EventMessage, protocol.OutgoingMessage{
				RoomID: "abc", Message: text, Sender: "42",
			})

			// Act
			wire, err := protocol.Marshal(out)
			require.NoError(t, err)
			frame, err := protocol.Unmarshal(wire)
			require.NoError(t, err)

			var echo protocol.IncomingMessage
			require.NoError(t, frame.Decode(&echo))

			// Assert
			assert.Equal(t, protocol.EventMessage, frame.Event)
			assert.Equal(t, text, echo.Message)
			assert.Equal(t, "42", echo.Sender)
		})
	}
}

func TestWireFieldNames(t *testing.T) {
	tests := []struct {
		name    string
		event   protocol.Event
		payload any
		want    string
	}{
		{
			name:    "find_match",
			event:   protocol.EventFindMatch,
			payload: protocol.FindMatch{UserID: "42", Age: 30, Gender: "female", Preference: "both"},
			want:    `{"event":"find_match","data":{"userId":"42","age":30,"gender":"female","preference":"both"}}`,
		},
		{
			name:    "match_status",
			event:   protocol.EventMatchStatus,
			payload: protocol.StatusSearching,
			want:    `{"event":"match_status","data":"searching"}`,
		},
		{
			name:    "report_user",
			event:   protocol.EventReportUser,
			payload: protocol.ReportUser{RoomID: "abc", Reason: "spam", ReporterID: "42"},
			want:    `{"event":"report_user","data":{"roomId":"abc","reason":"spam","reporterId":"42"}}`,
		},
		{
			name:    "end_chat",
			event:   protocol.EventEndChat,
			payload: protocol.EndChat{RoomID: "abc", UserID: "42"},
			want:    `{"event":"end_chat","data":{"roomId":"abc","userId":"42"}}`,
		},
		{
			name:  "chat_ended without payload",
			event: protocol.EventChatEnded,
			want:  `{"event":"chat_ended"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := protocol.NewEnvelope(tt.event, tt.payload)
			require.NoError(t, err)

			wire, err := protocol.Marshal(env)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(wire))
		})
	}
}

func TestUnmarshal_RejectsBadFrames(t *testing.T) {
	_, err := protocol.Unmarshal([]byte(`not json`))
	assert.Error(t, err)

	_, err = protocol.Unmarshal([]byte(`{"data":{"roomId":"abc"}}`))
	assert.Error(t, err, "frame without event name")
}

func TestDecode_EmptyPayload(t *testing.T) {
	var found protocol.MatchFound
	err := protocol.Envelope{Event: protocol.EventMatchFound}.Decode(&found)
	assert.Error(t, err)
}

func TestStatusOf(t *testing.T) {
	bare := protocol.MustEnvelope(protocol.EventMatchStatus, "searching")
	obj := protocol.Envelope{Event: protocol.EventMatchStatus, Data: []byte(`{"status":"queued"}`)}
	other := protocol.Envelope{Event: protocol.EventMatchStatus, Data: []byte(`3`)}

	assert.Equal(t, "searching", protocol.StatusOf(bare))
	assert.Equal(t, "queued", protocol.StatusOf(obj))
	assert.Equal(t, "3", protocol.StatusOf(other))
}
