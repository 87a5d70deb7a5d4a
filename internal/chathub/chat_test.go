package chathub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatgogo/matchclient/internal/chathub"
	"chatgogo/matchclient/internal/connection"
	"chatgogo/matchclient/internal/errs"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/session"
)

func newChat(t *testing.T, room string) (*chathub.ChatClient, *session.Machine, *MockSender, *manualClock) {
	t.Helper()
	machine := session.New()
	machine.SetConnectivity(connection.StateConnected)
	_, err := machine.BeginSearch(true)
	require.NoError(t, err)
	_, err = machine.MatchFound(room)
	require.NoError(t, err)

	sender := new(MockSender)
	clock := newManualClock()
	chat := chathub.NewChatClient(machine, sender, chathub.ChatOptions{
		MaxMessageLength: 500,
		After:            clock.After,
		Now:              clock.Now,
	})
	return chat, machine, sender, clock
}

func typingEnvelope(on bool) protocol.Envelope {
	return protocol.MustEnvelope(protocol.EventTyping, protocol.Typing{IsTyping: on})
}

func TestChatClient_SendMessageAppendsBeforeSending(t *testing.T) {
	// Arrange
	chat, _, sender, clock := newChat(t, "abc")
	sendErr := errs.Transportf("message", "connection closed")
	sender.On("Send", event(protocol.EventMessage)).Return(sendErr).Once()

	// Act
	msg, err := chat.SendMessage("hi", "42")

	// Assert
	assert.ErrorIs(t, err, sendErr)
	require.Len(t, chat.Messages(), 1)
	assert.Equal(t, msg, chat.Messages()[0])
	assert.Equal(t, "abc", msg.RoomID)
	assert.Equal(t, clock.Now(), msg.SentAt)
	assert.True(t, msg.Outgoing)
	assert.True(t, msg.Read)
	assert.NotEmpty(t, msg.ID)
}

func TestChatClient_MessageIDsAreUnique(t *testing.T) {
	chat, _, sender, _ := newChat(t, "abc")
	sender.On("Send", mock.Anything).Return(nil)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := chat.SendMessage("ping", "42")
		require.NoError(t, err)
		assert.False(t, seen[msg.ID])
		seen[msg.ID] = true
		assert.Equal(t, uint64(i+1), msg.Seq)
	}
}

func TestChatClient_InboundMessageOutsideRoomIsDropped(t *testing.T) {
	chat, machine, _, _ := newChat(t, "abc")
	machine.End(session.EndedByServer)

	msg, _, err := chat.HandleMessage(protocol.MustEnvelope(protocol.EventMessage, protocol.IncomingMessage{Message: "late", Sender: "7"}))

	assert.NoError(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, chat.Messages())
}

func TestChatClient_MalformedMessage(t *testing.T) {
	chat, _, _, _ := newChat(t, "abc")

	_, _, err := chat.HandleMessage(protocol.Envelope{Event: protocol.EventMessage, Data: []byte(`[1,2]`)})

	assert.True(t, errs.Is(err, errs.KindProtocol))
}

func TestChatClient_PeerTypingRenewalPostponesExpiry(t *testing.T) {
	// Arrange
	chat, _, _, clock := newChat(t, "abc")
	expired := 0
	onExpire := func() { expired++ }

	// Act
	changed, err := chat.HandleTyping(typingEnvelope(true), onExpire)
	require.NoError(t, err)
	renewed, err := chat.HandleTyping(typingEnvelope(true), onExpire)
	require.NoError(t, err)

	// Assert
	assert.True(t, changed)
	assert.False(t, renewed)
	assert.Equal(t, 2, clock.Pending())

	clock.Fire()
	assert.False(t, chat.PeerTyping())
	assert.Equal(t, 1, expired, "only the latest timer clears the flag")
}

func TestChatClient_PeerStopCancelsExpiry(t *testing.T) {
	chat, _, _, clock := newChat(t, "abc")
	expired := 0

	_, _ = chat.HandleTyping(typingEnvelope(true), func() { expired++ })
	changed, _ := chat.HandleTyping(typingEnvelope(false), func() { expired++ })
	clock.Fire()

	assert.True(t, changed)
	assert.Zero(t, expired)
	assert.False(t, chat.PeerTyping())
}

func TestChatClient_ClearInvalidatesTimers(t *testing.T) {
	chat, _, sender, clock := newChat(t, "abc")
	sender.On("Send", mock.Anything).Return(nil)
	expired := 0

	_, _ = chat.HandleTyping(typingEnvelope(true), func() { expired++ })
	require.NoError(t, chat.Typing(true, "42"))
	chat.Clear()
	clock.Fire()

	assert.Zero(t, expired)
	sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestChatClient_SendingMessageStopsOwnTyping(t *testing.T) {
	chat, _, sender, _ := newChat(t, "abc")
	sender.On("Send", mock.Anything).Return(nil)

	require.NoError(t, chat.Typing(true, "42"))
	_, err := chat.SendMessage("hello", "42")
	require.NoError(t, err)

	calls := sender.Calls
	require.Len(t, calls, 3)
	stop := calls[1].Arguments.Get(0).(protocol.Envelope)
	var typing protocol.Typing
	require.NoError(t, stop.Decode(&typing))
	assert.False(t, typing.IsTyping)
	assert.Equal(t, protocol.EventMessage, calls[2].Arguments.Get(0).(protocol.Envelope).Event)
}

func TestChatClient_EndChatIsLocalFirst(t *testing.T) {
	// Arrange
	chat, machine, sender, _ := newChat(t, "abc")
	sender.On("Send", event(protocol.EventEndChat)).Return(errs.Transportf("end_chat", "not connected"))

	// Act
	room, err := chat.EndChat("42", session.EndedByClient)

	// Assert
	assert.Equal(t, "abc", room)
	assert.True(t, errs.Is(err, errs.KindTransport))
	snap := machine.Snapshot()
	assert.Equal(t, session.PhaseEnded, snap.Phase)
	assert.Empty(t, snap.RoomID)

	room, err = chat.EndChat("42", session.EndedByClient)
	assert.Empty(t, room)
	assert.NoError(t, err)
	sender.AssertNumberOfCalls(t, "Send", 1)
}
