package chathub

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/errs"
	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/session"
)

// AfterFunc runs fn once after d. Session implements it so that fn runs on
// its event loop.
type AfterFunc func(d time.Duration, fn func())

// ChatClient is the in-room half of a session: the message sequence, the
// typing indicators and the report and end intents. It is not safe for
// concurrent use; Session serialises it.
type ChatClient struct {
	machine *session.Machine
	sender  Sender
	after   AfterFunc
	now     func() time.Time
	log     zerolog.Logger

	typingTimeout time.Duration
	maxLength     int

	messages []models.ChatMessage
	seq      uint64

	peerTyping    bool
	peerTypingGen uint64
	selfTyping    bool
	selfTypingGen uint64
}

// ChatOptions configures a ChatClient. Zero values select the defaults.
type ChatOptions struct {
	TypingTimeout    time.Duration
	MaxMessageLength int
	After            AfterFunc
	Now              func() time.Time
}

func NewChatClient(machine *session.Machine, sender Sender, opts ChatOptions) *ChatClient {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = 3 * time.Second
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 500
	}
	if opts.After == nil {
		opts.After = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ChatClient{
		machine:       machine,
		sender:        sender,
		after:         opts.After,
		now:           opts.Now,
		log:           logging.Component("chat"),
		typingTimeout: opts.TypingTimeout,
		maxLength:     opts.MaxMessageLength,
	}
}

// SendMessage appends text to the sequence and transmits it. The append
// happens before the transmission and is kept when the transmission fails.
func (c *ChatClient) SendMessage(text, senderID string) (models.ChatMessage, error) {
	const op = "message"

	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, errs.Precondition(op, "empty message")
	}
	if n := utf8.RuneCountInString(text); n > c.maxLength {
		return models.ChatMessage{}, errs.Precondition(op, "message is %d characters, limit is %d", n, c.maxLength)
	}
	room, err := c.machine.Require(op)
	if err != nil {
		return models.ChatMessage{}, err
	}

	msg := c.append(room, text, senderID, true)
	if c.selfTyping {
		c.stopTyping(room, senderID)
	}

	env, err := protocol.NewEnvelope(protocol.EventMessage, protocol.OutgoingMessage{
		RoomID:  room,
		Message: text,
		Sender:  senderID,
	})
	if err == nil {
		err = c.sender.Send(env)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("room", room).Str("id", msg.ID).Msg("message appended but not sent")
		return msg, err
	}
	return msg, nil
}

// HandleMessage appends an inbound message. Messages arriving outside a
// room are dropped. A message from the peer also ends its typing signal.
func (c *ChatClient) HandleMessage(env protocol.Envelope) (*models.ChatMessage, bool, error) {
	var payload protocol.IncomingMessage
	if err := env.Decode(&payload); err != nil {
		return nil, false, errs.Protocol(string(env.Event), "%v", err)
	}

	s := c.machine.Snapshot()
	if s.Phase != session.PhaseMatched {
		c.log.Debug().Stringer("phase", s.Phase).Msg("message outside a room dropped")
		return nil, false, nil
	}

	msg := c.append(s.RoomID, payload.Message, payload.Sender, false)
	typingCleared := c.peerTyping
	c.peerTyping = false
	c.peerTypingGen++
	return &msg, typingCleared, nil
}

// HandleTyping applies the peer typing signal. A true signal expires after
// the typing timeout unless it is renewed. It reports whether the flag
// changed.
func (c *ChatClient) HandleTyping(env protocol.Envelope, onExpire func()) (bool, error) {
	var payload protocol.Typing
	if err := env.Decode(&payload); err != nil {
		return false, errs.Protocol(string(env.Event), "%v", err)
	}
	if c.machine.Snapshot().Phase != session.PhaseMatched {
		return false, nil
	}

	changed := c.peerTyping != payload.IsTyping
	c.peerTyping = payload.IsTyping
	c.peerTypingGen++
	if payload.IsTyping {
		gen := c.peerTypingGen
		c.after(c.typingTimeout, func() {
			if c.peerTypingGen == gen && c.peerTyping {
				c.peerTyping = false
				if onExpire != nil {
					onExpire()
				}
			}
		})
	}
	return changed, nil
}

// Typing announces the local typing state. Starting is sent once per burst;
// the stop is sent on request or automatically after the typing timeout
// without renewal.
func (c *ChatClient) Typing(on bool, senderID string) error {
	room, err := c.machine.Require("typing")
	if err != nil {
		return err
	}
	if !on {
		if c.selfTyping {
			return c.stopTyping(room, senderID)
		}
		return nil
	}

	c.selfTypingGen++
	gen := c.selfTypingGen
	c.after(c.typingTimeout, func() {
		if c.selfTypingGen != gen || !c.selfTyping {
			return
		}
		if current, err := c.machine.Require("typing"); err == nil && current == room {
			c.stopTyping(room, senderID)
		} else {
			c.selfTyping = false
		}
	})

	if c.selfTyping {
		return nil
	}
	c.selfTyping = true
	return c.sendTyping(room, senderID, true)
}

func (c *ChatClient) stopTyping(room, senderID string) error {
	c.selfTyping = false
	c.selfTypingGen++
	return c.sendTyping(room, senderID, false)
}

func (c *ChatClient) sendTyping(room, senderID string, on bool) error {
	env, err := protocol.NewEnvelope(protocol.EventTyping, protocol.Typing{RoomID: room, Sender: senderID, IsTyping: on})
	if err != nil {
		return errs.Protocol("typing", "%v", err)
	}
	return c.sender.Send(env)
}

// ReportUser sends an abuse report against the peer of the active room.
func (c *ChatClient) ReportUser(reason, reporterID string) error {
	const op = "report_user"

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errs.Precondition(op, "a reason is required")
	}
	room, err := c.machine.Require(op)
	if err != nil {
		return err
	}

	env, err := protocol.NewEnvelope(protocol.EventReportUser, protocol.ReportUser{
		RoomID:     room,
		Reason:     reason,
		ReporterID: reporterID,
	})
	if err != nil {
		return errs.Protocol(op, "%v", err)
	}
	if err := c.sender.Send(env); err != nil {
		return err
	}
	c.log.Info().Str("room", room).Msg("peer reported")
	return nil
}

// EndChat ends the active room locally and tells the server. The local end
// does not wait for the server and holds even if the send fails. Calling it
// again after the room ended is a no-op.
func (c *ChatClient) EndChat(userID string, reason session.EndReason) (string, error) {
	const op = "end_chat"

	s := c.machine.Snapshot()
	switch s.Phase {
	case session.PhaseEnded:
		return "", nil
	case session.PhaseMatched:
	default:
		return "", errs.Precondition(op, "no active room (phase %s)", s.Phase)
	}

	room, ended := c.machine.End(reason)
	if !ended {
		return "", nil
	}
	c.Clear()

	env, err := protocol.NewEnvelope(protocol.EventEndChat, protocol.EndChat{RoomID: room, UserID: userID})
	if err == nil {
		err = c.sender.Send(env)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("room", room).Msg("room ended locally, server not told")
		return room, err
	}
	return room, nil
}

// MarkRead sets the read flag of one message.
func (c *ChatClient) MarkRead(id string) (*models.ChatMessage, bool) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			if c.messages[i].Read {
				return nil, false
			}
			c.messages[i].Read = true
			msg := c.messages[i]
			return &msg, true
		}
	}
	return nil, false
}

// MarkAllRead sets every read flag and returns how many changed.
func (c *ChatClient) MarkAllRead() int {
	n := 0
	for i := range c.messages {
		if !c.messages[i].Read {
			c.messages[i].Read = true
			n++
		}
	}
	return n
}

// Messages returns a copy of the sequence.
func (c *ChatClient) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Unread counts incoming messages not yet read.
func (c *ChatClient) Unread() int {
	n := 0
	for _, m := range c.messages {
		if !m.Read {
			n++
		}
	}
	return n
}

func (c *ChatClient) PeerTyping() bool { return c.peerTyping }

// Clear drops the sequence and both typing signals. Pending typing timers
// become no-ops.
func (c *ChatClient) Clear() {
	c.messages = nil
	c.seq = 0
	c.peerTyping = false
	c.peerTypingGen++
	c.selfTyping = false
	c.selfTypingGen++
}

func (c *ChatClient) append(room, text, sender string, outgoing bool) models.ChatMessage {
	c.seq++
	msg := models.ChatMessage{
		ID:       uuid.NewString(),
		Seq:      c.seq,
		RoomID:   room,
		Text:     text,
		SenderID: sender,
		SentAt:   c.now(),
		Outgoing: outgoing,
		Read:     outgoing,
	}
	c.messages = append(c.messages, msg)
	return msg
}
