// Package relay is a development session server. It pairs clients that
// send find_match and forwards chat traffic between the two members of a
// room.
package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/storage"
)

// Room end reasons recorded in storage.
const (
	EndReasonChat         = "end_chat"
	EndReasonDisconnected = "user_disconnected"
	EndReasonRecovered    = "recovered"
)

// Inbound is an envelope received from a client.
type Inbound struct {
	Client   Client
	Envelope protocol.Envelope
}

// Stats is a point-in-time view of the hub, safe to read from any goroutine.
type Stats struct {
	Clients   int64 `json:"clients"`
	Rooms     int64 `json:"rooms"`
	Searching int64 `json:"searching"`
}

type participant struct {
	client Client
	userID string
	room   *room
}

type room struct {
	id      string
	members [2]*participant
}

func (r *room) other(p *participant) *participant {
	if r.members[0] == p {
		return r.members[1]
	}
	return r.members[0]
}

// Hub owns every connection, the search queue and the room table. All of
// them are touched only by the Run goroutine.
type Hub struct {
	RegisterCh   chan Client
	UnregisterCh chan Client
	IncomingCh   chan Inbound

	Storage storage.Storage
	Matcher *Matcher

	participants map[string]*participant
	rooms        map[string]*room

	now  func() time.Time
	done chan struct{}
	log  zerolog.Logger

	clients, activeRooms, searching atomic.Int64
}

func NewHub(s storage.Storage) *Hub {
	return &Hub{
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		IncomingCh:   make(chan Inbound),
		Storage:      s,
		Matcher:      NewMatcher(),
		participants: make(map[string]*participant),
		rooms:        make(map[string]*room),
		now:          time.Now,
		done:         make(chan struct{}),
		log:          logging.Component("relay"),
	}
}

// Run processes hub traffic until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.RecoverActiveRooms()
	h.log.Info().Msg("relay hub started")

	for {
		select {
		case c := <-h.RegisterCh:
			h.register(c)
		case c := <-h.UnregisterCh:
			h.unregister(c)
		case in := <-h.IncomingCh:
			h.route(in.Client, in.Envelope)
		case <-ctx.Done():
			h.shutdown()
			return
		}
		h.publishStats()
	}
}

// Register hands c to the hub. It returns false when the hub or ctx is done.
func (h *Hub) Register(ctx context.Context, c Client) bool {
	select {
	case h.RegisterCh <- c:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

// Unregister removes c. It only gives up once the hub has stopped, so a
// registered client is never leaked.
func (h *Hub) Unregister(_ context.Context, c Client) {
	select {
	case h.UnregisterCh <- c:
	case <-h.done:
	}
}

// Deliver queues an inbound envelope from c.
func (h *Hub) Deliver(ctx context.Context, c Client, env protocol.Envelope) bool {
	select {
	case h.IncomingCh <- Inbound{Client: c, Envelope: env}:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

func (h *Hub) Stats() Stats {
	return Stats{
		Clients:   h.clients.Load(),
		Rooms:     h.activeRooms.Load(),
		Searching: h.searching.Load(),
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// RecoverActiveRooms closes rooms a previous relay process left open. Their
// members were connected to that process and are gone.
func (h *Hub) RecoverActiveRooms() {
	ids, err := h.Storage.GetActiveRoomIDs()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to retrieve active rooms")
		return
	}
	for _, id := range ids {
		if err := h.Storage.CloseRoom(id, EndReasonRecovered); err != nil {
			h.log.Warn().Err(err).Str("room", id).Msg("could not close stale room")
		}
	}
	if len(ids) > 0 {
		h.log.Info().Int("rooms", len(ids)).Msg("closed rooms left by a previous run")
	}
}

func (h *Hub) register(c Client) {
	h.participants[c.ID()] = &participant{client: c}
	h.log.Debug().Str("conn", c.ID()).Msg("client registered")
}

func (h *Hub) unregister(c Client) {
	p, ok := h.participants[c.ID()]
	if !ok {
		return
	}
	delete(h.participants, c.ID())

	if h.Matcher.Remove(c.ID()) {
		h.dequeue(p.userID)
	}
	if p.room != nil {
		h.closeRoom(p.room, EndReasonDisconnected, p)
	}
	_ = c.Close()
	h.log.Debug().Str("conn", c.ID()).Str("user", p.userID).Msg("client unregistered")
}

func (h *Hub) shutdown() {
	for id, p := range h.participants {
		_ = p.client.Close()
		delete(h.participants, id)
	}
	h.log.Info().Int("rooms", len(h.rooms)).Msg("relay hub stopped")
}

func (h *Hub) route(c Client, env protocol.Envelope) {
	p, ok := h.participants[c.ID()]
	if !ok {
		return
	}

	switch env.Event {
	case protocol.EventFindMatch:
		h.findMatch(p, env)
	case protocol.EventMatchStatus:
		h.send(p, env)
	case protocol.EventMessage:
		h.forwardMessage(p, env)
	case protocol.EventTyping:
		h.forwardTyping(p, env)
	case protocol.EventReportUser:
		h.report(p, env)
	case protocol.EventEndChat:
		h.endChat(p, env)
	default:
		h.log.Warn().Str("conn", c.ID()).Str("event", string(env.Event)).Msg("unknown event")
	}
}

func (h *Hub) findMatch(p *participant, env protocol.Envelope) {
	var req protocol.FindMatch
	if err := env.Decode(&req); err != nil || req.UserID == "" {
		h.matchError(p, "invalid find_match request")
		return
	}
	if req.Age < models.MinAge {
		h.matchError(p, "profile incomplete")
		return
	}
	if p.room != nil || h.inRoomElsewhere(p, req.UserID) {
		h.matchError(p, "already in a chat")
		return
	}

	banned, err := h.Storage.IsUserBanned(req.UserID)
	if err != nil {
		h.log.Error().Err(err).Str("user", req.UserID).Msg("ban check failed")
		h.matchError(p, "matching unavailable")
		return
	}
	if banned {
		h.matchError(p, "you are temporarily banned")
		return
	}

	p.userID = req.UserID
	candidate := Candidate{
		ConnID:     p.client.ID(),
		UserID:     req.UserID,
		Age:        req.Age,
		Gender:     models.Gender(req.Gender),
		Preference: models.Preference(req.Preference),
	}
	waiting, ok := h.Matcher.Enqueue(candidate)
	if !ok {
		if err := h.Storage.AddUserToSearchQueue(req.UserID); err != nil {
			h.log.Warn().Err(err).Str("user", req.UserID).Msg("search queue not updated")
		}
		h.log.Info().Str("user", req.UserID).Int("queue", h.Matcher.Len()).Msg("waiting for a partner")
		return
	}

	peer := h.participants[waiting.ConnID]
	h.dequeue(peer.userID)
	h.pair(peer, p)
}

// inRoomElsewhere reports whether userID holds a room on a connection other
// than p's.
func (h *Hub) inRoomElsewhere(p *participant, userID string) bool {
	for _, other := range h.participants {
		if other != p && other.userID == userID && other.room != nil {
			return true
		}
	}
	return false
}

func (h *Hub) pair(a, b *participant) {
	record := &models.ChatRoom{
		RoomID:    uuid.NewString(),
		User1ID:   a.userID,
		User2ID:   b.userID,
		IsActive:  true,
		StartedAt: h.now(),
	}
	if err := h.Storage.SaveRoom(record); err != nil {
		h.log.Error().Err(err).Msg("error saving new room")
		h.matchError(a, "could not create a room")
		h.matchError(b, "could not create a room")
		return
	}

	r := &room{id: record.RoomID, members: [2]*participant{a, b}}
	h.rooms[r.id] = r
	a.room, b.room = r, r

	found := protocol.MustEnvelope(protocol.EventMatchFound, protocol.MatchFound{RoomID: r.id})
	h.send(a, found)
	h.send(b, found)
	h.log.Info().Str("room", r.id).Str("user1", a.userID).Str("user2", b.userID).Msg("match found")
}

func (h *Hub) forwardMessage(p *participant, env protocol.Envelope) {
	var msg protocol.OutgoingMessage
	if err := env.Decode(&msg); err != nil {
		h.log.Warn().Err(err).Str("conn", p.client.ID()).Msg("bad message")
		return
	}
	peer := h.peerIn(p, msg.RoomID)
	if peer == nil {
		h.log.Debug().Str("room", msg.RoomID).Msg("message outside an active room dropped")
		return
	}
	h.send(peer, protocol.MustEnvelope(protocol.EventMessage, protocol.IncomingMessage{
		Message: msg.Message,
		Sender:  p.userID,
	}))
}

func (h *Hub) forwardTyping(p *participant, env protocol.Envelope) {
	var typing protocol.Typing
	if err := env.Decode(&typing); err != nil {
		return
	}
	if peer := h.peerIn(p, typing.RoomID); peer != nil {
		h.send(peer, protocol.MustEnvelope(protocol.EventTyping, protocol.Typing{IsTyping: typing.IsTyping}))
	}
}

func (h *Hub) endChat(p *participant, env protocol.Envelope) {
	var req protocol.EndChat
	if err := env.Decode(&req); err != nil {
		h.log.Warn().Err(err).Msg("bad end_chat")
		return
	}
	if p.room == nil || p.room.id != req.RoomID {
		h.log.Debug().Str("room", req.RoomID).Str("user", p.userID).Msg("end_chat for a room the client is not in")
		return
	}
	h.closeRoom(p.room, EndReasonChat, p)
}

// closeRoom detaches both members and tells the one that did not initiate.
func (h *Hub) closeRoom(r *room, reason string, initiator *participant) {
	delete(h.rooms, r.id)
	for _, m := range r.members {
		m.room = nil
	}

	if err := h.Storage.CloseRoom(r.id, reason); err != nil {
		h.log.Error().Err(err).Str("room", r.id).Msg("failed to close room")
	}

	event := protocol.EventChatEnded
	if reason == EndReasonDisconnected {
		event = protocol.EventUserDisconnected
	}
	h.send(r.other(initiator), protocol.Envelope{Event: event})
	h.log.Info().Str("room", r.id).Str("reason", reason).Msg("room closed")
}

// peerIn returns the other member of p's room. roomID, when set, must name
// that room.
func (h *Hub) peerIn(p *participant, roomID string) *participant {
	if p.room == nil || (roomID != "" && roomID != p.room.id) {
		return nil
	}
	return p.room.other(p)
}

func (h *Hub) dequeue(userID string) {
	if err := h.Storage.RemoveUserFromSearchQueue(userID); err != nil {
		h.log.Warn().Err(err).Str("user", userID).Msg("search queue not updated")
	}
}

func (h *Hub) matchError(p *participant, reason string) {
	h.send(p, protocol.MustEnvelope(protocol.EventMatchError, protocol.MatchError{Message: reason}))
}

func (h *Hub) send(p *participant, env protocol.Envelope) {
	if err := p.client.Send(env); err != nil {
		h.log.Warn().Err(err).Str("conn", p.client.ID()).Str("event", string(env.Event)).Msg("send failed")
	}
}

func (h *Hub) publishStats() {
	h.clients.Store(int64(len(h.participants)))
	h.activeRooms.Store(int64(len(h.rooms)))
	h.searching.Store(int64(h.Matcher.Len()))
}
