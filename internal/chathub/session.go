// Package chathub is the client side of a chat pairing: the matchmaking
// client, the in-room chat client and the Session that connects them to the
// connection manager and to observers.
package chathub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/config"
	"chatgogo/matchclient/internal/connection"
	"chatgogo/matchclient/internal/errs"
	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/session"
)

// Connection is what a Session needs from the connection manager.
type Connection interface {
	Sender
	Connect()
	Disconnect()
	Reconnect()
	State() connection.State
	Subscribe(event protocol.Event, name string, fn connection.Handler) (unsubscribe func())
}

type observer struct {
	id   uint64
	name string
	fn   Observer
}

// Session runs one client. Inbound events are queued by the connection
// handlers and applied in arrival order by Run; intents are applied by the
// calling goroutine. Both hold mu, so the state machine has a single writer
// at any time.
type Session struct {
	cfg      config.Session
	identity *models.Identity
	conn     Connection
	machine  *session.Machine
	match    *Matchmaker
	chat     *ChatClient
	log      zerolog.Logger

	mu sync.Mutex

	incoming chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	handlers []func()

	obsMu     sync.RWMutex
	observers []observer
	nextObsID uint64

	pendingMu sync.Mutex
	pending   []Change
	wake      chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

// NewSession wires a session. Nothing runs until Start.
func NewSession(cfg config.Session, identity *models.Identity, conn Connection) *Session {
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 256
	}
	if cfg.ObserverBuffer <= 0 {
		cfg.ObserverBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		identity: identity,
		conn:     conn,
		machine:  session.New(),
		log:      logging.Component("chathub"),
		incoming: make(chan func(), cfg.InboundBuffer),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}
	s.match = NewMatchmaker(s.machine, conn)
	s.chat = NewChatClient(s.machine, conn, ChatOptions{
		TypingTimeout:    cfg.TypingTimeout,
		MaxMessageLength: cfg.MaxMessageLength,
		After:            s.after,
	})
	return s
}

// Start subscribes to the connection, starts the event loop and the
// notifier, and connects.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.subscribe()
		s.wg.Add(1)
		go s.Run()
		go s.notifyLoop()
		s.conn.Connect()
	})
}

// Run applies queued inbound events until the session is closed.
func (s *Session) Run() {
	defer s.wg.Done()
	s.log.Debug().Msg("event loop started")

	for {
		select {
		case fn := <-s.incoming:
			s.mu.Lock()
			fn()
			s.mu.Unlock()
		case <-s.ctx.Done():
			s.log.Debug().Msg("event loop stopped")
			return
		}
	}
}

// Close detaches every connection handler, stops the loops and closes the
// connection. Queued events and notifications are discarded. Close must
// not be called from an observer.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		for _, unsubscribe := range s.handlers {
			unsubscribe()
		}
		s.handlers = nil
		s.conn.Disconnect()
		s.log.Info().Msg("session closed")
	})
}

// Subscribe registers an observer. The returned function removes it.
func (s *Session) Subscribe(name string, fn Observer) (unsubscribe func()) {
	s.obsMu.Lock()
	s.nextObsID++
	id := s.nextObsID
	s.observers = append(s.observers, observer{id: id, name: name, fn: fn})
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			defer s.obsMu.Unlock()
			for i, o := range s.observers {
				if o.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() session.Snapshot { return s.machine.Snapshot() }

// Messages returns the message sequence of the active room.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.Messages()
}

// PeerTyping reports whether the peer is typing.
func (s *Session) PeerTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.PeerTyping()
}

// Unread counts unread incoming messages.
func (s *Session) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.Unread()
}

// Profile returns the current profile.
func (s *Session) Profile() (models.UserProfile, bool) { return s.identity.Current() }

// SetProfile replaces the profile after validation.
func (s *Session) SetProfile(p *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.identity.Set(p); err != nil {
		return err
	}
	s.emit(Change{Kind: ChangeProfile})
	return nil
}

// UpdateProfile edits the profile. The profile ID never changes.
func (s *Session) UpdateProfile(u models.ProfileUpdate) (models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.identity.Update(u)
	if err != nil {
		return models.UserProfile{}, err
	}
	s.emit(Change{Kind: ChangeProfile})
	return p, nil
}

// FindMatch starts a search with the current profile.
func (s *Session) FindMatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var profile *models.UserProfile
	if p, ok := s.identity.Current(); ok {
		profile = &p
	}
	started, err := s.match.RequestMatch(profile)
	if err != nil {
		return s.reject(err)
	}
	if started {
		s.emit(Change{Kind: ChangePhase})
	}
	return nil
}

// SendMessage sends text to the peer of the active room.
func (s *Session) SendMessage(text string) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.chat.SendMessage(text, s.userID())
	if msg.ID != "" {
		s.emit(Change{Kind: ChangeMessage, Message: &msg})
	}
	if err != nil {
		return msg, s.reject(err)
	}
	return msg, nil
}

// Typing announces that the user is typing (true) or stopped (false).
func (s *Session) Typing(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.chat.Typing(on, s.userID()); err != nil {
		return s.reject(err)
	}
	return nil
}

// ReportUser reports the peer of the active room.
func (s *Session) ReportUser(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.chat.ReportUser(reason, s.userID()); err != nil {
		return s.reject(err)
	}
	return nil
}

// EndChat leaves the active room. The room is cleared locally at once.
func (s *Session) EndChat() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.chat.EndChat(s.userID(), session.EndedByClient)
	if room != "" {
		s.log.Info().Str("room", room).Msg("chat ended by user")
		s.emit(Change{Kind: ChangePhase})
	}
	if err != nil {
		return s.reject(err)
	}
	return nil
}

// Acknowledge returns an ended session to Idle.
func (s *Session) Acknowledge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.machine.Acknowledge() {
		return false
	}
	s.emit(Change{Kind: ChangePhase})
	return true
}

// MarkRead sets the read flag of one message.
func (s *Session) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.chat.MarkRead(id)
	if ok {
		s.emit(Change{Kind: ChangeRead, Message: msg})
	}
	return ok
}

// MarkAllRead sets every read flag.
func (s *Session) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.chat.MarkAllRead()
	if n > 0 {
		s.emit(Change{Kind: ChangeRead})
	}
	return n
}

// Reconnect drops the connection and starts a fresh connect cycle.
func (s *Session) Reconnect() {
	s.conn.Reconnect()
}

// Logout ends the active room or search, clears the profile and
// disconnects.
func (s *Session) Logout() {
	s.mu.Lock()
	userID := s.userID()
	if s.machine.Snapshot().Phase == session.PhaseMatched {
		if _, err := s.chat.EndChat(userID, session.EndedByLogout); err != nil {
			s.log.Warn().Err(err).Msg("logout: end chat not sent")
		}
	}
	_, aborted := s.machine.Abort(session.EndedByLogout)
	acked := s.machine.Acknowledge()
	s.chat.Clear()
	s.identity.Logout()
	if aborted || acked {
		s.emit(Change{Kind: ChangePhase})
	}
	s.emit(Change{Kind: ChangeProfile})
	s.mu.Unlock()

	s.conn.Disconnect()
	s.log.Info().Str("user", userID).Msg("logged out")
}

func (s *Session) subscribe() {
	lifecycle := map[protocol.Event]func(connection.Event){
		protocol.EventConnecting:   s.onConnectivity,
		protocol.EventConnect:      s.onConnectivity,
		protocol.EventConnectError: s.onConnectError,
		protocol.EventDisconnect:   s.onDisconnect,
		protocol.EventError:        s.onTransportError,
	}
	inbound := map[protocol.Event]func(connection.Event){
		protocol.EventMatchFound:       s.onMatchFound,
		protocol.EventMatchError:       s.onMatchError,
		protocol.EventMatchStatus:      s.onMatchStatus,
		protocol.EventMessage:          s.onMessage,
		protocol.EventTyping:           s.onTyping,
		protocol.EventUserDisconnected: s.onTerminal(session.EndedByPeer),
		protocol.EventChatEnded:        s.onTerminal(session.EndedByServer),
	}

	for _, table := range []map[protocol.Event]func(connection.Event){lifecycle, inbound} {
		for event, handle := range table {
			handle := handle
			s.handlers = append(s.handlers, s.conn.Subscribe(event, "chathub", func(ev connection.Event) {
				s.enqueue(func() { handle(ev) })
			}))
		}
	}
}

// enqueue hands fn to the event loop. It blocks while the queue is full and
// gives up once the session is closed.
func (s *Session) enqueue(fn func()) {
	select {
	case s.incoming <- fn:
	case <-s.ctx.Done():
	}
}

// after schedules fn on the event loop.
func (s *Session) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		if s.ctx.Err() == nil {
			s.enqueue(fn)
		}
	})
}

func (s *Session) onConnectivity(ev connection.Event) {
	if s.machine.SetConnectivity(ev.State) {
		s.emit(Change{Kind: ChangeConnectivity})
	}
}

func (s *Session) onConnectError(ev connection.Event) {
	s.log.Debug().Err(ev.Err).Int("attempt", ev.Attempt).Msg("connect attempt failed")
}

func (s *Session) onDisconnect(ev connection.Event) {
	if s.machine.SetConnectivity(connection.StateDisconnected) {
		s.emit(Change{Kind: ChangeConnectivity})
	}
	if ev.Reason != connection.ReasonTransport || !s.cfg.AutoRecover {
		return
	}

	s.log.Info().Err(ev.Err).Msg("connection lost, recovering")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.ctx.Err() == nil {
			s.conn.Connect()
		}
	}()
}

// onTransportError handles an exhausted connect budget: whatever was in
// progress is abandoned and the error is surfaced.
func (s *Session) onTransportError(ev connection.Event) {
	err := ev.Err
	if err == nil {
		err = errs.Transportf("connect", "connection failed")
	}
	s.machine.SetConnectivity(connection.StateDisconnected)
	if room, changed := s.machine.Abort(session.EndedByConnection); changed {
		s.chat.Clear()
		s.log.Warn().Str("room", room).Msg("session abandoned, server unreachable")
		s.emit(Change{Kind: ChangePhase})
	}
	s.machine.Fail(err)
	s.log.Error().Err(err).Msg("connection failed")
	s.emit(Change{Kind: ChangeError, Err: err})
}

func (s *Session) onMatchFound(ev connection.Event) {
	changed, err := s.match.HandleMatchFound(ev.Envelope, s.userID())
	if changed {
		s.chat.Clear()
		s.emit(Change{Kind: ChangePhase})
	}
	if err != nil {
		s.emit(Change{Kind: ChangeError, Err: err})
	}
}

func (s *Session) onMatchError(ev connection.Event) {
	changed, err := s.match.HandleMatchError(ev.Envelope)
	if changed {
		s.emit(Change{Kind: ChangePhase})
	}
	s.emit(Change{Kind: ChangeError, Err: err})
}

func (s *Session) onMatchStatus(ev connection.Event) {
	if s.match.HandleMatchStatus(ev.Envelope) {
		s.emit(Change{Kind: ChangeMatchStatus})
	}
}

func (s *Session) onMessage(ev connection.Event) {
	msg, typingCleared, err := s.chat.HandleMessage(ev.Envelope)
	if err != nil {
		s.protocolError(err)
		return
	}
	if msg == nil {
		return
	}
	if typingCleared {
		s.emit(Change{Kind: ChangePeerTyping, PeerTyping: false})
	}
	s.emit(Change{Kind: ChangeMessage, Message: msg})
}

func (s *Session) onTyping(ev connection.Event) {
	changed, err := s.chat.HandleTyping(ev.Envelope, func() {
		s.emit(Change{Kind: ChangePeerTyping, PeerTyping: false})
	})
	if err != nil {
		s.protocolError(err)
		return
	}
	if changed {
		s.emit(Change{Kind: ChangePeerTyping, PeerTyping: s.chat.PeerTyping()})
	}
}

func (s *Session) onTerminal(reason session.EndReason) func(connection.Event) {
	return func(connection.Event) {
		room, ended := s.machine.End(reason)
		if !ended {
			s.log.Debug().Str("reason", string(reason)).Stringer("phase", s.machine.Snapshot().Phase).Msg("terminal event outside a room ignored")
			return
		}
		s.chat.Clear()
		s.log.Info().Str("room", room).Str("reason", string(reason)).Msg("chat ended")
		s.emit(Change{Kind: ChangePhase})
	}
}

// protocolError resets the session after an inbound event it cannot trust.
// An active room is released on the server and its buffer dropped.
func (s *Session) protocolError(err error) {
	room, changed := s.machine.Reset(err)
	s.log.Error().Err(err).Str("room", room).Msg("protocol violation, session reset")
	if changed {
		s.chat.Clear()
		s.match.Release(s.userID(), room)
		s.emit(Change{Kind: ChangePhase})
	}
	s.emit(Change{Kind: ChangeError, Err: err})
}

// reject records a failed intent and makes it observable.
func (s *Session) reject(err error) error {
	s.machine.Fail(err)
	s.log.Warn().Err(err).Str("kind", errs.KindOf(err).String()).Msg("intent rejected")
	s.emit(Change{Kind: ChangeError, Err: err})
	return err
}

func (s *Session) userID() string {
	p, ok := s.identity.Current()
	if !ok {
		return ""
	}
	return p.ID
}

// emit queues a change for the observers. The queue is unbounded so that
// neither the event loop nor an intent ever waits for an observer.
func (s *Session) emit(c Change) {
	c.Snapshot = s.machine.Snapshot()

	s.pendingMu.Lock()
	s.pending = append(s.pending, c)
	backlog := len(s.pending)
	s.pendingMu.Unlock()

	if backlog > s.cfg.ObserverBuffer {
		s.log.Warn().Int("pending", backlog).Msg("observers are falling behind")
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) notifyLoop() {
	for {
		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}

		for {
			s.pendingMu.Lock()
			batch := s.pending
			s.pending = nil
			s.pendingMu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, c := range batch {
				if s.ctx.Err() != nil {
					return
				}
				s.deliver(c)
			}
		}
	}
}

func (s *Session) deliver(c Change) {
	s.obsMu.RLock()
	observers := make([]observer, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Str("observer", o.name).Interface("panic", r).Msg("observer panicked")
				}
			}()
			o.fn(c)
		}()
	}
}
