package console_test

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgogo/matchclient/internal/chathub"
	"chatgogo/matchclient/internal/config"
	"chatgogo/matchclient/internal/connection"
	"chatgogo/matchclient/internal/console"
	"chatgogo/matchclient/internal/localization"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/session"
	"chatgogo/matchclient/internal/transport/transporttest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// output is a bytes.Buffer safe for the notification goroutine.
type output struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Write(p)
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

type fixture struct {
	console *console.Console
	session *chathub.Session
	dialer  *transporttest.Dialer
	out     *output
}

func newFixture(t *testing.T, profile *models.UserProfile) *fixture {
	t.Helper()
	cfg := config.DefaultClient()
	cfg.Transport.ReconnectDelay = time.Millisecond
	cfg.Transport.ReconnectMaxDelay = time.Millisecond
	cfg.Session.AutoRecover = false

	dialer := transporttest.NewDialer()
	s := chathub.NewSession(cfg.Session, models.NewIdentity(profile), connection.NewManager(cfg.Transport, dialer))
	t.Cleanup(s.Close)

	loc, err := localization.Default()
	require.NoError(t, err)
	out := &output{}
	return &fixture{
		console: console.New(s, loc, "en", out),
		session: s,
		dialer:  dialer,
		out:     out,
	}
}

func (f *fixture) connect(t *testing.T) *transporttest.Conn {
	t.Helper()
	f.session.Start()
	require.Eventually(t, func() bool {
		return f.session.Snapshot().Connectivity == connection.StateConnected
	}, waitFor, tick)
	return f.dialer.Last()
}

func (f *fixture) expectOutput(t *testing.T, text string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(f.out.String(), text) }, waitFor, tick,
		"output: %q", f.out.String())
}

func profile() *models.UserProfile {
	return &models.UserProfile{ID: "42", Name: "Olena", Age: 25, Gender: models.GenderFemale, Preference: models.PreferenceBoth}
}

func TestConsole_OnboardingCreatesProfile(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	stop := f.console.Start()
	defer stop()

	// Act
	for _, line := range []string{"Taras", "twenty", "30", "robot", "male", "female"} {
		assert.False(t, f.console.Handle(line))
	}

	// Assert
	p, ok := f.session.Profile()
	require.True(t, ok)
	assert.Equal(t, "Taras", p.Name)
	assert.Equal(t, 30, p.Age)
	assert.Equal(t, models.GenderMale, p.Gender)
	assert.Equal(t, models.PreferenceFemale, p.Preference)
	assert.NotEmpty(t, p.ID)
	f.expectOutput(t, "That does not look right: twenty")
	f.expectOutput(t, "Welcome, Taras!")
}

func TestConsole_UnderageRestartsOnboarding(t *testing.T) {
	f := newFixture(t, nil)
	stop := f.console.Start()
	defer stop()

	for _, line := range []string{"Taras", "16", "male", "both"} {
		f.console.Handle(line)
	}

	_, ok := f.session.Profile()
	assert.False(t, ok)
	assert.Equal(t, 2, strings.Count(f.out.String(), "What should we call you?"))
}

func TestConsole_FindAndChat(t *testing.T) {
	// Arrange
	f := newFixture(t, profile())
	stop := f.console.Start()
	defer stop()
	conn := f.connect(t)

	// Act
	f.console.Handle("/find")
	conn.PushEvent(protocol.EventMatchFound, protocol.MatchFound{RoomID: "abc"})
	f.expectOutput(t, "Partner found!")
	conn.PushEvent(protocol.EventMessage, protocol.IncomingMessage{Message: "hello there", Sender: "7"})
	f.console.Handle("hi!")

	// Assert
	f.expectOutput(t, "Searching for a partner...")
	f.expectOutput(t, "hello there")
	var sent []protocol.Event
	require.Eventually(t, func() bool {
		for _, env := range conn.Drain() {
			sent = append(sent, env.Event)
		}
		return len(sent) >= 3
	}, waitFor, tick)
	assert.Equal(t, []protocol.Event{protocol.EventFindMatch, protocol.EventMatchStatus, protocol.EventMessage}, sent)
}

func TestConsole_EndNotices(t *testing.T) {
	tests := []struct {
		name   string
		event  protocol.Event
		notice string
	}{
		{"server", protocol.EventChatEnded, "The chat has ended."},
		{"peer", protocol.EventUserDisconnected, "Your partner left the chat."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, profile())
			stop := f.console.Start()
			defer stop()
			conn := f.connect(t)
			f.console.Handle("/find")
			conn.PushEvent(protocol.EventMatchFound, protocol.MatchFound{RoomID: "abc"})
			require.Eventually(t, func() bool { return f.session.Snapshot().Phase == session.PhaseMatched }, waitFor, tick)

			conn.Push(protocol.Envelope{Event: tt.event})

			f.expectOutput(t, tt.notice)
			f.expectOutput(t, "Type /find to search again")
		})
	}
}

func TestConsole_TextOutsideChat(t *testing.T) {
	f := newFixture(t, profile())
	stop := f.console.Start()
	defer stop()

	f.console.Handle("anyone there?")

	f.expectOutput(t, "You are not in a chat.")
	assert.Empty(t, f.session.Messages())
}

func TestConsole_IntentErrorsAreRendered(t *testing.T) {
	f := newFixture(t, profile())
	stop := f.console.Start()
	defer stop()

	f.console.Handle("/end")

	f.expectOutput(t, "Error: ")
}

func TestConsole_Commands(t *testing.T) {
	f := newFixture(t, profile())
	stop := f.console.Start()
	defer stop()

	assert.False(t, f.console.Handle("/dance"))
	assert.False(t, f.console.Handle("/profile"))
	assert.False(t, f.console.Handle("/lang uk"))
	assert.True(t, f.console.Handle("/quit"))

	out := f.out.String()
	assert.Contains(t, out, "Unknown command /dance.")
	assert.Contains(t, out, "Olena, 25, female, looking for both")
	assert.Contains(t, out, "До зустрічі!")
}

func TestConsole_LanguageSwitchWhileRendering(t *testing.T) {
	// Arrange
	f := newFixture(t, profile())
	stop := f.console.Start()
	defer stop()
	conn := f.connect(t)
	f.console.Handle("/find")
	conn.PushEvent(protocol.EventMatchFound, protocol.MatchFound{RoomID: "abc"})
	f.expectOutput(t, "Partner found!")

	// Act
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			conn.PushEvent(protocol.EventTyping, protocol.Typing{IsTyping: i%2 == 0})
		}
	}()
	for i := 0; i < 50; i++ {
		f.console.Handle("/lang uk")
		f.console.Handle("/lang en")
	}
	wg.Wait()
	f.console.Handle("/lang uk")
	f.console.Handle("/lang xx")
	conn.PushEvent(protocol.EventChatEnded, nil)

	// Assert
	assert.Equal(t, "uk", f.console.Language())
	assert.False(t, f.console.SetLanguage("xx"))
	f.expectOutput(t, "Чат завершено.")
}

func TestConsole_RunReleasesReaderAfterCancel(t *testing.T) {
	// Arrange
	f := newFixture(t, profile())
	ctx, cancel := context.WithCancel(context.Background())
	r, w := io.Pipe()
	defer w.Close()

	returned := make(chan error, 1)
	go func() { returned <- f.console.Run(ctx, r) }()
	f.expectOutput(t, "Welcome, Olena!")

	// Act
	cancel()
	require.ErrorIs(t, <-returned, context.Canceled)
	before := runtime.NumGoroutine()
	_, err := w.Write([]byte("/help\n"))
	require.NoError(t, err)

	// Assert
	deadline := time.Now().Add(waitFor)
	for runtime.NumGoroutine() >= before && time.Now().Before(deadline) {
		time.Sleep(tick)
	}
	assert.Less(t, runtime.NumGoroutine(), before, "input reader still blocked")
	assert.NotContains(t, f.out.String(), "/find  search for a partner")
}

func TestConsole_RunStopsAtEndOfInput(t *testing.T) {
	f := newFixture(t, profile())

	err := f.console.Run(context.Background(), strings.NewReader("/help\n\n"))

	assert.NoError(t, err)
	assert.Contains(t, f.out.String(), "/find  search for a partner")
}

func TestConsole_RunStopsWithContext(t *testing.T) {
	f := newFixture(t, profile())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked, w := io.Pipe()
	defer w.Close()
	err := f.console.Run(ctx, blocked)

	assert.ErrorIs(t, err, context.Canceled)
}
