// Package console is the terminal front end of the chat client. It turns
// typed lines into session intents and renders session changes as
// localized notices.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/chathub"
	"chatgogo/matchclient/internal/connection"
	"chatgogo/matchclient/internal/localization"
	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/session"
)

// Onboarding states. An empty state means the profile is complete.
const (
	StateWaitingForName       = "waiting_for_name"
	StateWaitingForAge        = "waiting_for_age"
	StateWaitingForGender     = "waiting_for_gender"
	StateWaitingForPreference = "waiting_for_preference"
)

type draft struct {
	name   string
	age    int
	gender models.Gender
}

// Console is not safe for concurrent Handle calls; output may be written
// from the session's notification goroutine at any time.
type Console struct {
	Session   *chathub.Session
	Localizer *localization.Localizer

	// outMu guards lang and out.
	outMu sync.Mutex
	lang  string
	out   io.Writer

	state string
	draft draft
	log   zerolog.Logger
}

func New(s *chathub.Session, loc *localization.Localizer, lang string, out io.Writer) *Console {
	return &Console{
		Session:   s,
		Localizer: loc,
		lang:      lang,
		out:       out,
		log:       logging.Component("console"),
	}
}

// Start renders session changes, starts the session and greets the user,
// or begins onboarding when there is no profile. The returned function
// stops rendering.
func (c *Console) Start() (stop func()) {
	stop = c.Session.Subscribe("console", c.render)
	c.Session.Start()
	if p, ok := c.Session.Profile(); ok {
		c.say("welcome", p.Name)
	} else {
		c.beginOnboarding()
	}
	return stop
}

// Run handles lines from in until /quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	stop := c.Start()
	defer stop()

	// done releases the reader once Run has returned. A read already
	// blocked on in finishes with the next line and is then dropped.
	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if c.Handle(line) {
				return nil
			}
		}
	}
}

// Handle processes one input line. It returns true when the user quits.
func (c *Console) Handle(line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if c.state != "" {
		c.onboard(line)
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.sendMessage(line)
		return false
	}

	command, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	// Intent errors reach the user through render.
	switch command {
	case "find":
		_ = c.Session.FindMatch()
	case "end":
		_ = c.Session.EndChat()
	case "report":
		if c.Session.ReportUser(arg) == nil {
			c.say("reported")
		}
	case "typing":
		on := arg != "off"
		if c.Session.Typing(on) == nil && on {
			c.say("typing_on")
		}
	case "ack":
		c.Session.Acknowledge()
	case "read":
		c.say("read", c.Session.MarkAllRead())
	case "reconnect":
		c.Session.Reconnect()
	case "profile":
		c.showProfile()
	case "logout":
		c.Session.Logout()
		c.say("logged_out")
		c.beginOnboarding()
	case "lang":
		c.SetLanguage(arg)
	case "help":
		c.say("help")
	case "quit", "exit":
		c.say("bye")
		return true
	default:
		c.say("unknown_command", "/"+command)
	}
	return false
}

func (c *Console) sendMessage(text string) {
	if c.Session.Snapshot().Phase != session.PhaseMatched {
		c.say("not_in_chat")
		return
	}
	_, _ = c.Session.SendMessage(text)
}

func (c *Console) beginOnboarding() {
	c.draft = draft{}
	c.state = StateWaitingForName
	c.say("ask_name")
}

// onboard collects the profile one answer at a time.
func (c *Console) onboard(answer string) {
	switch c.state {
	case StateWaitingForName:
		c.draft.name = answer
		c.state = StateWaitingForAge
		c.say("ask_age")

	case StateWaitingForAge:
		age, err := strconv.Atoi(answer)
		if err != nil {
			c.say("invalid_input", answer)
			c.say("ask_age")
			return
		}
		c.draft.age = age
		c.state = StateWaitingForGender
		c.say("ask_gender")

	case StateWaitingForGender:
		g := models.Gender(strings.ToLower(answer))
		if !g.Valid() {
			c.say("invalid_input", answer)
			c.say("ask_gender")
			return
		}
		c.draft.gender = g
		c.state = StateWaitingForPreference
		c.say("ask_preference")

	case StateWaitingForPreference:
		pref := models.Preference(strings.ToLower(answer))
		profile, err := models.NewUserProfile(c.draft.name, c.draft.age, c.draft.gender, pref)
		if err == nil {
			err = c.Session.SetProfile(profile)
		}
		if err != nil {
			c.say("invalid_input", err.Error())
			c.beginOnboarding()
			return
		}
		c.state = ""
		c.log.Info().Str("user", profile.ID).Msg("profile created")
		c.say("welcome", profile.Name)
		if c.Session.Snapshot().Connectivity == connection.StateDisconnected {
			c.Session.Reconnect()
		}
	}
}

func (c *Console) showProfile() {
	p, ok := c.Session.Profile()
	if !ok {
		return
	}
	c.say("profile", p.Name, p.Age, p.Gender, p.Preference)
}

// render turns a session change into a notice. It runs on the session's
// notification goroutine.
func (c *Console) render(ch chathub.Change) {
	snap := ch.Snapshot
	switch ch.Kind {
	case chathub.ChangeConnectivity:
		switch snap.Connectivity {
		case connection.StateConnecting:
			c.say("connecting")
		case connection.StateConnected:
			c.say("connected")
		case connection.StateDisconnected:
			c.say("disconnected")
		}

	case chathub.ChangePhase:
		switch snap.Phase {
		case session.PhaseSearching:
			c.say("searching")
		case session.PhaseMatched:
			c.say("matched")
		case session.PhaseEnded:
			switch snap.EndReason {
			case session.EndedByPeer:
				c.say("peer_left")
			case session.EndedByConnection:
				c.say("connection_lost")
			case session.EndedByLogout:
				return
			default:
				c.say("chat_ended")
			}
			c.say("ended_hint")
		}

	case chathub.ChangeMessage:
		if m := ch.Message; m != nil && !m.Outgoing {
			c.printf("[%s] %s\n", m.SentAt.Format("15:04"), m.Text)
		}

	case chathub.ChangePeerTyping:
		if ch.PeerTyping {
			c.say("peer_typing")
		}

	case chathub.ChangeError:
		if ch.Err != nil {
			c.say("error", ch.Err.Error())
		}
	}
}

// Language returns the current interface language.
func (c *Console) Language() string {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.lang
}

// SetLanguage switches the interface language. Unknown codes are ignored.
func (c *Console) SetLanguage(code string) bool {
	if !slices.Contains(c.Localizer.Languages(), code) {
		return false
	}
	c.outMu.Lock()
	c.lang = code
	c.outMu.Unlock()
	return true
}

func (c *Console) say(key string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, "%s\n", c.Localizer.Format(c.lang, key, args...))
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
