package chathub

import (
	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/errs"
	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/session"
)

// Matchmaker issues find_match and applies the server's answers to the
// state machine. It is not safe for concurrent use; Session serialises it.
type Matchmaker struct {
	machine *session.Machine
	sender  Sender
	log     zerolog.Logger
}

func NewMatchmaker(machine *session.Machine, sender Sender) *Matchmaker {
	return &Matchmaker{
		machine: machine,
		sender:  sender,
		log:     logging.Component("matchmaker"),
	}
}

// RequestMatch moves the session to Searching and sends find_match followed
// by a "searching" status. Nothing is sent when a precondition fails. A
// request while already Searching returns false and sends nothing.
func (mm *Matchmaker) RequestMatch(profile *models.UserProfile) (bool, error) {
	const op = "find_match"

	if profile != nil {
		if err := profile.Validate(); err != nil {
			return false, errs.Precondition(op, "incomplete profile: %v", err)
		}
	}
	started, err := mm.machine.BeginSearch(profile != nil)
	if err != nil || !started {
		return false, err
	}

	req := protocol.FindMatch{
		UserID:     profile.ID,
		Age:        profile.Age,
		Gender:     string(profile.Gender),
		Preference: string(profile.Preference),
	}
	if err := mm.send(protocol.EventFindMatch, req); err != nil {
		mm.machine.Abort(session.EndedByConnection)
		mm.machine.Fail(err)
		return false, err
	}
	if err := mm.send(protocol.EventMatchStatus, protocol.StatusSearching); err != nil {
		mm.log.Warn().Err(err).Msg("status announcement not sent")
	}

	mm.log.Info().Str("user", profile.ID).Msg("searching for a partner")
	return true, nil
}

// HandleMatchFound applies match_found. A malformed or conflicting
// announcement resets the session; the announced room and the room that was
// active are both released with end_chat on behalf of userID so that the
// server does not keep them open.
func (mm *Matchmaker) HandleMatchFound(env protocol.Envelope, userID string) (bool, error) {
	current := mm.machine.Snapshot().RoomID

	var payload protocol.MatchFound
	if err := env.Decode(&payload); err != nil {
		perr := errs.Protocol(string(env.Event), "%v", err)
		_, changed := mm.machine.Reset(perr)
		mm.Release(userID, current)
		return changed, perr
	}

	changed, err := mm.machine.MatchFound(payload.RoomID)
	if err != nil {
		mm.log.Error().Err(err).Str("room", payload.RoomID).Msg("protocol violation")
		mm.Release(userID, payload.RoomID, current)
		return changed, err
	}
	if changed {
		mm.log.Info().Str("room", payload.RoomID).Msg("matched")
	}
	return changed, nil
}

// Release sends end_chat for every non-empty room. Failures are logged.
func (mm *Matchmaker) Release(userID string, rooms ...string) {
	if userID == "" {
		return
	}
	for _, room := range rooms {
		if room == "" {
			continue
		}
		if err := mm.send(protocol.EventEndChat, protocol.EndChat{RoomID: room, UserID: userID}); err != nil {
			mm.log.Warn().Err(err).Str("room", room).Msg("could not release room")
		}
	}
}

// HandleMatchError applies match_error. The returned error carries the
// server's reason.
func (mm *Matchmaker) HandleMatchError(env protocol.Envelope) (bool, error) {
	var (
		payload protocol.MatchError
		bare    string
		reason  string
	)
	switch {
	case env.Decode(&payload) == nil:
		reason = payload.Message
	case env.Decode(&bare) == nil:
		reason = bare
	default:
		reason = string(env.Data)
	}
	if reason == "" {
		reason = "match failed"
	}

	changed, err := mm.machine.MatchFailed(reason)
	mm.log.Warn().Str("reason", reason).Bool("searching", changed).Msg("match error")
	return changed, err
}

// HandleMatchStatus records an advisory status.
func (mm *Matchmaker) HandleMatchStatus(env protocol.Envelope) bool {
	return mm.machine.SetMatchStatus(protocol.StatusOf(env))
}

func (mm *Matchmaker) send(event protocol.Event, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return errs.Protocol(string(event), "%v", err)
	}
	return mm.sender.Send(env)
}
