package relay

import "chatgogo/matchclient/internal/models"

// Candidate is a find_match request waiting in the queue.
type Candidate struct {
	ConnID     string
	UserID     string
	Age        int
	Gender     models.Gender
	Preference models.Preference
}

// Compatible reports whether a and b may be paired: different users whose
// preferences accept each other's gender.
func Compatible(a, b Candidate) bool {
	return a.UserID != b.UserID &&
		a.Preference.Accepts(b.Gender) &&
		b.Preference.Accepts(a.Gender)
}

// Matcher is a FIFO queue of candidates. It is owned by the hub loop and is
// not safe for concurrent use.
type Matcher struct {
	queue []Candidate
}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Enqueue pairs c with the longest-waiting compatible candidate, removing
// that candidate from the queue. Without a partner c is queued, replacing
// an earlier request from the same connection.
func (m *Matcher) Enqueue(c Candidate) (Candidate, bool) {
	m.Remove(c.ConnID)
	for i, waiting := range m.queue {
		if Compatible(c, waiting) {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return waiting, true
		}
	}
	m.queue = append(m.queue, c)
	return Candidate{}, false
}

// Remove drops the request of connID. It reports whether one was queued.
func (m *Matcher) Remove(connID string) bool {
	for i, waiting := range m.queue {
		if waiting.ConnID == connID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Matcher) Len() int { return len(m.queue) }
