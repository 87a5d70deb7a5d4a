package chathub_test

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"chatgogo/matchclient/internal/protocol"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(env protocol.Envelope) error {
	args := m.Called(env)
	return args.Error(0)
}

// event matches an envelope by event name.
func event(e protocol.Event) any {
	return mock.MatchedBy(func(env protocol.Envelope) bool { return env.Event == e })
}

// manualClock collects scheduled callbacks; the test fires them.
type manualClock struct {
	mu      sync.Mutex
	pending []func()
	now     time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) After(_ time.Duration, fn func()) {
	c.mu.Lock()
	c.pending = append(c.pending, fn)
	c.mu.Unlock()
}

func (c *manualClock) Now() time.Time { return c.now }

// Fire runs every callback scheduled so far.
func (c *manualClock) Fire() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
