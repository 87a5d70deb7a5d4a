package connection

import (
	"context"
	"sync"

	"chatgogo/matchclient/internal/protocol"
)

type subscription struct {
	id   uint64
	name string
	fn   Handler
}

// Subscribe registers fn for one event name. The returned function removes
// the registration; once it returns, fn is not running and will not be
// called again. Calling it more than once is harmless.
func (m *Manager) Subscribe(event protocol.Event, name string, fn Handler) (unsubscribe func()) {
	m.subMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[event] = append(m.subs[event], subscription{id: id, name: name, fn: fn})
	m.subMu.Unlock()

	m.log.Debug().Str("event", string(event)).Str("handler", name).Msg("subscribed")

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()

			current := m.subs[event]
			filtered := make([]subscription, 0, len(current))
			for _, s := range current {
				if s.id != id {
					filtered = append(filtered, s)
				}
			}
			if len(filtered) == 0 {
				delete(m.subs, event)
			} else {
				m.subs[event] = filtered
			}
			m.log.Debug().Str("event", string(event)).Str("handler", name).Msg("unsubscribed")
		})
	}
}

// Handlers returns the number of handlers registered for event.
func (m *Manager) Handlers(event protocol.Event) int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subs[event])
}

// dispatch runs the handlers of ev.Name in registration order. It holds the
// read lock for the whole run so an unsubscribe waits for it to finish.
func (m *Manager) dispatch(ctx context.Context, ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	if ctx.Err() != nil {
		return
	}
	subs := m.subs[ev.Name]
	if len(subs) == 0 {
		m.log.Trace().Str("event", string(ev.Name)).Msg("no handler")
		return
	}
	for _, s := range subs {
		m.invoke(s, ev)
	}
}

func (m *Manager) invoke(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("event", string(ev.Name)).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()
	s.fn(ev)
}
