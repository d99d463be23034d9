package remote

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Group holds every session opened during a planning run so they can be
// released together. It is safe for concurrent use.
type Group struct {
	mu       sync.Mutex
	sessions []Session
	closed   bool
}

func NewGroup() *Group {
	return &Group{}
}

// Add takes ownership of s. Adding to a closed group closes s immediately.
func (g *Group) Add(s Session) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		log.Debugf("Group closed, releasing late session %s", s.ID())
		s.Close()
		return
	}
	g.sessions = append(g.sessions, s)
	g.mu.Unlock()
}

// Sessions returns a snapshot of the sessions in the order they were added.
func (g *Group) Sessions() []Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Session(nil), g.sessions...)
}

func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Close closes every session. The first error is returned after all have been
// attempted. Later calls are no-ops.
func (g *Group) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	sessions := g.sessions
	g.sessions = nil
	g.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			log.Warnf("Closing session %s: %v", s.ID(), err)
			if first == nil {
				first = errors.Wrapf(err, "closing session %s", s.ID())
			}
		}
	}
	log.Debugf("Closed %d sessions", len(sessions))
	return first
}
