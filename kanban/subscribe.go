package kanban

import "prism-kanban/domain"

// State is delivered to subscribers after every applied change. Boards is
// shared with the store and must be treated as read-only; the store replaces
// board values instead of editing them, so a State never changes after it
// has been delivered.
type State struct {
	Version uint64
	BoardID string
	Op      string
	Boards  []domain.Board
}

// Board returns the state of boardID within s.
func (s State) Board(boardID string) (domain.Board, bool) {
	for _, b := range s.Boards {
		if b.ID() == boardID {
			return b, true
		}
	}
	return domain.Board{}, false
}

// Listener receives state changes synchronously, after the change has been
// persisted.
type Listener func(State)

// Subscribe registers l and returns a function that removes it. The returned
// function may be called more than once.
func (s *Store) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = l
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Subscribers returns the number of registered listeners.
func (s *Store) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	ls := make([]Listener, 0, len(s.subs))
	for _, l := range s.subs {
		ls = append(ls, l)
	}
	s.subMu.Unlock()

	for _, l := range ls {
		l(st)
	}
}
