package feed

import (
	"time"

	"prism-kanban/kanban"
)

// Event announces that a board changed. Consumers fetch the board itself;
// the event only carries enough to order and route it.
type Event struct {
	BoardID string    `json:"boardId"`
	Op      string    `json:"op"`
	Version uint64    `json:"version"`
	At      time.Time `json:"at"`
}

func eventFromState(st kanban.State, now time.Time) Event {
	return Event{BoardID: st.BoardID, Op: st.Op, Version: st.Version, At: now.UTC()}
}
