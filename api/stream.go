package api

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-kanban/domain"
	"prism-kanban/kanban"
)

// boardBroker wakes SSE streams when the board they watch changes.
type boardBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newBoardBroker() *boardBroker {
	return &boardBroker{subs: make(map[string]map[chan struct{}]struct{})}
}

// attach forwards store notifications to the broker.
func (b *boardBroker) attach(store *kanban.Store) func() {
	return store.Subscribe(func(st kanban.State) {
		if st.BoardID == "" {
			b.notifyAll()
			return
		}
		b.notify(st.BoardID)
	})
}

func (b *boardBroker) subscribe(boardID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[boardID] == nil {
		b.subs[boardID] = make(map[chan struct{}]struct{})
	}
	b.subs[boardID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *boardBroker) unsubscribe(boardID string, ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs[boardID], ch)
	if len(b.subs[boardID]) == 0 {
		delete(b.subs, boardID)
	}
	b.mu.Unlock()
}

func (b *boardBroker) notify(boardID string) {
	b.mu.Lock()
	for ch := range b.subs[boardID] {
		wake(ch)
	}
	b.mu.Unlock()
}

func (b *boardBroker) notifyAll() {
	b.mu.Lock()
	for _, chans := range b.subs {
		for ch := range chans {
			wake(ch)
		}
	}
	b.mu.Unlock()
}

func (b *boardBroker) watchers(boardID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[boardID])
}

// wake never blocks; a pending wake-up already covers later changes because
// the stream always sends the latest board.
func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// streamBoard sends the board as a server-sent event now and after every
// change until the client disconnects.
func streamBoard(store *kanban.Store, broker *boardBroker) echo.HandlerFunc {
	return func(c echo.Context) error {
		boardID := c.Param("boardId")
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch := broker.subscribe(boardID)
		defer broker.unsubscribe(boardID, ch)

		c.Response().WriteHeader(http.StatusOK)
		for {
			board, ok := store.GetBoard(boardID)
			if !ok {
				board = domain.NewBoard(boardID)
			}
			data, err := sonic.Marshal(board)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return nil
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
			}
		}
	}
}
