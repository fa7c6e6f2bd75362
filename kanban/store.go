package kanban

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-kanban/domain"
)

// DefaultStorageKey is the key the full board collection is persisted under.
const DefaultStorageKey = "kanban-storage"

const tracerName = "prism-kanban/kanban"

// maxIDAttempts bounds retries of an injected id generator that keeps
// colliding before falling back to domain.NewID.
const maxIDAttempts = 8

// Operation names reported in State.Op and span names.
const (
	OpLoad           = "load"
	OpReset          = "reset"
	OpSetBoards      = "set-boards"
	OpUpdateBoard    = "update-board"
	OpEnsureBoard    = "ensure-board"
	OpAddColumn      = "add-column"
	OpRenameColumn   = "rename-column"
	OpDeleteColumn   = "delete-column"
	OpAddTask        = "add-task"
	OpToggleTaskDone = "toggle-task-done"
	OpUpdateContent  = "update-task-content"
	OpUpdateLabel    = "update-task-label-color"
	OpUpdateTask     = "update-task"
	OpDeleteTask     = "delete-task"
	OpMoveTask       = "move-task"
)

// Persister stores the serialized board collection.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, bool)
	Save(ctx context.Context, key string, data []byte) error
	Clear(ctx context.Context, key string) error
}

// Store owns the kanban content of every board. Mutations are serialized and
// run to completion: each one replaces the affected board with a new value,
// persists the whole collection and then notifies subscribers. Mutations
// that reference an unknown board, column or task change nothing.
type Store struct {
	mu             sync.Mutex
	boards         []domain.Board
	index          map[string]int
	version        uint64
	lastPersistErr error

	persister Persister
	key       string
	newID     domain.IDFunc
	logger    *log.Logger
	tracer    trace.Tracer

	subMu   sync.Mutex
	subs    map[uint64]Listener
	nextSub uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDFunc replaces the id generator.
func WithIDFunc(f domain.IDFunc) Option {
	return func(s *Store) {
		if f != nil {
			s.newID = f
		}
	}
}

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithTracerProvider uses tp instead of the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates an empty store persisting through p. Call Load to hydrate it.
func New(p Persister, opts ...Option) *Store {
	if p == nil {
		panic("kanban.New: persister is nil")
	}
	s := &Store{
		index:     make(map[string]int),
		persister: p,
		key:       DefaultStorageKey,
		newID:     domain.NewID,
		logger:    log.StandardLogger(),
		tracer:    otel.Tracer(tracerName),
		subs:      make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with the persisted collection. Absent or
// malformed data yields an empty collection; the bad bytes are overwritten by
// the next successful mutation.
func (s *Store) Load(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "kanban."+OpLoad)
	defer span.End()

	var boards []domain.Board
	if data, ok := s.persister.Load(ctx, s.key); ok {
		if err := sonic.Unmarshal(data, &boards); err != nil {
			s.logger.WithError(err).WithField("key", s.key).Warn("persisted kanban state is malformed; starting empty")
			span.RecordError(err)
			boards = nil
		}
	}
	boards = s.sanitize(boards)
	span.SetAttributes(attribute.Int("kanban.boards", len(boards)))

	s.mu.Lock()
	s.replaceLocked(boards)
	s.version++
	st := s.stateLocked("", OpLoad)
	s.mu.Unlock()
	s.notify(st)
}

// sanitize fills nil collections and drops repeated board ids so later
// mutations never write into nil maps. Boards failing Validate are logged and
// repaired.
func (s *Store) sanitize(boards []domain.Board) []domain.Board {
	out := make([]domain.Board, 0, len(boards))
	seen := make(map[string]struct{}, len(boards))
	for _, b := range boards {
		if _, dup := seen[b.ID()]; dup {
			s.logger.WithField("board", b.ID()).Warn("duplicate board in persisted state dropped")
			continue
		}
		seen[b.ID()] = struct{}{}
		if b.Tasks == nil {
			b.Tasks = map[string]domain.Task{}
		}
		if b.Columns == nil {
			b.Columns = map[string]domain.Column{}
		}
		if b.ColumnOrder == nil {
			b.ColumnOrder = []string{}
		}
		if err := b.Validate(); err != nil {
			s.logger.WithError(err).WithField("board", b.ID()).Warn("persisted board failed integrity check, repaired")
			b = b.Repair()
		}
		out = append(out, b)
	}
	return out
}

// Reset drops all boards and subscribers and clears the persisted entry.
func (s *Store) Reset(ctx context.Context) {
	_, span := s.tracer.Start(ctx, "kanban."+OpReset)
	defer span.End()

	s.mu.Lock()
	s.replaceLocked(nil)
	s.version = 0
	s.lastPersistErr = nil
	if err := s.persister.Clear(ctx, s.key); err != nil {
		span.RecordError(err)
		s.lastPersistErr = err
	}
	s.mu.Unlock()

	s.subMu.Lock()
	s.subs = make(map[uint64]Listener)
	s.subMu.Unlock()
}

// Boards returns a copy of every board in insertion order.
func (s *Store) Boards() []domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Board, len(s.boards))
	for i, b := range s.boards {
		out[i] = b.Clone()
	}
	return out
}

// GetBoard returns a copy of the board's kanban state.
func (s *Store) GetBoard(boardID string) (domain.Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[boardID]
	if !ok {
		return domain.Board{}, false
	}
	return s.boards[i].Clone(), true
}

// Version increases by one with every change delivered to subscribers and
// restarts at zero after Reset.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// LastPersistError returns the error of the most recent save, or nil if it
// succeeded.
func (s *Store) LastPersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPersistErr
}

// SetBoards replaces the whole collection. Every board must pass
// domain.Board.Validate and ids must be unique.
func (s *Store) SetBoards(ctx context.Context, boards []domain.Board) error {
	seen := make(map[string]struct{}, len(boards))
	next := make([]domain.Board, 0, len(boards))
	for _, b := range boards {
		if err := b.Validate(); err != nil {
			return err
		}
		if _, dup := seen[b.ID()]; dup {
			return fmt.Errorf("board %s given twice", b.ID())
		}
		seen[b.ID()] = struct{}{}
		next = append(next, b.Clone())
	}

	ctx, span := s.tracer.Start(ctx, "kanban."+OpSetBoards)
	defer span.End()

	s.mu.Lock()
	s.replaceLocked(next)
	s.version++
	s.persistLocked(ctx, span, OpSetBoards, "")
	st := s.stateLocked("", OpSetBoards)
	s.mu.Unlock()
	s.notify(st)
	return nil
}

// UpdateBoard inserts or replaces the board stored under boardID.
func (s *Store) UpdateBoard(ctx context.Context, boardID string, b domain.Board) error {
	if boardID == "" {
		return fmt.Errorf("board id is required")
	}
	next := b.Clone()
	next.Board.ID = boardID
	if err := next.Validate(); err != nil {
		return err
	}
	s.apply(ctx, OpUpdateBoard, boardID, true, func(cur *domain.Board) bool {
		*cur = next
		return true
	})
	return nil
}

// EnsureBoard returns the board, registering an empty one first if boardID is
// unknown. Calling it again for the same id changes nothing.
func (s *Store) EnsureBoard(ctx context.Context, boardID string) domain.Board {
	if boardID == "" {
		return domain.NewBoard("")
	}
	var out domain.Board
	s.apply(ctx, OpEnsureBoard, boardID, true, func(b *domain.Board) bool {
		out = b.Clone()
		return !s.hasBoard(boardID)
	})
	return out
}

// hasBoard must be called with s.mu held.
func (s *Store) hasBoard(boardID string) bool {
	_, ok := s.index[boardID]
	return ok
}

// AddColumn appends a new empty column titled title and returns its id. The
// board is created if it does not exist yet. Titles are stored verbatim.
func (s *Store) AddColumn(ctx context.Context, boardID, title string) string {
	if boardID == "" {
		return ""
	}
	var id string
	s.apply(ctx, OpAddColumn, boardID, true, func(b *domain.Board) bool {
		id = s.freshID(domain.ColumnPrefix, func(c string) bool { _, ok := b.Columns[c]; return ok })
		b.Columns[id] = domain.Column{ID: id, Title: title, TaskIDs: []string{}}
		b.ColumnOrder = append(b.ColumnOrder, id)
		return true
	})
	return id
}

// RenameColumn replaces a column title.
func (s *Store) RenameColumn(ctx context.Context, boardID, columnID, title string) bool {
	return s.apply(ctx, OpRenameColumn, boardID, false, func(b *domain.Board) bool {
		col, ok := b.Columns[columnID]
		if !ok {
			return false
		}
		col.Title = title
		b.Columns[columnID] = col
		return true
	})
}

// DeleteColumn removes a column and every task it lists.
func (s *Store) DeleteColumn(ctx context.Context, boardID, columnID string) bool {
	return s.apply(ctx, OpDeleteColumn, boardID, false, func(b *domain.Board) bool {
		col, ok := b.Columns[columnID]
		if !ok {
			return false
		}
		for _, taskID := range col.TaskIDs {
			delete(b.Tasks, taskID)
		}
		delete(b.Columns, columnID)
		b.ColumnOrder = without(b.ColumnOrder, columnID)
		return true
	})
}

// TaskEdit changes one field of a task. Several edits passed to one call are
// applied together as a single mutation.
type TaskEdit func(*domain.Task)

// SetContent replaces a task's content.
func SetContent(content string) TaskEdit {
	return func(t *domain.Task) { t.Content = content }
}

// SetLabelColor replaces a task's label color.
func SetLabelColor(color string) TaskEdit {
	return func(t *domain.Task) { t.LabelColor = color }
}

// AddTask appends a new task to the end of a column and returns its id.
// Edits are applied to the new task before it is committed.
func (s *Store) AddTask(ctx context.Context, boardID, columnID, content string, edits ...TaskEdit) (string, bool) {
	var id string
	ok := s.apply(ctx, OpAddTask, boardID, false, func(b *domain.Board) bool {
		col, ok := b.Columns[columnID]
		if !ok {
			return false
		}
		id = s.freshID(domain.TaskPrefix, func(t string) bool { _, ok := b.Tasks[t]; return ok })
		task := domain.Task{ID: id, Content: content, LabelColor: domain.DefaultLabelColor}
		for _, edit := range edits {
			edit(&task)
		}
		task.ID = id
		b.Tasks[id] = task
		col.TaskIDs = append(col.TaskIDs, id)
		b.Columns[columnID] = col
		return true
	})
	return id, ok
}

// ToggleTaskDone flips a task's completion flag.
func (s *Store) ToggleTaskDone(ctx context.Context, boardID, taskID string) bool {
	return s.updateTask(ctx, OpToggleTaskDone, boardID, taskID, func(t *domain.Task) { t.Done = !t.Done })
}

// UpdateTaskContent replaces a task's content.
func (s *Store) UpdateTaskContent(ctx context.Context, boardID, taskID, content string) bool {
	return s.updateTask(ctx, OpUpdateContent, boardID, taskID, SetContent(content))
}

// UpdateTaskLabelColor replaces a task's label color.
func (s *Store) UpdateTaskLabelColor(ctx context.Context, boardID, taskID, color string) bool {
	return s.updateTask(ctx, OpUpdateLabel, boardID, taskID, SetLabelColor(color))
}

// UpdateTask applies every edit to a task in one mutation. It reports false
// when the task is unknown or no edit was given.
func (s *Store) UpdateTask(ctx context.Context, boardID, taskID string, edits ...TaskEdit) bool {
	if len(edits) == 0 {
		return false
	}
	return s.updateTask(ctx, OpUpdateTask, boardID, taskID, func(t *domain.Task) {
		for _, edit := range edits {
			edit(t)
		}
	})
}

func (s *Store) updateTask(ctx context.Context, op, boardID, taskID string, fn func(*domain.Task)) bool {
	return s.apply(ctx, op, boardID, false, func(b *domain.Board) bool {
		t, ok := b.Tasks[taskID]
		if !ok {
			return false
		}
		fn(&t)
		t.ID = taskID
		b.Tasks[taskID] = t
		return true
	})
}

// DeleteTask removes a task and strips its id from every column, whichever
// column the caller believes holds it.
func (s *Store) DeleteTask(ctx context.Context, boardID, taskID string) bool {
	return s.apply(ctx, OpDeleteTask, boardID, false, func(b *domain.Board) bool {
		_, changed := b.Tasks[taskID]
		delete(b.Tasks, taskID)
		for id, col := range b.Columns {
			ids := without(col.TaskIDs, taskID)
			if len(ids) != len(col.TaskIDs) {
				col.TaskIDs = ids
				b.Columns[id] = col
				changed = true
			}
		}
		return changed
	})
}

// MoveTask applies a completed drag. Stale descriptors (unknown columns,
// out-of-range indices, or a task id that is not at the source index) are
// ignored, as is a drop that leaves the order unchanged.
func (s *Store) MoveTask(ctx context.Context, boardID string, m domain.Move) bool {
	return s.apply(ctx, OpMoveTask, boardID, false, func(b *domain.Board) bool {
		cols, ok := m.Resolve(*b)
		if !ok {
			return false
		}
		changed := false
		for _, c := range cols {
			if !slices.Equal(b.Columns[c.ID].TaskIDs, c.TaskIDs) {
				changed = true
			}
			b.Columns[c.ID] = c
		}
		return changed
	})
}

// apply runs fn against a copy of the board and commits the copy when fn
// reports a change. Unknown boards are skipped unless create is set, in which
// case fn receives a new empty board.
func (s *Store) apply(ctx context.Context, op, boardID string, create bool, fn func(*domain.Board) bool) bool {
	ctx, span := s.tracer.Start(ctx, "kanban."+op, trace.WithAttributes(
		attribute.String("kanban.board_id", boardID),
	))
	defer span.End()

	s.mu.Lock()
	var next domain.Board
	if i, ok := s.index[boardID]; ok {
		next = s.boards[i].Clone()
	} else if create {
		next = domain.NewBoard(boardID)
	} else {
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("kanban.applied", false))
		return false
	}
	if !fn(&next) {
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("kanban.applied", false))
		return false
	}

	boards := make([]domain.Board, len(s.boards), len(s.boards)+1)
	copy(boards, s.boards)
	if i, ok := s.index[boardID]; ok {
		boards[i] = next
	} else {
		s.index[boardID] = len(boards)
		boards = append(boards, next)
	}
	s.boards = boards
	s.version++
	s.persistLocked(ctx, span, op, boardID)
	st := s.stateLocked(boardID, op)
	s.mu.Unlock()

	span.SetAttributes(attribute.Bool("kanban.applied", true), attribute.Int64("kanban.version", int64(st.Version)))
	s.notify(st)
	return true
}

// persistLocked saves the collection. A failed save leaves memory
// authoritative; the error is logged, recorded on span and kept for
// LastPersistError.
func (s *Store) persistLocked(ctx context.Context, span trace.Span, op, boardID string) {
	data, err := sonic.Marshal(s.boards)
	if err == nil {
		err = s.persister.Save(ctx, s.key, data)
	}
	s.lastPersistErr = err
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "persist failed")
	s.logger.WithError(err).WithFields(log.Fields{
		"op":      op,
		"board":   boardID,
		"version": s.version,
	}).Warn("kanban state kept in memory only")
}

func (s *Store) replaceLocked(boards []domain.Board) {
	s.boards = boards
	s.index = make(map[string]int, len(boards))
	for i, b := range boards {
		s.index[b.ID()] = i
	}
}

func (s *Store) stateLocked(boardID, op string) State {
	return State{Version: s.version, BoardID: boardID, Op: op, Boards: s.boards}
}

func (s *Store) freshID(prefix string, taken func(string) bool) string {
	for i := 0; i < maxIDAttempts; i++ {
		if id := s.newID(prefix); id != "" && !taken(id) {
			return id
		}
	}
	for {
		if id := domain.NewID(prefix); !taken(id) {
			return id
		}
	}
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
