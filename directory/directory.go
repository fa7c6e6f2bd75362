package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-kanban/domain"
)

// DefaultStorageKey is the key the directory is persisted under.
const DefaultStorageKey = "boards-data"

// ErrNotFound is returned when a board id is not in the directory.
var ErrNotFound = errors.New("directory: board not found")

// Board is the metadata shown for a board in the board list. Its kanban
// content lives in the kanban store under the same id.
type Board struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Image string `json:"image,omitempty"`
}

// Persister stores the serialized directory.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, bool)
	Save(ctx context.Context, key string, data []byte) error
}

// Directory keeps the list of boards. Each call reads the persisted list,
// applies the change and writes the full list back.
type Directory struct {
	mu        sync.Mutex
	persister Persister
	key       string
	newID     domain.IDFunc
	logger    *log.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the logger used for decode and save failures.
func WithLogger(l *log.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithIDFunc replaces the board id generator.
func WithIDFunc(f domain.IDFunc) Option {
	return func(d *Directory) {
		if f != nil {
			d.newID = f
		}
	}
}

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(d *Directory) {
		if key != "" {
			d.key = key
		}
	}
}

// New returns a Directory persisting through p. It panics if p is nil.
func New(p Persister, opts ...Option) *Directory {
	if p == nil {
		panic("directory.New: persister is nil")
	}
	d := &Directory{
		persister: p,
		key:       DefaultStorageKey,
		newID:     domain.NewID,
		logger:    log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// List returns every board in creation order. A list that cannot be decoded
// is reported as empty.
func (d *Directory) List(ctx context.Context) []Board {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load(ctx)
}

// Get returns a single board.
func (d *Directory) Get(ctx context.Context, id string) (Board, error) {
	for _, b := range d.List(ctx) {
		if b.ID == id {
			return b, nil
		}
	}
	return Board{}, ErrNotFound
}

// Add appends a board with a fresh id and returns it with the updated list.
func (d *Directory) Add(ctx context.Context, title, image string) (Board, []Board, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	boards := d.load(ctx)
	b := Board{ID: d.freshID(boards), Title: title, Image: image}
	boards = append(boards, b)
	if err := d.save(ctx, boards); err != nil {
		return Board{}, nil, err
	}
	return b, boards, nil
}

// Update replaces the title and image of an existing board.
func (d *Directory) Update(ctx context.Context, b Board) ([]Board, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	boards := d.load(ctx)
	i := indexOf(boards, b.ID)
	if i < 0 {
		return boards, fmt.Errorf("update %s: %w", b.ID, ErrNotFound)
	}
	boards[i] = b
	if err := d.save(ctx, boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// Delete removes a board from the list.
func (d *Directory) Delete(ctx context.Context, id string) ([]Board, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	boards := d.load(ctx)
	i := indexOf(boards, id)
	if i < 0 {
		return boards, fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	boards = append(boards[:i], boards[i+1:]...)
	if err := d.save(ctx, boards); err != nil {
		return nil, err
	}
	return boards, nil
}

func (d *Directory) load(ctx context.Context) []Board {
	data, ok := d.persister.Load(ctx, d.key)
	if !ok {
		return []Board{}
	}
	var boards []Board
	if err := sonic.Unmarshal(data, &boards); err != nil {
		d.logger.WithError(err).WithField("key", d.key).Error("failed to decode board directory")
		return []Board{}
	}
	if boards == nil {
		boards = []Board{}
	}
	return boards
}

func (d *Directory) save(ctx context.Context, boards []Board) error {
	data, err := sonic.Marshal(boards)
	if err != nil {
		return err
	}
	return d.persister.Save(ctx, d.key, data)
}

func (d *Directory) freshID(boards []Board) string {
	gen := d.newID
	for attempt := 0; ; attempt++ {
		if attempt == 8 {
			gen = domain.NewID
		}
		if id := gen(domain.BoardPrefix); id != "" && indexOf(boards, id) < 0 {
			return id
		}
	}
}

func indexOf(boards []Board, id string) int {
	for i, b := range boards {
		if b.ID == id {
			return i
		}
	}
	return -1
}
