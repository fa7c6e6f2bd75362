package storage

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned by backends when no value is stored under a key.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a raw key/value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Codec is a reversible transform applied between callers' bytes and the
// stored representation.
type Codec interface {
	Encode(plain []byte) ([]byte, error)
	Decode(stored []byte) ([]byte, error)
}

// Adapter provides load/save/clear over a Backend. Missing, unreadable and
// undecodable values all load as absent so callers can start from empty state.
type Adapter struct {
	backend Backend
	codec   Codec
	logger  *log.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCodec applies c to every value saved and loaded.
func WithCodec(c Codec) Option {
	return func(a *Adapter) { a.codec = c }
}

// WithLogger sets the logger used for load and save failures.
func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter creates an Adapter on top of backend.
func NewAdapter(backend Backend, opts ...Option) *Adapter {
	if backend == nil {
		panic("storage.NewAdapter: backend is nil")
	}
	a := &Adapter{backend: backend, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load returns the value stored under key, or false if there is none or it
// cannot be read back.
func (a *Adapter) Load(ctx context.Context, key string) ([]byte, bool) {
	data, err := a.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.logger.WithError(err).WithField("key", key).Warn("storage load failed")
		}
		return nil, false
	}
	if a.codec != nil {
		plain, err := a.codec.Decode(data)
		if err != nil {
			a.logger.WithError(err).WithField("key", key).Warn("stored value could not be decoded")
			return nil, false
		}
		data = plain
	}
	return data, true
}

// Save stores data under key. Failures are logged and returned; callers keep
// their in-memory state regardless.
func (a *Adapter) Save(ctx context.Context, key string, data []byte) error {
	if a.codec != nil {
		enc, err := a.codec.Encode(data)
		if err != nil {
			a.logger.WithError(err).WithField("key", key).Error("storage encode failed")
			return fmt.Errorf("encode %s: %w", key, err)
		}
		data = enc
	}
	if err := a.backend.Set(ctx, key, data); err != nil {
		a.logger.WithError(err).WithField("key", key).Error("storage save failed")
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Clear removes the value stored under key.
func (a *Adapter) Clear(ctx context.Context, key string) error {
	if err := a.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		a.logger.WithError(err).WithField("key", key).Error("storage clear failed")
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}
