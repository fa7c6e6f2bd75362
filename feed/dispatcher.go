package feed

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-kanban/kanban"
)

// Config sizes the dispatcher worker pool.
type Config struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	SendTimeout    time.Duration
}

// DefaultConfig returns the pool settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		Buffer:         256,
		HandoffTimeout: 15 * time.Millisecond,
		SendTimeout:    10 * time.Second,
	}
}

type job struct {
	ev      Event
	payload []byte
}

// Dispatcher fans store changes out to sinks on a bounded pool of workers.
// Store listeners run inline with mutations, so a full buffer drops the event
// after HandoffTimeout instead of stalling the store.
type Dispatcher struct {
	jobs      chan job
	sinks     []Sink
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts cfg.Workers workers delivering to sinks.
func NewDispatcher(cfg Config, logger *log.Logger, sinks ...Sink) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	d := &Dispatcher{
		jobs:   make(chan job, cfg.Buffer),
		sinks:  sinks,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Infof("change feed started, workers: %d, buffer: %d, handoff: %v, sinks: %d", cfg.Workers, cfg.Buffer, cfg.HandoffTimeout, len(sinks))
	return d
}

// Attach subscribes the dispatcher to s and returns the unsubscribe function.
func (d *Dispatcher) Attach(s *kanban.Store) func() {
	return s.Subscribe(func(st kanban.State) {
		if st.BoardID == "" {
			return
		}
		d.Publish(eventFromState(st, d.now()))
	})
}

// Publish hands ev to the worker pool. It reports false if the event was
// dropped.
func (d *Dispatcher) Publish(ev Event) bool {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		d.logger.WithError(err).Error("encode change event")
		return false
	}
	if !d.tryEnqueue(job{ev: ev, payload: payload}) {
		d.logger.WithFields(log.Fields{
			"board":   ev.BoardID,
			"op":      ev.Op,
			"version": ev.Version,
		}).Warn("change feed full, event dropped")
		return false
	}
	return true
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
			err := s.Send(ctx, j.payload)
			cancel()
			if err != nil {
				d.logger.Errorf("change delivery failed, err: %v, sink: %s, board: %s, version: %d, worker: %d", err, s.Name(), j.ev.BoardID, j.ev.Version, id)
			}
		}
	}
}

func (d *Dispatcher) tryEnqueue(j job) bool {
	if ok, closed := trySendNonBlocking(d.jobs, j); closed {
		return false
	} else if ok {
		return true
	}

	if d.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(d.jobs, j, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan job, j job) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- j:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan job, j job, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- j:
		return true, false
	case <-timer:
		return false, false
	}
}
