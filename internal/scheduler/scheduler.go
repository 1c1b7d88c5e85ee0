package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardwatch/cardwatch/internal/capture"
	"github.com/cardwatch/cardwatch/internal/detector"
	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/internal/model"
	"github.com/cardwatch/cardwatch/pkg/types"
)

// Cycler runs one detection cycle.
type Cycler interface {
	RunCycle(ctx context.Context) types.CycleResult
}

// Reconciler folds cycle results into the accumulated state.
type Reconciler interface {
	Reconcile(res types.CycleResult) (types.Snapshot, *types.ChangeEvent)
	Snapshot() types.Snapshot
}

// Config controls the loop.
type Config struct {
	Period        time.Duration
	ErrorCooldown time.Duration
	Log           *logger.Logger // Defaults to the process logger
}

// Scheduler runs cycles back to back with a fixed pause and publishes the
// latest snapshot for readers.
type Scheduler struct {
	cycler  Cycler
	tracker Reconciler
	cfg     Config
	limiter *ErrorLimiter
	log     *logger.Logger

	latest atomic.Pointer[types.Snapshot]

	mu      sync.Mutex
	clients map[int]chan types.ChangeEvent
	nextID  int
	closed  bool
}

// New creates a scheduler and publishes the tracker's initial snapshot.
func New(cycler Cycler, tracker Reconciler, cfg Config) *Scheduler {
	s := &Scheduler{
		cycler:  cycler,
		tracker: tracker,
		cfg:     cfg,
		limiter: NewErrorLimiter(cfg.ErrorCooldown),
		log:     cfg.Log,
		clients: make(map[int]chan types.ChangeEvent),
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	snap := tracker.Snapshot()
	s.latest.Store(&snap)
	return s
}

// Latest returns the most recently published snapshot. It never blocks on a cycle.
func (s *Scheduler) Latest() types.Snapshot {
	return *s.latest.Load()
}

// Subscribe adds a change event listener.
func (s *Scheduler) Subscribe() (int, <-chan types.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan types.ChangeEvent, 8)
	if s.closed {
		close(ch)
		return id, ch
	}
	s.clients[id] = ch

	s.log.Debug("Scheduler", "Listener #%d subscribed (total: %d)", id, len(s.clients))
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Scheduler) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.clients[id]; ok {
		close(ch)
		delete(s.clients, id)
		s.log.Debug("Scheduler", "Listener #%d unsubscribed (remaining: %d)", id, len(s.clients))
	}
}

// Run executes one cycle immediately and then one every Period after the
// previous cycle ends, until ctx is cancelled. All listener channels are
// closed on return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("Scheduler", "Starting detection loop (period=%v)", s.cfg.Period)
	defer s.closeAll()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler", "Detection loop stopped")
			return ctx.Err()
		case <-timer.C:
		}

		s.tick(ctx)
		if ctx.Err() != nil {
			continue
		}
		timer.Reset(s.cfg.Period)
	}
}

// tick runs and publishes one cycle. Panics are logged and the loop goes on.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.limiter.Log("panic", fmt.Sprintf("Cycle panic: %v", r), func(f string, a ...interface{}) {
				s.log.Error("Scheduler", f, a...)
			})
		}
	}()

	res := s.cycler.RunCycle(ctx)
	if ctx.Err() != nil && res.Failed {
		// Cut short by shutdown; keep the last published state.
		return
	}
	if res.Failed && res.Err != nil {
		key := failureKind(res.Err)
		s.limiter.Log(key, fmt.Sprintf("Cycle failed (%s): %v", key, res.Err), func(f string, a ...interface{}) {
			s.log.Warn("Scheduler", f, a...)
		})
	}

	snap, ev := s.tracker.Reconcile(res)
	s.latest.Store(&snap)
	if ev != nil {
		s.broadcast(*ev)
	}
}

func (s *Scheduler) broadcast(ev types.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			s.log.Debug("Scheduler", "Listener #%d too slow, event dropped", id)
		}
	}
}

func (s *Scheduler) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
}

// failureKind maps a cycle error to the limiter key for its class.
func failureKind(err error) string {
	switch {
	case errors.Is(err, detector.ErrPanic):
		return "panic"
	case errors.Is(err, model.ErrModelLoad):
		return "model load"
	case errors.Is(err, model.ErrInference):
		return "inference"
	case errors.Is(err, capture.ErrCapture):
		return "capture"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "cycle"
	}
}
