package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// tracker counts lane messages that are queued or running. Zero means the
// replica is quiescent: nothing can make progress without driver input.
type tracker struct {
	idle chan struct{}
	mu   sync.Mutex
	n    int
}

func (t *tracker) add() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
}

func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	if t.n == 0 {
		t.mu.Unlock()
		return nil
	}
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// scheduler owns the ready queue of lanes.
type scheduler struct {
	log     *zap.Logger
	metrics *replicaMetrics
	tracker *tracker
	group   *errgroup.Group
	cancel  context.CancelFunc
	notify  chan struct{}
	queue   []*lane
	mu      sync.Mutex
	pumpMu  sync.Mutex
	mode    ScheduleMode
}

func newScheduler(mode ScheduleMode, log *zap.Logger, m *replicaMetrics) *scheduler {
	return &scheduler{
		log:     log,
		metrics: m,
		tracker: &tracker{},
		notify:  make(chan struct{}, 1),
		mode:    mode,
	}
}

// start launches workers. It is a no-op in deterministic mode.
func (s *scheduler) start(workers int) {
	if s.mode == ModeDeterministic {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	s.group = g
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			s.work(ctx)
			return nil
		})
	}
	s.log.Debug("scheduler started", zap.Int("workers", workers))
}

func (s *scheduler) stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	return s.group.Wait()
}

func (s *scheduler) ready(l *lane) {
	s.mu.Lock()
	s.queue = append(s.queue, l)
	s.mu.Unlock()
	s.signal()
}

func (s *scheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *scheduler) pop() *lane {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil
	}
	l := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	more := len(s.queue) > 0
	s.mu.Unlock()

	// Pass the wakeup on so idle workers pick up the rest.
	if more {
		s.signal()
	}
	return l
}

func (s *scheduler) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		l := s.pop()
		if l == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
			}
			continue
		}
		l.runOne()
	}
}

// pump runs ready lanes on the calling goroutine until none are left or
// stop reports true. Only used in deterministic mode.
func (s *scheduler) pump(ctx context.Context, stop func() bool) error {
	s.pumpMu.Lock()
	defer s.pumpMu.Unlock()
	for {
		if stop != nil && stop() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		l := s.pop()
		if l == nil {
			return nil
		}
		l.runOne()
	}
}

// drain blocks until the replica is quiescent.
func (s *scheduler) drain(ctx context.Context) error {
	if s.mode == ModeDeterministic {
		if err := s.pump(ctx, nil); err != nil {
			return err
		}
	}
	return s.tracker.wait(ctx)
}

// await blocks until done is closed. In deterministic mode it runs lanes
// until done closes or nothing is left to run.
func (s *scheduler) await(ctx context.Context, done <-chan struct{}) error {
	if s.mode == ModeDeterministic {
		isDone := func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		}
		if err := s.pump(ctx, isDone); err != nil {
			return err
		}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
