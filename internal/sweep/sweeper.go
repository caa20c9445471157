package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/courierhq/courier/internal/queue"
)

// Job pairs a delay set with the ready queue its due entries feed.
type Job struct {
	Name   string
	Source *queue.DelaySet
	Target queue.Queue
}

// Sweeper periodically drains due entries from each job's delay set into its
// ready queue. Because DrainDue hands every entry to exactly one caller,
// running several sweeper instances is safe.
type Sweeper struct {
	interval time.Duration
	jobs     []Job

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, jobs []Job) (*Sweeper, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if len(jobs) == 0 {
		return nil, errors.New("at least one job required")
	}
	for _, j := range jobs {
		if j.Source == nil || j.Target == nil {
			return nil, errors.New("job source and target must not be nil")
		}
	}
	return &Sweeper{
		interval: interval,
		jobs:     jobs,
		done:     make(chan struct{}),
	}, nil
}

func (s *Sweeper) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("sweeper started", "interval", s.interval.String(), "jobs", len(s.jobs))

		s.safeSweep(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("sweeper stopping")
				return
			case <-ticker.C:
				s.safeSweep(ctx)
			}
		}
	}()

	return true
}

func (s *Sweeper) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("sweeper stopped")
	return true
}

func (s *Sweeper) IsRunning() bool {
	return s.running.Load()
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sweep panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	moved := s.SweepOnce(ctx)
	slog.Debug("sweep completed", "moved", moved, "duration_ms", time.Since(start).Milliseconds())
}

// SweepOnce drains every job once and returns how many ids were released
// into ready queues.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	moved := 0
	now := time.Now()

	for _, job := range s.jobs {
		ids, err := job.Source.DrainDue(ctx, now)
		if err != nil {
			slog.Error("drain failed", "job", job.Name, "error", err)
			continue
		}

		for _, id := range ids {
			if err := job.Target.Push(ctx, id); err != nil {
				// The entry left the delay set but missed the queue; put it
				// back so the next sweep retries it.
				slog.Error("requeue failed", "job", job.Name, "message_id", id, "error", err)
				if rerr := job.Source.Schedule(ctx, id, now); rerr != nil {
					slog.Error("reschedule after failed requeue", "job", job.Name, "message_id", id, "error", rerr)
				}
				continue
			}
			moved++
		}
	}
	return moved
}
