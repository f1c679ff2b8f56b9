// ABOUTME: Cooperative poll loop fetching one subscription per tick with a single timer
// ABOUTME: Drains a pass with zero delay, then idles; supports suspend/resume and progress reporting

package poll

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harper/feedsync/internal/models"
)

// DefaultIdleDelay separates two passes over the feed list.
const DefaultIdleDelay = 60 * time.Second

// NoProgress is reported while suspended.
const NoProgress = -1

// Source is the ordered feed list being polled. *registry.Registry implements it.
type Source interface {
	Len() int
	At(i int) (*models.Subscription, bool)
}

// FetchFunc fetches one feed. Errors are logged and never retried within a pass.
type FetchFunc func(ctx context.Context, url string) error

// ProgressFunc receives NoProgress or a percentage in 0..100.
type ProgressFunc func(percent int)

// Options configures a Scheduler.
type Options struct {
	Source    Source
	Fetch     FetchFunc
	Progress  ProgressFunc
	IdleDelay time.Duration
	Logger    *log.Logger
}

// Scheduler polls feeds one at a time.
type Scheduler struct {
	source   Source
	fetch    FetchFunc
	progress ProgressFunc
	logger   *log.Logger

	mu        sync.Mutex
	cursor    int
	suspended bool
	idle      time.Duration
	kick      chan time.Duration
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		source:   opts.Source,
		fetch:    opts.Fetch,
		progress: opts.Progress,
		logger:   opts.Logger,
		idle:     opts.IdleDelay,
		kick:     make(chan time.Duration, 1),
	}
	if s.idle <= 0 {
		s.idle = DefaultIdleDelay
	}
	if s.progress == nil {
		s.progress = func(int) {}
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	return s
}

// IdleDelay returns the delay between passes.
func (s *Scheduler) IdleDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// SetIdleDelay changes the delay between passes from the next pass on.
func (s *Scheduler) SetIdleDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.idle = d
	s.mu.Unlock()
}

// Tick performs one step and returns the delay before the next one.
func (s *Scheduler) Tick(ctx context.Context) time.Duration {
	s.mu.Lock()
	idle := s.idle
	n := s.source.Len()
	if s.suspended || n == 0 {
		s.mu.Unlock()
		return idle
	}
	// Feeds may have been removed since the last tick.
	if s.cursor >= n {
		s.cursor = 0
		s.mu.Unlock()
		s.progress(100)
		return idle
	}
	start := s.cursor == 0
	sub, ok := s.source.At(s.cursor)
	s.cursor++
	cursor := s.cursor
	s.mu.Unlock()

	if start {
		s.progress(0)
	}
	if ok {
		if sub.RemoteState == models.LocalOnly {
			s.logger.Debug("polling feed not pushed yet", "url", sub.URL)
		}
		if err := s.fetch(ctx, sub.URL); err != nil {
			s.logger.Warn("fetch failed", "url", sub.URL, "err", err)
		}
	}

	if n = s.source.Len(); n == 0 || cursor >= n {
		s.mu.Lock()
		s.cursor = 0
		s.mu.Unlock()
		s.progress(100)
		return idle
	}
	s.progress(int(math.Round(float64(cursor) * 100 / float64(n))))
	return 0
}

// Suspend stops fetching when flag is true and reports NoProgress. When
// flag is false fetching resumes, and a nextDelay >= 0 reschedules the
// timer at that delay.
func (s *Scheduler) Suspend(flag bool, nextDelay time.Duration) {
	s.mu.Lock()
	s.suspended = flag
	s.mu.Unlock()

	if flag {
		s.progress(NoProgress)
		return
	}
	if nextDelay < 0 {
		return
	}
	select {
	case <-s.kick:
	default:
	}
	select {
	case s.kick <- nextDelay:
	default:
	}
}

// Suspended reports whether fetching is suspended.
func (s *Scheduler) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// Run owns the single timer and ticks until ctx is done. The first tick
// fires after the idle delay unless Suspend reschedules it.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.IdleDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-s.kick:
			timer.Reset(d)
		case <-timer.C:
			timer.Reset(s.Tick(ctx))
		}
	}
}
