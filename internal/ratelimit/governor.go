package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// Window is the sliding window the ceiling applies to.
const Window = time.Minute

// MinBuffer is added to every computed wait so a waiter wakes after the
// oldest admission has actually left the window.
const MinBuffer = 100 * time.Millisecond

// Limit is a requests-per-minute ceiling. The zero value means unlimited.
type Limit int

const Unlimited Limit = 0

func (l Limit) String() string {
	if l == Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(int(l))
}

// ParseLimit accepts a positive integer or the word "unlimited".
func ParseLimit(s string) (Limit, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "unlimited") {
		return Unlimited, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid requests per minute %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("requests per minute must be positive or \"unlimited\", got %d", n)
	}
	return Limit(n), nil
}

type Clock func() time.Time

type Sleeper func(ctx context.Context, d time.Duration) error

type Option func(*Governor)

// WithClock replaces time.Now, used by tests.
func WithClock(now Clock) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// WithSleeper replaces the context-aware timer wait, used by tests.
func WithSleeper(sleep Sleeper) Option {
	return func(g *Governor) {
		g.sleep = sleep
	}
}

// WithBuffer sets the boundary buffer. Values below MinBuffer are raised to it.
func WithBuffer(d time.Duration) Option {
	return func(g *Governor) {
		if d < MinBuffer {
			d = MinBuffer
		}
		g.buffer = d
	}
}

// Governor admits callers against a sliding one-minute window shared by
// every AI request the process makes. Safe for concurrent use.
type Governor struct {
	now    Clock
	sleep  Sleeper
	buffer time.Duration

	mu         sync.Mutex
	limit      Limit
	admissions []time.Time
}

func New(limit Limit, opts ...Option) *Governor {
	g := &Governor{
		now:    time.Now,
		sleep:  sleepContext,
		buffer: MinBuffer,
		limit:  limit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit blocks until a slot is free in the current window and records the
// admission. It returns ctx.Err() if the context ends while waiting.
func (g *Governor) Admit(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, admitted := g.tryAdmit()
		if admitted {
			return nil
		}
		log.Debug("Rate limit reached, waiting %v for a free slot", wait)
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
		// another caller may have taken the freed slot, so check again
	}
}

func (g *Governor) tryAdmit() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limit == Unlimited {
		return 0, true
	}

	now := g.now()
	g.pruneLocked(now)
	if len(g.admissions) < int(g.limit) {
		g.admissions = append(g.admissions, now)
		return 0, true
	}

	wait := Window - now.Sub(g.admissions[0]) + g.buffer
	if wait < g.buffer {
		wait = g.buffer
	}
	return wait, false
}

func (g *Governor) pruneLocked(now time.Time) {
	i := 0
	for i < len(g.admissions) && now.Sub(g.admissions[i]) >= Window {
		i++
	}
	if i > 0 {
		g.admissions = append(g.admissions[:0], g.admissions[i:]...)
	}
}

// SetLimit replaces the ceiling and discards the admission history when the
// ceiling actually changes. Setting the current limit again keeps the window.
func (g *Governor) SetLimit(limit Limit) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit == g.limit {
		return
	}
	log.Info("Requests per minute changed from %s to %s", g.limit, limit)
	g.limit = limit
	g.admissions = nil
}

func (g *Governor) Limit() Limit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// Status is a point-in-time view of the window.
type Status struct {
	Limit    string `json:"limit"`
	InWindow int    `json:"in_window"`
	// NextFree is zero when a slot is available now.
	NextFree time.Time `json:"next_free,omitempty"`
}

func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	ret := Status{Limit: g.limit.String()}
	if g.limit == Unlimited {
		return ret
	}
	now := g.now()
	g.pruneLocked(now)
	ret.InWindow = len(g.admissions)
	if len(g.admissions) >= int(g.limit) {
		ret.NextFree = g.admissions[0].Add(Window)
	}
	return ret
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
