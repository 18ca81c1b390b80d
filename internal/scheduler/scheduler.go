// Package scheduler implements the round-robin rotation over project
// entities. The rotation collection holds idle projects in the order they
// last became idle; completions append to the tail, so the longest-idle
// project surfaces first. Projects in any other state are simply absent
// from the rotation.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotadev/rota/internal/project"
)

// ErrExhausted is returned by Next when every project has been dropped.
var ErrExhausted = errors.New("all projects dropped")

// Scheduler owns the rotation order and the idle-wait discipline. A single
// control goroutine calls Next; background completions call Admit and
// Signal from their own goroutines.
type Scheduler struct {
	mu    sync.Mutex
	all   []*project.Project
	queue []*project.Project

	// notify is the single-slot wake channel for the blocked Next waiter.
	// Signalling with no waiter registered parks one token and is a safe
	// no-op beyond that.
	notify chan struct{}
}

// New creates a scheduler over the discovered projects, admitting every
// idle one in discovery order.
func New(projects []*project.Project) *Scheduler {
	s := &Scheduler{
		all:    append([]*project.Project(nil), projects...),
		notify: make(chan struct{}, 1),
	}
	for _, p := range projects {
		if p.State() == project.StateIdle {
			s.queue = append(s.queue, p)
		}
	}
	return s
}

// Projects returns all managed projects in discovery order, regardless of
// state.
func (s *Scheduler) Projects() []*project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*project.Project(nil), s.all...)
}

// Admit appends a project to the rotation tail if it is idle and not
// already present. Re-admitting is idempotent: a project appears in the
// rotation at most once no matter how many completion paths race.
func (s *Scheduler) Admit(p *project.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitLocked(p)
}

func (s *Scheduler) admitLocked(p *project.Project) {
	if p.State() != project.StateIdle {
		return
	}
	for _, q := range s.queue {
		if q == p {
			return
		}
	}
	s.queue = append(s.queue, p)
}

// Remove takes a project out of the rotation. Called when it leaves idle.
func (s *Scheduler) Remove(p *project.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queue {
		if q == p {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Refresh re-admits every snoozed project whose wake time has elapsed.
// Running it multiple times after expiry admits each project exactly once.
func (s *Scheduler) Refresh(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.all {
		if p.State() == project.StateSnoozed && !now.Before(p.SnoozeUntil()) {
			if p.Wake() {
				s.admitLocked(p)
			}
		}
	}
}

// Idle returns the idle subsequence of the rotation in order.
func (s *Scheduler) Idle() []*project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleLocked()
}

func (s *Scheduler) idleLocked() []*project.Project {
	idle := make([]*project.Project, 0, len(s.queue))
	for _, p := range s.queue {
		if p.State() == project.StateIdle {
			idle = append(idle, p)
		}
	}
	return idle
}

// SkipN moves p behind the nth idle project currently in the rotation,
// clamped to however many idle projects exist. Pure reordering; no time
// component.
func (s *Scheduler) SkipN(p *project.Project, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := -1
	for i, q := range s.queue {
		if q == p {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}
	rest := append(append([]*project.Project(nil), s.queue[:pos]...), s.queue[pos+1:]...)

	// Insert after the nth idle project found past the removal point.
	insert := len(rest)
	seen := 0
	for i := pos; i < len(rest); i++ {
		if rest[i].State() == project.StateIdle {
			seen++
			if seen == n {
				insert = i + 1
				break
			}
		}
	}
	s.queue = append(rest[:insert:insert], append([]*project.Project{p}, rest[insert:]...)...)
}

// Signal wakes the blocked Next waiter, if any. Every completion path calls
// this; coalescing multiple signals into one wake-up is fine because Next
// re-examines the whole rotation on every pass.
func (s *Scheduler) Signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an idle project is available and returns the head of
// the idle rotation. It returns ErrExhausted once every project is dropped,
// and the context error if ctx ends first. The block never busy-polls: it
// wakes on completion signals or at the earliest upcoming snooze expiry,
// whichever comes first.
func (s *Scheduler) Next(ctx context.Context) (*project.Project, error) {
	for {
		s.Refresh(time.Now())

		s.mu.Lock()
		if idle := s.idleLocked(); len(idle) > 0 {
			p := idle[0]
			s.mu.Unlock()
			return p, nil
		}

		exhausted := true
		var earliestWake time.Time
		for _, p := range s.all {
			switch p.State() {
			case project.StateDropped:
			case project.StateSnoozed:
				exhausted = false
				if wake := p.SnoozeUntil(); earliestWake.IsZero() || wake.Before(earliestWake) {
					earliestWake = wake
				}
			default:
				exhausted = false
			}
		}
		s.mu.Unlock()

		if exhausted {
			return nil, ErrExhausted
		}

		var timer *time.Timer
		var expiry <-chan time.Time
		if !earliestWake.IsZero() {
			d := time.Until(earliestWake)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			expiry = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-s.notify:
			if timer != nil {
				timer.Stop()
			}
		case <-expiry:
		}
	}
}
