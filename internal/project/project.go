// Package project models one managed project directory: its lifecycle state
// machine (idle/working/watching/snoozed/dropped), its subprocess handles,
// its bounded activity log, and the output-hold buffer used around
// input-wait conditions.
//
// Fields are shared mutable state scoped to one project instance. All
// access funnels through the named transition methods below; other packages
// never write fields directly.
package project

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotadev/rota/internal/marker"
)

// State is a project's position in the lifecycle state machine.
type State int

const (
	// StateIdle means the project sits in the rotation awaiting selection.
	StateIdle State = iota
	// StateWorking means an agent turn subprocess is running.
	StateWorking
	// StateWatching means a long-lived watch subprocess is running.
	StateWatching
	// StateSnoozed means the project is parked until a wake time elapses.
	StateSnoozed
	// StateDropped is terminal for the run; the project is never revisited.
	StateDropped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWorking:
		return "working"
	case StateWatching:
		return "watching"
	case StateSnoozed:
		return "snoozed"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Capacity bounds for the per-project buffers.
const (
	// PendingCap bounds the held-output buffer; oldest entries drop first.
	PendingCap = 200
	// ActivityCap bounds the cross-cutting activity log.
	ActivityCap = 400
)

// Transition errors.
var (
	ErrNotIdle         = errors.New("project is not idle")
	ErrAlreadyWatching = errors.New("project is already watching")
	ErrDropped         = errors.New("project is dropped")
	ErrNoLoop          = errors.New("no active loop")
)

// Loop describes an auto-repeating goal attached to a project.
type Loop struct {
	Max  int
	Goal string
	Done int
}

// Activity is one timestamped cross-cutting event line.
type Activity struct {
	At   time.Time
	Line string
}

// Project is the unit the scheduler operates on.
type Project struct {
	// Dir is the project directory; Name is the display name; RepoTag is an
	// optional repository/branch tag for disambiguation. All three are
	// fixed at discovery.
	Dir     string
	Name    string
	RepoTag string

	mu          sync.Mutex
	mk          *marker.Marker
	state       State
	loop        *Loop
	snoozeUntil time.Time
	hold        bool
	pending     []string
	activity    []Activity

	// stopReason is pre-recorded by whichever caller deliberately kills the
	// in-flight process, so the exit handler classifies the outcome as a
	// cooperative stop rather than a crash. stopRequested makes the kill
	// request idempotent within one turn.
	stopReason    string
	stopRequested bool
	nextState     State

	agentKill func() error
	watchKill func() error
}

// New creates a project entity in the idle state.
func New(dir, name string, mk *marker.Marker) *Project {
	return &Project{Dir: dir, Name: name, mk: mk, state: StateIdle, nextState: StateIdle}
}

// State returns the current lifecycle state.
func (p *Project) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Marker returns the current in-memory marker.
func (p *Project) Marker() *marker.Marker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mk
}

// SetMarker swaps in a reconciled marker after a mutation persisted.
func (p *Project) SetMarker(mk *marker.Marker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mk = mk
}

// MarkerPath returns the on-disk marker location.
func (p *Project) MarkerPath() string {
	return p.Dir + "/" + marker.FileName
}

// BeginWork transitions idle -> working. Starting a turn is the only way to
// leave idle for work, which is what makes concurrent agent turns on one
// project impossible by construction.
func (p *Project) BeginWork(kill func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateDropped:
		return ErrDropped
	case StateIdle:
	default:
		return fmt.Errorf("%w: %s", ErrNotIdle, p.state)
	}
	p.state = StateWorking
	p.nextState = StateIdle
	p.stopReason = ""
	p.stopRequested = false
	p.agentKill = kill
	return nil
}

// BeginWatch transitions idle -> watching. A second watch on an
// already-watching project is a distinct no-op error for the caller.
func (p *Project) BeginWatch(kill func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateWatching:
		return ErrAlreadyWatching
	case StateDropped:
		return ErrDropped
	case StateIdle:
	default:
		return fmt.Errorf("%w: %s", ErrNotIdle, p.state)
	}
	p.state = StateWatching
	p.nextState = StateIdle
	p.stopReason = ""
	p.stopRequested = false
	p.watchKill = kill
	return nil
}

// FinishProcess is called by the exit handler when the in-flight subprocess
// terminates. It clears the process handle and moves the project to the
// state pre-recorded by whichever transition requested the stop (snoozed,
// dropped, or plain idle). It returns the new state.
func (p *Project) FinishProcess() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentKill = nil
	p.watchKill = nil
	if p.state == StateWorking || p.state == StateWatching {
		p.state = p.nextState
	}
	p.nextState = StateIdle
	return p.state
}

// RequestStop records reason and kills the in-flight subprocess exactly
// once. Later calls within the same turn are no-ops, so multiple input-wait
// signals in flight cannot issue multiple kill requests. It reports whether
// this call issued the kill.
func (p *Project) RequestStop(reason string) bool {
	p.mu.Lock()
	if p.stopRequested {
		p.mu.Unlock()
		return false
	}
	kill := p.agentKill
	if kill == nil {
		kill = p.watchKill
	}
	if kill == nil {
		p.mu.Unlock()
		return false
	}
	p.stopRequested = true
	p.stopReason = reason
	p.mu.Unlock()

	// Killing is a request, not a guarantee: the state transition happens
	// only when the exit notification arrives.
	_ = kill()
	return true
}

// StopReason returns the pre-recorded reason for a deliberate kill, empty
// when the process exited on its own.
func (p *Project) StopReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopReason
}

// Busy reports whether a subprocess is currently attached.
func (p *Project) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateWorking || p.state == StateWatching
}

// Snooze parks the project until wake. On an idle project the transition is
// immediate; on a busy project the in-flight process is stopped and the
// exit handler completes the transition.
func (p *Project) Snooze(wake time.Time) error {
	p.mu.Lock()
	switch p.state {
	case StateDropped:
		p.mu.Unlock()
		return ErrDropped
	case StateIdle:
		p.state = StateSnoozed
		p.snoozeUntil = wake
		p.mu.Unlock()
		return nil
	case StateSnoozed:
		p.snoozeUntil = wake
		p.mu.Unlock()
		return nil
	default:
		p.snoozeUntil = wake
		p.nextState = StateSnoozed
		p.mu.Unlock()
		p.RequestStop("snoozed")
		return nil
	}
}

// SnoozeUntil returns the wake time; meaningful only while snoozed.
func (p *Project) SnoozeUntil() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snoozeUntil
}

// Wake returns a snoozed project to idle. It reports whether the project
// transitioned; waking a non-snoozed project is a no-op.
func (p *Project) Wake() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateSnoozed {
		return false
	}
	p.state = StateIdle
	p.snoozeUntil = time.Time{}
	return true
}

// Drop marks the project terminal for this run. A busy project's process is
// stopped first and the exit handler lands on dropped.
func (p *Project) Drop() {
	p.mu.Lock()
	if p.state == StateWorking || p.state == StateWatching {
		p.nextState = StateDropped
		p.loop = nil
		p.mu.Unlock()
		p.RequestStop("dropped")
		return
	}
	p.state = StateDropped
	p.loop = nil
	p.mu.Unlock()
}

// StartLoop attaches an auto-repeating goal. The dispatcher issues the
// first turn; completions re-issue it until max or an error result.
func (p *Project) StartLoop(max int, goal string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDropped {
		return ErrDropped
	}
	p.loop = &Loop{Max: max, Goal: goal}
	return nil
}

// LoopState returns a copy of the active loop descriptor, or nil.
func (p *Project) LoopState() *Loop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loop == nil {
		return nil
	}
	cp := *p.loop
	return &cp
}

// LoopAdvance counts one successful loop turn and reports whether another
// iteration should run.
func (p *Project) LoopAdvance() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loop == nil {
		return false
	}
	p.loop.Done++
	if p.loop.Max > 0 && p.loop.Done >= p.loop.Max {
		p.loop = nil
		return false
	}
	return true
}

// ClearLoop detaches the loop without touching processes. Used when a turn
// ends in an error result.
func (p *Project) ClearLoop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = nil
}

// StopLoop tears down an active loop: the descriptor is cleared and any
// running process is stopped. On a project with no active loop it reports
// false and changes nothing.
func (p *Project) StopLoop() bool {
	p.mu.Lock()
	if p.loop == nil {
		p.mu.Unlock()
		return false
	}
	p.loop = nil
	busy := p.state == StateWorking
	p.mu.Unlock()
	if busy {
		p.RequestStop("loop stopped")
	}
	return true
}

// ResetSession generates a fresh continuity token and clears history, turn
// counter, and summary as one atomic unit. Only an idle project can reset;
// a running turn owns the session.
func (p *Project) ResetSession() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrNotIdle, p.state)
	}
	p.mk.Session.Reset()
	return nil
}

// HoldOutput starts buffering progress lines instead of printing them. Set
// the moment an input-wait condition is detected, so the terminal stops
// scrolling with agent chatter while the orchestrator is about to claim the
// user's attention for this project.
func (p *Project) HoldOutput() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hold = true
}

// Holding reports whether output is currently held.
func (p *Project) Holding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hold
}

// Emit routes one progress line. The line always lands in the activity log;
// while holding it is buffered (oldest dropped beyond PendingCap) and Emit
// reports false, telling the caller not to print it live.
func (p *Project) Emit(line string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendActivity(line)
	if !p.hold {
		return true
	}
	p.pending = append(p.pending, line)
	if len(p.pending) > PendingCap {
		p.pending = p.pending[len(p.pending)-PendingCap:]
	}
	return false
}

// RecordActivity appends a line to the activity log without routing it
// through the hold buffer.
func (p *Project) RecordActivity(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendActivity(line)
}

func (p *Project) appendActivity(line string) {
	p.activity = append(p.activity, Activity{At: time.Now(), Line: line})
	if len(p.activity) > ActivityCap {
		p.activity = p.activity[len(p.activity)-ActivityCap:]
	}
}

// FlushHeld clears the hold flag and returns the buffered lines in order.
// Called only at the start of the project's next user-initiated action,
// never on a timer.
func (p *Project) FlushHeld() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hold = false
	lines := p.pending
	p.pending = nil
	return lines
}

// ActivitySnapshot returns a copy of the bounded activity log.
func (p *Project) ActivitySnapshot() []Activity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Activity(nil), p.activity...)
}
