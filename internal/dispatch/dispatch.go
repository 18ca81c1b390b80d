// Package dispatch is the interactive control loop: it pulls the current
// project from the scheduler, reads one command at a time, and maps each
// command onto the named state transitions of the project, scheduler, and
// runner. A single goroutine runs the loop; background completions touch
// the scheduler only through Admit and Signal.
package dispatch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rotadev/rota/internal/display"
	"github.com/rotadev/rota/internal/logging"
	"github.com/rotadev/rota/internal/project"
	"github.com/rotadev/rota/internal/runner"
	"github.com/rotadev/rota/internal/scheduler"
)

// step tells the prompt loop what to do after handling one command.
type step int

const (
	// stepStay re-prompts on the same project.
	stepStay step = iota
	// stepAdvance runs the next scheduling pass.
	stepAdvance
	// stepQuit ends the run.
	stepQuit
)

// Dispatcher drives the interactive loop.
type Dispatcher struct {
	sched      *scheduler.Scheduler
	run        *runner.Runner
	printer    *display.Printer
	log        *logging.Logger
	in         *bufio.Scanner
	maxHistory int

	ctx context.Context

	costMu  sync.Mutex
	runCost float64
}

// New wires a dispatcher to the scheduler and runner. Completion callbacks
// are registered here: every process exit re-admits its project and wakes
// the idle wait, and successful loop turns re-issue the loop goal.
func New(sched *scheduler.Scheduler, run *runner.Runner, printer *display.Printer, in io.Reader, maxHistory int, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NopLogger()
	}
	d := &Dispatcher{
		sched:      sched,
		run:        run,
		printer:    printer,
		log:        log,
		in:         bufio.NewScanner(in),
		maxHistory: maxHistory,
		ctx:        context.Background(),
	}
	run.OnCompletion(func(p *project.Project) {
		sched.Admit(p)
		sched.Signal()
	})
	run.OnTurnDone(d.handleTurnDone)
	return d
}

// Run is the main interactive loop. It returns nil on voluntary quit and on
// exhaustion (all projects dropped).
func (d *Dispatcher) Run(ctx context.Context) error {
	d.ctx = ctx
	for {
		p, err := d.sched.Next(ctx)
		if errors.Is(err, scheduler.ErrExhausted) {
			d.printer.Line("all projects dropped, nothing left to rotate")
			d.reportRunCost()
			return nil
		}
		if err != nil {
			return err
		}
		switch next, err := d.prompt(ctx, p); next {
		case stepQuit:
			d.reportRunCost()
			return err
		case stepAdvance:
		}
	}
}

// prompt reads commands for the current project until one moves the
// rotation forward or ends the run.
func (d *Dispatcher) prompt(ctx context.Context, p *project.Project) (step, error) {
	for {
		d.printer.Prompt(p)
		if !d.in.Scan() {
			d.quiesce()
			return stepQuit, d.in.Err()
		}

		cmd, err := Parse(d.in.Text())
		if err != nil {
			d.printer.Line("%v", err)
			continue
		}

		next := d.handle(ctx, p, cmd)
		if next != stepStay {
			if next == stepQuit {
				d.quiesce()
			}
			return next, nil
		}
		// The command may have moved the project out of idle after all
		// (e.g. a kill landed elsewhere); re-check before re-prompting.
		if p.State() != project.StateIdle {
			return stepAdvance, nil
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, p *project.Project, cmd Command) step {
	switch cmd.Kind {
	case KindWork:
		d.work(ctx, p, cmd.Arg)
		return stepAdvance

	case KindNext:
		d.sched.SkipN(p, 1)
		return stepAdvance

	case KindSkip:
		d.sched.SkipN(p, cmd.N)
		return stepAdvance

	case KindSnooze:
		wake := time.Now().Add(cmd.Dur)
		d.sched.Remove(p)
		if err := p.Snooze(wake); err != nil {
			d.printer.Notice(p, "snooze: %v", err)
			return stepStay
		}
		d.printer.Notice(p, "snoozed until %s", wake.Format("15:04:05"))
		return stepAdvance

	case KindDrop:
		d.sched.Remove(p)
		p.Drop()
		d.printer.Notice(p, "dropped for this run")
		return stepAdvance

	case KindWatch:
		if err := d.run.Watch(ctx, p); err != nil {
			d.printer.Notice(p, "watch: %v", err)
			return stepStay
		}
		d.sched.Remove(p)
		return stepAdvance

	case KindStopLoop:
		target := d.target(p, cmd.Arg)
		if target == nil {
			d.printer.Line("no project named %q", cmd.Arg)
			return stepStay
		}
		if !target.StopLoop() {
			d.printer.Notice(target, "no active loop")
			return stepStay
		}
		d.printer.Notice(target, "loop stopped")
		return stepStay

	case KindKill:
		target := d.target(p, cmd.Arg)
		if target == nil {
			d.printer.Line("no project named %q", cmd.Arg)
			return stepStay
		}
		// A kill takes any loop down with it; a staged goal left behind
		// would resurface on the next successful turn.
		if target.LoopState() != nil {
			target.ClearLoop()
			d.printer.Notice(target, "loop stopped")
		}
		if !target.RequestStop("killed") {
			d.printer.Notice(target, "nothing running")
			return stepStay
		}
		d.printer.Notice(target, "kill requested")
		return stepStay

	case KindLoop:
		if err := p.StartLoop(cmd.N, cmd.Arg); err != nil {
			d.printer.Notice(p, "loop: %v", err)
			return stepStay
		}
		d.printer.Notice(p, "looping up to %d turns", cmd.N)
		d.work(ctx, p, cmd.Arg)
		return stepAdvance

	case KindBroadcast:
		d.broadcast(ctx, cmd.Arg)
		return stepAdvance

	case KindMacro:
		tmpl, ok := p.Marker().Macro(cmd.Arg)
		if !ok {
			d.printer.Notice(p, "no macro named %q", cmd.Arg)
			return stepStay
		}
		d.work(ctx, p, tmpl)
		return stepAdvance

	case KindReset:
		if err := p.ResetSession(); err != nil {
			d.printer.Notice(p, "reset: %v", err)
			return stepStay
		}
		d.persist(p)
		d.printer.Notice(p, "fresh conversation started")
		return stepStay

	case KindRevert:
		mk := p.Marker()
		if !mk.Session.RevertLast() {
			d.printer.Notice(p, "no turn to revert")
			return stepStay
		}
		d.persist(p)
		d.printer.Notice(p, "last turn reverted (now %d records)", len(mk.Session.History))
		return stepStay

	case KindLog:
		d.printer.ActivityView(d.sched.Projects(), cmd.N)
		return stepStay

	case KindStatus:
		for _, q := range d.sched.Projects() {
			d.printer.Status(q)
		}
		d.printer.Line("cost this run: $%.4f", d.costTotal())
		return stepStay

	case KindHelp:
		d.printer.Line("%s", helpText)
		return stepStay

	case KindQuit:
		return stepQuit

	default:
		return stepStay
	}
}

// work starts one user-initiated agent turn: held output flushes first,
// then the project leaves the rotation and the turn spawns.
func (d *Dispatcher) work(ctx context.Context, p *project.Project, instruction string) {
	d.flushHeld(p)
	d.sched.Remove(p)
	if err := d.run.Work(ctx, p, instruction); err != nil {
		d.printer.Notice(p, "work: %v", err)
		d.sched.Admit(p)
	}
}

// broadcast dispatches the same instruction to every currently idle project
// at once and returns without waiting for any of them.
func (d *Dispatcher) broadcast(ctx context.Context, instruction string) {
	idle := d.sched.Idle()
	if len(idle) == 0 {
		d.printer.Line("no idle projects to broadcast to")
		return
	}
	d.printer.Line("broadcasting to %d project(s)", len(idle))
	for _, p := range idle {
		d.work(ctx, p, instruction)
	}
}

// handleTurnDone runs on the completion goroutine after every agent turn.
// Successful loop turns re-issue the loop goal; failed turns tear the loop
// down.
func (d *Dispatcher) handleTurnDone(p *project.Project, out runner.Outcome) {
	d.costMu.Lock()
	d.runCost += out.Cost
	d.costMu.Unlock()

	switch out.Kind {
	case runner.OutcomeDone:
		loop := p.LoopState()
		if loop == nil {
			return
		}
		if p.LoopAdvance() {
			d.work(d.ctx, p, loop.Goal)
			return
		}
		d.printer.Notice(p, "loop finished after %d turn(s)", loop.Done+1)
	case runner.OutcomeFailed:
		if p.LoopState() != nil {
			p.ClearLoop()
			d.printer.Notice(p, "loop cleared after failed turn")
		}
	}
}

// flushHeld prints any output held since an input-wait, with its count
// banner, at the start of a user-initiated action.
func (d *Dispatcher) flushHeld(p *project.Project) {
	if lines := p.FlushHeld(); len(lines) > 0 {
		d.printer.HeldBanner(p, lines)
	}
}

// persist writes the project's session back through the marker reconcile
// path.
func (d *Dispatcher) persist(p *project.Project) {
	mk := p.Marker()
	merged, err := mk.Reconcile(p.MarkerPath(), d.maxHistory)
	if err != nil {
		d.printer.Notice(p, "warning: could not persist marker: %v", err)
		d.log.WithProject(p.Name).Warn("marker persist failed", "error", err)
	}
	p.SetMarker(merged)
}

// target resolves an optional project-name argument, defaulting to the
// current project.
func (d *Dispatcher) target(current *project.Project, name string) *project.Project {
	if name == "" {
		return current
	}
	for _, p := range d.sched.Projects() {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (d *Dispatcher) costTotal() float64 {
	d.costMu.Lock()
	defer d.costMu.Unlock()
	return d.runCost
}

// reportRunCost prints the cost accumulated across every turn of this run.
// Nothing is printed when no turn spent anything.
func (d *Dispatcher) reportRunCost() {
	if total := d.costTotal(); total > 0 {
		d.printer.Line("cost this run: $%.4f", total)
	}
}

// quiesce stops every running process on the way out.
func (d *Dispatcher) quiesce() {
	for _, p := range d.sched.Projects() {
		if p.Busy() {
			p.RequestStop("quitting")
		}
	}
}
