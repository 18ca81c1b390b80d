// Package runner owns subprocess execution for agent turns, watchers, and
// hooks. It spawns the external agent with structured event-stream output,
// drives the stream parser over the live pipes, detects the input-wait
// condition, and resolves every process exit to a terminal outcome that the
// dispatch layer and the scheduler can act on.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rotadev/rota/internal/checkpoint"
	"github.com/rotadev/rota/internal/config"
	"github.com/rotadev/rota/internal/display"
	"github.com/rotadev/rota/internal/logging"
	"github.com/rotadev/rota/internal/marker"
	"github.com/rotadev/rota/internal/project"
	"github.com/rotadev/rota/internal/session"
	"github.com/rotadev/rota/internal/stream"
	"github.com/rotadev/rota/internal/util"
)

// StopReasonInputWait is the pre-recorded stop reason when the agent
// announces it is blocked awaiting a human response.
const StopReasonInputWait = "agent requested user input"

// credentialTarget is the environment variable the agent reads its API
// credential from when one is forwarded.
const credentialTarget = "ANTHROPIC_API_KEY"

// OutcomeKind classifies how an agent turn resolved.
type OutcomeKind int

const (
	// OutcomeDone is a real completed turn with a non-error result.
	OutcomeDone OutcomeKind = iota
	// OutcomeFailed is a real completed turn whose result is an error.
	OutcomeFailed
	// OutcomeStopped is a cooperative stop (input-wait, kill, snooze,
	// drop, loop-stop). No turn completed and no history was appended.
	OutcomeStopped
)

// Outcome is the terminal result of one agent turn.
type Outcome struct {
	Kind   OutcomeKind
	Result string
	Cost   float64
	Turns  int
	// Reason carries the pre-recorded stop reason for OutcomeStopped.
	Reason string
}

// Runner executes background subprocesses for projects. It is safe for
// concurrent use; each turn runs in its own goroutine.
type Runner struct {
	agent      config.AgentConfig
	maxHistory int
	preview    int

	printer *display.Printer
	keeper  *checkpoint.Keeper
	log     *logging.Logger

	mu         sync.Mutex
	signal     func(*project.Project)
	onTurnDone func(*project.Project, Outcome)
}

// New creates a runner from the global configuration.
func New(cfg *config.Config, printer *display.Printer, keeper *checkpoint.Keeper, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Runner{
		agent:      cfg.Agent,
		maxHistory: cfg.Session.MaxHistory,
		preview:    cfg.Display.PreviewChars,
		printer:    printer,
		keeper:     keeper,
		log:        log,
	}
}

// OnCompletion registers the callback invoked after every process exit,
// once the project has settled in its landing state. The scheduler uses it
// to re-admit the project and wake the idle wait.
func (r *Runner) OnCompletion(signal func(*project.Project)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signal = signal
}

// OnTurnDone registers a callback receiving every agent-turn outcome after
// the project has settled. Dispatch uses it to drive loop re-issue.
func (r *Runner) OnTurnDone(fn func(*project.Project, Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTurnDone = fn
}

// Work starts one agent turn for p in the background. It returns an error
// only when the project cannot transition into working; spawn failures are
// resolved asynchronously as a failed turn.
func (r *Runner) Work(ctx context.Context, p *project.Project, instruction string) error {
	return r.work(ctx, p, instruction, false)
}

func (r *Runner) work(ctx context.Context, p *project.Project, instruction string, fromHook bool) error {
	mk := p.Marker()
	prompt := BuildPrompt(p.Name, p.Dir, mk, instruction)
	resume := mk.Session.Resumable()
	token := mk.Session.EnsureID()

	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--permission-mode", r.agent.PermissionMode,
	}
	if r.agent.Model != "" {
		args = append(args, "--model", r.agent.Model)
	}
	if resume {
		args = append(args, "--resume", token)
	} else {
		args = append(args, "--session-id", token)
	}
	args = append(args, prompt)

	cmd := exec.Command(r.agent.Binary, args...)
	cmd.Dir = p.Dir
	cmd.Env = r.environ()
	// Agent helpers inherit the output pipes; a kill must reach the whole
	// group or the stream readers never see EOF.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	kill := func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
	if err := p.BeginWork(kill); err != nil {
		return err
	}

	r.keeper.PreTurn(ctx, p.Dir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.resolveSpawnFailure(p, instruction, err)
		return nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.resolveSpawnFailure(p, instruction, err)
		return nil
	}
	if err := cmd.Start(); err != nil {
		r.resolveSpawnFailure(p, instruction, err)
		return nil
	}

	log := r.log.WithProject(p.Name).WithSession(token)
	log.Info("agent turn started", "resume", resume, "from_hook", fromHook)

	go r.consumeTurn(ctx, p, cmd, stdout, stderr, instruction, fromHook, log)
	return nil
}

// consumeTurn drives both pipes to exhaustion, waits for the process, and
// resolves the outcome.
func (r *Runner) consumeTurn(ctx context.Context, p *project.Project, cmd *exec.Cmd, stdout, stderr io.Reader, instruction string, fromHook bool, log *logging.Logger) {
	usage := &stream.Usage{}
	var rawOut, rawErr strings.Builder

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.consumeAgentStdout(p, stdout, usage, &rawOut)
	}()
	go func() {
		defer wg.Done()
		r.consumeAgentStderr(p, stderr, &rawErr)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	r.resolveTurn(ctx, p, instruction, usage, rawOut.String(), rawErr.String(), waitErr, fromHook, log)
}

// consumeAgentStdout frames stdout into lines, decodes each as an event,
// accumulates usage fields, and routes progress lines through the
// output-holding policy. Malformed lines are dropped silently.
func (r *Runner) consumeAgentStdout(p *project.Project, pipe io.Reader, usage *stream.Usage, raw *strings.Builder) {
	var buf stream.LineBuffer
	chunk := make([]byte, 4096)
	for {
		n, err := pipe.Read(chunk)
		if n > 0 {
			text := string(chunk[:n])
			raw.WriteString(text)
			for _, line := range buf.Feed(text) {
				r.handleAgentLine(p, line, usage)
			}
		}
		if err != nil {
			if line, ok := buf.Flush(); ok {
				r.handleAgentLine(p, line, usage)
			}
			return
		}
	}
}

func (r *Runner) handleAgentLine(p *project.Project, line string, usage *stream.Usage) {
	ev, ok := stream.Decode(line)
	if !ok {
		return
	}
	usage.Observe(ev)
	if ev.WaitsForInput() {
		r.stopForInputWait(p)
	}
	for _, progress := range ev.ProgressLines(r.preview) {
		r.emit(p, progress)
	}
}

// consumeAgentStderr applies the same line framing to stderr. Lines are
// free text: they are captured for the fallback error result and checked
// against the wait phrases, since some agent builds announce the wait
// condition only as plain text on the error stream.
func (r *Runner) consumeAgentStderr(p *project.Project, pipe io.Reader, raw *strings.Builder) {
	var buf stream.LineBuffer
	chunk := make([]byte, 4096)
	for {
		n, err := pipe.Read(chunk)
		if n > 0 {
			text := string(chunk[:n])
			raw.WriteString(text)
			for _, line := range buf.Feed(text) {
				if stream.TextWaitsForInput(line) {
					r.stopForInputWait(p)
				}
			}
		}
		if err != nil {
			if line, ok := buf.Flush(); ok && stream.TextWaitsForInput(line) {
				r.stopForInputWait(p)
			}
			return
		}
	}
}

// stopForInputWait holds the project's output and requests termination.
// RequestStop is idempotent within a turn, so repeated wait signals in
// flight issue at most one kill.
func (r *Runner) stopForInputWait(p *project.Project) {
	p.HoldOutput()
	if p.RequestStop(StopReasonInputWait) {
		r.printer.Notice(p, "agent requested user input, stopping")
	}
}

// resolveTurn classifies the exit and persists its effects.
func (r *Runner) resolveTurn(ctx context.Context, p *project.Project, instruction string, usage *stream.Usage, rawOut, rawErr string, waitErr error, fromHook bool, log *logging.Logger) {
	if reason := p.StopReason(); reason != "" {
		// Deliberate stop. No turn completed: the counter does not
		// advance and no history record is appended.
		p.FinishProcess()
		p.RecordActivity("stopped: " + reason)
		if reason != StopReasonInputWait {
			r.printer.Notice(p, "stopped: %s", reason)
		}
		log.Info("agent turn stopped", "reason", reason)
		r.finish(p, Outcome{Kind: OutcomeStopped, Reason: reason})
		return
	}

	out := r.classifyResult(usage, rawOut, rawErr, waitErr)

	mk := p.Marker()
	if out.Kind != OutcomeFailed && usage.SessionID != "" {
		mk.Session.ID = usage.SessionID
	}
	mk.Session.Append(session.TurnRecord{
		At:     time.Now(),
		Result: out.Result,
		Cost:   out.Cost,
		Turns:  out.Turns,
		Input:  instruction,
	}, r.maxHistory)

	// The agent may have edited the marker during the turn; reload the
	// mutable fields from disk before persisting the session.
	merged, err := mk.Reconcile(p.MarkerPath(), r.maxHistory)
	if err != nil {
		log.Warn("marker persist failed", "error", err)
		r.printer.Notice(p, "warning: could not persist marker: %v", err)
	}
	p.SetMarker(merged)

	r.keeper.PostTurn(ctx, p.Dir, util.Preview(out.Result, 60))

	p.FinishProcess()
	switch out.Kind {
	case OutcomeFailed:
		p.RecordActivity("turn failed: " + util.Preview(out.Result, r.preview))
		r.printer.Notice(p, "turn failed (cost $%.4f): %s", out.Cost, util.Preview(out.Result, r.preview))
		log.Warn("agent turn failed", "cost", out.Cost, "result", util.Preview(out.Result, 200))
	default:
		p.RecordActivity("turn done: " + util.Preview(out.Result, r.preview))
		r.printer.Notice(p, "done (turn %d, $%.4f): %s", merged.Session.Turn, out.Cost, util.Preview(out.Result, r.preview))
		log.Info("agent turn done", "turn", merged.Session.Turn, "cost", out.Cost, "agent_turns", out.Turns)
	}

	// Hook-initiated turns do not fire the after-turn hook again; a marker
	// whose after hook is itself an agent turn would otherwise recurse
	// forever.
	if out.Kind == OutcomeDone && !fromHook {
		if action, ok := merged.Hook(marker.HookAfterTurn); ok {
			r.fireHook(ctx, p, marker.HookAfterTurn, action)
		}
	}

	r.finish(p, out)
}

// classifyResult determines the turn result from the best available source:
// incrementally parsed stream fields, then a whole-output JSON parse, then
// raw stdout. A non-zero exit, an agent-reported error, or the absence of
// any usable stdout yields an error-prefixed result built from stderr
// (preferred) or stdout.
func (r *Runner) classifyResult(usage *stream.Usage, rawOut, rawErr string, waitErr error) Outcome {
	u := usage
	if !u.Seen() {
		if parsed, ok := stream.ParseWholeOutput(rawOut); ok {
			// Fold into the shared accumulator so the caller also sees the
			// continuity token from the fallback parse.
			*usage = *parsed
		}
	}

	result := u.Result
	if result == "" {
		result = util.Preview(rawOut, session.ResultCap)
	}

	exitedClean := waitErr == nil
	usable := strings.TrimSpace(rawOut) != ""

	if !exitedClean || !usable || u.IsError {
		detail := strings.TrimSpace(rawErr)
		if detail == "" {
			detail = strings.TrimSpace(rawOut)
		}
		if detail == "" {
			detail = fmt.Sprintf("agent exited: %v", waitErr)
		}
		return Outcome{
			Kind:   OutcomeFailed,
			Result: session.ErrorResultPrefix + util.Preview(detail, session.ResultCap),
			Cost:   u.Cost,
			Turns:  u.Turns,
		}
	}

	return Outcome{Kind: OutcomeDone, Result: result, Cost: u.Cost, Turns: u.Turns}
}

// resolveSpawnFailure records a failed turn for a process that never ran.
// Unlike a cooperative stop this counts as one completed (failed) turn.
func (r *Runner) resolveSpawnFailure(p *project.Project, instruction string, spawnErr error) {
	result := session.ErrorResultPrefix + fmt.Sprintf("could not start agent: %v", spawnErr)

	mk := p.Marker()
	mk.Session.Append(session.TurnRecord{
		At:     time.Now(),
		Result: result,
		Input:  instruction,
	}, r.maxHistory)
	merged, err := mk.Reconcile(p.MarkerPath(), r.maxHistory)
	if err != nil {
		r.log.WithProject(p.Name).Warn("marker persist failed", "error", err)
	}
	p.SetMarker(merged)

	p.FinishProcess()
	p.RecordActivity("turn failed: " + result)
	r.printer.Notice(p, "turn failed: %v", spawnErr)
	r.log.WithProject(p.Name).Error("agent spawn failed", "error", spawnErr)

	r.finish(p, Outcome{Kind: OutcomeFailed, Result: result})
}

// finish delivers the outcome callback and then signals the scheduler. The
// order matters: a loop re-issue in the outcome callback must claim the
// project before the blocked idle-wait can surface it to the user.
func (r *Runner) finish(p *project.Project, out Outcome) {
	r.mu.Lock()
	signal := r.signal
	done := r.onTurnDone
	r.mu.Unlock()

	if done != nil {
		done(p, out)
	}
	if signal != nil {
		signal(p)
	}
}

// emit routes one progress line through the project's hold policy and
// prints it live when not held.
func (r *Runner) emit(p *project.Project, line string) {
	if p.Emit(line) {
		r.printer.ProjectLine(p, line)
	}
}

// environ builds the child environment, forwarding the configured
// credential variable to the agent's expected name.
func (r *Runner) environ() []string {
	env := os.Environ()
	if r.agent.CredentialEnv != "" {
		if cred := os.Getenv(r.agent.CredentialEnv); cred != "" {
			env = append(env, credentialTarget+"="+cred)
		}
	}
	return env
}
