package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotadev/rota/internal/checkpoint"
	"github.com/rotadev/rota/internal/config"
	"github.com/rotadev/rota/internal/display"
	"github.com/rotadev/rota/internal/logging"
	"github.com/rotadev/rota/internal/marker"
	"github.com/rotadev/rota/internal/project"
	"github.com/rotadev/rota/internal/runner"
	"github.com/rotadev/rota/internal/scheduler"
)

// stubAgent writes a stub agent binary that reports a fixed result.
func stubAgent(t *testing.T, cost string) string {
	t.Helper()
	body := "#!/bin/sh\n" +
		`echo '{"type":"result","result":"stub done","total_cost_usd":` + cost + `,"num_turns":1,"session_id":"sess-x"}'` + "\n"
	path := filepath.Join(t.TempDir(), "stub-agent")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

// hangingAgent writes a stub agent that never finishes on its own.
func hangingAgent(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hanging-agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newProject(t *testing.T, name string) *project.Project {
	t.Helper()
	dir := t.TempDir()
	mk, err := marker.Parse([]byte("{}"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := mk.Save(filepath.Join(dir, marker.FileName)); err != nil {
		t.Fatal(err)
	}
	return project.New(dir, name, mk)
}

// syncBuffer lets the test read terminal output while background
// completions are still writing.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newDispatcher(t *testing.T, binary, input string, projects ...*project.Project) (*Dispatcher, *scheduler.Scheduler, *syncBuffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.Binary = binary
	out := &syncBuffer{}
	printer := display.NewPrinter(out, display.RenderConfig{Preview: 240})
	run := runner.New(cfg, printer, checkpoint.New(cfg.Checkpoint, nil), logging.NopLogger())
	sched := scheduler.New(projects)
	d := New(sched, run, printer, strings.NewReader(input), cfg.Session.MaxHistory, logging.NopLogger())
	return d, sched, out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunWorkThenQuit(t *testing.T) {
	p := newProject(t, "alpha")
	d, _, out := newDispatcher(t, stubAgent(t, "0.25"), "do the thing\n/quit\n", p)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sess := p.Marker().Session
	if sess.Turn != 1 {
		t.Errorf("turn = %d, want 1", sess.Turn)
	}
	if len(sess.History) != 1 || sess.History[0].Input != "do the thing" {
		t.Errorf("history = %+v, want one record with the instruction", sess.History)
	}
	if !strings.Contains(out.String(), "stub done") {
		t.Errorf("output should report the result:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "cost this run: $0.2500") {
		t.Errorf("quit should report the accumulated run cost:\n%s", out.String())
	}
}

func TestBroadcastDispatchesAllIdleConcurrently(t *testing.T) {
	a, b, c := newProject(t, "a"), newProject(t, "b"), newProject(t, "c")
	d, sched, _ := newDispatcher(t, stubAgent(t, "0.25"), "", a, b, c)

	d.handle(context.Background(), a, Command{Kind: KindBroadcast, Arg: "build"})

	waitFor(t, "all broadcast turns", func() bool {
		for _, p := range []*project.Project{a, b, c} {
			if p.Marker().Session.Turn != 1 {
				return false
			}
		}
		return true
	})

	var total float64
	for _, p := range []*project.Project{a, b, c} {
		total += p.Marker().Session.TotalCost()
	}
	if total != 0.75 {
		t.Errorf("total cost = %v, want the sum of the three turns (0.75)", total)
	}

	waitFor(t, "rotation re-admission", func() bool { return len(sched.Idle()) == 3 })
}

func TestLoopRepeatsUntilMax(t *testing.T) {
	p := newProject(t, "alpha")
	d, _, _ := newDispatcher(t, stubAgent(t, "0.1"), "", p)

	d.handle(context.Background(), p, Command{Kind: KindLoop, N: 3, Arg: "keep going"})

	waitFor(t, "loop completion", func() bool {
		return p.Marker().Session.Turn == 3 && p.LoopState() == nil
	})
	if got := p.State(); got != project.StateIdle {
		t.Errorf("state after loop = %v, want idle", got)
	}
}

func TestLoopClearedOnFailedTurn(t *testing.T) {
	p := newProject(t, "alpha")
	d, _, _ := newDispatcher(t, "/nonexistent/agent", "", p)

	d.handle(context.Background(), p, Command{Kind: KindLoop, N: 5, Arg: "keep going"})

	waitFor(t, "loop teardown", func() bool {
		return p.LoopState() == nil && p.State() == project.StateIdle
	})
	if turn := p.Marker().Session.Turn; turn != 1 {
		t.Errorf("turn = %d, want exactly the one failed attempt", turn)
	}
}

func TestKillTearsDownActiveLoop(t *testing.T) {
	p := newProject(t, "alpha")
	d, sched, _ := newDispatcher(t, hangingAgent(t), "", p)

	d.handle(context.Background(), p, Command{Kind: KindLoop, N: 3, Arg: "keep going"})
	waitFor(t, "turn to start", func() bool {
		return p.State() == project.StateWorking
	})

	d.handle(context.Background(), p, Command{Kind: KindKill})
	waitFor(t, "kill to land", func() bool {
		return p.State() == project.StateIdle
	})

	if p.LoopState() != nil {
		t.Error("kill should tear down the staged loop")
	}
	if turn := p.Marker().Session.Turn; turn != 0 {
		t.Errorf("killed turn advanced the counter to %d", turn)
	}
	waitFor(t, "rotation re-admit", func() bool {
		return len(sched.Idle()) == 1
	})
}

func TestStopLoopWithoutLoopLeavesQueueUntouched(t *testing.T) {
	a, b := newProject(t, "a"), newProject(t, "b")
	d, sched, _ := newDispatcher(t, "unused", "", a, b)

	before := sched.Idle()
	next := d.handle(context.Background(), a, Command{Kind: KindStopLoop})
	if next != stepStay {
		t.Errorf("stop without loop should stay on the project")
	}
	after := sched.Idle()
	if len(before) != len(after) {
		t.Fatalf("queue length changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("queue order changed at %d", i)
		}
	}
}

func TestHeldOutputFlushesOnNextUserAction(t *testing.T) {
	p := newProject(t, "alpha")
	d, _, out := newDispatcher(t, stubAgent(t, "0.1"), "", p)

	p.HoldOutput()
	p.Emit("[agent] buffered one")
	p.Emit("[agent] buffered two")

	if strings.Contains(out.String(), "buffered one") {
		t.Fatal("held lines must not print before the next user action")
	}

	d.work(context.Background(), p, "continue")
	waitFor(t, "turn report", func() bool { return strings.Contains(out.String(), "done (turn") })

	text := out.String()
	if !strings.Contains(text, "2 held line(s)") {
		t.Errorf("flush should carry a count banner:\n%s", text)
	}
	bannerAt := strings.Index(text, "held line(s)")
	firstAt := strings.Index(text, "buffered one")
	secondAt := strings.Index(text, "buffered two")
	if firstAt < bannerAt || secondAt < firstAt {
		t.Errorf("held lines should print in order after the banner:\n%s", text)
	}
}

func TestSnoozeAndDropLeaveRotation(t *testing.T) {
	a, b := newProject(t, "a"), newProject(t, "b")
	d, sched, _ := newDispatcher(t, "unused", "", a, b)

	d.handle(context.Background(), a, Command{Kind: KindSnooze, Dur: time.Hour})
	if a.State() != project.StateSnoozed {
		t.Errorf("state = %v, want snoozed", a.State())
	}
	d.handle(context.Background(), b, Command{Kind: KindDrop})
	if b.State() != project.StateDropped {
		t.Errorf("state = %v, want dropped", b.State())
	}
	if len(sched.Idle()) != 0 {
		t.Errorf("idle rotation should be empty, got %d", len(sched.Idle()))
	}
}

func TestExhaustionEndsRun(t *testing.T) {
	p := newProject(t, "alpha")
	d, _, out := newDispatcher(t, "unused", "/drop\n", p)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "nothing left to rotate") {
		t.Errorf("exhaustion should be reported:\n%s", out.String())
	}
}

func TestMacroDispatch(t *testing.T) {
	p := newProject(t, "alpha")
	mk := p.Marker()
	mk.Macros = map[string]string{"ship": "run the release checklist"}

	d, _, _ := newDispatcher(t, stubAgent(t, "0.1"), "", p)
	d.handle(context.Background(), p, Command{Kind: KindMacro, Arg: "ship"})

	waitFor(t, "macro turn", func() bool { return p.Marker().Session.Turn == 1 })
	if in := p.Marker().Session.History[0].Input; in != "run the release checklist" {
		t.Errorf("macro should expand to its template, got %q", in)
	}
}
