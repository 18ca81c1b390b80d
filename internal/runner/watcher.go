package runner

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/rotadev/rota/internal/logging"
	"github.com/rotadev/rota/internal/marker"
	"github.com/rotadev/rota/internal/project"
	"github.com/rotadev/rota/internal/stream"
)

// ErrNoWatchCommand is returned when a project's marker declares no watch
// command.
var ErrNoWatchCommand = errors.New("no watch command declared")

// Watch starts the project's declared watch command in the background. The
// project leaves the idle rotation until the process exits. A second watch
// on an already-watching project returns project.ErrAlreadyWatching.
func (r *Runner) Watch(ctx context.Context, p *project.Project) error {
	command := p.Marker().Watch
	if strings.TrimSpace(command) == "" {
		return ErrNoWatchCommand
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = p.Dir
	cmd.Env = r.environ()
	// The watcher is typically a long-running shell pipeline; a process
	// group lets a stop reach its children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	kill := func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
	if err := p.BeginWatch(kill); err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.resolveWatchSpawnFailure(p, err)
		return nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.resolveWatchSpawnFailure(p, err)
		return nil
	}
	if err := cmd.Start(); err != nil {
		r.resolveWatchSpawnFailure(p, err)
		return nil
	}

	log := r.log.WithProject(p.Name)
	log.Info("watcher started", "command", command)
	r.printer.Notice(p, "watching: %s", command)

	go r.consumeWatch(ctx, p, cmd, stdout, stderr, log)
	return nil
}

// consumeWatch surfaces every non-empty watcher line verbatim as tagged
// activity and classifies the exit.
func (r *Runner) consumeWatch(ctx context.Context, p *project.Project, cmd *exec.Cmd, stdout, stderr io.Reader, log *logging.Logger) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.consumeWatchPipe(p, stdout, "[watch] ")
	}()
	go func() {
		defer wg.Done()
		r.consumeWatchPipe(p, stderr, "[watch!] ")
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	reason := p.StopReason()
	p.FinishProcess()

	switch {
	case reason != "":
		p.RecordActivity("watcher stopped: " + reason)
		r.printer.Notice(p, "watcher stopped: %s", reason)
		log.Info("watcher stopped", "reason", reason)
	case waitErr == nil:
		p.RecordActivity("watcher ready")
		r.printer.Notice(p, "ready")
		log.Info("watcher ready")
		if action, ok := p.Marker().Hook(marker.HookWatchReady); ok {
			r.fireHook(ctx, p, marker.HookWatchReady, action)
		}
	default:
		p.RecordActivity("watcher exited: " + waitErr.Error())
		r.printer.Notice(p, "watcher exited: %v", waitErr)
		log.Warn("watcher exited", "error", waitErr)
	}

	r.finishWatch(p)
}

// consumeWatchPipe frames a watcher pipe into lines; there is no event
// classification, each non-empty line is surfaced verbatim under its tag.
func (r *Runner) consumeWatchPipe(p *project.Project, pipe io.Reader, tag string) {
	var buf stream.LineBuffer
	chunk := make([]byte, 4096)
	for {
		n, err := pipe.Read(chunk)
		if n > 0 {
			for _, line := range buf.Feed(string(chunk[:n])) {
				r.emitWatchLine(p, tag, line)
			}
		}
		if err != nil {
			if line, ok := buf.Flush(); ok {
				r.emitWatchLine(p, tag, line)
			}
			return
		}
	}
}

func (r *Runner) emitWatchLine(p *project.Project, tag, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	r.emit(p, tag+line)
}

func (r *Runner) resolveWatchSpawnFailure(p *project.Project, spawnErr error) {
	p.FinishProcess()
	p.RecordActivity("watcher failed to start: " + spawnErr.Error())
	r.printer.Notice(p, "watcher failed to start: %v", spawnErr)
	r.log.WithProject(p.Name).Error("watcher spawn failed", "error", spawnErr)
	r.finishWatch(p)
}

// finishWatch wakes the scheduler; watch completions carry no turn outcome.
func (r *Runner) finishWatch(p *project.Project) {
	r.mu.Lock()
	signal := r.signal
	r.mu.Unlock()
	if signal != nil {
		signal(p)
	}
}
