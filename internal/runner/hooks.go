package runner

import (
	"context"
	"os/exec"
	"strings"
	"syscall"

	"github.com/rotadev/rota/internal/project"
	"github.com/rotadev/rota/internal/stream"
	"github.com/rotadev/rota/internal/util"
)

// ShellHookPrefix marks a hook or macro value as a literal shell command.
// Any other non-empty value is an agent-turn instruction dispatched exactly
// as a user work request would be.
const ShellHookPrefix = "!"

// fireHook runs one resolved hook action. Hook failures surface as activity
// and log entries only; they are never fatal to the run.
func (r *Runner) fireHook(ctx context.Context, p *project.Project, name, action string) {
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	if rest, ok := strings.CutPrefix(action, ShellHookPrefix); ok {
		r.runShellHook(p, name, strings.TrimSpace(rest))
		return
	}
	if err := r.work(ctx, p, action, true); err != nil {
		p.RecordActivity("hook " + name + " skipped: " + err.Error())
		r.log.WithProject(p.Name).Warn("hook turn skipped", "hook", name, "error", err)
	}
}

// runShellHook executes a one-shot shell command in the project directory,
// surfacing combined stdout/stderr lines as tagged activity.
func (r *Runner) runShellHook(p *project.Project, name, command string) {
	if command == "" {
		return
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = p.Dir
	cmd.Env = r.environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		r.reportHookFailure(p, name, err)
		return
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		r.reportHookFailure(p, name, err)
		return
	}

	log := r.log.WithProject(p.Name)
	log.Info("hook command started", "hook", name, "command", command)

	go func() {
		var buf stream.LineBuffer
		chunk := make([]byte, 4096)
		for {
			n, readErr := pipe.Read(chunk)
			if n > 0 {
				for _, line := range buf.Feed(string(chunk[:n])) {
					r.emitHookLine(p, line)
				}
			}
			if readErr != nil {
				if line, ok := buf.Flush(); ok {
					r.emitHookLine(p, line)
				}
				break
			}
		}
		if waitErr := cmd.Wait(); waitErr != nil {
			r.reportHookFailure(p, name, waitErr)
			return
		}
		log.Info("hook command done", "hook", name)
	}()
}

func (r *Runner) emitHookLine(p *project.Project, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	r.emit(p, "[hook] "+util.Preview(line, r.preview))
}

func (r *Runner) reportHookFailure(p *project.Project, name string, err error) {
	p.RecordActivity("hook " + name + " failed: " + err.Error())
	r.printer.Notice(p, "hook %s failed: %v", name, err)
	r.log.WithProject(p.Name).Warn("hook failed", "hook", name, "error", err)
}
