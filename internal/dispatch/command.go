package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies one interactive command.
type Kind int

const (
	// KindWork dispatches the line verbatim as an agent-turn instruction.
	KindWork Kind = iota
	// KindNext moves on to the next project without doing anything.
	KindNext
	KindSkip
	KindSnooze
	KindDrop
	KindWatch
	KindStopLoop
	KindKill
	KindLoop
	KindBroadcast
	KindMacro
	KindReset
	KindRevert
	KindLog
	KindStatus
	KindHelp
	KindQuit
)

// Defaults applied when a command omits its argument.
const (
	DefaultSkip      = 1
	DefaultSnooze    = 10 * time.Minute
	DefaultLogLines  = 20
	DefaultLoopTurns = 5
)

// Command is one parsed line of user input.
type Command struct {
	Kind Kind
	// Arg carries the instruction text, macro name, or target project name
	// depending on Kind.
	Arg string
	// N carries the skip distance, log line count, or loop max.
	N int
	// Dur carries the snooze duration.
	Dur time.Duration
}

// Parse interprets one line of user input. Anything not starting with a
// slash is a work instruction; an empty line moves to the next project.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Kind: KindNext}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: KindWork, Arg: line}, nil
	}

	fields := strings.Fields(line)
	name := fields[0]
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, name))

	switch name {
	case "/skip":
		n := DefaultSkip
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed < 1 {
				return Command{}, fmt.Errorf("usage: /skip [n]")
			}
			n = parsed
		}
		return Command{Kind: KindSkip, N: n}, nil

	case "/snooze":
		d := DefaultSnooze
		if len(args) > 0 {
			parsed, err := time.ParseDuration(args[0])
			if err != nil || parsed <= 0 {
				return Command{}, fmt.Errorf("usage: /snooze [duration], e.g. /snooze 30m")
			}
			d = parsed
		}
		return Command{Kind: KindSnooze, Dur: d}, nil

	case "/drop":
		return Command{Kind: KindDrop}, nil

	case "/watch":
		return Command{Kind: KindWatch}, nil

	case "/stop":
		return Command{Kind: KindStopLoop, Arg: firstOrEmpty(args)}, nil

	case "/kill":
		return Command{Kind: KindKill, Arg: firstOrEmpty(args)}, nil

	case "/loop":
		if len(args) == 0 {
			return Command{}, fmt.Errorf("usage: /loop [n] <goal>")
		}
		n := DefaultLoopTurns
		goal := rest
		if parsed, err := strconv.Atoi(args[0]); err == nil {
			if parsed < 1 || len(args) < 2 {
				return Command{}, fmt.Errorf("usage: /loop [n] <goal>")
			}
			n = parsed
			goal = strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		}
		return Command{Kind: KindLoop, N: n, Arg: goal}, nil

	case "/all":
		if rest == "" {
			return Command{}, fmt.Errorf("usage: /all <instruction>")
		}
		return Command{Kind: KindBroadcast, Arg: rest}, nil

	case "/run":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: /run <macro>")
		}
		return Command{Kind: KindMacro, Arg: args[0]}, nil

	case "/reset":
		return Command{Kind: KindReset}, nil

	case "/revert":
		return Command{Kind: KindRevert}, nil

	case "/log":
		n := DefaultLogLines
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed < 1 {
				return Command{}, fmt.Errorf("usage: /log [n]")
			}
			n = parsed
		}
		return Command{Kind: KindLog, N: n}, nil

	case "/status":
		return Command{Kind: KindStatus}, nil

	case "/help", "/?":
		return Command{Kind: KindHelp}, nil

	case "/quit", "/q", "/exit":
		return Command{Kind: KindQuit}, nil

	default:
		return Command{}, fmt.Errorf("unknown command %s, try /help", name)
	}
}

func firstOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

const helpText = `commands:
  <text>            run an agent turn with <text> as the instruction
  <enter>           move on to the next project
  /skip [n]         move this project behind the nth idle project
  /snooze [dur]     park this project (default 10m)
  /drop             remove this project for the rest of the run
  /watch            start the project's declared watch command
  /stop [name]      stop an active loop (default: this project)
  /kill [name]      kill the running process (default: this project)
  /loop [n] <goal>  repeat <goal> until done n times or a turn fails
  /all <text>       dispatch <text> to every idle project at once
  /run <macro>      run a named instruction template from the marker
  /reset            start a fresh conversation for this project
  /revert           forget the most recent turn record
  /log [n]          show recent activity across all projects
  /status           show every project's state, turns, and cost
  /help             this text
  /quit             stop everything and exit`
