package dispatch

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Command
		wantErr bool
	}{
		{"plain text is work", "fix the tests", Command{Kind: KindWork, Arg: "fix the tests"}, false},
		{"empty line is next", "   ", Command{Kind: KindNext}, false},
		{"skip default", "/skip", Command{Kind: KindSkip, N: 1}, false},
		{"skip n", "/skip 3", Command{Kind: KindSkip, N: 3}, false},
		{"skip junk", "/skip x", Command{}, true},
		{"snooze default", "/snooze", Command{Kind: KindSnooze, Dur: 10 * time.Minute}, false},
		{"snooze duration", "/snooze 45m", Command{Kind: KindSnooze, Dur: 45 * time.Minute}, false},
		{"snooze junk", "/snooze soon", Command{}, true},
		{"drop", "/drop", Command{Kind: KindDrop}, false},
		{"watch", "/watch", Command{Kind: KindWatch}, false},
		{"stop", "/stop", Command{Kind: KindStopLoop}, false},
		{"stop named", "/stop other", Command{Kind: KindStopLoop, Arg: "other"}, false},
		{"kill named", "/kill svc", Command{Kind: KindKill, Arg: "svc"}, false},
		{"loop with count", "/loop 3 make tests pass", Command{Kind: KindLoop, N: 3, Arg: "make tests pass"}, false},
		{"loop default count", "/loop make tests pass", Command{Kind: KindLoop, N: DefaultLoopTurns, Arg: "make tests pass"}, false},
		{"loop count only", "/loop 3", Command{}, true},
		{"broadcast", "/all update deps", Command{Kind: KindBroadcast, Arg: "update deps"}, false},
		{"broadcast empty", "/all", Command{}, true},
		{"macro", "/run ship", Command{Kind: KindMacro, Arg: "ship"}, false},
		{"reset", "/reset", Command{Kind: KindReset}, false},
		{"revert", "/revert", Command{Kind: KindRevert}, false},
		{"log default", "/log", Command{Kind: KindLog, N: 20}, false},
		{"log n", "/log 50", Command{Kind: KindLog, N: 50}, false},
		{"status", "/status", Command{Kind: KindStatus}, false},
		{"quit alias", "/q", Command{Kind: KindQuit}, false},
		{"unknown", "/dance", Command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected an error, got %+v", tt.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}
