package session

import (
	"fmt"
	"testing"
	"time"
)

func record(result string) TurnRecord {
	return TurnRecord{At: time.Now(), Result: result}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		session     Session
		maxHistory  int
		wantTurn    int
		wantHistory int
	}{
		{
			name:        "negative turn clamped",
			session:     Session{Turn: -3},
			maxHistory:  20,
			wantTurn:    0,
			wantHistory: 0,
		},
		{
			name:        "history within cap untouched",
			session:     Session{Turn: 5, History: make([]TurnRecord, 5)},
			maxHistory:  20,
			wantTurn:    5,
			wantHistory: 5,
		},
		{
			name:        "history over cap trimmed",
			session:     Session{Turn: 30, History: make([]TurnRecord, 30)},
			maxHistory:  20,
			wantTurn:    30,
			wantHistory: 20,
		},
		{
			name:        "zero cap uses default",
			session:     Session{Turn: 30, History: make([]TurnRecord, 30)},
			maxHistory:  0,
			wantTurn:    30,
			wantHistory: DefaultMaxHistory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.session.Normalize(tt.maxHistory)
			if tt.session.Turn != tt.wantTurn {
				t.Errorf("Turn = %d, want %d", tt.session.Turn, tt.wantTurn)
			}
			if len(tt.session.History) != tt.wantHistory {
				t.Errorf("history length = %d, want %d", len(tt.session.History), tt.wantHistory)
			}
		})
	}
}

func TestNormalizeKeepsMostRecentInOrder(t *testing.T) {
	var s Session
	s.Turn = -3
	for i := 0; i < 30; i++ {
		s.History = append(s.History, record(fmt.Sprintf("result %d", i)))
	}

	s.Normalize(0)

	if s.Turn != 0 {
		t.Errorf("Turn = %d, want 0", s.Turn)
	}
	if len(s.History) != 20 {
		t.Fatalf("history length = %d, want 20", len(s.History))
	}
	// Items 10..29 of the input, in order.
	for i, rec := range s.History {
		want := fmt.Sprintf("result %d", i+10)
		if rec.Result != want {
			t.Errorf("history[%d].Result = %q, want %q", i, rec.Result, want)
		}
	}
}

func TestAppendAdvancesTurnAndTrims(t *testing.T) {
	var s Session
	for i := 0; i < 25; i++ {
		s.Append(record(fmt.Sprintf("turn %d", i)), 20)
	}

	if s.Turn != 25 {
		t.Errorf("Turn = %d, want 25", s.Turn)
	}
	if len(s.History) != 20 {
		t.Errorf("history length = %d, want 20", len(s.History))
	}
	if s.History[0].Result != "turn 5" {
		t.Errorf("oldest retained = %q, want %q", s.History[0].Result, "turn 5")
	}
	if s.Summary != "turn 24" {
		t.Errorf("Summary = %q, want %q", s.Summary, "turn 24")
	}
}

func TestAppendErrorDoesNotUpdateSummary(t *testing.T) {
	var s Session
	s.Append(record("all good"), 20)
	s.Append(record(ErrorResultPrefix+"exit status 1"), 20)

	if s.Summary != "all good" {
		t.Errorf("Summary = %q, want the last successful result", s.Summary)
	}
	if s.Turn != 2 {
		t.Errorf("Turn = %d, want 2: a failed turn still counts", s.Turn)
	}
}

func TestAppendCapsResult(t *testing.T) {
	var s Session
	long := make([]rune, ResultCap+500)
	for i := range long {
		long[i] = 'x'
	}
	s.Append(record(string(long)), 20)

	if got := len([]rune(s.History[0].Result)); got != ResultCap {
		t.Errorf("stored result length = %d, want %d", got, ResultCap)
	}
}

func TestRevertLast(t *testing.T) {
	var s Session
	if s.RevertLast() {
		t.Error("RevertLast() on empty history should report false")
	}

	s.Append(record("first"), 20)
	s.Append(record("second"), 20)

	if !s.RevertLast() {
		t.Fatal("RevertLast() should report true")
	}
	if len(s.History) != 1 {
		t.Errorf("history length = %d, want 1", len(s.History))
	}
	if s.Summary != "first" {
		t.Errorf("Summary = %q, want %q", s.Summary, "first")
	}

	if !s.RevertLast() {
		t.Fatal("RevertLast() should report true")
	}
	if s.Summary != "" {
		t.Errorf("Summary = %q, want empty after history drained", s.Summary)
	}
}

func TestReset(t *testing.T) {
	var s Session
	s.EnsureID()
	old := s.ID
	s.Append(record("work"), 20)

	s.Reset()

	if s.ID == "" || s.ID == old {
		t.Errorf("Reset() must generate a fresh token, got %q (old %q)", s.ID, old)
	}
	if s.Turn != 0 || s.Summary != "" || len(s.History) != 0 {
		t.Errorf("Reset() must clear turn/summary/history atomically: %+v", s)
	}
}

func TestEnsureIDAssignsOnce(t *testing.T) {
	var s Session
	first := s.EnsureID()
	if first == "" {
		t.Fatal("EnsureID() returned empty token")
	}
	if second := s.EnsureID(); second != first {
		t.Errorf("EnsureID() replaced an existing token: %q -> %q", first, second)
	}
}

func TestResumable(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{name: "no token", session: Session{}, want: false},
		{
			name:    "token but empty history",
			session: Session{ID: "tok"},
			want:    false,
		},
		{
			name:    "only errored turns",
			session: Session{ID: "tok", History: []TurnRecord{record(ErrorResultPrefix + "boom")}},
			want:    false,
		},
		{
			name: "one successful turn among errors",
			session: Session{ID: "tok", History: []TurnRecord{
				record(ErrorResultPrefix + "boom"),
				record("fixed it"),
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Resumable(); got != tt.want {
				t.Errorf("Resumable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTotalCost(t *testing.T) {
	s := Session{History: []TurnRecord{
		{Cost: 0.25},
		{Cost: 0.5},
		{Cost: 0},
	}}
	if got := s.TotalCost(); got != 0.75 {
		t.Errorf("TotalCost() = %v, want 0.75", got)
	}
}
