// Package session defines the persisted per-project conversation state:
// the continuity token, completed-turn counter, rolling summary, and a
// bounded history of turn records. The session block lives inside the
// project marker file and is normalized on every load.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxHistory is the number of turn records retained when no explicit
// cap is configured.
const DefaultMaxHistory = 20

// ErrorResultPrefix marks a turn result produced by a failed agent run.
// History entries carrying this prefix do not count toward resume
// eligibility.
const ErrorResultPrefix = "[error] "

// ResultCap is the maximum length of a stored turn result in runes.
const ResultCap = 2000

// TurnRecord is one completed agent turn. Records are immutable once
// appended; they are only removed by bulk history eviction or RevertLast.
type TurnRecord struct {
	At     time.Time `json:"at"`
	Result string    `json:"result"`
	Cost   float64   `json:"cost"`
	Turns  int       `json:"turns"`
	Input  string    `json:"input"`
}

// IsError reports whether this record was produced by a failed turn.
func (r TurnRecord) IsError() bool {
	return strings.HasPrefix(r.Result, strings.TrimSpace(ErrorResultPrefix))
}

// Session is the conversation-continuity state for one project.
type Session struct {
	ID      string       `json:"id,omitempty"`
	Turn    int          `json:"turn"`
	Summary string       `json:"summary,omitempty"`
	History []TurnRecord `json:"history,omitempty"`
}

// Normalize repairs a session loaded from disk: a negative turn counter is
// clamped to zero and the history is trimmed to the most recent maxHistory
// entries in original relative order. A maxHistory <= 0 falls back to
// DefaultMaxHistory.
func (s *Session) Normalize(maxHistory int) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if s.Turn < 0 {
		s.Turn = 0
	}
	if len(s.History) > maxHistory {
		s.History = append([]TurnRecord(nil), s.History[len(s.History)-maxHistory:]...)
	}
}

// EnsureID assigns a fresh continuity token on first contact. It never
// replaces an existing token.
func (s *Session) EnsureID() string {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s.ID
}

// Append records one completed turn: the counter advances, the result is
// capped, the record joins the history tail, and the history is trimmed to
// maxHistory. A successful (non-error) result becomes the new summary.
func (s *Session) Append(rec TurnRecord, maxHistory int) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if runes := []rune(rec.Result); len(runes) > ResultCap {
		rec.Result = string(runes[:ResultCap])
	}
	s.Turn++
	s.History = append(s.History, rec)
	if len(s.History) > maxHistory {
		s.History = append([]TurnRecord(nil), s.History[len(s.History)-maxHistory:]...)
	}
	if !rec.IsError() {
		s.Summary = rec.Result
	}
}

// RevertLast pops exactly one record from the history and recomputes the
// summary from the new last record, clearing it when the history becomes
// empty. It reports whether a record was removed.
func (s *Session) RevertLast() bool {
	if len(s.History) == 0 {
		return false
	}
	s.History = s.History[:len(s.History)-1]
	if len(s.History) == 0 {
		s.Summary = ""
	} else {
		s.Summary = s.History[len(s.History)-1].Result
	}
	return true
}

// Reset discards the conversation as one atomic unit: a fresh continuity
// token is generated and history, turn counter, and summary are emptied
// together.
func (s *Session) Reset() {
	s.ID = uuid.NewString()
	s.Turn = 0
	s.Summary = ""
	s.History = nil
}

// Resumable reports whether a new turn should resume the prior conversation.
// A session is resumable only when at least one prior turn succeeded: a
// project that has only ever errored starts fresh rather than resuming a
// broken context. This is the single policy point for resume eligibility.
func (s *Session) Resumable() bool {
	if s.ID == "" {
		return false
	}
	for _, rec := range s.History {
		if !rec.IsError() {
			return true
		}
	}
	return false
}

// TotalCost sums the cost of every retained history record.
func (s *Session) TotalCost() float64 {
	var total float64
	for _, rec := range s.History {
		total += rec.Cost
	}
	return total
}
