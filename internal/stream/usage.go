package stream

import (
	"encoding/json"
	"strings"
)

// Usage accumulates the incremental result fields carried by stream events:
// a cumulative result string, a monetary cost, the agent-internal turn
// counter, and the conversation continuity token. Each field, when present
// on a record, overwrites the previously accumulated value, so the last
// value observed before stream end wins.
type Usage struct {
	Result    string
	Cost      float64
	Turns     int
	SessionID string
	IsError   bool

	// seen reports whether any usage-bearing field was observed at all,
	// distinguishing an empty stream from one that parsed but carried no
	// result fields.
	seen bool
}

// Observe folds one event's usage fields into the accumulator.
func (u *Usage) Observe(e *Event) {
	if result, ok := e.raw["result"].(string); ok {
		u.Result = result
		u.seen = true
	}
	if cost, ok := e.raw["total_cost_usd"].(float64); ok {
		u.Cost = cost
		u.seen = true
	}
	if turns, ok := e.raw["num_turns"].(float64); ok {
		u.Turns = int(turns)
		u.seen = true
	}
	if sid, ok := e.raw["session_id"].(string); ok && sid != "" {
		u.SessionID = sid
		u.seen = true
	}
	if isErr, ok := e.raw["is_error"].(bool); ok {
		u.IsError = isErr
	}
}

// Seen reports whether any usage field was observed on the stream.
func (u *Usage) Seen() bool {
	return u.seen
}

// ParseWholeOutput is the fallback parse path for agents that emit one JSON
// document instead of a line stream: it attempts to decode the entire
// captured stdout as a single object carrying the same result fields.
func ParseWholeOutput(stdout string) (*Usage, bool) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" || trimmed[0] != '{' {
		return nil, false
	}
	raw := map[string]any{}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, false
	}
	u := &Usage{}
	u.Observe(&Event{raw: raw})
	if !u.seen {
		return nil, false
	}
	return u, true
}
