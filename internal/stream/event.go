package stream

import (
	"encoding/json"
	"strings"

	"github.com/rotadev/rota/internal/util"
)

// DefaultPreviewBudget is the character budget for progress-line previews
// when no explicit budget is configured.
const DefaultPreviewBudget = 240

// Event is one decoded record from the agent's structured output stream.
type Event struct {
	Type    string
	Subtype string
	raw     map[string]any
}

// Decode parses one stream line as an event record. Malformed lines return
// ok=false and are dropped by callers; a bad middle line must never corrupt
// consumption of subsequent well-formed lines.
func Decode(line string) (*Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil, false
	}
	raw := map[string]any{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, false
	}
	ev := &Event{raw: raw}
	ev.Type, _ = raw["type"].(string)
	ev.Subtype, _ = raw["subtype"].(string)
	return ev, true
}

// ProgressLines classifies the event into zero or more progress lines:
//
//	[step] <name> <compact-input-preview>   tool invocation
//	[output] <preview>                      tool result (bare tag if empty)
//	[agent] <preview>                       assistant message fragment
//	[system] <preview>                      system notice (empty -> no line)
//	[error] <preview>                       error record
//
// Previews are whitespace-collapsed and truncated to budget characters.
func (e *Event) ProgressLines(budget int) []string {
	if budget <= 0 {
		budget = DefaultPreviewBudget
	}

	switch e.Type {
	case "assistant":
		return e.assistantLines(budget)
	case "user":
		return e.toolResultLines(budget)
	case "system":
		if text := util.Preview(e.systemText(), budget); text != "" {
			return []string{"[system] " + text}
		}
		return nil
	case "error":
		return []string{"[error] " + util.Preview(e.errorText(), budget)}
	case "result":
		if isErr, _ := e.raw["is_error"].(bool); isErr {
			return []string{"[error] " + util.Preview(e.resultText(), budget)}
		}
		return nil
	default:
		return nil
	}
}

func (e *Event) assistantLines(budget int) []string {
	var lines []string
	for _, block := range e.contentBlocks() {
		kind, _ := block["type"].(string)
		switch kind {
		case "tool_use":
			name, _ := block["name"].(string)
			if name == "" {
				name = "tool"
			}
			line := "[step] " + name
			if input, ok := block["input"]; ok {
				if compact, err := json.Marshal(input); err == nil && string(compact) != "{}" {
					line += " " + util.Preview(string(compact), budget)
				}
			}
			lines = append(lines, line)
		case "text":
			if text, _ := block["text"].(string); strings.TrimSpace(text) != "" {
				lines = append(lines, "[agent] "+util.Preview(text, budget))
			}
		}
	}
	return lines
}

func (e *Event) toolResultLines(budget int) []string {
	var lines []string
	for _, block := range e.contentBlocks() {
		if kind, _ := block["type"].(string); kind != "tool_result" {
			continue
		}
		if text := util.Preview(blockText(block["content"]), budget); text != "" {
			lines = append(lines, "[output] "+text)
		} else {
			lines = append(lines, "[output]")
		}
	}
	return lines
}

// contentBlocks returns message.content as a list of block maps.
func (e *Event) contentBlocks() []map[string]any {
	msg, ok := e.raw["message"].(map[string]any)
	if !ok {
		return nil
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return nil
	}
	blocks := make([]map[string]any, 0, len(content))
	for _, item := range content {
		if block, ok := item.(map[string]any); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// blockText flattens a tool_result content value, which may be a plain
// string or a list of text blocks.
func blockText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var parts []string
		for _, item := range val {
			if block, ok := item.(map[string]any); ok {
				if text, _ := block["text"].(string); text != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func (e *Event) systemText() string {
	if msg, ok := e.raw["message"].(string); ok && msg != "" {
		return msg
	}
	return e.Subtype
}

func (e *Event) errorText() string {
	if msg, ok := e.raw["message"].(string); ok && msg != "" {
		return msg
	}
	if errVal, ok := e.raw["error"].(map[string]any); ok {
		if msg, _ := errVal["message"].(string); msg != "" {
			return msg
		}
	}
	if msg, ok := e.raw["error"].(string); ok && msg != "" {
		return msg
	}
	return "unknown error"
}

func (e *Event) resultText() string {
	result, _ := e.raw["result"].(string)
	return result
}

// Text gathers every human-readable fragment of the event. Used for
// input-wait phrase matching.
func (e *Event) Text() string {
	var parts []string
	for _, block := range e.contentBlocks() {
		if text, _ := block["text"].(string); text != "" {
			parts = append(parts, text)
		}
		if kind, _ := block["type"].(string); kind == "tool_result" {
			if text := blockText(block["content"]); text != "" {
				parts = append(parts, text)
			}
		}
	}
	if msg, ok := e.raw["message"].(string); ok && msg != "" {
		parts = append(parts, msg)
	}
	if result := e.resultText(); result != "" {
		parts = append(parts, result)
	}
	return strings.Join(parts, "\n")
}

// Phrases announcing that the agent is blocked awaiting a human response.
// Matched case-insensitively as substrings against event text and against
// free-text stderr lines.
var waitPhrases = []string{
	"waiting for user input",
	"waiting for your input",
	"waiting for user response",
	"awaiting user input",
	"user input required",
	"input required to continue",
	"needs your input",
}

// WaitsForInput reports whether the event signals that the agent is blocked
// awaiting a human response: either its kind name carries wait/request/
// required semantics, or its text contains a recognized wait phrase.
func (e *Event) WaitsForInput() bool {
	kind := strings.ToLower(e.Type + " " + e.Subtype)
	if strings.Contains(kind, "wait") ||
		strings.Contains(kind, "request") ||
		strings.Contains(kind, "required") {
		return true
	}
	return TextWaitsForInput(e.Text())
}

// TextWaitsForInput applies the wait-phrase match to free text. Some agent
// builds announce the wait condition only as a plain line on stderr, so
// this check applies to unstructured lines as well as decoded records.
func TextWaitsForInput(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range waitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
