package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotadev/rota/internal/marker"
)

// BuildPrompt assembles the agent prompt from the project marker and the
// user's instruction. The section order is fixed: orientation, project
// context, the three work-item lists, the prior-session summary, the
// metadata block, the literal instruction, and the closing instructions.
// Only non-reserved marker keys may appear in the metadata block; leaking
// session bookkeeping or hook declarations into the prompt is a defect.
func BuildPrompt(name, dir string, mk *marker.Marker, instruction string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are working on the project %q in the directory %s.\n", name, dir)

	if ctx := strings.TrimSpace(mk.Prompt); ctx != "" {
		b.WriteString("\nProject context:\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}

	b.WriteString("\nWork items:\n")
	fmt.Fprintf(&b, "todo: %s\n", renderList(mk.Todo))
	fmt.Fprintf(&b, "doing: %s\n", renderList(mk.Doing))
	fmt.Fprintf(&b, "done: %s\n", renderList(mk.Done))

	if summary := strings.TrimSpace(mk.Session.Summary); summary != "" {
		b.WriteString("\nPrevious session summary:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	if keys := mk.MetadataKeys(); len(keys) > 0 {
		b.WriteString("\nMetadata:\n")
		for _, key := range keys {
			fmt.Fprintf(&b, "%s: %s\n", key, renderMetaValue(mk.Extra[key]))
		}
	}

	b.WriteString("\nInstruction:\n")
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n")

	b.WriteString("\nWhen you are done, briefly summarize what you did. ")
	fmt.Fprintf(&b, "If the work items changed, update the todo, doing, and done lists in the %s file in the project directory.\n", marker.FileName)

	return b.String()
}

// renderList joins work items with a pipe separator, or an explicit "none"
// marker when the list is empty.
func renderList(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, " | ")
}

// renderMetaValue renders one metadata value for the prompt: lists joined
// by comma, objects serialized compactly, scalars verbatim.
func renderMetaValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return fmt.Sprintf("%t", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, renderMetaValue(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		if compact, err := json.Marshal(val); err == nil {
			return string(compact)
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
