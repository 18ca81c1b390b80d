// Package marker reads and writes the per-project marker file, the durable
// source of truth for a managed project. The marker is JSON with a closed
// set of reserved keys; every other top-level key is arbitrary metadata that
// is preserved verbatim and surfaced in displays and prompts.
//
// There is no cross-process locking. The external agent may edit the marker
// while a turn is running, so mutations reconcile against a fresh read of
// the file instead of overwriting blind.
package marker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotadev/rota/internal/session"
)

// FileName is the marker file that marks a directory as a managed project.
const FileName = ".rota.json"

// ErrLocked is returned when a marker carries lock: true. Locked projects
// are excluded from participation entirely.
var ErrLocked = errors.New("project is locked")

// Reserved top-level keys. Everything else is pass-through metadata.
const (
	KeyLock    = "lock"
	KeyPrompt  = "prompt"
	KeyTodo    = "todo"
	KeyDoing   = "doing"
	KeyDone    = "done"
	KeyMacros  = "macros"
	KeyWatch   = "watch"
	KeyHooks   = "hooks"
	KeySession = "session"
)

var reserved = map[string]struct{}{
	KeyLock:    {},
	KeyPrompt:  {},
	KeyTodo:    {},
	KeyDoing:   {},
	KeyDone:    {},
	KeyMacros:  {},
	KeyWatch:   {},
	KeyHooks:   {},
	KeySession: {},
}

// IsReserved reports whether key belongs to the closed reserved set.
func IsReserved(key string) bool {
	_, ok := reserved[key]
	return ok
}

// Hook names recognized in the hooks map.
const (
	// HookAfterTurn fires after each completed agent turn.
	HookAfterTurn = "after"
	// HookWatchReady fires when a watcher exits cleanly.
	HookWatchReady = "ready"
)

// Marker is the typed view of a project marker file. Unknown top-level keys
// live in Extra and round-trip unchanged.
type Marker struct {
	Lock    bool
	Prompt  string
	Todo    []string
	Doing   []string
	Done    []string
	Macros  map[string]string
	Watch   string
	Hooks   map[string]string
	Session session.Session
	Extra   map[string]any
}

// Load reads and normalizes the marker at path. A marker with lock: true
// returns ErrLocked; structurally invalid JSON returns an error that callers
// report as a per-project diagnostic and skip.
func Load(path string, maxHistory int) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read marker: %w", err)
	}
	m, err := Parse(data, maxHistory)
	if err != nil {
		return nil, fmt.Errorf("marker %s: %w", path, err)
	}
	if m.Lock {
		return nil, ErrLocked
	}
	return m, nil
}

// Parse decodes marker JSON and normalizes every field. Any reserved field
// with a malformed value is coerced to its zero shape rather than failing;
// only structurally invalid JSON is an error.
func Parse(data []byte, maxHistory int) (*Marker, error) {
	raw := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid structure: %w", err)
		}
	}

	m := &Marker{
		Lock:   asBool(raw[KeyLock]),
		Prompt: asString(raw[KeyPrompt]),
		Todo:   AsList(raw[KeyTodo]),
		Doing:  AsList(raw[KeyDoing]),
		Done:   AsList(raw[KeyDone]),
		Macros: asStringMap(raw[KeyMacros]),
		Watch:  asString(raw[KeyWatch]),
		Hooks:  asStringMap(raw[KeyHooks]),
		Extra:  map[string]any{},
	}

	if sess, ok := raw[KeySession]; ok {
		// Round-trip through JSON so the session block tolerates partial or
		// loosely typed content the same way every other field does.
		if blob, err := json.Marshal(sess); err == nil {
			_ = json.Unmarshal(blob, &m.Session)
		}
	}
	m.Session.Normalize(maxHistory)

	for key, value := range raw {
		if !IsReserved(key) {
			m.Extra[key] = value
		}
	}

	return m, nil
}

// Save writes the marker atomically (write-to-temp-then-rename) so a crash
// mid-write never leaves a truncated marker behind.
func (m *Marker) Save(path string) error {
	out := map[string]any{}
	for key, value := range m.Extra {
		if !IsReserved(key) {
			out[key] = value
		}
	}
	if m.Lock {
		out[KeyLock] = true
	}
	if m.Prompt != "" {
		out[KeyPrompt] = m.Prompt
	}
	out[KeyTodo] = emptyIfNil(m.Todo)
	out[KeyDoing] = emptyIfNil(m.Doing)
	out[KeyDone] = emptyIfNil(m.Done)
	if len(m.Macros) > 0 {
		out[KeyMacros] = m.Macros
	}
	if m.Watch != "" {
		out[KeyWatch] = m.Watch
	}
	if len(m.Hooks) > 0 {
		out[KeyHooks] = m.Hooks
	}
	out[KeySession] = m.Session

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	data = append(data, '\n')

	return atomicWriteFile(path, data, 0644)
}

// Reconcile merges this marker's session into a fresh read of the file and
// persists the result. The agent may have edited work-item lists, the
// prompt, or metadata during a turn; those on-disk values win, while the
// in-memory session (which only this process mutates) is preserved. The
// returned marker is the merged view. When the file cannot be re-read, the
// in-memory copy is saved as-is.
func (m *Marker) Reconcile(path string, maxHistory int) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return m, m.Save(path)
	}
	fresh, err := Parse(data, maxHistory)
	if err != nil {
		return m, m.Save(path)
	}
	fresh.Session = m.Session
	return fresh, fresh.Save(path)
}

// MetadataKeys returns the non-reserved keys of the marker in sorted order.
func (m *Marker) MetadataKeys() []string {
	keys := make([]string, 0, len(m.Extra))
	for key := range m.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Macro resolves a named reusable instruction template. The second return
// is false when the macro is not declared.
func (m *Marker) Macro(name string) (string, bool) {
	tmpl, ok := m.Macros[name]
	return tmpl, ok && tmpl != ""
}

// Hook resolves a named lifecycle hook action. Empty values are inactive.
func (m *Marker) Hook(name string) (string, bool) {
	action, ok := m.Hooks[name]
	return action, ok && action != ""
}

// AsList coerces a loosely typed marker value into a string list:
// absent, null, or empty string yield an empty list; a bare scalar becomes a
// one-element list; list elements are mapped to strings element-wise.
func AsList(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{}
	case string:
		if val == "" {
			return []string{}
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, asScalarString(item))
		}
		return out
	case []string:
		return append([]string{}, val...)
	default:
		return []string{asScalarString(val)}
	}
}

func asScalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; render integers without a decimal.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := value.(string); ok {
			out[key] = s
		}
	}
	return out
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// atomicWriteFile writes data to a temporary file in the target directory
// and renames it into place.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".marker-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
