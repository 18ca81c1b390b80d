// Package stream decodes the newline-delimited event stream emitted by the
// agent subprocess. It frames raw chunks into complete lines regardless of
// where chunk boundaries fall, decodes each line as a JSON event record,
// classifies records into human-readable progress lines, and detects the
// input-wait condition that signals the agent is blocked on a human.
package stream

import "strings"

// LineBuffer reassembles complete newline-terminated lines from arbitrary
// chunks. State carried across calls is the unconsumed partial line. It is
// not safe for concurrent use; each subprocess pipe owns one buffer.
type LineBuffer struct {
	partial strings.Builder
}

// Feed consumes one chunk and returns every complete line it closes, in
// order, without trailing newlines. Content after the final newline stays
// buffered for the next call.
func (b *LineBuffer) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}

	var lines []string
	for {
		idx := strings.IndexByte(chunk, '\n')
		if idx < 0 {
			b.partial.WriteString(chunk)
			return lines
		}
		b.partial.WriteString(chunk[:idx])
		line := b.partial.String()
		b.partial.Reset()
		lines = append(lines, strings.TrimSuffix(line, "\r"))
		chunk = chunk[idx+1:]
	}
}

// Flush emits whatever is left in the partial buffer at stream end.
// The second return reports whether there was buffered content.
func (b *LineBuffer) Flush() (string, bool) {
	if b.partial.Len() == 0 {
		return "", false
	}
	line := b.partial.String()
	b.partial.Reset()
	return line, true
}
