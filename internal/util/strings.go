// Package util provides shared utility functions used across the codebase.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateString truncates a string to maxLen runes, adding "..." if truncated.
// This is a simple truncation that does not account for ANSI escape codes or
// wide characters. For terminal output with styling, use TruncateANSI instead.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// TruncateANSI truncates a string to maxWidth visual columns, adding "..." if truncated.
// This function properly handles ANSI escape codes and wide characters, making it
// suitable for terminal output with styling.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate includes the tail in the final width calculation
	return ansi.Truncate(s, maxWidth, "...")
}

// CollapseSpace replaces every run of whitespace (including newlines and tabs)
// with a single space and trims leading/trailing whitespace. Used to flatten
// multi-line agent output into single-line previews.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Preview collapses whitespace and truncates to maxLen runes. This is the
// canonical shape for progress-line text previews.
func Preview(s string, maxLen int) string {
	return TruncateString(CollapseSpace(s), maxLen)
}
