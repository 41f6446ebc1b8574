package main

import "github.com/charmbracelet/lipgloss"

var (
	accent      = lipgloss.Color("#8BC34A")
	destructive = lipgloss.Color("#e53935")
	muted       = lipgloss.Color("#6b7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	okStyle     = lipgloss.NewStyle().Foreground(accent).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(destructive)
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

// row renders cells padded to widths. Cells past the last width are appended as they are.
func row(widths []int, cells ...string) string {
	out := ""
	for i, c := range cells {
		if i >= len(widths) {
			out += c
			continue
		}
		out += cellStyle.Width(widths[i] + 2).Render(c)
	}
	return out
}
