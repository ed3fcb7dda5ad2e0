package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Panel renders content in a rounded box with title set into the top
// border. width is the outer width; height 0 sizes to the content. Titles
// wider than the box are cut.
func Panel(title, content string, width, height int, focused bool) string {
	borderColor := Subtle
	if focused {
		borderColor = Primary
	}
	border := lipgloss.NewStyle().Foreground(borderColor)

	// ╭─ title ───╮ takes 5 cells besides the title.
	if limit := width - 5; limit > 0 && lipgloss.Width(title) > limit {
		title = truncate(title, limit)
	}
	dashes := max(0, width-lipgloss.Width(title)-5)
	top := border.Render("╭─ ") + title + border.Render(" "+strings.Repeat("─", dashes)+"╮")

	body := lipgloss.NewStyle().
		Width(max(0, width-4)).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderTop(false).
		BorderLeft(true).
		BorderRight(true).
		BorderBottom(true).
		BorderForeground(borderColor).
		Padding(0, 1)
	if height > 0 {
		body = body.Height(height - 2)
	}
	return top + "\n" + body.Render(content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func Title(text string) string {
	return TitleStyle.Render(text)
}

// StatusKey renders a key hint for the status bar.
func StatusKey(k, desc string) string {
	return StatusBarKeyStyle.Render(k) + StatusBarStyle.Render(":"+desc)
}

// Badge renders text on a colored background.
func Badge(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("230")).
		Background(color).
		Padding(0, 1).
		Render(text)
}

func SuccessBadge(text string) string { return Badge(text, Success) }
func ErrorBadge(text string) string   { return Badge(text, Error) }
func WarningBadge(text string) string { return Badge(text, Warning) }

// Outcome renders a fixed-width ok/FAIL cell for history tables.
func Outcome(ok bool) string {
	if ok {
		return lipgloss.NewStyle().Foreground(Success).Render("ok  ")
	}
	return lipgloss.NewStyle().Foreground(Error).Render("FAIL")
}
