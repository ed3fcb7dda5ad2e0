package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/farmrobo-dev/fruploader/internal/ui"
)

const sidebarWidth = 22 // 20 content + 2 border/padding

func renderPortBar(port string, baud int, busy bool, width int, sidebarFocused bool) string {
	portDisplay := port
	if portDisplay == "" {
		portDisplay = "(none)"
	}
	content := fmt.Sprintf("Port: %s  Baud: %d", portDisplay, baud)
	if busy {
		content += "  " + ui.WarningBadge("in use")
	}
	hint := ""
	if sidebarFocused {
		hint = ui.DimStyle.Render("  [p] change")
	}
	return ui.StatusBarStyle.Width(width).Render(content + hint)
}

func renderSidebar(pages []PageID, active PageID, pageMap map[PageID]Page, height int, focused bool) string {
	var b strings.Builder
	var title string
	if focused {
		title = ui.BoldStyle.Render("fruploader *")
	} else {
		title = ui.TitleStyle.Render("fruploader")
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	for _, id := range pages {
		p := pageMap[id]
		if id == active {
			b.WriteString(ui.SidebarActiveStyle.Render("▸ " + p.Name()))
		} else {
			b.WriteString(ui.SidebarItemStyle.Render("  " + p.Name()))
		}
		b.WriteString("\n")
	}

	style := ui.SidebarStyle.Height(height)
	if focused {
		style = style.BorderForeground(ui.Primary)
	}
	return style.Render(b.String())
}

func renderStatusBar(pageHelp []key.Binding, width int, focus FocusArea) string {
	var parts []string

	// Focus-specific instructions
	if focus == FocusSidebar {
		parts = append(parts,
			ui.StatusKey("↑/↓", "navigate"),
			ui.StatusKey("enter", "select"),
			ui.StatusKey("p", "port"),
		)
	} else {
		// Page-specific keys when content is focused
		for _, kb := range pageHelp {
			if kb.Enabled() {
				parts = append(parts, ui.StatusKey(kb.Help().Key, kb.Help().Desc))
			}
		}
	}

	// Always add global keys
	parts = append(parts,
		ui.StatusKey("tab", "focus"),
		ui.StatusKey("?", "help"),
		ui.StatusKey("q", "quit"),
	)

	line := strings.Join(parts, "  ")
	return ui.StatusBarStyle.Width(width).Render(line)
}

func renderHelp(pageName string, pageHelp []key.Binding) string {
	var b strings.Builder
	b.WriteString(ui.Title("Keys"))
	b.WriteString("\n")
	b.WriteString(ui.BoldStyle.Render("Global") + "\n")
	for _, kb := range []key.Binding{GlobalKeys.ToggleFocus, GlobalKeys.PortPicker, GlobalKeys.Help, GlobalKeys.Quit} {
		b.WriteString(fmt.Sprintf("  %-8s %s\n", kb.Help().Key, kb.Help().Desc))
	}
	b.WriteString("\n" + ui.BoldStyle.Render(pageName) + "\n")
	for _, kb := range pageHelp {
		b.WriteString(fmt.Sprintf("  %-8s %s\n", kb.Help().Key, kb.Help().Desc))
	}
	return b.String()
}

func renderLayout(portBar, sidebar, content, statusBar string) string {
	main := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, content)
	return lipgloss.JoinVertical(lipgloss.Left, portBar, main, statusBar)
}
