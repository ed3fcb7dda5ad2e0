package ui

import "github.com/charmbracelet/lipgloss"

// FarmRobo palette, ANSI 256 colors.
var (
	Primary = lipgloss.Color("71")  // field green
	Accent  = lipgloss.Color("178") // harvest yellow
	Success = lipgloss.Color("78")
	Warning = lipgloss.Color("214")
	Error   = lipgloss.Color("196")
	Subtle  = lipgloss.Color("241")
	Surface = lipgloss.Color("236")
	Text    = lipgloss.Color("252")
	TextDim = lipgloss.Color("245")
)

var (
	SidebarStyle = lipgloss.NewStyle().
			Width(20).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderRight(true).
			BorderTop(false).
			BorderBottom(false).
			BorderLeft(false).
			BorderForeground(Surface).
			Padding(1, 1)

	SidebarItemStyle = lipgloss.NewStyle().
				Foreground(TextDim).
				PaddingLeft(1)

	SidebarActiveStyle = lipgloss.NewStyle().
				Foreground(Primary).
				Bold(true).
				PaddingLeft(1)

	ContentStyle = lipgloss.NewStyle().
			Padding(1, 2)

	// The port bar and key hints share the bottom rows.
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(TextDim).
			Background(Surface).
			Padding(0, 1)

	StatusBarKeyStyle = lipgloss.NewStyle().
				Foreground(Text).
				Background(Surface).
				Bold(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true).
			MarginBottom(1)

	BoldStyle   = lipgloss.NewStyle().Bold(true)
	DimStyle    = lipgloss.NewStyle().Foreground(TextDim)
	AccentStyle = lipgloss.NewStyle().Foreground(Accent).Bold(true)
	WarnStyle   = lipgloss.NewStyle().Foreground(Warning)
)
