package ui

import "github.com/charmbracelet/lipgloss/v2"

// Color constants
const (
	ColorBlack      = "0"
	ColorDarkerBlue = "4"
	ColorRed        = "9"
	ColorGrey       = "7"
	ColorWhite      = "15"
)

// Common styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorDarkerBlue)).
			Foreground(lipgloss.Color(ColorWhite))

	RowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorGrey))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorRed))

	FooterStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorDarkerBlue)).
			Foreground(lipgloss.Color(ColorGrey))
)
