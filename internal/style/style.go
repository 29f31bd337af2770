// Package style provides the terminal styles used by command output.
package style

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	// Bold is used for icons and headings.
	Bold = lipgloss.NewStyle().Bold(true)

	// Dim is used for secondary information.
	Dim = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "243"})

	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	Error   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)

	// Header is the column header row of tables.
	Header = lipgloss.NewStyle().Bold(true).Underline(true)
)

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ForHealth picks the style for a health state.
func ForHealth(health string) lipgloss.Style {
	switch health {
	case "healthy":
		return Success
	case "stale", "unknown":
		return Warning
	default:
		return Error
	}
}
