// Package ui renders terminal output for the dsync CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAF5F")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AF00")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D75F5F")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5F87D7"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// colorEnabled is decided once: styled output only goes to a terminal and
// respects NO_COLOR and CLICOLOR=0.
var colorEnabled = !termenv.EnvNoColor() && IsTerminal()

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// SetColor forces styled output on or off. Forcing it on also forces an
// ANSI color profile, since lipgloss would otherwise strip styles when
// stdout is not a terminal.
func SetColor(enabled bool) {
	colorEnabled = enabled
	if enabled {
		lipgloss.SetColorProfile(termenv.ANSI256)
	}
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders s as a failure marker.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent highlights s.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderMuted dims s.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeader renders a section title.
func RenderHeader(s string) string { return render(headerStyle, s) }
