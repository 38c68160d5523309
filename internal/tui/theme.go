// Package tui provides terminal prompts and the color theme.
package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette for console output.
type Theme struct {
	Primary lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
	Warning lipgloss.AdaptiveColor
	Error   lipgloss.AdaptiveColor
	Muted   lipgloss.AdaptiveColor
}

// ResolveTheme returns NoColorTheme when NO_COLOR is set, DefaultTheme otherwise.
func ResolveTheme() Theme {
	// NO_COLOR support (industry standard for disabling colors)
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return NoColorTheme()
	}
	return DefaultTheme()
}

// DefaultTheme returns the default palette. Success is green, in-flight calls
// yellow, errors red.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.AdaptiveColor{Light: "#1a73e8", Dark: "#8ab4f8"},
		Success: lipgloss.AdaptiveColor{Light: "#1e8e3e", Dark: "#81c995"},
		Warning: lipgloss.AdaptiveColor{Light: "#f9ab00", Dark: "#fdd663"},
		Error:   lipgloss.AdaptiveColor{Light: "#d93025", Dark: "#f28b82"},
		Muted:   lipgloss.AdaptiveColor{Light: "#80868b", Dark: "#6e7681"},
	}
}

// NoColorTheme returns a theme with empty colors (honors NO_COLOR standard).
// Lipgloss treats empty strings as "no color", resulting in plain text output.
func NoColorTheme() Theme {
	empty := lipgloss.AdaptiveColor{Light: "", Dark: ""}
	return Theme{
		Primary: empty,
		Success: empty,
		Warning: empty,
		Error:   empty,
		Muted:   empty,
	}
}
