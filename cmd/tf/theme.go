package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the styling for tf's terminal output.
type Theme struct {
	Primary lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
}

// newTheme returns the colour theme, or an unstyled one when color is false.
func newTheme(color bool) Theme {
	if !color {
		plain := lipgloss.NewStyle()
		return Theme{plain, plain, plain, plain, plain, plain}
	}
	return Theme{
		Primary: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),  // Blue
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),  // Green
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),  // Yellow
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),   // Red
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // Gray
		Bold:    lipgloss.NewStyle().Bold(true),
	}
}
