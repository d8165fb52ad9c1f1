package main

import (
	"github.com/charmbracelet/lipgloss"

	"tracerline/internal/domain"
)

var (
	pendingColor  = lipgloss.Color("214") // Orange
	progressColor = lipgloss.Color("39")  // Cyan
	doneColor     = lipgloss.Color("42")  // Green
	returnedColor = lipgloss.Color("196") // Red
	mutedColor    = lipgloss.Color("241") // Gray

	statusStyles = map[domain.Status]lipgloss.Style{
		domain.StatusPending:    lipgloss.NewStyle().Foreground(pendingColor),
		domain.StatusPendingPOP: lipgloss.NewStyle().Foreground(pendingColor),
		domain.StatusNotSent:    lipgloss.NewStyle().Foreground(mutedColor),
		domain.StatusInProgress: lipgloss.NewStyle().Foreground(progressColor),
		domain.StatusCompleted:  lipgloss.NewStyle().Foreground(doneColor),
		domain.StatusAccomplish: lipgloss.NewStyle().Foreground(doneColor),
		domain.StatusSent:       lipgloss.NewStyle().Foreground(doneColor),
		domain.StatusReturned:   lipgloss.NewStyle().Bold(true).Foreground(returnedColor),
	}

	warningStyle = lipgloss.NewStyle().Italic(true).Foreground(returnedColor)
	doneStyle    = lipgloss.NewStyle().Foreground(doneColor)
	todoStyle    = lipgloss.NewStyle().Foreground(mutedColor)
)

// styledStatus colours a status for table output. Colour is dropped
// automatically when stdout is not a terminal.
func styledStatus(s domain.Status) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

func styledDone(done bool) string {
	if done {
		return doneStyle.Render("yes")
	}
	return todoStyle.Render("no")
}
