package ui

import "github.com/charmbracelet/lipgloss"

var (
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}
	red       = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}
	gray      = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}
	fuchsia   = lipgloss.Color("#EE6FF8")

	statusBarBg = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}

	userNameStyle = lipgloss.NewStyle().
			Foreground(fuchsia).
			Bold(true).
			Render

	botNameStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Bold(true).
			Render

	timestampStyle = lipgloss.NewStyle().
			Foreground(gray).
			Render

	errorStyle = lipgloss.NewStyle().
			Foreground(red).
			Render

	noticeStyle = lipgloss.NewStyle().
			Foreground(gray).
			Italic(true).
			Render

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}).
			Background(statusBarBg)

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen)

	speechOnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Background(statusBarBg)

	helpViewStyle = lipgloss.NewStyle().
			Foreground(gray).
			Render
)
