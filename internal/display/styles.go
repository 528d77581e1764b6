package display

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#808080")
	colorDim    = lipgloss.Color("#4E4E4E")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	recordingDotStyle = lipgloss.NewStyle().
				Foreground(colorRed).
				Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	timestampStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	failedStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Italic(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	dividerStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)
)
