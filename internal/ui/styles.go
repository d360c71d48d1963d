package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Color palette - consistent across all TUI components
var (
	Green   = lipgloss.Color("10") // success, borders
	Red     = lipgloss.Color("9")  // error
	Grey    = lipgloss.Color("8")  // muted text
	Cyan    = lipgloss.Color("14") // panel titles
	Magenta = lipgloss.Color("13") // query panel
	Orange  = lipgloss.Color("214")
	White   = lipgloss.Color("15") // header text
)

// Status indicators
const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
)

// Styles returns styled text helpers bound to a renderer
type Styles struct {
	renderer *lipgloss.Renderer

	// Text styles
	Title       lipgloss.Style
	Subtitle    lipgloss.Style
	Success     lipgloss.Style
	Error       lipgloss.Style
	Muted       lipgloss.Style
	Bold        lipgloss.Style
	Highlighted lipgloss.Style

	// Dashboard panels
	Header     lipgloss.Style
	Panel      lipgloss.Style
	PanelTitle lipgloss.Style
	StatLabel  lipgloss.Style
	StatValue  lipgloss.Style
	Timeline   lipgloss.Style
	Footer     lipgloss.Style
}

// NewStyles creates a new Styles instance for the given output
func NewStyles(output *os.File) *Styles {
	r := lipgloss.NewRenderer(output)

	return &Styles{
		renderer: r,

		Title: r.NewStyle().
			Bold(true).
			Foreground(White),

		Subtitle: r.NewStyle().
			Foreground(Grey),

		Success: r.NewStyle().
			Foreground(Green),

		Error: r.NewStyle().
			Foreground(Red),

		Muted: r.NewStyle().
			Foreground(Grey),

		Bold: r.NewStyle().
			Bold(true),

		Highlighted: r.NewStyle().
			Bold(true).
			Foreground(Green),

		Header: r.NewStyle().
			Bold(true).
			Foreground(Green).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(Green).
			Padding(0, 1),

		Panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Green).
			Padding(0, 1),

		PanelTitle: r.NewStyle().
			Bold(true).
			Foreground(Cyan),

		StatLabel: r.NewStyle().
			Foreground(Green),

		StatValue: r.NewStyle().
			Bold(true).
			Foreground(White),

		Timeline: r.NewStyle().
			Foreground(Orange),

		Footer: r.NewStyle().
			Foreground(Grey),
	}
}

// DefaultStyles returns styles for stderr (default TUI output)
func DefaultStyles() *Styles {
	return NewStyles(os.Stderr)
}

// FormatResult returns a styled success/fail result
func (s *Styles) FormatResult(success bool, msg string) string {
	if success {
		return s.Success.Render(SuccessIcon+" ") + msg
	}
	return s.Error.Render(FailIcon+" ") + msg
}

// Truncate shortens s to at most maxWidth terminal cells with an ellipsis.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}
