// Package monitor is the terminal dashboard: token stats, the recent
// activity timeline and the latest response, fed by a Backend.
package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/samsaffron/grok-mind/internal/session"
	"github.com/samsaffron/grok-mind/internal/ui"
)

const (
	timeColWidth = 8
	toolColWidth = 20
)

type Options struct {
	// Source names the backend in the footer, e.g. "xAI (grok-2)".
	Source string
	// InitialQuery is submitted as soon as the program starts.
	InitialQuery string
}

// updateMsg carries one backend update
type updateMsg Update

// backendClosedMsg signals the update channel was closed
type backendClosedMsg struct{}

// queryDoneMsg signals a submitted query returned
type queryDoneMsg struct {
	err error
}

type tickMsg time.Time

// Model is the bubbletea model for the monitor.
type Model struct {
	backend Backend
	sync    bool
	styles  *ui.Styles
	source  string

	input   textinput.Model
	spinner spinner.Model

	snap      session.Snapshot
	seeded    bool
	lastQuery string
	pending   int
	err       error
	closed    bool
	now       time.Time

	initialQuery string
	width        int
	height       int
}

func New(backend Backend, styles *ui.Styles, opts Options) Model {
	input := textinput.New()
	input.Placeholder = "Enter query for xAI..."
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot

	return Model{
		backend:      backend,
		sync:         backend.Synchronous(),
		styles:       styles,
		source:       opts.Source,
		input:        input,
		spinner:      s,
		initialQuery: strings.TrimSpace(opts.InitialQuery),
		now:          time.Now(),
	}
}

// Run starts the monitor on the alternate screen and blocks until the user
// quits.
func Run(backend Backend, styles *ui.Styles, opts Options) error {
	p := tea.NewProgram(New(backend, styles, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, waitForUpdate(m.backend.Updates()), tick()}
	if m.initialQuery != "" {
		cmds = append(cmds, func() tea.Msg { return submitMsg(m.initialQuery) })
	}
	return tea.Batch(cmds...)
}

// submitMsg asks the model to submit a query
type submitMsg string

// waitForUpdate reads from the channel and sends updates as messages
func waitForUpdate(updates <-chan Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return backendClosedMsg{}
		}
		return updateMsg(u)
	}
}

func submitQuery(backend Backend, query string) tea.Cmd {
	return func() tea.Msg {
		return queryDoneMsg{err: backend.Submit(context.Background(), query)}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			query := m.input.Value()
			m.input.Reset()
			return m.submit(query)
		}

	case submitMsg:
		return m.submit(string(msg))

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-6)
		return m, nil

	case updateMsg:
		if msg.Err != nil {
			m.err = msg.Err
			if !m.sync {
				m.pending = max(0, m.pending-1)
			}
		} else if !m.seeded || msg.Snapshot.Version >= m.snap.Version {
			// Updates can merge in the mailbox, so one snapshot may
			// settle several queries.
			if m.seeded && !m.sync && msg.Snapshot.Version > m.snap.Version {
				settled := msg.Snapshot.Version - m.snap.Version
				m.pending -= int(min(uint64(m.pending), settled))
			}
			m.snap = msg.Snapshot
			m.seeded = true
		}
		return m, waitForUpdate(m.backend.Updates())

	case backendClosedMsg:
		m.closed = true
		return m, nil

	case queryDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		if m.sync || msg.err != nil {
			m.pending = max(0, m.pending-1)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(query string) (tea.Model, tea.Cmd) {
	m.err = nil
	if strings.TrimSpace(query) != "" {
		m.lastQuery = strings.TrimSpace(query)
	}
	m.pending++
	return m, submitQuery(m.backend, query)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	leftWidth := max(24, m.width/3)
	rightWidth := max(30, m.width-leftWidth)

	header := m.renderHeader()
	left := m.renderStats(leftWidth)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderTimeline(rightWidth),
		m.renderResponse(rightWidth),
	)
	main := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	return lipgloss.JoinVertical(lipgloss.Left, header, main, m.renderInput(), m.renderFooter())
}

func (m Model) renderHeader() string {
	title := "GROK MIND READER"
	if m.lastQuery != "" {
		title += " | Query: " + ui.Truncate(m.lastQuery, max(10, m.width-30))
	}
	return m.styles.Header.Width(max(10, m.width-2)).Render(title)
}

func (m Model) renderStats(width int) string {
	st := m.snap.Stats
	rows := []struct {
		label string
		value int
	}{
		{"Prompt Tokens", st.PromptTokens},
		{"Completion", st.CompletionTokens},
		{"Reasoning", st.ReasoningTokens},
		{"Cached", st.CachedTokens},
		{"Tool Calls", st.ToolInvocations},
	}

	inner := width - 4
	lines := []string{m.styles.PanelTitle.Render("Token Stats")}
	for _, r := range rows {
		value := strconv.Itoa(r.value)
		gap := max(1, inner-runewidth.StringWidth(r.label)-len(value)-1)
		lines = append(lines, m.styles.StatLabel.Render(r.label+":")+strings.Repeat(" ", gap)+m.styles.StatValue.Render(value))
	}
	return m.styles.Panel.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m Model) renderTimeline(width int) string {
	inner := width - 4
	argsWidth := max(8, inner-timeColWidth-toolColWidth-2)

	lines := []string{m.styles.PanelTitle.Render("Tool Calls")}
	lines = append(lines, m.styles.Bold.Render(
		runewidth.FillRight("Time", timeColWidth)+" "+
			runewidth.FillRight("Tool", toolColWidth)+" "+
			"Arguments"))

	if len(m.snap.Timeline) == 0 {
		lines = append(lines, m.styles.Muted.Render("No activity yet"))
	}
	for _, e := range m.snap.Timeline {
		row := runewidth.FillRight(e.Timestamp.Format("15:04:05"), timeColWidth) + " " +
			runewidth.FillRight(ui.Truncate(e.Tool, toolColWidth), toolColWidth) + " " +
			ui.Truncate(e.Preview, argsWidth)
		if e.Failed {
			lines = append(lines, m.styles.Error.Render(row))
		} else {
			lines = append(lines, m.styles.Timeline.Render(row))
		}
	}
	return m.styles.Panel.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m Model) renderResponse(width int) string {
	inner := width - 4
	title := m.styles.PanelTitle.Render("Grok Response")

	var body string
	switch {
	case m.pending > 0:
		body = m.spinner.View() + " Thinking..."
	case m.snap.Output == "":
		body = m.styles.Muted.Render("Ready to process queries...")
	case strings.HasPrefix(m.snap.Output, "Error: "):
		body = m.styles.Error.Render(wrap(m.snap.Output, inner))
	default:
		body = ui.RenderMarkdown(m.snap.Output, inner)
	}

	if limit := m.responseLines(); limit > 0 {
		lines := strings.Split(body, "\n")
		if len(lines) > limit {
			lines = append(lines[:limit-1], m.styles.Muted.Render("..."))
		}
		body = strings.Join(lines, "\n")
	}
	return m.styles.Panel.Width(width - 2).Render(title + "\n" + body)
}

// responseLines returns how many body lines fit below the other panels, or
// zero when the terminal height is unknown.
func (m Model) responseLines() int {
	if m.height == 0 {
		return 0
	}
	used := 3 + // header
		len(m.snap.Timeline) + 4 + // timeline panel
		3 + // response title and border
		2 // input and footer
	return max(3, m.height-used)
}

func (m Model) renderInput() string {
	return m.input.View()
}

func (m Model) renderFooter() string {
	status := m.styles.Success.Render(ui.SuccessIcon + " NEURAL SYNC")
	switch {
	case m.closed:
		status = m.styles.Error.Render(ui.FailIcon + " DISCONNECTED")
	case m.pending > 0:
		status = m.styles.Highlighted.Render("SYNCING...")
	}

	parts := []string{status}
	if m.source != "" {
		parts = append(parts, m.source)
	}
	parts = append(parts,
		fmt.Sprintf("Tools: %d", m.snap.Stats.ToolInvocations),
		"Time: "+m.now.Format("15:04:05"),
		"enter submit · esc quit",
	)
	footer := m.styles.Footer.Render(strings.Join(parts, " | "))

	if m.err != nil {
		footer = m.styles.Error.Render(ui.Truncate(m.err.Error(), max(10, m.width-2))) + "\n" + footer
	}
	return footer
}

// wrap hard-wraps plain text to width cells.
func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return ansi.Hardwrap(s, width, true)
}
