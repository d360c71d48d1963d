package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/samsaffron/grok-mind/internal/broadcast"
	"github.com/samsaffron/grok-mind/internal/exitcode"
	"github.com/samsaffron/grok-mind/internal/ui"
)

var (
	askText  bool
	askStats bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Send one query and print the response",
	Long: `Send a single query and print the response. On a terminal the answer is
rendered as markdown; piped output is plain text.

Examples:
  grok-mind ask "What is the capital of France?"
  grok-mind ask "List 5 programming languages" --text
  grok-mind ask "Explain TCP vs UDP" --stats`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVarP(&askText, "text", "t", false, "Output plain text instead of rendered markdown")
	askCmd.Flags().BoolVar(&askStats, "stats", false, "Print token usage to stderr")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, os.Stderr)

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	useGlamour := !askText && term.IsTerminal(int(os.Stdout.Fd()))

	var res broadcast.Result
	if useGlamour {
		res, err = askWithSpinner(cmd.Context(), a.coord, query)
	} else {
		res, err = a.coord.Submit(cmd.Context(), query)
	}

	switch {
	case broadcast.IsValidation(err):
		return exitcode.Invalid(err.Error())
	case err != nil:
		var upstream *broadcast.UpstreamError
		if errors.As(err, &upstream) {
			fmt.Fprintln(os.Stderr, res.Snapshot.Output)
			return exitcode.UpstreamFailed(upstream.Error())
		}
		return err
	}

	content := res.Completion.Content
	if useGlamour {
		width := 80
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
		content = ui.RenderMarkdown(content, width)
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(content, "\n"))

	if askStats {
		printAskStats(os.Stderr, res)
	}
	return nil
}

func printAskStats(w io.Writer, res broadcast.Result) {
	st := res.Snapshot.Stats
	fmt.Fprintf(w, "\nmodel: %s  prompt: %d  completion: %d  reasoning: %d  cached: %d\n",
		res.Completion.Model, st.PromptTokens, st.CompletionTokens, st.ReasoningTokens, st.CachedTokens)
}

// askModel shows a spinner while the query is in flight
type askModel struct {
	spinner spinner.Model
	result  <-chan askResult
	out     askResult
	done    bool
}

type askResult struct {
	res broadcast.Result
	err error
}

// askDoneMsg carries the finished query
type askDoneMsg askResult

func newAskModel(result <-chan askResult) askModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return askModel{spinner: s, result: result}
}

func (m askModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForResult(m.result))
}

func waitForResult(result <-chan askResult) tea.Cmd {
	return func() tea.Msg {
		return askDoneMsg(<-result)
	}
}

func (m askModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case askDoneMsg:
		m.out = askResult(msg)
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m askModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " Thinking..."
}

// askWithSpinner runs the query while a spinner animates on the terminal.
// Ctrl+C cancels the query.
func askWithSpinner(ctx context.Context, coord *broadcast.Coordinator, query string) (broadcast.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan askResult, 1)
	go func() {
		res, err := coord.Submit(ctx, query)
		result <- askResult{res: res, err: err}
	}()

	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		r := <-result
		return r.res, r.err
	}
	defer tty.Close()

	p := tea.NewProgram(newAskModel(result), tea.WithInput(tty), tea.WithOutput(os.Stderr))
	final, err := p.Run()
	if err != nil {
		return broadcast.Result{}, err
	}
	m := final.(askModel)
	if !m.done {
		cancel()
		<-result
		return broadcast.Result{}, exitcode.Cancel()
	}
	return m.out.res, m.out.err
}
