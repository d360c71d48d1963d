package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/samsaffron/grok-mind/internal/tui/monitor"
	"github.com/samsaffron/grok-mind/internal/ui"
)

var monitorRemote string

var monitorCmd = &cobra.Command{
	Use:   "monitor [query]",
	Short: "Terminal dashboard of token usage and recent queries",
	Long: `Open the terminal dashboard. With a query argument the query is submitted
immediately and the dashboard stays open until Ctrl+C; queries can be
typed into the input line either way.

Without --remote the dashboard runs its own session in-process. With
--remote it attaches to a running "grok-mind serve" and shares that
server's session with every browser.

Examples:
  grok-mind monitor
  grok-mind monitor "summarise the CAP theorem"
  grok-mind monitor --remote localhost:8080`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorRemote, "remote", "r", "", "Attach to a running server (host:port, http(s):// or ws(s):// URL)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("monitor needs an interactive terminal; use \"grok-mind ask\" for scripts")
	}

	ctx := cmd.Context()
	opts := monitor.Options{InitialQuery: strings.Join(args, " ")}

	var backend monitor.Backend
	if monitorRemote != "" {
		remote, err := monitor.NewRemoteBackend(ctx, monitorRemote)
		if err != nil {
			return err
		}
		backend = remote
		opts.Source = "remote " + remote.URL()
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Log lines would tear through the alternate screen.
		a, err := newApp(ctx, cfg, zerolog.Nop())
		if err != nil {
			return err
		}
		backend = monitor.NewLocalBackend(a.coord)
		opts.Source = a.client.Name()
	}
	defer backend.Close()

	return monitor.Run(backend, ui.NewStyles(os.Stdout), opts)
}
