package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/grok-mind/internal/config"
	"github.com/samsaffron/grok-mind/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration",
	Long: `Show the effective configuration, or create one interactively.

Examples:
  grok-mind config            # same as config show
  grok-mind config show
  grok-mind config init
  grok-mind config path`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or update the config file interactively",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	source := configPath
	if source == "" {
		if config.Exists() {
			source, _ = config.GetConfigPath()
		} else {
			source = "(defaults and environment)"
		}
	}

	styles := ui.NewStyles(os.Stdout)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.Title.Render("grok-mind configuration"))
	fmt.Fprintln(out, styles.Muted.Render(source))
	fmt.Fprintln(out)

	rows := [][2]string{
		{"provider", cfg.Provider},
		{"model", cfg.Model},
		{"api_key", cfg.MaskedKey() + "  (" + cfg.KeyEnv() + ")"},
		{"base_url", firstNonEmpty(cfg.BaseURL, "(provider default)")},
		{"timeout", cfg.Timeout.String()},
		{"listen", cfg.Listen},
		{"cors_origins", strings.Join(cfg.CORSOrigins, ", ")},
		{"activity_limit", fmt.Sprint(cfg.ActivityLimit)},
		{"preview_length", fmt.Sprint(cfg.PreviewLength)},
		{"usage_log", fmt.Sprint(cfg.UsageLog)},
		{"log.level", cfg.Log.Level},
		{"log.format", cfg.Log.Format},
	}
	for _, r := range rows {
		fmt.Fprintf(out, "  %-16s %s\n", styles.Bold.Render(r[0]), r[1])
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	current, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	envKey := current.APIKey != "" && os.Getenv(current.KeyEnv()) == current.APIKey
	if envKey {
		// Keep keys that came from the environment out of the file.
		current.APIKey = ""
	}

	updated, err := ui.RunSetupWizard(current)
	if err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	path, err := config.Save(updated, configPath)
	if err != nil {
		return err
	}

	styles := ui.NewStyles(os.Stdout)
	fmt.Fprintln(cmd.OutOrStdout(), styles.FormatResult(true, "Saved "+path))
	return nil
}
