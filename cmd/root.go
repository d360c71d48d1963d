package cmd

import (
	"errors"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/samsaffron/grok-mind/internal/exitcode"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/grok-mind/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	rootCmd.PersistentFlags().StringVar(&memProfile, "memprofile", "", "Write memory profile to file")
}

var rootCmd = &cobra.Command{
	Use:   "grok-mind",
	Short: "Live dashboard for Grok queries and token usage",
	Long: `grok-mind sends queries to xAI's Grok (or another provider) and shows the
accumulated token usage, recent activity and latest response to every
connected viewer: browsers over WebSocket and terminal dashboards.

Examples:
  grok-mind serve                          # web dashboard on :8080
  grok-mind monitor                        # terminal dashboard
  grok-mind monitor "why is the sky blue"  # submit one query, keep watching
  grok-mind monitor --remote localhost:8080
  grok-mind ask "explain goroutines"
  grok-mind usage --days 7`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return startProfiling()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopProfiling()
	},
}

var configPath string
var logLevel string
var logFormat string
var cpuProfile string
var memProfile string
var cpuProfileFile *os.File

func startProfiling() error {
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			return err
		}
		cpuProfileFile = f
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return err
		}
	}
	return nil
}

func stopProfiling() error {
	if cpuProfileFile != nil {
		pprof.StopCPUProfile()
		cpuProfileFile.Close()
	}
	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return err
		}
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr exitcode.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(exitcode.Error)
	}
}

// setupLogger builds the process logger. Flags win over the config file.
func setupLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "info":
		lvl = zerolog.InfoLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	if format == "json" {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).Level(lvl).With().Timestamp().Logger()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
