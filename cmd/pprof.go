package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"

	pprofserver "github.com/samsaffron/grok-mind/internal/pprof"
)

var pprofDuration int

func init() {
	rootCmd.AddCommand(pprofCmd)
	pprofCmd.AddCommand(pprofCPUCmd)
	pprofCmd.AddCommand(pprofHeapCmd)
	pprofCmd.AddCommand(pprofGoroutineCmd)

	pprofCPUCmd.Flags().IntVarP(&pprofDuration, "duration", "d", 30, "Profile duration in seconds")
}

var pprofCmd = &cobra.Command{
	Use:   "pprof",
	Short: "Profile a running grok-mind server",
	Long: `Connect to the pprof endpoint of a running server.

Start the server with profiling enabled:
  grok-mind serve --pprof
  GROK_MIND_PPROF=1 grok-mind serve

Then, from another terminal:
  grok-mind pprof cpu              # 30 second CPU profile
  grok-mind pprof heap             # memory allocation profile
  grok-mind pprof goroutine        # goroutine stack dump

The port is read from the cache directory, or pass it explicitly:
  grok-mind pprof cpu 6060`,
}

var pprofCPUCmd = &cobra.Command{
	Use:   "cpu [PORT]",
	Short: "Capture CPU profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := resolvePort(args)
		if err != nil {
			return err
		}
		url := fmt.Sprintf("http://127.0.0.1:%d/debug/pprof/profile?seconds=%d", port, pprofDuration)
		fmt.Fprintf(os.Stderr, "Capturing %d second CPU profile from %s...\n", pprofDuration, url)
		return runGoToolPprof(url)
	},
}

var pprofHeapCmd = &cobra.Command{
	Use:   "heap [PORT]",
	Short: "Capture heap profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := resolvePort(args)
		if err != nil {
			return err
		}
		return runGoToolPprof(fmt.Sprintf("http://127.0.0.1:%d/debug/pprof/heap", port))
	},
}

var pprofGoroutineCmd = &cobra.Command{
	Use:   "goroutine [PORT]",
	Short: "Dump goroutine stacks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := resolvePort(args)
		if err != nil {
			return err
		}
		return runGoToolPprof(fmt.Sprintf("http://127.0.0.1:%d/debug/pprof/goroutine", port))
	},
}

// resolvePort gets the port from args or the port file.
func resolvePort(args []string) (int, error) {
	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("invalid port: %s", args[0])
		}
		if port < 1 || port > 65535 {
			return 0, fmt.Errorf("port %d out of range (must be 1-65535)", port)
		}
		return port, nil
	}

	port, running := pprofserver.Running()
	if !running {
		return 0, fmt.Errorf("no pprof server running (start grok-mind serve --pprof)")
	}
	return port, nil
}

func runGoToolPprof(url string) error {
	c := exec.Command("go", "tool", "pprof", url)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
