package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	pprofserver "github.com/samsaffron/grok-mind/internal/pprof"
	"github.com/samsaffron/grok-mind/internal/serve/dashboard"
)

var (
	serveListen string
	servePprof  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web dashboard and WebSocket feed",
	Long: `Start the HTTP server: the dashboard at /, the WebSocket feed at /ws,
POST /api/query, GET /api/snapshot, /healthz and Prometheus /metrics.

Examples:
  grok-mind serve
  grok-mind serve --listen 127.0.0.1:9000
  grok-mind serve --pprof           # profiling on a random loopback port
  grok-mind serve --pprof=6060`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (default from config, 0.0.0.0:8080)")
	serveCmd.Flags().StringVar(&servePprof, "pprof", "", "Start a pprof server on the given loopback port")
	serveCmd.Flags().Lookup("pprof").NoOptDefVal = "0"
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, os.Stderr)
	pprofPortNum, pprofEnabled, err := pprofPort()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	addr := firstNonEmpty(serveListen, cfg.Listen)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := dashboard.NewServer(a.coord, dashboard.Options{
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	})

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("client", a.client.Name()).
		Dur("timeout", cfg.Timeout).
		Msg("grok-mind listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})

	if pprofEnabled {
		startPprof(gctx, g, log, pprofPortNum)
	}

	err = g.Wait()
	log.Info().Msg("grok-mind stopped")
	return err
}

// startPprof runs the profiling server until ctx ends. A failure to bind
// is logged and the dashboard keeps running.
func startPprof(ctx context.Context, g *errgroup.Group, log zerolog.Logger, port int) {
	ps := pprofserver.NewServer(log)
	actual, err := ps.Start(port)
	if err != nil {
		log.Error().Err(err).Msg("pprof server not started")
		return
	}
	pprofserver.PrintUsage(os.Stderr, actual)
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ps.Stop(stopCtx)
	})
}

// pprofPort reads --pprof, falling back to GROK_MIND_PPROF.
func pprofPort() (int, bool, error) {
	value := servePprof
	if value == "" {
		value = os.Getenv("GROK_MIND_PPROF")
		if value == "1" || value == "true" {
			value = "0"
		}
	}
	if value == "" {
		return 0, false, nil
	}
	port, err := strconv.Atoi(value)
	if err != nil || port < 0 || port > 65535 {
		return 0, false, fmt.Errorf("invalid pprof port: %s", value)
	}
	return port, true, nil
}
