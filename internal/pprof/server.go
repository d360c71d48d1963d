// Package pprof runs a loopback-only profiling endpoint next to the
// dashboard and records its port so `grok-mind pprof` can find it.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const portFileName = "pprof.port"

// Server exposes net/http/pprof on 127.0.0.1.
type Server struct {
	log      zerolog.Logger
	server   *http.Server
	listener net.Listener
	port     int
}

func NewServer(log zerolog.Logger) *Server {
	return &Server{log: log.With().Str("component", "pprof").Logger()}
}

// Start binds to the given loopback port (0 picks a free one) and returns
// the port actually in use.
func (s *Server) Start(port int) (int, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("bind to %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.server = &http.Server{Handler: Handler()}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("pprof server stopped")
		}
	}()

	if err := writePortFile(s.port); err != nil {
		s.log.Warn().Err(err).Msg("could not write pprof port file")
	}
	s.log.Info().Int("port", s.port).Msg("pprof listening")

	return s.port, nil
}

// Handler serves the profiling endpoints on a private mux so nothing else
// registered on http.DefaultServeMux leaks out.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func (s *Server) Port() int {
	return s.port
}

// Stop shuts the server down and removes the port file.
func (s *Server) Stop(ctx context.Context) error {
	removePortFile()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// PrintUsage prints the follow-up commands for a server on port.
func PrintUsage(w io.Writer, port int) {
	fmt.Fprintf(w, "\npprof server: http://127.0.0.1:%d\n\n", port)
	fmt.Fprintf(w, "From another terminal:\n")
	fmt.Fprintf(w, "  grok-mind pprof cpu       # 30 second CPU profile\n")
	fmt.Fprintf(w, "  grok-mind pprof heap      # memory allocation profile\n")
	fmt.Fprintf(w, "  grok-mind pprof goroutine # goroutine stack dump\n\n")
}

// CacheDir returns $XDG_CACHE_HOME/grok-mind, falling back to ~/.cache.
func CacheDir() (string, error) {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "grok-mind"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cache", "grok-mind"), nil
}

func portFilePath() (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, portFileName), nil
}

func writePortFile(port int) error {
	path, err := portFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(port)), 0600)
}

func removePortFile() {
	if path, err := portFilePath(); err == nil {
		_ = os.Remove(path)
	}
}

// ReadPortFile returns the port recorded by a running server.
func ReadPortFile() (int, error) {
	path, err := portFilePath()
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.New("no pprof server running (port file not found)")
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid port file: %w", err)
	}
	return port, nil
}

// Running reports the recorded port and whether something answers on it.
func Running() (int, bool) {
	port, err := ReadPortFile()
	if err != nil {
		return 0, false
	}
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return 0, false
	}
	conn.Close()
	return port, true
}
