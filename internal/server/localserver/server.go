package localserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// SocketPerm is the mode of the socket file.
const SocketPerm os.FileMode = 0o600

// ErrSocketInUse is returned when another process serves the socket path.
var ErrSocketInUse = errors.New("localserver: socket already in use")

// Server serves a handler on a Unix domain socket.
type Server struct {
	path       string
	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	errCh      chan error
}

// New creates a local server for socketPath.
func New(socketPath string, h http.Handler) *Server {
	return &Server{
		path: socketPath,
		httpServer: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		errCh: make(chan error, 1),
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Start removes a stale socket file, listens and serves in the background.
func (s *Server) Start() error {
	if err := removeStale(s.path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("localserver: listen %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, SocketPerm); err != nil {
		_ = ln.Close()
		return fmt.Errorf("localserver: chmod %s: %w", s.path, err)
	}
	s.listener = ln
	s.running.Store(true)

	go func() {
		defer close(s.errCh)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
	return nil
}

// Errors reports a failure of the serve loop.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown drains active requests and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// removeStale deletes a socket file left by a process that is gone.
func removeStale(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localserver: remove stale socket: %w", err)
	}
	return nil
}
