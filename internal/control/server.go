package control

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/turtacn/booklore-runner/internal/resource"
	"github.com/turtacn/booklore-runner/pkg/logger"
)

// Server serves the control API on a unix socket owned by the runner.
type Server struct {
	socket *resource.SocketFile
	server *http.Server

	once      sync.Once
	requested chan struct{}
}

// NewServer returns a stopped server for engine on socketPath.
func NewServer(socketPath string, engine Engine) *Server {
	s := &Server{
		socket:    resource.NewSocketFile(socketPath),
		requested: make(chan struct{}),
	}
	s.server = &http.Server{
		Handler:           NewRouter(engine, s.markShutdown),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) markShutdown() {
	s.once.Do(func() { close(s.requested) })
}

// ShutdownRequested is closed once a client has shut the runner down.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.requested
}

// Serve listens on the socket and blocks until ctx is cancelled or serving
// fails. The socket file is removed on return. A socket already answered by
// another runner is an error.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.socket.Listen()
	if err != nil {
		return fmt.Errorf("control socket %s: %w", s.socket.Path, err)
	}
	defer s.socket.Remove()

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Control API listening", "socket", s.socket.Path)
		if err := s.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Event streams never end on their own; close them after the grace.
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.server.Close()
		}
		return nil
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("control server failed: %w", err)
		}
		return nil
	}
}

// Personal.AI order the ending
