package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"convertd/internal/logging"
)

// Listener runs an http.Server on a bound address until stopped.
type Listener struct {
	name     string
	bind     string
	server   *http.Server
	logger   *slog.Logger
	listener net.Listener
	done     chan struct{}
}

// NewListener prepares server to listen on bind. name labels log lines.
func NewListener(name, bind string, server *http.Server, logger *slog.Logger) *Listener {
	return &Listener{
		name:   name,
		bind:   bind,
		server: server,
		logger: logging.NewComponentLogger(logger, name),
	}
}

// Start binds the address and serves in the background.
func (l *Listener) Start() error {
	listener, err := net.Listen("tcp", l.bind)
	if err != nil {
		return fmt.Errorf("%s listen: %w", l.name, err)
	}
	l.listener = listener
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("http server error", logging.Error(err))
		}
	}()
	l.logger.Info("http server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (l *Listener) Addr() string {
	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

// Stop shuts the server down, waiting up to five seconds for in-flight requests.
func (l *Listener) Stop() {
	if l.listener == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.server.Shutdown(ctx)
	<-l.done
	l.listener = nil
}
