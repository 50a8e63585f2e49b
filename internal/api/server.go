package api

import (
	"errors"
	"log/slog"
	"net/http"

	"convertd/internal/execution"
	"convertd/internal/gateway"
	"convertd/internal/httpx"
	"convertd/internal/logging"
	"convertd/internal/plugin"
	"convertd/internal/status"
)

// OwnerHeader carries the submitting client's identity.
const OwnerHeader = "X-Convertd-Owner"

// Options wires the public handler.
type Options struct {
	Gateway  *gateway.Gateway
	Status   *status.Service
	Registry *plugin.Registry
	Store    *execution.Store
	// Token enables bearer authentication when set.
	Token  string
	Logger *slog.Logger
}

// Server implements the public routes.
type Server struct {
	gateway  *gateway.Gateway
	status   *status.Service
	registry *plugin.Registry
	store    *execution.Store
	logger   *slog.Logger
}

// NewHandler returns the public routes behind bearer auth.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Gateway == nil || opts.Status == nil || opts.Registry == nil || opts.Store == nil {
		return nil, errors.New("api handler requires gateway, status service, registry, and store")
	}
	s := &Server{
		gateway:  opts.Gateway,
		status:   opts.Status,
		registry: opts.Registry,
		store:    opts.Store,
		logger:   logging.NewComponentLogger(opts.Logger, "api-server"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tools/{tool}/convert", s.handleConvert)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("GET /executions/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /executions/{id}/download", s.handleDownload)
	mux.HandleFunc("DELETE /executions/{id}", s.handleDelete)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return httpx.BearerAuth(opts.Token, mux), nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	httpx.WriteJSON(w, s.logger, code, payload)
}

func (s *Server) writeError(w http.ResponseWriter, code int, errCode, message string) {
	httpx.WriteError(w, s.logger, code, errCode, message)
}
