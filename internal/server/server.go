package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
)

// Server serves the producer-side job API.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// New creates a server on addr. Requests derive their context from baseCtx,
// so cancelling it aborts requests still waiting on the job table lock.
func New(baseCtx context.Context, addr string, jobSvc *job.Service) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(jobSvc),
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// An enqueue can wait out a full lock timeout.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Listen binds the address and returns the bound one, which differs from
// the configured address when port 0 is used.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	return ln.Addr(), nil
}

// Start serves until Shutdown, binding first if Listen was not called.
func (s *Server) Start() error {
	if s.ln == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	slog.Info("job api listening", "addr", s.ln.Addr().String())
	return s.srv.Serve(s.ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("job api shutting down")
	return s.srv.Shutdown(ctx)
}
