// Package server exposes reader monitoring deltas over HTTP: a catch up route returns the current
// state and a push route streams deltas to websocket clients
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/monitor/monitorer"
)

type Server struct {
	c   *astikit.Closer
	ctx context.Context
	l   astikit.CompleteLogger
	m   *monitorer.Monitorer
	o   Options
	p   Pusher
	s   *http.Server
}

type Options struct {
	// When empty, no http server is started but handlers can still be mounted elsewhere
	Addr        string
	API         APIOptions
	DeltaPeriod time.Duration
	DeltaStats  []astikit.DeltaStat
	Logger      astikit.StdLogger
	Push        PushOptions
}

type APIOptions struct {
	URL string
}

type PushOptions struct {
	Pusher Pusher
	URL    string
}

func New(o Options) *Server {
	// Create server
	s := &Server{
		c:   astikit.NewCloser(),
		ctx: context.Background(),
		l:   astikit.AdaptStdLogger(o.Logger),
		o:   o,
	}

	// Create monitorer
	s.m = monitorer.New(monitorer.MonitorerOptions{
		DeltaStats: o.DeltaStats,
		OnDelta:    s.onDelta,
		Period:     o.DeltaPeriod,
	})

	// Make sure monitorer is properly closed
	s.c.Add(s.m.Close)

	// Get pusher
	s.p = o.Push.Pusher
	if s.p == nil {
		s.p = s.newDeltaPusher()
	}

	// Make sure pusher is properly closed
	if v, ok := s.p.(io.Closer); ok {
		s.c.AddWithError(v.Close)
	}

	// Addr was provided
	// We need the pusher at that point
	if o.Addr != "" {
		// Create http server
		s.s = &http.Server{
			Addr:    o.Addr,
			Handler: s.handler(),
		}

		// Make sure http server is closed properly
		s.c.AddWithError(s.s.Close)
	}
	return s
}

func (s *Server) Close() error {
	return s.c.Close()
}

// AddReader must be called before the reader is opened
func (s *Server) AddReader(r monitorer.Reader, extra ...astikit.DeltaStat) uint64 {
	return s.m.AddReader(r, extra...)
}

func (s *Server) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Store context
	s.ctx = ctx

	// Start http server
	if s.s != nil {
		// Do
		tc().Do(func() {
			// Log
			s.l.InfoCf(ctx, "server: serving on %s", s.o.Addr)

			// Serve
			var done = make(chan error, 1)
			go func() {
				if err := s.s.ListenAndServe(); err != nil {
					done <- err
				}
			}()

			// Wait
			select {
			case <-ctx.Done():
			case err := <-done:
				if err != nil {
					s.l.WarnC(ctx, fmt.Errorf("server: serving on %s failed: %w", s.o.Addr, err))
				}
			}

			// Shutdown
			s.l.InfoCf(ctx, "server: shutting down server on %s", s.o.Addr)
			if err := s.s.Shutdown(context.Background()); err != nil {
				s.l.WarnC(ctx, fmt.Errorf("server: shutting down server on %s failed: %w", s.o.Addr, err))
			}
		})
	}

	// Start monitorer
	tc().Do(func() { s.m.Start(ctx) })
}

func (s *Server) handler() http.Handler {
	// Create mux
	m := http.NewServeMux()

	// Add config route
	m.Handle("/config.json", s.ServeConfig())

	// Add api routes
	if strings.HasPrefix(s.o.API.URL, "/") {
		m.Handle(s.o.API.URL+"/catch-up", s.ServeAPICatchUp())
	}

	// Add push route
	if strings.HasPrefix(s.o.Push.URL, "/") {
		m.Handle(s.o.Push.URL, s.ServePush())
	}
	return m
}

func (s *Server) ServeAPICatchUp() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Write
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.m.CatchUp()); err != nil {
			s.l.WarnC(s.ctx, fmt.Errorf("server: writing api catch up body failed: %w", err))
			return
		}
	})
}

func (s *Server) ServePush() http.Handler {
	if h, ok := s.p.(http.Handler); ok {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
}

type config struct {
	API  configURL `json:"api"`
	Push configURL `json:"push"`
}

type configURL struct {
	URL string `json:"url,omitempty"`
}

// ServeConfig lets clients discover where the api and push routes are mounted
func (s *Server) ServeConfig() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Write
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(config{
			API:  configURL{URL: s.o.API.URL},
			Push: configURL{URL: s.o.Push.URL},
		}); err != nil {
			s.l.WarnC(s.ctx, fmt.Errorf("server: writing config body failed: %w", err))
			return
		}
	})
}

func (s *Server) onDelta(d monitorer.Delta) {
	// Marshal
	b, err := marshalPushEvent(pushEventNameDelta, d)
	if err != nil {
		s.l.WarnC(s.ctx, err)
		return
	}

	// Push
	if _, err := s.p.Write(b); err != nil {
		s.l.WarnC(s.ctx, fmt.Errorf("server: pushing failed: %w", err))
		return
	}
}
