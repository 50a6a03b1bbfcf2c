package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/asticode/go-astiws"
)

// Pusher streams marshaled push events to monitoring clients. When it implements
// http.Handler, it's mounted on the push route.
type Pusher interface {
	io.Writer
}

type pushEventName string

const (
	// Sent by clients, answered with the current state of every stat
	pushEventNameCatchUp pushEventName = "catch_up"
	pushEventNameDelta   pushEventName = "delta"
	pushEventNamePing    pushEventName = "ping"
)

type pushEvent struct {
	Name    pushEventName   `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func marshalPushEvent(n pushEventName, payload interface{}) ([]byte, error) {
	// Marshal payload
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("server: marshaling %s payload failed: %w", n, err)
	}

	// Marshal event
	if b, err = json.Marshal(pushEvent{
		Name:    n,
		Payload: b,
	}); err != nil {
		return nil, fmt.Errorf("server: marshaling %s event failed: %w", n, err)
	}
	return b, nil
}

// deltaPusher broadcasts deltas to every websocket client connected to the push route
type deltaPusher struct {
	s  *Server
	ws *astiws.Server
}

func (s *Server) newDeltaPusher() *deltaPusher {
	p := &deltaPusher{s: s}
	p.ws = astiws.NewServer(astiws.ServerOptions{
		ClientAdapter:  p.adaptClient,
		Logger:         s.o.Logger,
		MaxMessageSize: 1e6,
	})
	return p
}

func (p *deltaPusher) Close() error {
	return p.ws.Close()
}

func (p *deltaPusher) adaptClient(c *astiws.Client) error {
	// Client is closed with the server
	*c = *c.WithContext(p.s.ctx)

	// Handle client events
	c.SetMessageHandler(func(m []byte) error { return p.onClientEvent(c, m) })
	return nil
}

func (p *deltaPusher) onClientEvent(c *astiws.Client, m []byte) error {
	// Unmarshal
	var e pushEvent
	if err := json.Unmarshal(m, &e); err != nil {
		return fmt.Errorf("server: unmarshaling client event failed: %w", err)
	}

	switch e.Name {
	case pushEventNameCatchUp:
		// Marshal
		b, err := marshalPushEvent(pushEventNameCatchUp, p.s.m.CatchUp())
		if err != nil {
			return err
		}

		// Write
		if err = c.WriteText(b); err != nil {
			return fmt.Errorf("server: writing catch up failed: %w", err)
		}
	case pushEventNamePing:
		// Extend connection
		if err := c.ExtendConnection(); err != nil {
			return fmt.Errorf("server: extending push connection failed: %w", err)
		}
	}
	return nil
}

// Write sends b to all clients, a failing client doesn't prevent others from receiving it
func (p *deltaPusher) Write(b []byte) (int, error) {
	var errs []error
	for _, c := range p.ws.Clients() {
		if err := c.WriteText(b); err != nil {
			errs = append(errs, fmt.Errorf("server: writing to websocket client failed: %w", err))
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return len(b), nil
}

func (p *deltaPusher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.ws.ServeHTTP(w, r)
}
