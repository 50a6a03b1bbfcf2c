// Package replay records reader monitoring deltas in a file, one json object per line, so that a
// session can be inspected after the fact
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/monitor/monitorer"
)

type Replay struct {
	c   *astikit.Closer
	ctx context.Context
	l   astikit.CompleteLogger
	m   *monitorer.Monitorer
	mw  *sync.Mutex // Locks w
	o   Options
	w   io.Writer
}

type Options struct {
	DeltaPeriod time.Duration
	DeltaStats  []astikit.DeltaStat
	Logger      astikit.StdLogger
	// Written in the first line
	Name string
	Path string
}

type initPayload struct {
	Name      string            `json:"name,omitempty"`
	StartedAt astikit.Timestamp `json:"started_at"`
}

func New(o Options) (*Replay, error) {
	// Create file
	f, err := os.Create(o.Path)
	if err != nil {
		return nil, fmt.Errorf("replay: creating %s failed: %w", o.Path, err)
	}

	// Create replay
	r := &Replay{
		c:   astikit.NewCloser(),
		ctx: context.Background(),
		l:   astikit.AdaptStdLogger(o.Logger),
		mw:  &sync.Mutex{},
		o:   o,
		w:   f,
	}

	// Make sure to close file
	r.c.AddWithError(f.Close)

	// Create monitorer
	r.m = monitorer.New(monitorer.MonitorerOptions{
		DeltaStats: o.DeltaStats,
		OnDelta:    r.onDelta,
		Period:     o.DeltaPeriod,
	})

	// Make sure to close monitorer
	r.c.Add(r.m.Close)

	// Write init
	r.write(initPayload{
		Name:      o.Name,
		StartedAt: *astikit.NewTimestamp(astikit.Now()),
	})
	return r, nil
}

func (r *Replay) Close() error {
	return r.c.Close()
}

// AddReader must be called before the reader is opened
func (r *Replay) AddReader(rd monitorer.Reader, extra ...astikit.DeltaStat) uint64 {
	return r.m.AddReader(rd, extra...)
}

func (r *Replay) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Store context
	r.ctx = ctx

	// Start monitorer
	tc().Do(func() { r.m.Start(ctx) })
}

func (r *Replay) onDelta(d monitorer.Delta) {
	r.write(d)
}

func (r *Replay) write(i interface{}) {
	// Marshal
	b, err := json.Marshal(i)
	if err != nil {
		r.l.WarnC(r.ctx, fmt.Errorf("replay: marshaling failed: %w", err))
		return
	}

	// Append new line
	b = append(b, []byte("\n")...)

	// Write
	r.mw.Lock()
	defer r.mw.Unlock()
	if _, err = r.w.Write(b); err != nil {
		r.l.WarnC(r.ctx, fmt.Errorf("replay: writing in file failed: %w", err))
		return
	}
}
