package mocks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astireader/pkg/astireader"
)

// MockedSource decodes one frame per packet. Frames are filled with their packet index.
type MockedSource struct {
	// Defaults to the inverse of the time base
	FrameRate astireader.Rational
	Geometry  astireader.Geometry
	// Seeks land on multiples of GOPSize
	GOPSize          int
	OnNewFilterGraph func(o astireader.FilterGraphOptions, first astireader.Frame) (astireader.FilterGraph, error)
	// Called before reading packet i
	OnReadPacket   func(i int) error
	OnReceiveFrame func() error
	Timestamps     []int64

	allocatedFrames  int64
	allocatedPackets int64
	freedFrames      int64
	freedPackets     int64

	m        sync.Mutex // Locks attributes below
	closed   bool
	cursor   int
	flushing bool
	pending  *MockedFrame
	seeks    []time.Duration
}

var _ astireader.Source = (*MockedSource)(nil)

// NewMockedSource creates a 25fps source of n gray 2x2 frames
func NewMockedSource(n int) *MockedSource {
	s := &MockedSource{
		Geometry: astireader.Geometry{
			ComponentSize: 1,
			Components:    1,
			Height:        2,
			MediaType:     astireader.MediaTypeVideo,
			PixelFormat:   "gray",
			TimeBase:      astireader.NewRational(1, 25),
			Width:         2,
		},
		GOPSize: 5,
	}
	for i := 0; i < n; i++ {
		s.Timestamps = append(s.Timestamps, int64(i))
	}
	return s
}

// FrameDuration is the duration of a frame of a source created with NewMockedSource
const FrameDuration = 40 * time.Millisecond

func (s *MockedSource) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.closed = true
	return nil
}

func (s *MockedSource) Closed() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closed
}

func (s *MockedSource) Info() astireader.SourceInfo {
	i := astireader.SourceInfo{
		Duration:  s.Geometry.TimeBase.Duration(int64(len(s.Timestamps))),
		FrameRate: s.Geometry.TimeBase.Invert(),
		Geometry:  s.Geometry,
		TimeBase:  s.Geometry.TimeBase,
	}
	if s.FrameRate.Valid() {
		i.FrameRate = s.FrameRate
	}
	if len(s.Timestamps) > 0 {
		i.StartTime = s.Geometry.TimeBase.Duration(s.Timestamps[0])
	}
	return i
}

func (s *MockedSource) NewFilterGraph(o astireader.FilterGraphOptions, first astireader.Frame) (astireader.FilterGraph, error) {
	if s.OnNewFilterGraph != nil {
		return s.OnNewFilterGraph(o, first)
	}
	g := first.Geometry()
	if c, cs, ok := astireader.PixelFormatComponents(o.PixelFormat); ok {
		g.Components = c
		g.ComponentSize = cs
		g.PixelFormat = o.PixelFormat
	}
	return NewMockedFilterGraph(s, g), nil
}

func (s *MockedSource) ReadPacket() (astireader.Packet, error) {
	// Lock
	s.m.Lock()
	i := s.cursor
	s.m.Unlock()

	// Callback
	if s.OnReadPacket != nil {
		if err := s.OnReadPacket(i); err != nil {
			return nil, err
		}
	}

	// End of input
	if i >= len(s.Timestamps) {
		return nil, astireader.ErrEndOfStream
	}

	// Update cursor
	s.m.Lock()
	s.cursor++
	s.m.Unlock()

	// Create packet
	atomic.AddInt64(&s.allocatedPackets, 1)
	return &MockedPacket{
		Index:     i,
		s:         s,
		Timestamp: s.Timestamps[i],
	}, nil
}

func (s *MockedSource) ReceiveFrame() (astireader.Frame, error) {
	// Callback
	if s.OnReceiveFrame != nil {
		if err := s.OnReceiveFrame(); err != nil {
			return nil, err
		}
	}

	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Frame is ready
	if s.pending != nil {
		f := s.pending
		s.pending = nil
		return f, nil
	}

	// Flush is complete
	if s.flushing {
		s.flushing = false
		return nil, astireader.ErrEndOfStream
	}
	return nil, astireader.ErrWouldBlock
}

func (s *MockedSource) Seek(t time.Duration) error {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Store seek
	s.seeks = append(s.seeks, t)

	// Get last packet at or before t
	ts := s.Geometry.TimeBase.Timestamp(t)
	i := 0
	for idx, v := range s.Timestamps {
		if v != astireader.NoTimestamp && v <= ts {
			i = idx
		}
	}

	// Land on a key frame
	if s.GOPSize > 0 {
		i -= i % s.GOPSize
	}
	s.cursor = i
	return nil
}

func (s *MockedSource) Seeks() []time.Duration {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]time.Duration{}, s.seeks...)
}

func (s *MockedSource) SendPacket(p astireader.Packet) error {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// A frame must be received first
	if s.pending != nil {
		return astireader.ErrQueueFull
	}

	// Flush
	if p == nil {
		s.flushing = true
		return nil
	}

	// Decode
	mp := p.(*MockedPacket)
	s.pending = s.newFrame(s.Geometry, mp.Timestamp, byte(mp.Index))
	return nil
}

func (s *MockedSource) newFrame(g astireader.Geometry, ts int64, fill byte) *MockedFrame {
	atomic.AddInt64(&s.allocatedFrames, 1)
	return &MockedFrame{
		fill: fill,
		g:    g,
		s:    s,
		ts:   ts,
	}
}

// Leaks returns the number of frames and packets that have not been freed
func (s *MockedSource) Leaks() (frames, packets int64) {
	frames = atomic.LoadInt64(&s.allocatedFrames) - atomic.LoadInt64(&s.freedFrames)
	packets = atomic.LoadInt64(&s.allocatedPackets) - atomic.LoadInt64(&s.freedPackets)
	return
}

type MockedPacket struct {
	Index     int
	s         *MockedSource
	Timestamp int64
}

func (p *MockedPacket) Free() {
	atomic.AddInt64(&p.s.freedPackets, 1)
}

type MockedFrame struct {
	fill byte
	g    astireader.Geometry
	s    *MockedSource
	ts   int64
}

var _ astireader.Frame = (*MockedFrame)(nil)

func (f *MockedFrame) CopyTo(dst []byte) (int, error) {
	n := f.g.Size()
	for i := 0; i < n && i < len(dst); i++ {
		dst[i] = f.fill
	}
	return n, nil
}

func (f *MockedFrame) Free() {
	atomic.AddInt64(&f.s.freedFrames, 1)
}

func (f *MockedFrame) Geometry() astireader.Geometry {
	return f.g
}

func (f *MockedFrame) Timestamp() int64 {
	return f.ts
}

// MockedFilterGraph passes frames through, converting them to its output geometry
type MockedFilterGraph struct {
	g       astireader.Geometry
	m       sync.Mutex // Locks attributes below
	closed  bool
	flushed bool
	queued  *MockedFrame
	s       *MockedSource
}

var _ astireader.FilterGraph = (*MockedFilterGraph)(nil)

func NewMockedFilterGraph(s *MockedSource, g astireader.Geometry) *MockedFilterGraph {
	return &MockedFilterGraph{
		g: g,
		s: s,
	}
}

func (g *MockedFilterGraph) Close() error {
	g.m.Lock()
	defer g.m.Unlock()
	g.closed = true
	if g.queued != nil {
		g.queued.Free()
		g.queued = nil
	}
	return nil
}

func (g *MockedFilterGraph) Closed() bool {
	g.m.Lock()
	defer g.m.Unlock()
	return g.closed
}

func (g *MockedFilterGraph) Push(f astireader.Frame) error {
	// Lock
	g.m.Lock()
	defer g.m.Unlock()

	// Frame must be pulled first
	if g.queued != nil {
		return astireader.ErrWouldBlock
	}

	// Flush
	if f == nil {
		g.flushed = true
		return nil
	}

	// Convert
	var fill byte
	if mf, ok := f.(*MockedFrame); ok {
		fill = mf.fill
	}
	g.queued = g.s.newFrame(g.g, f.Timestamp(), fill)
	return nil
}

func (g *MockedFilterGraph) Pull() (astireader.Frame, error) {
	// Lock
	g.m.Lock()
	defer g.m.Unlock()

	// Frame is ready
	if g.queued != nil {
		f := g.queued
		g.queued = nil
		return f, nil
	}

	// Flushed
	if g.flushed {
		return nil, astireader.ErrEndOfStream
	}
	return nil, astireader.ErrWouldBlock
}
