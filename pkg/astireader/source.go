package astireader

import "time"

// Frame is a decoded frame. Whoever gets a frame from a Source or a FilterGraph owns it and
// must free it.
type Frame interface {
	// Copies the frame's packed payload into dst and returns the number of bytes written
	CopyTo(dst []byte) (int, error)
	Free()
	Geometry() Geometry
	// Expressed in Geometry().TimeBase, NoTimestamp when unknown
	Timestamp() int64
}

// Packet is a compressed chunk of the selected stream
type Packet interface {
	Free()
}

type SourceInfo struct {
	Duration  time.Duration
	FrameRate Rational
	// Geometry as advertised by the container, the first decoded frame is authoritative
	Geometry Geometry
	// Start-of-stream sentinel used to end backward playback
	StartTime   time.Duration
	StreamIndex int
	TimeBase    Rational
}

// Source is the demuxer/decoder pair the reader pulls frames from.
//
// ReadPacket and Seek are only called by the packet reader, ReceiveFrame by the frame
// filter, and SendPacket/ReceiveFrame are never called concurrently.
type Source interface {
	Close() error
	Info() SourceInfo
	// Returns a filter graph built for the format of the first frame it will receive
	NewFilterGraph(o FilterGraphOptions, first Frame) (FilterGraph, error)
	// Returns ErrEndOfStream once the input is exhausted
	ReadPacket() (Packet, error)
	// Returns ErrWouldBlock when no frame is ready and ErrEndOfStream once a flush is
	// complete, after which the decoder must accept packets again
	ReceiveFrame() (Frame, error)
	// Lands at or before t
	Seek(t time.Duration) error
	// A nil packet flushes the decoder. Returns ErrQueueFull when frames must be received
	// first. The packet is not owned by the decoder.
	SendPacket(p Packet) error
}

type FilterGraphOptions struct {
	Description string
	PixelFormat string
}

func (o FilterGraphOptions) enabled() bool {
	return o.Description != "" || o.PixelFormat != ""
}

type FilterGraph interface {
	Close() error
	// Returns ErrWouldBlock when frames must be pulled first. A nil frame flushes the
	// graph. The frame is not owned by the graph.
	Push(f Frame) error
	// Returns ErrWouldBlock when more input is needed and ErrEndOfStream once flushed
	Pull() (Frame, error)
}
