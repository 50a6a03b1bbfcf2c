package astireader

import (
	"fmt"
	"io"
	"time"
)

type Direction int

const (
	DirectionForward Direction = iota
	DirectionBackward
)

func (d Direction) String() string {
	switch d {
	case DirectionBackward:
		return "backward"
	default:
		return "forward"
	}
}

type FrameInfo struct {
	Size int
	Time time.Duration
}

// FrameBuffer stores up to a fixed number of frames of the same geometry alongside their
// time. Frames are always written forward. They are read either forward, as soon as they
// are written, or backward, once the buffer is either full or closed.
//
// FrameBuffer is not safe for concurrent use.
type FrameBuffer struct {
	d     Direction
	data  []byte
	eof   bool
	g     Geometry
	last  time.Duration
	r     int
	size  int
	start time.Duration
	times []time.Duration
	w     int
}

type FrameBufferOptions struct {
	Capacity  int
	Direction Direction
	Geometry  Geometry
	// When reading backward, exhausting a buffer whose first frame is at or before
	// StartTime ends the stream
	StartTime time.Duration
}

func NewFrameBuffer(o FrameBufferOptions) (*FrameBuffer, error) {
	// Invalid capacity
	if o.Capacity <= 0 {
		return nil, fmt.Errorf("astireader: invalid capacity %d", o.Capacity)
	}

	// Invalid geometry
	if err := o.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("astireader: validating geometry failed: %w", err)
	}

	// Create buffer
	b := &FrameBuffer{
		d:     o.Direction,
		g:     o.Geometry,
		size:  o.Geometry.Size(),
		start: o.StartTime,
	}
	b.alloc(o.Capacity)
	return b, nil
}

func (b *FrameBuffer) alloc(capacity int) {
	b.data = make([]byte, capacity*b.size)
	b.times = make([]time.Duration, capacity)
}

func (b *FrameBuffer) Capacity() int {
	return len(b.times)
}

// Count returns the number of frames written since the last reset
func (b *FrameBuffer) Count() int {
	return b.w
}

func (b *FrameBuffer) Direction() Direction {
	return b.d
}

// EOF returns whether the writer has closed the buffer
func (b *FrameBuffer) EOF() bool {
	return b.eof
}

func (b *FrameBuffer) Empty() bool {
	return b.w == 0
}

func (b *FrameBuffer) FrameSize() int {
	return b.size
}

func (b *FrameBuffer) Full() bool {
	return b.w == len(b.times)
}

func (b *FrameBuffer) Geometry() Geometry {
	return b.g
}

// Remaining returns the number of free write slots
func (b *FrameBuffer) Remaining() int {
	return len(b.times) - b.w
}

// Backward reads can't start before forward writes are done
func (b *FrameBuffer) readable() bool {
	return b.d == DirectionForward || b.eof || b.Full()
}

// Available returns the number of frames that can be read right away
func (b *FrameBuffer) Available() int {
	if !b.readable() {
		return 0
	}
	return b.w - b.r
}

// Complete returns whether no more frames will be written until the next reset
func (b *FrameBuffer) Complete() bool {
	return b.eof || b.Full()
}

// Drained returns whether every written frame has been read
func (b *FrameBuffer) Drained() bool {
	return b.r == b.w
}

// CopyFrame writes f at the end of the buffer. A nil frame closes the buffer. It returns
// ErrWouldBlock when the buffer is full and ErrEndOfStream when the buffer is closed.
func (b *FrameBuffer) CopyFrame(f Frame) error {
	if f == nil {
		return b.copyFrame(nil, 0)
	}
	return b.copyFrame(f, frameTime(f, b.last))
}

func (b *FrameBuffer) copyFrame(f Frame, t time.Duration) error {
	// Close
	if f == nil {
		b.eof = true
		return nil
	}

	// No more writes
	if b.eof {
		return ErrEndOfStream
	}
	if b.Full() {
		return ErrWouldBlock
	}

	// Copy
	n, err := f.CopyTo(b.data[b.w*b.size : (b.w+1)*b.size])
	if err != nil {
		return fmt.Errorf("astireader: copying frame failed: %w", err)
	}
	if n != b.size {
		return fmt.Errorf("astireader: frame size %d doesn't match buffer frame size %d", n, b.size)
	}

	// Times never go backward
	if b.w > 0 && t < b.last {
		t = b.last
	}

	// Update
	b.times[b.w] = t
	b.last = t
	b.w++
	return nil
}

// ReadFrame copies the next frame into dst when dst is not nil, and moves the read cursor
// when advance is true.
//
// It returns ErrWouldBlock when the writer has not caught up yet, ErrEndOfBuffer when
// every frame has been read but the stream is not over, ErrEndOfStream when reading forward
// past a closed buffer and ErrStartOfStream when reading backward past the start of the
// stream.
func (b *FrameBuffer) ReadFrame(dst []byte, advance bool) (fi FrameInfo, err error) {
	// Get index
	var i int
	if i, err = b.next(); err != nil {
		return
	}

	// Read
	if fi, err = b.read(i, dst); err != nil {
		return
	}

	// Advance
	if advance {
		b.r++
	}
	return
}

func (b *FrameBuffer) next() (int, error) {
	switch b.d {
	case DirectionBackward:
		if !b.readable() {
			return 0, ErrWouldBlock
		}
		if b.r < b.w {
			return b.w - 1 - b.r, nil
		}
		if b.w > 0 && b.times[0] <= b.start {
			return 0, ErrStartOfStream
		}
		return 0, ErrEndOfBuffer
	default:
		if b.r < b.w {
			return b.r, nil
		}
		if b.eof {
			return 0, ErrEndOfStream
		}
		if b.Full() {
			return 0, ErrEndOfBuffer
		}
		return 0, ErrWouldBlock
	}
}

func (b *FrameBuffer) read(i int, dst []byte) (fi FrameInfo, err error) {
	fi.Time = b.times[i]
	if dst != nil {
		if len(dst) < b.size {
			err = fmt.Errorf("astireader: destination of %d bytes is too small for %d bytes: %w", len(dst), b.size, io.ErrShortBuffer)
			return
		}
		fi.Size = copy(dst, b.data[i*b.size:(i+1)*b.size])
	}
	return
}

// ReadFirstFrame reads the oldest stored frame without moving the read cursor
func (b *FrameBuffer) ReadFirstFrame(dst []byte) (FrameInfo, error) {
	if b.w == 0 {
		return FrameInfo{}, b.emptyErr()
	}
	return b.read(0, dst)
}

// ReadLastFrame reads the most recent stored frame without moving the read cursor
func (b *FrameBuffer) ReadLastFrame(dst []byte) (FrameInfo, error) {
	if b.w == 0 {
		return FrameInfo{}, b.emptyErr()
	}
	return b.read(b.w-1, dst)
}

func (b *FrameBuffer) emptyErr() error {
	if b.eof {
		return ErrEndOfStream
	}
	return ErrWouldBlock
}

func (b *FrameBuffer) firstTime() (time.Duration, bool) {
	if b.w == 0 {
		return 0, false
	}
	return b.times[0], true
}

// Reset rewinds both cursors and reopens the buffer
func (b *FrameBuffer) Reset() {
	b.eof = false
	b.last = 0
	b.r = 0
	b.w = 0
}

// Resize resets the buffer and reallocates its storage when capacity changes
func (b *FrameBuffer) Resize(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("astireader: invalid capacity %d", capacity)
	}
	if capacity != len(b.times) {
		b.alloc(capacity)
	}
	b.Reset()
	return nil
}

// SetDirection switches the read discipline and rewinds the read cursor
func (b *FrameBuffer) SetDirection(d Direction) {
	b.d = d
	b.r = 0
}

// Release hands the written frames and their times over to the caller. The buffer
// allocates new storage and is reset.
func (b *FrameBuffer) Release() (count int, data []byte, times []time.Duration) {
	count = b.w
	data = b.data[:count*b.size]
	times = b.times[:count]
	b.alloc(len(b.times))
	b.Reset()
	return
}

func frameTime(f Frame, fallback time.Duration) time.Duration {
	ts := f.Timestamp()
	if ts == NoTimestamp {
		return fallback
	}
	return f.Geometry().TimeBase.Duration(ts)
}
