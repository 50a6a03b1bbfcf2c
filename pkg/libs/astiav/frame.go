package astiavreader

import (
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astireader/pkg/astireader"
)

var _ astireader.Frame = (*Frame)(nil)

// Frame is a pooled libav frame. Free puts it back in its pool.
type Frame struct {
	*astiav.Frame
	fp *framePool
	g  astireader.Geometry
}

func newFrame(f *astiav.Frame, fp *framePool, g astireader.Geometry) *Frame {
	return &Frame{
		Frame: f,
		fp:    fp,
		g:     g,
	}
}

func (f *Frame) CopyTo(dst []byte) (int, error) {
	// Get bytes
	b, err := f.Data().Bytes(1)
	if err != nil {
		return 0, fmt.Errorf("astiavreader: getting frame bytes failed: %w", err)
	}

	// Buffer is too small
	if len(dst) < len(b) {
		return 0, io.ErrShortBuffer
	}
	return copy(dst, b), nil
}

func (f *Frame) Free() {
	if f.fp == nil {
		return
	}
	f.fp.put(f.Frame)
	f.fp = nil
}

func (f *Frame) Geometry() astireader.Geometry {
	return f.g
}

func (f *Frame) Timestamp() int64 {
	if pts := f.Pts(); pts != astiav.NoPtsValue {
		return pts
	}
	return astireader.NoTimestamp
}

var _ astireader.Packet = (*Packet)(nil)

type Packet struct {
	*astiav.Packet
	pp *packetPool
}

func newPacket(pkt *astiav.Packet, pp *packetPool) *Packet {
	return &Packet{
		Packet: pkt,
		pp:     pp,
	}
}

func (p *Packet) Free() {
	if p.pp == nil {
		return
	}
	p.pp.put(p.Packet)
	p.pp = nil
}

type geometryKey struct {
	channels     int
	height       int
	mediaType    astiav.MediaType
	pixelFormat  astiav.PixelFormat
	samples      int
	sampleFormat astiav.SampleFormat
	sampleRate   int
	timeBase     astiav.Rational
	width        int
}

// Computing a geometry may require copying the frame's data, therefore it's only done
// when the frame's format changes
type geometryCache struct {
	g   astireader.Geometry
	key *geometryKey
}

func (c *geometryCache) get(f *astiav.Frame, mt astiav.MediaType, tb astiav.Rational) (astireader.Geometry, error) {
	// Create key
	k := geometryKey{
		mediaType: mt,
		timeBase:  tb,
	}
	switch mt {
	case astiav.MediaTypeAudio:
		k.channels = f.ChannelLayout().Channels()
		k.samples = f.NbSamples()
		k.sampleFormat = f.SampleFormat()
		k.sampleRate = f.SampleRate()
	default:
		k.height = f.Height()
		k.pixelFormat = f.PixelFormat()
		k.width = f.Width()
	}

	// Format hasn't changed
	if c.key != nil && *c.key == k {
		return c.g, nil
	}

	// Create geometry
	g, err := newGeometry(f, k)
	if err != nil {
		return astireader.Geometry{}, err
	}

	// Store
	c.g = g
	c.key = &k
	return g, nil
}

func (c *geometryCache) reset() {
	c.key = nil
}

func newGeometry(f *astiav.Frame, k geometryKey) (g astireader.Geometry, err error) {
	// Get media type
	if g.MediaType, err = mediaTypeFromAstiav(k.mediaType); err != nil {
		err = fmt.Errorf("astiavreader: getting media type failed: %w", err)
		return
	}
	g.TimeBase = rationalFromAstiav(k.timeBase)

	// Update geometry
	var packed bool
	switch g.MediaType {
	case astireader.MediaTypeAudio:
		g.Channels = k.channels
		g.SampleFormat = k.sampleFormat.String()
		g.SampleRate = k.sampleRate
		g.Samples = k.samples
		if g.ComponentSize, packed = astireader.SampleFormatSize(g.SampleFormat); packed {
			g.Components = 1
		}
	default:
		g.Height = k.height
		g.PixelFormat = k.pixelFormat.String()
		g.Width = k.width
		g.Components, g.ComponentSize, packed = astireader.PixelFormatComponents(g.PixelFormat)
	}

	// Planar formats get their size from libav
	if !packed {
		var b []byte
		if b, err = f.Data().Bytes(1); err != nil {
			err = fmt.Errorf("astiavreader: getting frame bytes failed: %w", err)
			return
		}
		g.FrameSize = len(b)
	}
	return
}
