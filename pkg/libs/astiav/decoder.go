package astiavreader

import (
	"errors"
	"fmt"
	"math"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astireader/pkg/astireader"
)

type DecoderOptions struct {
	Dictionary DictionaryOptions
	// When empty, the decoder is found using the stream's codec id
	Name        string
	ThreadCount int
	ThreadType  astiav.ThreadType
}

type decoder struct {
	codec *astiav.Codec
	cp    *astiav.CodecParameters
	fp    *framePool
	gc    *geometryCache
	mt    astiav.MediaType
	o     DecoderOptions
	r     decoderReader
	s     *Source
	tb    astiav.Rational
	tc    *timestampCorrector
}

func newDecoder(s *Source, st *astiav.Stream, o DecoderOptions) (d *decoder, err error) {
	// Create decoder
	d = &decoder{
		cp: st.CodecParameters(),
		fp: s.fp,
		gc: &geometryCache{},
		mt: st.CodecParameters().MediaType(),
		o:  o,
		s:  s,
		tb: st.TimeBase(),
		tc: newTimestampCorrector(),
	}

	// Find codec
	if o.Name != "" {
		if d.codec = astiav.FindDecoderByName(o.Name); d.codec == nil {
			err = fmt.Errorf("astiavreader: no decoder found with name %s", o.Name)
			return
		}
	} else {
		if d.codec = astiav.FindDecoder(d.cp.CodecID()); d.codec == nil {
			err = fmt.Errorf("astiavreader: no decoder found for codec id %s", d.cp.CodecID())
			return
		}
	}

	// Create reader
	if err = d.createReader(); err != nil {
		err = fmt.Errorf("astiavreader: creating reader failed: %w", err)
		return
	}
	return
}

func (d *decoder) createReader() (err error) {
	// Create reader
	r := newDecoderReader(d.codec)
	if r == nil {
		err = errors.New("astiavreader: empty reader")
		return
	}

	// Make sure to free reader on error
	defer func() {
		if err != nil {
			r.Free()
		}
	}()

	// Set thread parameters
	if d.o.ThreadCount > 0 {
		r.SetThreadCount(d.o.ThreadCount)
	}
	if d.o.ThreadType != astiav.ThreadTypeUndefined {
		r.SetThreadType(d.o.ThreadType)
	}

	// Initialize reader with codec parameters
	if err = r.FromCodecParameters(d.cp); err != nil {
		err = fmt.Errorf("astiavreader: initializing reader with codec parameters failed: %w", err)
		return
	}

	// Create dictionary
	dict, err := d.o.Dictionary.dictionary()
	if err != nil {
		err = fmt.Errorf("astiavreader: creating dictionary failed: %w", err)
		return
	}
	defer freeDictionary(dict)

	// Open
	if err = r.Open(d.codec, dict); err != nil {
		err = fmt.Errorf("astiavreader: opening reader failed: %w", err)
		return
	}

	// Store reader
	d.r = r
	classers.set(r, d.s)
	return
}

func (d *decoder) close() {
	if d.r == nil {
		return
	}
	classers.del(d.r)
	d.r.Free()
	d.r = nil
}

// Once a flush is complete, the codec context can't be fed anymore and needs to be
// recreated
func (d *decoder) reset() error {
	d.close()
	d.gc.reset()
	d.tc.reset()
	return d.createReader()
}

func (d *decoder) sendPacket(p astireader.Packet) (err error) {
	// No reader
	if d.r == nil {
		return errors.New("astiavreader: no reader")
	}

	// Get packet
	var pkt *astiav.Packet
	if p != nil {
		v, ok := p.(*Packet)
		if !ok {
			return fmt.Errorf("astiavreader: invalid packet type %T", p)
		}
		pkt = v.Packet
	}

	// Send packet
	if err = d.r.SendPacket(pkt); err != nil {
		switch {
		case errors.Is(err, astiav.ErrEagain):
			err = astireader.ErrQueueFull
		case errors.Is(err, astiav.ErrEof) && pkt == nil:
			// Decoder was already flushing
			err = nil
		default:
			err = fmt.Errorf("astiavreader: sending packet failed: %w", err)
		}
		return
	}
	return
}

func (d *decoder) receiveFrame() (astireader.Frame, error) {
	// No reader
	if d.r == nil {
		return nil, errors.New("astiavreader: no reader")
	}

	// Get frame
	f := d.fp.get()

	// Receive frame
	if err := d.r.ReceiveFrame(f); err != nil {
		// Make sure to put frame back
		d.fp.put(f)

		// Process error
		switch {
		case errors.Is(err, astiav.ErrEagain):
			return nil, astireader.ErrWouldBlock
		case errors.Is(err, astiav.ErrEof):
			// Reset
			if err = d.reset(); err != nil {
				return nil, fmt.Errorf("astiavreader: resetting decoder failed: %w", err)
			}
			return nil, astireader.ErrEndOfStream
		default:
			return nil, fmt.Errorf("astiavreader: receiving frame failed: %w", err)
		}
	}

	// Frames without pts get the timestamp libav would have guessed, which is then used by
	// the filter graph as well
	f.SetPts(d.tc.correct(f.Pts(), f.PktDts()))

	// Get geometry
	g, err := d.gc.get(f, d.mt, d.tb)
	if err != nil {
		d.fp.put(f)
		return nil, fmt.Errorf("astiavreader: getting geometry failed: %w", err)
	}
	return newFrame(f, d.fp, g), nil
}

// timestampCorrector picks between the frame's pts and its packet's dts the same way
// libav computes best effort timestamps: the one that has gone backward the least wins
type timestampCorrector struct {
	faultyDts int
	faultyPts int
	lastDts   int64
	lastPts   int64
}

func newTimestampCorrector() *timestampCorrector {
	c := &timestampCorrector{}
	c.reset()
	return c
}

func (c *timestampCorrector) reset() {
	c.faultyDts = 0
	c.faultyPts = 0
	c.lastDts = math.MinInt64
	c.lastPts = math.MinInt64
}

func (c *timestampCorrector) correct(pts, dts int64) int64 {
	// Update dts
	if dts != astiav.NoPtsValue {
		if dts <= c.lastDts {
			c.faultyDts++
		}
		c.lastDts = dts
	} else if pts != astiav.NoPtsValue {
		c.lastDts = pts
	}

	// Update pts
	if pts != astiav.NoPtsValue {
		if pts <= c.lastPts {
			c.faultyPts++
		}
		c.lastPts = pts
	} else if dts != astiav.NoPtsValue {
		c.lastPts = dts
	}

	// Pick
	if pts != astiav.NoPtsValue && (c.faultyPts <= c.faultyDts || dts == astiav.NoPtsValue) {
		return pts
	}
	return dts
}

type decoderReader interface {
	Class() *astiav.Class
	Free()
	FromCodecParameters(cp *astiav.CodecParameters) error
	Open(c *astiav.Codec, d *astiav.Dictionary) error
	ReceiveFrame(f *astiav.Frame) error
	SendPacket(p *astiav.Packet) error
	SetThreadCount(int)
	SetThreadType(astiav.ThreadType)
}

var newDecoderReader = func(c *astiav.Codec) decoderReader {
	if cc := astiav.AllocCodecContext(c); cc != nil {
		return cc
	}
	return nil
}
