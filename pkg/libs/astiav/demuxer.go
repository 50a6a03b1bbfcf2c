package astiavreader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/astireader"
)

var (
	countSource uint64
)

var _ astireader.Source = (*Source)(nil)

// Source demuxes and decodes one stream of an input
type Source struct {
	c      *astikit.Closer
	cancel context.CancelFunc
	cs     *sourceCumulativeStats
	ctx    context.Context
	d      *decoder
	fo     FilterOptions
	fp     *framePool
	i      astireader.SourceInfo
	id     uint64
	ii     astiav.IOInterrupter
	l      astikit.CompleteLogger
	md     sync.Mutex // Locks d
	mt     astiav.MediaType
	pp     *packetPool
	r      demuxerReader
	st     *astiav.Stream
}

type sourceCumulativeStats struct {
	incomingBytes   uint64
	incomingPackets uint64
	skippedPackets  uint64
}

type OpenOptions struct {
	Decoder    DecoderOptions
	Dictionary DictionaryOptions
	Filter     FilterOptions
	Format     *astiav.InputFormat
	// When provided, errors are written through the interceptor so that they're merged
	// with libav logs
	LogInterceptor *LogInterceptor
	Logger         astikit.StdLogger
	// Used to pick the first matching stream when StreamIndex is nil. Defaults to video.
	MediaType   astiav.MediaType
	StreamIndex *int
	URL         string
}

func Open(ctx context.Context, o OpenOptions) (s *Source, err error) {
	// Create source
	s = &Source{
		c:  astikit.NewCloser(),
		cs: &sourceCumulativeStats{},
		fo: o.Filter,
		id: atomic.AddUint64(&countSource, uint64(1)),
		l:  astikit.AdaptStdLogger(o.Logger),
	}
	s.fp = newFramePool(s.c)
	s.pp = newPacketPool(s.c)

	// Store log interceptor
	if o.LogInterceptor != nil {
		logInterceptors.set(s, o.LogInterceptor)
		s.c.Add(func() { logInterceptors.del(s) })
	}

	// Make sure to close source on error
	defer func() {
		if err != nil {
			s.Close() //nolint: errcheck
			s = nil
		}
	}()

	// Create reader
	if s.r = newDemuxerReader(); s.r == nil {
		err = errors.New("astiavreader: empty reader")
		return
	}
	s.c.Add(s.r.Free)
	classers.set(s.r, s)
	s.c.Add(func() { classers.del(s.r) })

	// Set interrupt callback
	s.ii = s.r.SetInterruptCallback()

	// Create child context
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	// Interrupt blocking io calls once the parent context is done
	done := make(chan struct{})
	go func() {
		// Make sure to signal the goroutine is done
		defer close(done)

		// Wait for child context to be done
		<-s.ctx.Done()

		// Context error
		if ctx.Err() != nil {
			// Interrupt
			s.ii.Interrupt()
		}
	}()

	// Make sure the goroutine is done before the reader is freed
	s.c.Add(func() {
		s.cancel()
		<-done
	})

	// Create dictionary
	dict, err := o.Dictionary.dictionary()
	if err != nil {
		err = fmt.Errorf("astiavreader: creating dictionary failed: %w", err)
		return
	}
	defer freeDictionary(dict)

	// Open input
	if err = s.r.OpenInput(o.URL, o.Format, dict); err != nil {
		err = fmt.Errorf("astiavreader: opening input failed: %w", err)
		return
	}
	s.c.Add(s.r.CloseInput)

	// Context error
	if ctx.Err() != nil {
		err = fmt.Errorf("astiavreader: context error: %w", ctx.Err())
		return
	}

	// Find stream information
	if err = s.r.FindStreamInfo(nil); err != nil {
		err = fmt.Errorf("astiavreader: finding stream info failed: %w", err)
		return
	}

	// Context error
	if ctx.Err() != nil {
		err = fmt.Errorf("astiavreader: context error: %w", ctx.Err())
		return
	}

	// Select stream
	if s.st, err = s.selectStream(o); err != nil {
		err = fmt.Errorf("astiavreader: selecting stream failed: %w", err)
		return
	}
	s.mt = s.st.CodecParameters().MediaType()

	// Create info
	if s.i, err = s.newInfo(); err != nil {
		err = fmt.Errorf("astiavreader: creating info failed: %w", err)
		return
	}

	// Create decoder
	if s.d, err = newDecoder(s, s.st, o.Decoder); err != nil {
		err = fmt.Errorf("astiavreader: creating decoder failed: %w", err)
		return
	}
	s.c.Add(s.closeDecoder)

	// Log
	s.l.DebugC(s.ctx, fmt.Sprintf("astiavreader: %s opened on stream %d (%s)", s, s.i.StreamIndex, s.i.Geometry))
	return
}

func (s *Source) selectStream(o OpenOptions) (*astiav.Stream, error) {
	// Get media type
	mt := o.MediaType
	if mt == astiav.MediaTypeUnknown {
		mt = astiav.MediaTypeVideo
	}

	// Loop through streams
	for _, st := range s.r.Streams() {
		// Stream index has been provided
		if o.StreamIndex != nil {
			if st.Index() == *o.StreamIndex {
				if _, err := mediaTypeFromAstiav(st.CodecParameters().MediaType()); err != nil {
					return nil, fmt.Errorf("astiavreader: stream %d: %w", st.Index(), err)
				}
				return st, nil
			}
			continue
		}

		// Media type matches
		if st.CodecParameters().MediaType() == mt {
			return st, nil
		}
	}

	// No stream found
	if o.StreamIndex != nil {
		return nil, fmt.Errorf("astiavreader: no stream with index %d", *o.StreamIndex)
	}
	return nil, fmt.Errorf("astiavreader: no %s stream", mt)
}

func (s *Source) newInfo() (i astireader.SourceInfo, err error) {
	// Get time base
	tb := s.st.TimeBase()
	i.StreamIndex = s.st.Index()
	i.TimeBase = rationalFromAstiav(tb)

	// Get frame rate
	if fr := s.st.AvgFrameRate(); fr.Num() > 0 && fr.Den() > 0 {
		i.FrameRate = rationalFromAstiav(fr)
	} else if fr = s.st.RFrameRate(); fr.Num() > 0 && fr.Den() > 0 {
		i.FrameRate = rationalFromAstiav(fr)
	}

	// Get start time
	if st := s.st.StartTime(); st != astiav.NoPtsValue {
		i.StartTime = timeBaseToDuration(st, tb)
	} else if st = s.r.StartTime(); st != astiav.NoPtsValue {
		i.StartTime = timeBaseToDuration(st, timeBaseQ)
	}

	// Get duration
	if d := s.st.Duration(); d > 0 {
		i.Duration = timeBaseToDuration(d, tb)
	} else if d = s.r.Duration(); d > 0 {
		i.Duration = timeBaseToDuration(d, timeBaseQ)
	}

	// Get geometry
	cp := s.st.CodecParameters()
	if i.Geometry.MediaType, err = mediaTypeFromAstiav(cp.MediaType()); err != nil {
		err = fmt.Errorf("astiavreader: getting media type failed: %w", err)
		return
	}
	i.Geometry.TimeBase = i.TimeBase
	switch i.Geometry.MediaType {
	case astireader.MediaTypeAudio:
		i.Geometry.Channels = cp.ChannelLayout().Channels()
		i.Geometry.SampleFormat = cp.SampleFormat().String()
		i.Geometry.SampleRate = cp.SampleRate()
		i.Geometry.Samples = cp.FrameSize()
		i.Geometry.ComponentSize, _ = astireader.SampleFormatSize(i.Geometry.SampleFormat)
	default:
		i.Geometry.Height = cp.Height()
		i.Geometry.PixelFormat = cp.PixelFormat().String()
		i.Geometry.Width = cp.Width()
		i.Geometry.Components, i.Geometry.ComponentSize, _ = astireader.PixelFormatComponents(i.Geometry.PixelFormat)
	}
	return
}

func (s *Source) closeDecoder() {
	s.md.Lock()
	defer s.md.Unlock()
	if s.d != nil {
		s.d.close()
	}
}

func (s *Source) String() string {
	return fmt.Sprintf("source_%d", s.id)
}

func (s *Source) Close() error {
	// Log leaks
	if n := s.fp.inUse(); n > 0 {
		dispatchError(s, "astiavreader: %d frame(s) have not been freed before closing %s", n, s)
	}
	if n := s.pp.inUse(); n > 0 {
		dispatchError(s, "astiavreader: %d packet(s) have not been freed before closing %s", n, s)
	}

	// Close
	return s.c.Close()
}

func (s *Source) Info() astireader.SourceInfo {
	return s.i
}

func (s *Source) ReadPacket() (astireader.Packet, error) {
	for {
		// Context error
		if s.ctx.Err() != nil {
			return nil, fmt.Errorf("astiavreader: context error: %w", s.ctx.Err())
		}

		// Get packet
		pkt := s.pp.get()

		// Read frame
		if err := s.r.ReadFrame(pkt); err != nil {
			// Make sure to put packet back
			s.pp.put(pkt)

			// End of file
			if errors.Is(err, astiav.ErrEof) {
				return nil, astireader.ErrEndOfStream
			}
			return nil, fmt.Errorf("astiavreader: reading frame failed: %w", err)
		}

		// Packet belongs to another stream
		if pkt.StreamIndex() != s.i.StreamIndex {
			atomic.AddUint64(&s.cs.skippedPackets, 1)
			s.pp.put(pkt)
			continue
		}

		// Update stats
		atomic.AddUint64(&s.cs.incomingBytes, uint64(pkt.Size()))
		atomic.AddUint64(&s.cs.incomingPackets, 1)
		return newPacket(pkt, s.pp), nil
	}
}

func (s *Source) Seek(t time.Duration) error {
	// Get timestamp
	ts, _ := durationToTimeBase(t, s.st.TimeBase())

	// Seek
	if err := s.r.SeekFrame(s.i.StreamIndex, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("astiavreader: seeking to %s failed: %w", t, err)
	}
	return nil
}

func (s *Source) SendPacket(p astireader.Packet) error {
	s.md.Lock()
	defer s.md.Unlock()
	return s.d.sendPacket(p)
}

func (s *Source) ReceiveFrame() (astireader.Frame, error) {
	s.md.Lock()
	defer s.md.Unlock()
	return s.d.receiveFrame()
}

func (s *Source) NewFilterGraph(o astireader.FilterGraphOptions, first astireader.Frame) (astireader.FilterGraph, error) {
	// Assert frame
	f, ok := first.(*Frame)
	if !ok {
		return nil, fmt.Errorf("astiavreader: invalid frame type %T", first)
	}

	// Create filter graph
	fg, err := newFilterGraph(s, filterGraphOptions{
		first:     f,
		frameRate: s.st.AvgFrameRate(),
		mt:        s.mt,
		o:         o,
		samples:   s.i.Geometry.Samples,
		tb:        s.st.TimeBase(),
	})
	if err != nil {
		return nil, fmt.Errorf("astiavreader: creating filter graph failed: %w", err)
	}
	return fg, nil
}

type SourceCumulativeStats struct {
	AllocatedFrames  uint64
	AllocatedPackets uint64
	IncomingBytes    uint64
	IncomingPackets  uint64
	SkippedPackets   uint64
}

func (s *Source) CumulativeStats() SourceCumulativeStats {
	return SourceCumulativeStats{
		AllocatedFrames:  atomic.LoadUint64(&s.fp.cs.allocated),
		AllocatedPackets: atomic.LoadUint64(&s.pp.cs.allocated),
		IncomingBytes:    atomic.LoadUint64(&s.cs.incomingBytes),
		IncomingPackets:  atomic.LoadUint64(&s.cs.incomingPackets),
		SkippedPackets:   atomic.LoadUint64(&s.cs.skippedPackets),
	}
}

func (s *Source) DeltaStats() []astikit.DeltaStat {
	ss := s.fp.deltaStats()
	ss = append(ss, s.pp.deltaStats()...)
	ss = append(ss, astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{
			Description: "Number of bytes coming in per second",
			Label:       "Incoming byte rate",
			Name:        DeltaStatNameIncomingByteRate,
			Unit:        "Bps",
		},
		Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.incomingBytes),
	})
	return ss
}

type demuxerReader interface {
	Class() *astiav.Class
	CloseInput()
	Duration() int64
	FindStreamInfo(d *astiav.Dictionary) error
	Free()
	OpenInput(url string, fmt *astiav.InputFormat, d *astiav.Dictionary) error
	ReadFrame(p *astiav.Packet) error
	SeekFrame(streamIndex int, timestamp int64, f astiav.SeekFlags) error
	SetInterruptCallback() astiav.IOInterrupter
	StartTime() int64
	Streams() []*astiav.Stream
}

var newDemuxerReader = func() demuxerReader {
	if fc := astiav.AllocFormatContext(); fc != nil {
		return fc
	}
	return nil
}
