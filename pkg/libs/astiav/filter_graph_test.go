package astiavreader

import (
	"context"
	"errors"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astireader/pkg/astireader"
	"github.com/stretchr/testify/require"
)

type mockedFilterGraphers struct {
	gs       []*mockedFilterGrapher
	previous func() filterGrapher
}

func newMockedFilterGraphers() *mockedFilterGraphers {
	gs := &mockedFilterGraphers{previous: newFilterGrapher}
	newFilterGrapher = func() filterGrapher {
		g := &mockedFilterGrapher{
			buffersink: &mockedFilterBuffersinkContexter{tb: astiav.NewRational(1, 50)},
			buffersrc:  &mockedFilterBuffersrcContexter{},
		}
		gs.gs = append(gs.gs, g)
		return g
	}
	return gs
}

func (gs *mockedFilterGraphers) close() {
	newFilterGrapher = gs.previous
}

var _ filterGrapher = (*mockedFilterGrapher)(nil)

type mockedFilterGrapher struct {
	buffersink     *mockedFilterBuffersinkContexter
	buffersinkName string
	buffersrc      *mockedFilterBuffersrcContexter
	buffersrcArgs  astiav.FilterArgs
	configureErr   error
	freed          bool
	parsedContent  string
	parsedInputs   filterInOuter
	parsedOutputs  filterInOuter
	threadCount    int
	threadType     astiav.ThreadType
}

func (g *mockedFilterGrapher) Class() *astiav.Class {
	return nil
}

func (g *mockedFilterGrapher) Configure() error {
	return g.configureErr
}

func (g *mockedFilterGrapher) Free() {
	g.freed = true
}

func (g *mockedFilterGrapher) NewBuffersinkFilterContext(f filterFilterer, name string, args astiav.FilterArgs) (filterBuffersinkContexter, error) {
	g.buffersinkName = f.ptr().Name()
	return g.buffersink, nil
}

func (g *mockedFilterGrapher) NewBuffersrcFilterContext(f filterFilterer, name string, args astiav.FilterArgs) (filterBuffersrcContexter, error) {
	g.buffersrcArgs = args
	return g.buffersrc, nil
}

func (g *mockedFilterGrapher) Parse(content string, inputs, outputs filterInOuter) error {
	g.parsedContent = content
	g.parsedInputs = inputs
	g.parsedOutputs = outputs
	return nil
}

func (g *mockedFilterGrapher) SetThreadCount(i int) {
	g.threadCount = i
}

func (g *mockedFilterGrapher) SetThreadType(tt astiav.ThreadType) {
	g.threadType = tt
}

var _ filterBuffersinkContexter = (*mockedFilterBuffersinkContexter)(nil)

type mockedFilterBuffersinkContexter struct {
	onGetFrame func(f *astiav.Frame) error
	tb         astiav.Rational
}

func (c *mockedFilterBuffersinkContexter) GetFrame(f *astiav.Frame, fs astiav.BuffersinkFlags) error {
	if c.onGetFrame != nil {
		return c.onGetFrame(f)
	}
	return astiav.ErrEagain
}

func (c *mockedFilterBuffersinkContexter) TimeBase() astiav.Rational {
	return c.tb
}

func (c *mockedFilterBuffersinkContexter) ptr() *astiav.FilterContext {
	return nil
}

var _ filterBuffersrcContexter = (*mockedFilterBuffersrcContexter)(nil)

type mockedFilterBuffersrcContexter struct {
	frames []*astiav.Frame
	onAdd  func(f *astiav.Frame) error
}

func (c *mockedFilterBuffersrcContexter) AddFrame(f *astiav.Frame, fs astiav.BuffersrcFlags) error {
	if c.onAdd != nil {
		if err := c.onAdd(f); err != nil {
			return err
		}
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *mockedFilterBuffersrcContexter) ptr() *astiav.FilterContext {
	return nil
}

type mockedFilterInOuters struct {
	ios      []*mockedFilterInOuter
	previous func() filterInOuter
}

func newMockedFilterInOuters() *mockedFilterInOuters {
	ios := &mockedFilterInOuters{previous: newFilterInOuter}
	newFilterInOuter = func() filterInOuter {
		io := &mockedFilterInOuter{}
		ios.ios = append(ios.ios, io)
		return io
	}
	return ios
}

func (ios *mockedFilterInOuters) close() {
	newFilterInOuter = ios.previous
}

var _ filterInOuter = (*mockedFilterInOuter)(nil)

type mockedFilterInOuter struct {
	fc     filterContexter
	freed  bool
	name   string
	padIdx int
}

func (io *mockedFilterInOuter) Free() {
	io.freed = true
}

func (io *mockedFilterInOuter) SetFilterContext(c filterContexter) {
	io.fc = c
}

func (io *mockedFilterInOuter) SetName(n string) {
	io.name = n
}

func (io *mockedFilterInOuter) SetNext(filterInOuter) {}

func (io *mockedFilterInOuter) SetPadIdx(i int) {
	io.padIdx = i
}

func (io *mockedFilterInOuter) ptr() *astiav.FilterInOut {
	return nil
}

func TestFilterGraphContent(t *testing.T) {
	require.Equal(t, "null", filterGraphContent(astireader.FilterGraphOptions{}, astiav.MediaTypeVideo, 0))
	require.Equal(t, "anull", filterGraphContent(astireader.FilterGraphOptions{}, astiav.MediaTypeAudio, 0))
	require.Equal(t, "hflip", filterGraphContent(astireader.FilterGraphOptions{Description: " hflip "}, astiav.MediaTypeVideo, 1024))
	require.Equal(t, "hflip,format=pix_fmts=rgba", filterGraphContent(astireader.FilterGraphOptions{
		Description: "hflip",
		PixelFormat: "rgba",
	}, astiav.MediaTypeVideo, 0))
	require.Equal(t, "aformat=sample_fmts=flt,asetnsamples=n=1024:p=1", filterGraphContent(astireader.FilterGraphOptions{PixelFormat: "flt"}, astiav.MediaTypeAudio, 1024))
}

func TestSourceFilterGraph(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	rs := newMockedDecoderReaders()
	defer rs.close()
	gs := newMockedFilterGraphers()
	defer gs.close()
	ios := newMockedFilterInOuters()
	defer ios.close()
	r.newVideoStream(0)

	s, err := Open(context.Background(), OpenOptions{Filter: FilterOptions{
		ThreadCount: 3,
		ThreadType:  astiav.ThreadTypeSlice,
	}})
	require.NoError(t, err)
	defer s.Close()

	// Get first frame
	rs.receiveFrameFunc = func(f *astiav.Frame) error {
		fillFrame(t, f, 2)
		return nil
	}
	first, err := s.ReceiveFrame()
	require.NoError(t, err)
	defer first.Free()

	// Invalid frame
	_, err = s.NewFilterGraph(astireader.FilterGraphOptions{}, nil)
	require.Error(t, err)

	// Create filter graph
	fg, err := s.NewFilterGraph(astireader.FilterGraphOptions{
		Description: "hflip",
		PixelFormat: "gray",
	}, first)
	require.NoError(t, err)
	require.Len(t, gs.gs, 1)
	g := gs.gs[0]
	require.Equal(t, "hflip,format=pix_fmts=gray", g.parsedContent)
	require.Equal(t, "buffersink", g.buffersinkName)
	require.Equal(t, "2", g.buffersrcArgs["height"])
	require.Equal(t, "2", g.buffersrcArgs["width"])
	require.Equal(t, "1/25", g.buffersrcArgs["time_base"])
	require.Equal(t, "25/1", g.buffersrcArgs["frame_rate"])
	require.Equal(t, 3, g.threadCount)
	require.Equal(t, astiav.ThreadTypeSlice, g.threadType)
	require.Len(t, ios.ios, 2)
	require.Equal(t, "in", ios.ios[0].name)
	require.Equal(t, g.buffersrc, ios.ios[0].fc)
	require.Equal(t, "out", ios.ios[1].name)
	require.Equal(t, g.buffersink, ios.ios[1].fc)
	require.True(t, ios.ios[0].freed)
	require.True(t, ios.ios[1].freed)
	_, ok := classers.get(g)
	require.True(t, ok)

	// Push
	require.NoError(t, fg.Push(first))
	require.NoError(t, fg.Push(nil))
	require.Len(t, g.buffersrc.frames, 2)
	require.Same(t, first.(*Frame).Frame, g.buffersrc.frames[0])
	require.Nil(t, g.buffersrc.frames[1])
	g.buffersrc.onAdd = func(f *astiav.Frame) error { return astiav.ErrEof }
	require.ErrorIs(t, fg.Push(first), astireader.ErrEndOfStream)
	g.buffersrc.onAdd = func(f *astiav.Frame) error { return astiav.ErrEagain }
	require.ErrorIs(t, fg.Push(first), astireader.ErrWouldBlock)

	// Pull
	_, err = fg.Pull()
	require.ErrorIs(t, err, astireader.ErrWouldBlock)
	g.buffersink.onGetFrame = func(f *astiav.Frame) error {
		fillFrame(t, f, 4)
		return nil
	}
	f, err := fg.Pull()
	require.NoError(t, err)
	require.Equal(t, int64(4), f.Timestamp())
	require.Equal(t, astireader.NewRational(1, 50), f.Geometry().TimeBase)
	f.Free()
	g.buffersink.onGetFrame = func(f *astiav.Frame) error { return astiav.ErrEof }
	_, err = fg.Pull()
	require.ErrorIs(t, err, astireader.ErrEndOfStream)
	g.buffersink.onGetFrame = func(f *astiav.Frame) error { return errors.New("test") }
	_, err = fg.Pull()
	require.Error(t, err)

	// Close
	require.NoError(t, fg.Close())
	require.True(t, g.freed)
	_, ok = classers.get(g)
	require.False(t, ok)
}

func TestSourceFilterGraphFailure(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	rs := newMockedDecoderReaders()
	defer rs.close()
	gs := newMockedFilterGraphers()
	defer gs.close()
	ios := newMockedFilterInOuters()
	defer ios.close()
	r.newVideoStream(0)

	s, err := Open(context.Background(), OpenOptions{})
	require.NoError(t, err)
	defer s.Close()

	rs.receiveFrameFunc = func(f *astiav.Frame) error {
		fillFrame(t, f, 2)
		return nil
	}
	first, err := s.ReceiveFrame()
	require.NoError(t, err)
	defer first.Free()

	newFilterGrapher = func() filterGrapher {
		g := &mockedFilterGrapher{
			buffersink:   &mockedFilterBuffersinkContexter{},
			buffersrc:    &mockedFilterBuffersrcContexter{},
			configureErr: errors.New("test"),
		}
		gs.gs = append(gs.gs, g)
		return g
	}
	_, err = s.NewFilterGraph(astireader.FilterGraphOptions{Description: "invalid"}, first)
	require.Error(t, err)
	require.Len(t, gs.gs, 1)
	require.True(t, gs.gs[0].freed)
}
