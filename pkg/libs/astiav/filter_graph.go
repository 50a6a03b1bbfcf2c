package astiavreader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/astireader"
)

type FilterOptions struct {
	ThreadCount int
	ThreadType  astiav.ThreadType
}

var _ astireader.FilterGraph = (*filterGraph)(nil)

type filterGraph struct {
	buffersinkContext filterBuffersinkContexter
	buffersrcContext  filterBuffersrcContexter
	c                 *astikit.Closer
	content           string
	fp                *framePool
	g                 filterGrapher
	gc                *geometryCache
	mt                astiav.MediaType
	tb                astiav.Rational
}

// Builds the content of the graph, the requested output format being appended to the
// user's description. Audio frames are regrouped in blocks of samples so that they all
// have the same size.
func filterGraphContent(o astireader.FilterGraphOptions, mt astiav.MediaType, samples int) string {
	var ss []string
	if d := strings.TrimSpace(o.Description); d != "" {
		ss = append(ss, d)
	}
	if o.PixelFormat != "" {
		switch mt {
		case astiav.MediaTypeAudio:
			ss = append(ss, "aformat=sample_fmts="+o.PixelFormat)
		default:
			ss = append(ss, "format=pix_fmts="+o.PixelFormat)
		}
	}
	if mt == astiav.MediaTypeAudio && samples > 0 {
		ss = append(ss, "asetnsamples=n="+strconv.Itoa(samples)+":p=1")
	}
	if len(ss) == 0 {
		if mt == astiav.MediaTypeAudio {
			return "anull"
		}
		return "null"
	}
	return strings.Join(ss, ",")
}

type filterGraphOptions struct {
	first     *Frame
	frameRate astiav.Rational
	mt        astiav.MediaType
	o         astireader.FilterGraphOptions
	samples   int
	tb        astiav.Rational
}

func newFilterGraph(s *Source, o filterGraphOptions) (fg *filterGraph, err error) {
	// Create filter graph
	fg = &filterGraph{
		c:       astikit.NewCloser(),
		content: filterGraphContent(o.o, o.mt, o.samples),
		fp:      s.fp,
		gc:      &geometryCache{},
		mt:      o.mt,
	}

	// Make sure to close filter graph in case of error
	defer func() {
		if err != nil {
			fg.Close() //nolint: errcheck
		}
	}()

	// Create grapher
	if fg.g = newFilterGrapher(); fg.g == nil {
		err = errors.New("astiavreader: grapher is nil")
		return
	}
	classers.set(fg.g, s)

	// Make sure grapher is freed
	fg.c.Add(fg.g.Free)
	fg.c.Add(func() { classers.del(fg.g) })

	// Set thread parameters
	if s.fo.ThreadCount > 0 {
		fg.g.SetThreadCount(s.fo.ThreadCount)
	}
	if s.fo.ThreadType != astiav.ThreadTypeUndefined {
		fg.g.SetThreadType(s.fo.ThreadType)
	}

	// Create args
	var buffersrcName, buffersinkName string
	var args astiav.FilterArgs
	switch o.mt {
	case astiav.MediaTypeAudio:
		buffersrcName, buffersinkName = "abuffer", "abuffersink"
		args = astiav.FilterArgs{
			"channel_layout": o.first.ChannelLayout().String(),
			"sample_fmt":     o.first.SampleFormat().String(),
			"sample_rate":    strconv.Itoa(o.first.SampleRate()),
			"time_base":      o.tb.String(),
		}
	case astiav.MediaTypeVideo:
		buffersrcName, buffersinkName = "buffer", "buffersink"
		args = astiav.FilterArgs{
			"colorspace": o.first.ColorSpace().String(),
			"height":     strconv.Itoa(o.first.Height()),
			"pix_fmt":    strconv.Itoa(int(o.first.PixelFormat())),
			"range":      o.first.ColorRange().String(),
			"sar":        o.first.SampleAspectRatio().String(),
			"time_base":  o.tb.String(),
			"width":      strconv.Itoa(o.first.Width()),
		}
		if o.frameRate.Num() > 0 && o.frameRate.Den() > 0 {
			args["frame_rate"] = o.frameRate.String()
		}
	default:
		err = fmt.Errorf("astiavreader: media type %s is not handled by filter graph", o.mt)
		return
	}

	// Find filters
	buffersrc := newFilterFilterer(buffersrcName)
	if buffersrc == nil {
		err = errors.New("astiavreader: buffersrc is nil")
		return
	}
	buffersink := newFilterFilterer(buffersinkName)
	if buffersink == nil {
		err = errors.New("astiavreader: buffersink is nil")
		return
	}

	// Create buffersrc context
	if fg.buffersrcContext, err = fg.g.NewBuffersrcFilterContext(buffersrc, "in", args); err != nil {
		err = fmt.Errorf("astiavreader: creating buffersrc context failed: %w", err)
		return
	}

	// Create buffersink context
	//!\\ Contexts shouldn't be freed as freeing the graph takes care of it
	if fg.buffersinkContext, err = fg.g.NewBuffersinkFilterContext(buffersink, "out", nil); err != nil {
		err = fmt.Errorf("astiavreader: creating buffersink context failed: %w", err)
		return
	}

	// Create outputs
	outputs := newFilterInOuter()
	outputs.SetName("in")
	outputs.SetFilterContext(fg.buffersrcContext)
	outputs.SetPadIdx(0)
	outputs.SetNext(nil)
	defer outputs.Free()

	// Create inputs
	inputs := newFilterInOuter()
	inputs.SetName("out")
	inputs.SetFilterContext(fg.buffersinkContext)
	inputs.SetPadIdx(0)
	inputs.SetNext(nil)
	defer inputs.Free()

	// Parse content
	if err = fg.g.Parse(fg.content, inputs, outputs); err != nil {
		err = fmt.Errorf("astiavreader: parsing content %q failed: %w", fg.content, err)
		return
	}

	// Configure graph
	if err = fg.g.Configure(); err != nil {
		err = fmt.Errorf("astiavreader: configuring graph failed: %w", err)
		return
	}

	// Store time base
	fg.tb = fg.buffersinkContext.TimeBase()
	return
}

func (fg *filterGraph) Close() error {
	fg.c.Close()
	return nil
}

func (fg *filterGraph) Push(f astireader.Frame) error {
	// Get frame
	var af *astiav.Frame
	if f != nil {
		v, ok := f.(*Frame)
		if !ok {
			return fmt.Errorf("astiavreader: invalid frame type %T", f)
		}
		af = v.Frame
	}

	// Add frame
	if err := fg.buffersrcContext.AddFrame(af, astiav.NewBuffersrcFlags(astiav.BuffersrcFlagKeepRef)); err != nil {
		switch {
		case errors.Is(err, astiav.ErrEagain):
			return astireader.ErrWouldBlock
		case errors.Is(err, astiav.ErrEof):
			return astireader.ErrEndOfStream
		default:
			return fmt.Errorf("astiavreader: adding frame failed: %w", err)
		}
	}
	return nil
}

func (fg *filterGraph) Pull() (astireader.Frame, error) {
	// Get frame
	f := fg.fp.get()

	// Get filtered frame
	if err := fg.buffersinkContext.GetFrame(f, astiav.NewBuffersinkFlags()); err != nil {
		// Make sure to put frame back
		fg.fp.put(f)

		// Process error
		switch {
		case errors.Is(err, astiav.ErrEagain):
			return nil, astireader.ErrWouldBlock
		case errors.Is(err, astiav.ErrEof):
			return nil, astireader.ErrEndOfStream
		default:
			return nil, fmt.Errorf("astiavreader: getting frame failed: %w", err)
		}
	}

	// Get geometry
	g, err := fg.gc.get(f, fg.mt, fg.tb)
	if err != nil {
		fg.fp.put(f)
		return nil, fmt.Errorf("astiavreader: getting geometry failed: %w", err)
	}
	return newFrame(f, fg.fp, g), nil
}

type filterGrapher interface {
	Class() *astiav.Class
	Configure() error
	Free()
	NewBuffersinkFilterContext(f filterFilterer, name string, args astiav.FilterArgs) (filterBuffersinkContexter, error)
	NewBuffersrcFilterContext(f filterFilterer, name string, args astiav.FilterArgs) (filterBuffersrcContexter, error)
	Parse(content string, inputs, outputs filterInOuter) error
	SetThreadCount(int)
	SetThreadType(astiav.ThreadType)
}

var newFilterGrapher = func() filterGrapher {
	if fg := astiav.AllocFilterGraph(); fg != nil {
		return &defaultFilterGrapher{FilterGraph: fg}
	}
	return nil
}

var _ filterGrapher = (*defaultFilterGrapher)(nil)

type defaultFilterGrapher struct {
	*astiav.FilterGraph
}

func (g *defaultFilterGrapher) NewBuffersinkFilterContext(f filterFilterer, name string, args astiav.FilterArgs) (filterBuffersinkContexter, error) {
	fc, err := g.FilterGraph.NewBuffersinkFilterContext(f.ptr(), name, args)
	if err != nil {
		return nil, err
	}
	return &defaultFilterBuffersinkContexter{BuffersinkFilterContext: fc}, nil
}

func (g *defaultFilterGrapher) NewBuffersrcFilterContext(f filterFilterer, name string, args astiav.FilterArgs) (filterBuffersrcContexter, error) {
	fc, err := g.FilterGraph.NewBuffersrcFilterContext(f.ptr(), name, args)
	if err != nil {
		return nil, err
	}
	return &defaultFilterBuffersrcContexter{BuffersrcFilterContext: fc}, nil
}

func (g *defaultFilterGrapher) Parse(content string, inputs, outputs filterInOuter) error {
	var is, os *astiav.FilterInOut
	if inputs != nil {
		is = inputs.ptr()
	}
	if outputs != nil {
		os = outputs.ptr()
	}
	return g.FilterGraph.Parse(content, is, os)
}

type filterContexter interface {
	ptr() *astiav.FilterContext
}

type filterBuffersinkContexter interface {
	filterContexter
	GetFrame(f *astiav.Frame, fs astiav.BuffersinkFlags) error
	TimeBase() astiav.Rational
}

var _ filterBuffersinkContexter = (*defaultFilterBuffersinkContexter)(nil)

type defaultFilterBuffersinkContexter struct {
	*astiav.BuffersinkFilterContext
}

func (c *defaultFilterBuffersinkContexter) ptr() *astiav.FilterContext {
	return c.BuffersinkFilterContext.FilterContext()
}

type filterBuffersrcContexter interface {
	filterContexter
	AddFrame(f *astiav.Frame, fs astiav.BuffersrcFlags) error
}

var _ filterBuffersrcContexter = (*defaultFilterBuffersrcContexter)(nil)

type defaultFilterBuffersrcContexter struct {
	*astiav.BuffersrcFilterContext
}

func (c *defaultFilterBuffersrcContexter) ptr() *astiav.FilterContext {
	return c.BuffersrcFilterContext.FilterContext()
}

type filterInOuter interface {
	Free()
	SetFilterContext(filterContexter)
	SetName(string)
	SetNext(filterInOuter)
	SetPadIdx(int)

	ptr() *astiav.FilterInOut
}

var newFilterInOuter = func() filterInOuter {
	return &defaultFilterInOuter{FilterInOut: astiav.AllocFilterInOut()}
}

var _ filterInOuter = (*defaultFilterInOuter)(nil)

type defaultFilterInOuter struct {
	*astiav.FilterInOut
}

func (io *defaultFilterInOuter) SetFilterContext(c filterContexter) {
	var fc *astiav.FilterContext
	if c != nil {
		fc = c.ptr()
	}
	io.FilterInOut.SetFilterContext(fc)
}

func (io *defaultFilterInOuter) SetNext(n filterInOuter) {
	var nio *astiav.FilterInOut
	if n != nil {
		nio = n.ptr()
	}
	io.FilterInOut.SetNext(nio)
}

func (io *defaultFilterInOuter) ptr() *astiav.FilterInOut {
	return io.FilterInOut
}

type filterFilterer interface {
	ptr() *astiav.Filter
}

var newFilterFilterer = func(name string) filterFilterer {
	if f := astiav.FindFilterByName(name); f != nil {
		return &defaultFilterFilterer{Filter: f}
	}
	return nil
}

type defaultFilterFilterer struct {
	*astiav.Filter
}

func (f *defaultFilterFilterer) ptr() *astiav.Filter {
	return f.Filter
}
