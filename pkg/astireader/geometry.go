package astireader

import (
	"errors"
	"fmt"
)

type MediaType int

const (
	MediaTypeVideo MediaType = iota
	MediaTypeAudio
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	default:
		return "video"
	}
}

// Geometry describes the layout shared by every frame stored in a buffer. Video and
// audio only differ in which fields are relevant.
type Geometry struct {
	Channels      int
	ComponentSize int
	Components    int
	// When > 0, FrameSize overrides the size computed from the other fields
	FrameSize    int
	Height       int
	MediaType    MediaType
	PixelFormat  string
	SampleFormat string
	SampleRate   int
	Samples      int
	TimeBase     Rational
	Width        int
}

// Size returns the number of bytes needed to store one frame
func (g Geometry) Size() int {
	if g.FrameSize > 0 {
		return g.FrameSize
	}
	cs := g.ComponentSize
	if cs <= 0 {
		cs = 1
	}
	switch g.MediaType {
	case MediaTypeAudio:
		return g.Samples * g.Channels * cs
	default:
		return g.Width * g.Height * g.Components * cs
	}
}

func (g Geometry) Validate() error {
	if g.Size() <= 0 {
		return fmt.Errorf("astireader: invalid frame size for %s", g)
	}
	if !g.TimeBase.Valid() {
		return errors.New("astireader: invalid time base")
	}
	return nil
}

func (g Geometry) String() string {
	switch g.MediaType {
	case MediaTypeAudio:
		return fmt.Sprintf("audio %s %dHz %dch %d samples", g.SampleFormat, g.SampleRate, g.Channels, g.Samples)
	default:
		return fmt.Sprintf("video %s %dx%d", g.PixelFormat, g.Width, g.Height)
	}
}

type componentLayout struct {
	count int
	size  int
}

var pixelFormatLayouts = map[string]componentLayout{
	"abgr":     {count: 4, size: 1},
	"argb":     {count: 4, size: 1},
	"bgr24":    {count: 3, size: 1},
	"bgra":     {count: 4, size: 1},
	"gray":     {count: 1, size: 1},
	"gray16le": {count: 1, size: 2},
	"rgb24":    {count: 3, size: 1},
	"rgb48le":  {count: 3, size: 2},
	"rgba":     {count: 4, size: 1},
	"rgba64le": {count: 4, size: 2},
	"ya8":      {count: 2, size: 1},
}

// PixelFormatComponents returns the number of components and the size of each component
// of a packed pixel format
func PixelFormatComponents(name string) (count, size int, ok bool) {
	var l componentLayout
	if l, ok = pixelFormatLayouts[name]; ok {
		count = l.count
		size = l.size
	}
	return
}

var sampleFormatSizes = map[string]int{
	"dbl": 8,
	"flt": 4,
	"s16": 2,
	"s32": 4,
	"s64": 8,
	"u8":  1,
}

// SampleFormatSize returns the size of one sample of a packed sample format
func SampleFormatSize(name string) (size int, ok bool) {
	size, ok = sampleFormatSizes[name]
	return
}
