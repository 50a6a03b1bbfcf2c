package astireader

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRational(t *testing.T) {
	r := NewRational(1, 25)
	require.True(t, r.Valid())
	require.False(t, Rational{}.Valid())
	require.Equal(t, 0.04, r.Float64())
	require.Equal(t, NewRational(25, 1), r.Invert())
	require.Equal(t, "1/25", r.String())

	require.Equal(t, 80*time.Millisecond, r.Duration(2))
	require.Equal(t, -80*time.Millisecond, r.Duration(-2))
	require.Equal(t, int64(2), r.Timestamp(80*time.Millisecond))
	require.Equal(t, int64(2), r.Timestamp(99*time.Millisecond))
	require.Equal(t, int64(3), r.Timestamp(100*time.Millisecond))
	require.Equal(t, int64(-3), r.Timestamp(-100*time.Millisecond))

	// 90kHz timestamps don't overflow
	r = NewRational(1, 90000)
	require.Equal(t, 100*time.Hour, r.Duration(int64(100*3600*90000)))
	require.Equal(t, int64(100*3600*90000), r.Timestamp(100*time.Hour))

	// NTSC
	r = NewRational(1001, 30000)
	require.Equal(t, 33366667*time.Nanosecond, r.Duration(1))
	require.Equal(t, int64(1), r.Timestamp(33366667*time.Nanosecond))

	// Out of range values are clamped
	r = NewRational(1, 1)
	require.Equal(t, time.Duration(math.MaxInt64), r.Duration(1<<40))
	require.Equal(t, time.Duration(math.MinInt64), r.Duration(-1<<40))
	r = NewRational(1, 1<<30)
	require.Equal(t, int64(math.MaxInt64), r.Timestamp(time.Duration(math.MaxInt64)))
	require.Equal(t, int64(math.MinInt64), r.Timestamp(time.Duration(math.MinInt64)))

	require.Equal(t, time.Duration(0), Rational{}.Duration(1))
	require.Equal(t, int64(0), Rational{}.Timestamp(time.Second))
}

func TestFailedError(t *testing.T) {
	err := errors.New("test")
	var fe error = &FailedError{Err: err, Worker: workerFrameFilter.String()}
	require.Equal(t, "astireader: closed due to error in frame filter: test", fe.Error())
	require.ErrorIs(t, fmt.Errorf("wrapped: %w", fe), err)
	var e *FailedError
	require.ErrorAs(t, fe, &e)
	require.Equal(t, "frame filter", e.Worker)
}

func TestGeometry(t *testing.T) {
	g := Geometry{
		ComponentSize: 2,
		Components:    3,
		Height:        2,
		PixelFormat:   "rgb48le",
		TimeBase:      NewRational(1, 25),
		Width:         4,
	}
	require.Equal(t, 48, g.Size())
	require.NoError(t, g.Validate())
	require.Equal(t, "video rgb48le 4x2", g.String())

	g.FrameSize = 10
	require.Equal(t, 10, g.Size())

	g = Geometry{
		Channels:      2,
		ComponentSize: 4,
		MediaType:     MediaTypeAudio,
		SampleFormat:  "flt",
		SampleRate:    48000,
		Samples:       1024,
	}
	require.Equal(t, 8192, g.Size())
	require.Error(t, g.Validate())
	g.TimeBase = NewRational(1, 48000)
	require.NoError(t, g.Validate())
	require.Equal(t, "audio flt 48000Hz 2ch 1024 samples", g.String())

	require.Error(t, Geometry{TimeBase: NewRational(1, 25)}.Validate())

	c, s, ok := PixelFormatComponents("rgba")
	require.True(t, ok)
	require.Equal(t, 4, c)
	require.Equal(t, 1, s)
	_, _, ok = PixelFormatComponents("yuv420p")
	require.False(t, ok)

	s, ok = SampleFormatSize("s16")
	require.True(t, ok)
	require.Equal(t, 2, s)
	_, ok = SampleFormatSize("s16p")
	require.False(t, ok)
}
