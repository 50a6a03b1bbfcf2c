// Package astiavreader provides an astireader.Source built on top of go-astiav
package astiavreader

import (
	"fmt"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/astireader"
)

var (
	NanosecondRational = astiav.NewRational(1, 1e9)
	// Unit of libav's format context durations and start times
	timeBaseQ = astiav.NewRational(1, 1e6)
)

const (
	DeltaStatNameAllocatedFrames  = "astiavreader.allocated.frames"
	DeltaStatNameAllocatedPackets = "astiavreader.allocated.packets"
	DeltaStatNameIncomingByteRate = "astiavreader.incoming.byte.rate"
)

func dispatchError(s *Source, format string, args ...interface{}) {
	// Create message
	msg := fmt.Sprintf(format, args...)

	// Get log interceptor
	if li, ok := logInterceptors.get(s); ok {
		li.write(s.ctx, astikit.LoggerLevelWarn, format, msg)
		return
	}

	// Log
	s.l.WarnC(s.ctx, msg)
}

func durationToTimeBase(d time.Duration, t astiav.Rational) (i int64, r time.Duration) {
	// Get duration expressed in stream timebase
	// We need to make sure it's rounded to the nearest smaller int
	i = astiav.RescaleQRnd(d.Nanoseconds(), NanosecondRational, t, astiav.RoundingDown)

	// Update remainder
	r = d - time.Duration(astiav.RescaleQ(i, t, NanosecondRational))
	return
}

func timeBaseToDuration(i int64, t astiav.Rational) time.Duration {
	return time.Duration(astiav.RescaleQ(i, t, NanosecondRational))
}

func rationalFromAstiav(r astiav.Rational) astireader.Rational {
	return astireader.NewRational(r.Num(), r.Den())
}

func mediaTypeFromAstiav(t astiav.MediaType) (astireader.MediaType, error) {
	switch t {
	case astiav.MediaTypeAudio:
		return astireader.MediaTypeAudio, nil
	case astiav.MediaTypeVideo:
		return astireader.MediaTypeVideo, nil
	default:
		return astireader.MediaTypeVideo, fmt.Errorf("astiavreader: media type %s is not handled", t)
	}
}
