package astireader

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

var (
	ErrClosed        = errors.New("astireader: closed")
	ErrEndOfBuffer   = errors.New("astireader: end of buffer")
	ErrEndOfStream   = errors.New("astireader: end of stream")
	ErrInvalidState  = errors.New("astireader: invalid state")
	ErrNotOpened     = errors.New("astireader: not opened")
	ErrQueueFull     = errors.New("astireader: queue full")
	ErrStartOfStream = errors.New("astireader: start of stream")
	ErrTimeout       = errors.New("astireader: timeout")
	ErrWouldBlock    = errors.New("astireader: would block")
)

// Used internally to unwind workers once the reader is killed
var errKilled = errors.New("astireader: killed")

// NoTimestamp is the timestamp of frames whose presentation timestamp is unknown
const NoTimestamp int64 = math.MinInt64

// FailedError is the error stored when a worker hits a fatal error. Once stored, it is
// returned by every public method of the reader.
type FailedError struct {
	Err    error
	Worker string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("astireader: closed due to error in %s: %s", e.Worker, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

type Rational struct {
	Den int
	Num int
}

func NewRational(num, den int) Rational {
	return Rational{
		Den: den,
		Num: num,
	}
}

func (r Rational) Valid() bool {
	return r.Num != 0 && r.Den != 0
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) Invert() Rational {
	return NewRational(r.Den, r.Num)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Duration converts ticks expressed in r into a duration, rounded to the nearest nanosecond.
// Durations that don't fit in a time.Duration are clamped.
func (r Rational) Duration(ts int64) time.Duration {
	if r.Den == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(ts), big.NewInt(int64(r.Num)*int64(time.Second)))
	return time.Duration(divRound(n, big.NewInt(int64(r.Den))))
}

// Timestamp converts a duration into ticks expressed in r, rounded to the nearest tick.
// Timestamps that don't fit in an int64 are clamped.
func (r Rational) Timestamp(d time.Duration) int64 {
	if r.Num == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(d.Nanoseconds()), big.NewInt(int64(r.Den)))
	return divRound(n, big.NewInt(int64(r.Num)*int64(time.Second)))
}

// Half away from zero, clamped to the int64 range
func divRound(n, d *big.Int) int64 {
	q, m := new(big.Int).QuoRem(n, d, new(big.Int))
	m.Abs(m).Lsh(m, 1)
	if m.Cmp(new(big.Int).Abs(d)) >= 0 {
		if n.Sign()*d.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}

	// Clamp
	if !q.IsInt64() {
		if q.Sign() < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return q.Int64()
}
