package astireader

import (
	"fmt"
	"sync/atomic"
	"time"
)

const defaultShufflerFrameRate = 25

// shuffler owns two buffers: the frame filter writes to one while the consumer reads the
// other. Buffers are swapped once the read buffer is drained and the write buffer is
// complete.
//
// When reading backward, the stream is decoded forward in chunks of one buffer, each
// chunk ending right before the first frame of the previous one.
type shuffler struct {
	capacity int
	// Duration of a chunk at the nominal frame rate
	chunk time.Duration
	d     Direction
	// No more chunks can be decoded backward
	exhausted bool
	interval  time.Duration
	// A chunk must be decoded as soon as the pipeline is idle
	pending bool
	read    *FrameBuffer
	start   time.Duration
	// Chunks end right before stopAt
	stopAt time.Duration
	target time.Duration
	write  *FrameBuffer
}

func newShuffler(capacity int, d Direction, i SourceInfo) *shuffler {
	// Get frame rate
	fr := i.FrameRate
	if !fr.Valid() || fr.Float64() <= 0 {
		fr = NewRational(defaultShufflerFrameRate, 1)
	}

	// Create shuffler
	return &shuffler{
		capacity: capacity,
		chunk:    fr.Invert().Duration(int64(capacity)),
		d:        d,
		interval: fr.Invert().Duration(1),
		start:    i.StartTime,
	}
}

func (sh *shuffler) run(r *Reader) {
	// Lock
	r.m.Lock()

	for {
		// Reader has been killed
		if r.isKilled() {
			r.m.Unlock()
			return
		}

		// Step
		progressed, es, err := sh.stepUnlocked(r)
		if err != nil {
			r.m.Unlock()
			r.fail(workerShuffler, err)
			return
		}

		// Emit
		if len(es) > 0 {
			r.m.Unlock()
			r.emit(es...)
			r.m.Lock()
			continue
		}

		// Notify or wait
		if progressed {
			r.cb.Broadcast()
		} else {
			r.cb.Wait()
		}
	}
}

// Mutex should be locked
func (sh *shuffler) stepUnlocked(r *Reader) (progressed bool, es []emission, err error) {
	// Allocate buffers once the geometry is known
	if sh.write == nil && r.s.geometry != nil {
		if err = sh.allocUnlocked(r); err != nil {
			err = fmt.Errorf("astireader: allocating buffers failed: %w", err)
			return
		}
		progressed = true
		return
	}

	// Step
	if sh.d == DirectionBackward {
		return sh.stepBackwardUnlocked(r)
	}
	return sh.stepForwardUnlocked(r)
}

// Mutex should be locked
func (sh *shuffler) allocUnlocked(r *Reader) (err error) {
	// Create buffers
	o := FrameBufferOptions{
		Capacity:  sh.capacity,
		Direction: sh.d,
		Geometry:  *r.s.geometry,
		StartTime: sh.start,
	}
	if sh.read, err = NewFrameBuffer(o); err != nil {
		return
	}
	if sh.write, err = NewFrameBuffer(o); err != nil {
		sh.read = nil
		return
	}

	// Attach
	r.attachUnlocked(sh.write)
	return
}

// Mutex should be locked
func (sh *shuffler) stepForwardUnlocked(r *Reader) (progressed bool, es []emission, err error) {
	// Nothing to swap
	if sh.write == nil || !sh.read.Drained() || sh.read.EOF() || !sh.write.Complete() {
		return
	}

	// Swap
	es = append(es, sh.swapUnlocked(r))
	progressed = true
	return
}

// Mutex should be locked
func (sh *shuffler) stepBackwardUnlocked(r *Reader) (progressed bool, es []emission, err error) {
	switch {
	case r.s.overflow != nil:
		// Wait for the pipeline to be idle
		if !r.s.idle() {
			return
		}

		// Shift the chunk so that it fits in the buffer
		sh.target += sh.stopAt - *r.s.overflow
		if sh.target >= sh.stopAt {
			sh.target = sh.stopAt - sh.interval
		}
		r.s.overflow = nil
		sh.pending = true
		progressed = true
	case sh.write != nil && sh.write.EOF():
		// Empty chunk
		if sh.write.Empty() {
			sh.write.Reset()
			if sh.target <= sh.start {
				es = append(es, sh.exhaustUnlocked())
			} else {
				sh.target = sh.chunkStart(sh.target)
				sh.pending = true
			}
			progressed = true
			return
		}

		// Read buffer is not drained yet
		if !sh.read.Drained() {
			return
		}

		// Swap
		es = append(es, sh.swapUnlocked(r))
		progressed = true

		// Prepare next chunk
		if first, ok := sh.read.firstTime(); !ok || first <= sh.start {
			es = append(es, sh.exhaustUnlocked())
		} else {
			sh.stopAt = first
			sh.target = sh.chunkStart(first)
			sh.pending = true
		}
	case sh.pending && !sh.exhausted && !r.s.paused && r.s.controlling == 0 && r.s.idle():
		sh.issueUnlocked(r)
		progressed = true
	}
	return
}

// swappable returns whether buffers are about to be swapped
//
// Mutex should be locked
func (sh *shuffler) swappable() bool {
	if sh.write == nil || !sh.read.Drained() {
		return false
	}
	if sh.d == DirectionBackward {
		return sh.write.EOF() && !sh.write.Empty()
	}
	return !sh.read.EOF() && sh.write.Complete()
}

func (sh *shuffler) chunkStart(end time.Duration) time.Duration {
	if t := end - sh.chunk; t > sh.start {
		return t
	}
	return sh.start
}

// Mutex should be locked
func (sh *shuffler) swapUnlocked(r *Reader) emission {
	// Swap
	sh.read, sh.write = sh.write, sh.read
	sh.write.Reset()

	// Attach
	r.attachUnlocked(sh.write)

	// Increment stats
	atomic.AddUint64(&r.cs.bufferSwaps, 1)
	return emission{n: EventNameReaderBufferSwapped}
}

// Mutex should be locked
func (sh *shuffler) exhaustUnlocked() emission {
	sh.exhausted = true
	sh.pending = false
	return emission{n: EventNameReaderStartOfStream}
}

// Mutex should be locked
func (sh *shuffler) issueUnlocked(r *Reader) {
	// Update
	sh.pending = false
	if sh.write != nil {
		sh.write.Reset()
	}

	// Frames of the previous chunk are dropped, frames before the target are dropped as
	// well unless the chunk starts at the start of the stream
	stopAt := sh.stopAt
	sr := &seekRequest{
		marker: seekMarker{stop: &stopAt},
		target: sh.target,
	}
	if sh.target > sh.start {
		until := sh.target - sh.interval/2
		sr.marker.until = &until
	}

	// Start run
	r.s.endOfStream = false
	r.s.seek = sr
	r.startRunUnlocked()
}

// repositionUnlocked makes the next chunk end with the frame at t
//
// Mutex should be locked
func (sh *shuffler) repositionUnlocked(r *Reader, t time.Duration) {
	sh.exhausted = false
	sh.stopAt = t + 1
	sh.target = sh.chunkStart(sh.stopAt)
	sh.pending = true
	r.s.overflow = nil
	r.cb.Broadcast()
}

// Mutex should be locked
func (sh *shuffler) onFlushDoneUnlocked(r *Reader) {
	// Chunk has been interrupted and must be decoded again
	if sh.d == DirectionBackward && r.s.overflow == nil && (sh.write == nil || !sh.write.EOF()) {
		sh.pending = true
	}
}

// Mutex should be locked
func (sh *shuffler) resetUnlocked() {
	sh.exhausted = false
	if sh.read != nil {
		sh.read.Reset()
	}
	if sh.write != nil {
		sh.write.Reset()
	}
}

// Mutex should be locked
func (sh *shuffler) freeUnlocked() {
	sh.read = nil
	sh.write = nil
}

// Mutex should be locked
func (sh *shuffler) setDirection(d Direction) {
	sh.d = d
	if sh.read != nil {
		sh.read.SetDirection(d)
	}
	if sh.write != nil {
		sh.write.SetDirection(d)
	}
}
