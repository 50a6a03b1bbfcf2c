package astireader

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// frameFilter receives frames from the decoder, runs them through the filter graph when
// there's one and writes them to the attached buffer
type frameFilter struct {
	g    FilterGraph
	last time.Duration
	r    *Reader
	// Filter version g has been created with
	v uint64
}

func newFrameFilter(r *Reader) *frameFilter {
	return &frameFilter{r: r}
}

func (ff *frameFilter) run() {
	// Make sure graph is closed
	defer ff.closeGraph()

	for {
		// Wait to be told to run
		if !ff.waitForRun() {
			return
		}

		// Filter
		if stop := ff.filter(); stop {
			return
		}
	}
}

func (ff *frameFilter) waitForRun() bool {
	// Lock
	ff.r.m.Lock()
	defer ff.r.m.Unlock()

	// Wait
	for ff.r.s.statuses[workerFrameFilter] == workerStatusIdle {
		if ff.r.isKilled() {
			return false
		}
		ff.r.cw.Wait()
	}
	return !ff.r.isKilled()
}

func (ff *frameFilter) closeGraph() {
	if ff.g == nil {
		return
	}
	if err := ff.g.Close(); err != nil {
		ff.r.l.WarnC(ff.r.ctx, fmt.Errorf("astireader: closing filter graph failed: %w", err))
	}
	ff.g = nil
}

func (ff *frameFilter) filter() (stop bool) {
	for {
		// Receive frame
		f, err := ff.r.receiveFrame()
		if err != nil {
			if errors.Is(err, errKilled) {
				return true
			} else if errors.Is(err, ErrEndOfStream) {
				return ff.onFlushDone()
			}
			ff.r.fail(workerFrameFilter, fmt.Errorf("astireader: receiving frame failed: %w", err))
			return true
		}

		// Increment stats
		atomic.AddUint64(&ff.r.cs.processedFrames, 1)

		// Process
		if stop = ff.process(f); stop {
			return
		}
	}
}

func (ff *frameFilter) process(f Frame) (stop bool) {
	// Make sure frame is freed
	defer f.Free()

	// Get filter options
	ff.r.m.Lock()
	o, v := ff.r.s.filter, ff.r.s.filterVersion
	ff.r.m.Unlock()

	// Filter options have changed
	if ff.g != nil && ff.v != v {
		ff.closeGraph()
	}

	// No filter
	if !o.enabled() {
		return ff.commit(f)
	}

	// Create graph
	if ff.g == nil {
		g, err := ff.r.src.NewFilterGraph(o, f)
		if err != nil {
			ff.r.fail(workerFrameFilter, fmt.Errorf("astireader: creating filter graph failed: %w", err))
			return true
		}
		ff.g = g
		ff.v = v
	}

	// Push
	for {
		err := ff.g.Push(f)
		if err == nil {
			break
		} else if !errors.Is(err, ErrWouldBlock) {
			ff.r.fail(workerFrameFilter, fmt.Errorf("astireader: pushing frame to filter graph failed: %w", err))
			return true
		}

		// Graph must be drained first
		var n int
		if n, stop = ff.pull(); stop {
			return
		} else if n == 0 {
			ff.r.fail(workerFrameFilter, errors.New("astireader: filter graph is stalled"))
			return true
		}
	}

	// Pull
	_, stop = ff.pull()
	return
}

// pull commits every frame the graph has ready
func (ff *frameFilter) pull() (n int, stop bool) {
	for {
		// Pull
		f, err := ff.g.Pull()
		if err != nil {
			if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, ErrEndOfStream) {
				ff.r.fail(workerFrameFilter, fmt.Errorf("astireader: pulling frame from filter graph failed: %w", err))
				stop = true
			}
			return
		}
		n++

		// Commit
		stop = ff.commit(f)
		f.Free()
		if stop {
			return
		}
	}
}

func (ff *frameFilter) commit(f Frame) (stop bool) {
	// Get time
	t := frameTime(f, ff.last)
	ff.last = t

	// Lock
	ff.r.m.Lock()

	// Commit
	err := ff.commitUnlocked(f, t)

	// Unlock
	ff.r.m.Unlock()

	//!\\ Mutex should be unlocked at this point

	// Process error
	if err != nil {
		if !errors.Is(err, errKilled) {
			ff.r.fail(workerFrameFilter, err)
		}
		return true
	}
	return false
}

// Mutex should be locked
func (ff *frameFilter) commitUnlocked(f Frame, t time.Duration) error {
	r := ff.r

	// Frames are dropped until the end of the run
	if r.s.discarding || r.s.stopped {
		ff.drop()
		return nil
	}

	// Check marker
	keep, stop := r.s.marker.accept(t)
	if stop {
		// Close the buffer and end the run
		r.s.stopped = true
		if b := r.writeBufferUnlocked(); b != nil {
			b.copyFrame(nil, 0) //nolint: errcheck
		}
		r.pauseUnlocked()
		r.cb.Broadcast()
		ff.drop()
		return nil
	} else if !keep {
		ff.drop()
		return nil
	}

	// First frame
	if r.s.geometry == nil {
		g := f.Geometry()
		r.s.geometry = &g
		r.cf.Broadcast()
		r.cb.Broadcast()
	}

	for {
		// Reader has been killed
		if r.isKilled() {
			return errKilled
		}

		// No buffer attached
		b := r.writeBufferUnlocked()
		if b == nil {
			// Pause interrupts the wait
			if r.s.pausing {
				r.s.discarding = true
				ff.drop()
				return nil
			}

			// Wait
			r.cb.Wait()
			continue
		}

		// Copy
		err := b.copyFrame(f, t)
		if err == nil {
			if r.s.committed != nil && *r.s.committed == t {
				r.s.committedTies++
			} else {
				r.s.committedTies = 1
			}
			r.s.committed = &t
			atomic.AddUint64(&r.cs.outgoingFrames, 1)
			r.cb.Broadcast()
			return nil
		} else if errors.Is(err, ErrEndOfStream) {
			ff.drop()
			return nil
		} else if !errors.Is(err, ErrWouldBlock) {
			return fmt.Errorf("astireader: copying frame to buffer failed: %w", err)
		}

		// Backward chunk doesn't fit in the buffer
		if r.backwardShuffling() && !r.s.pausing {
			r.s.overflow = &t
			r.s.discarding = true
			r.pauseUnlocked()
			ff.drop()
			return nil
		}

		// Pause interrupts the wait
		if r.s.pausing {
			r.s.discarding = true
			ff.drop()
			return nil
		}

		// Wait
		r.cb.Wait()
	}
}

func (ff *frameFilter) drop() {
	atomic.AddUint64(&ff.r.cs.droppedFrames, 1)
}

func (ff *frameFilter) onFlushDone() (stop bool) {
	// Flush graph
	if ff.g != nil {
		if err := ff.g.Push(nil); err != nil && !errors.Is(err, ErrEndOfStream) {
			ff.r.fail(workerFrameFilter, fmt.Errorf("astireader: flushing filter graph failed: %w", err))
			return true
		}
		if _, stop = ff.pull(); stop {
			return
		}

		// A flushed graph can't be used anymore
		ff.closeGraph()
	}

	// Reset time
	ff.last = 0

	// Lock
	ff.r.m.Lock()

	// Update state
	es := ff.r.onFlushDoneUnlocked()

	// Unlock
	ff.r.m.Unlock()

	//!\\ Mutex should be unlocked at this point

	// Emit
	ff.r.emit(es...)
	return false
}

// Mutex should be locked
func (r *Reader) onFlushDoneUnlocked() (es []emission) {
	switch {
	case r.s.discarding:
		// Frames have been dropped, the next run resumes after the last committed frame
		r.s.resync = r.resyncRequestUnlocked()
	case r.s.stopped:
		// The buffer has been closed when the stop marker was reached
	case r.s.endOfInput:
		// Close the buffer
		if b := r.writeBufferUnlocked(); b != nil {
			b.copyFrame(nil, 0) //nolint: errcheck
		}

		// Backward, the end of the input only ends a chunk
		if r.backwardShuffling() {
			break
		}
		r.s.endOfStream = true
		r.cf.Broadcast()
		es = append(es, emission{n: EventNameReaderEndOfStream})
	default:
		r.s.resync = r.resyncRequestUnlocked()
	}

	// Update state
	r.s.discarding = false
	r.s.pausing = false
	if r.sh != nil {
		r.sh.onFlushDoneUnlocked(r)
	}

	// Update status
	r.applyUnlocked(workerFrameFilter, workerEventFlushDone)
	return
}

// Mutex should be locked
func (r *Reader) resyncRequestUnlocked() *seekRequest {
	// Nothing has been committed, the run starts over
	if r.s.committed == nil {
		sr := r.s.run
		return &sr
	}

	// Frames sharing the last committed time are only skipped as many times as they've
	// been committed, including those the current run skipped itself
	t := *r.s.committed
	skip := r.s.committedTies
	if r.s.run.marker.until != nil && *r.s.run.marker.until == t {
		skip += r.s.run.marker.skip
	}

	// Resume right after the last committed frame
	return &seekRequest{
		marker: seekMarker{
			skip:  skip,
			until: &t,
		},
		target: t,
	}
}
