package astireader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
)

var readerCount uint64

// Reader decodes a source in the background and stores its frames in buffers a consumer
// reads from.
//
// Three workers run while the reader is opened: the packet reader pushes packets to the
// decoder, the frame filter pulls frames out of the decoder, optionally through a filter
// graph, and writes them to the attached buffer, and the shuffler, when enabled, swaps
// the buffer being written and the buffer being read.
type Reader struct {
	c      *astikit.Closer
	cs     *readerCumulativeStats
	ctx    context.Context
	e      *astikit.EventManager
	id     uint64
	killed uint32
	l      astikit.CompleteLogger
	o      ReaderOptions
	t      *task

	dc *sync.Cond
	dm sync.Mutex // Locks dq
	dq decoderQueue

	// Buffer, first frame, pause drain and run conditions all share m
	cb       *sync.Cond
	cf       *sync.Cond
	cp       *sync.Cond
	cw       *sync.Cond
	m        sync.Mutex // Locks attached, info, s, sh and src
	attached *FrameBuffer
	info     SourceInfo
	s        *state
	sh       *shuffler
	src      Source
}

type decoderQueue struct {
	full bool
	sent uint64
}

type ReaderOptions struct {
	Buffer         BufferOptions
	ContextAdapter func(ctx context.Context, r *Reader) context.Context
	Filter         FilterGraphOptions
	Logger         astikit.StdLogger
	// Defaults to a worker owned by the reader
	Worker *astikit.Worker
}

type BufferOptions struct {
	// Number of frames in each shuffled buffer
	Capacity  int
	Direction Direction
	// When false, the consumer attaches its own buffer with ResetBuffer
	Shuffle bool
}

func NewReader(o ReaderOptions) *Reader {
	// Create reader
	r := &Reader{
		c:   astikit.NewCloser(),
		cs:  &readerCumulativeStats{},
		ctx: context.Background(),
		e:   astikit.NewEventManager(),
		id:  atomic.AddUint64(&readerCount, 1),
		l:   astikit.AdaptStdLogger(o.Logger),
		o:   o,
		s:   newState(),
	}

	// Create conditions
	r.dc = sync.NewCond(&r.dm)
	r.cb = sync.NewCond(&r.m)
	r.cf = sync.NewCond(&r.m)
	r.cp = sync.NewCond(&r.m)
	r.cw = sync.NewCond(&r.m)

	// Update state
	r.s.direction = o.Buffer.Direction
	r.s.filter = o.Filter

	// Adapt context
	if r.o.ContextAdapter != nil {
		r.ctx = r.o.ContextAdapter(r.ctx, r)
	}

	// Default worker
	if r.o.Worker == nil {
		r.o.Worker = astikit.NewWorker(astikit.WorkerOptions{Logger: o.Logger})
		r.c.Add(r.o.Worker.Stop)
	}

	// Create task
	r.t = newTask(r.c, r.onTaskStart, r.kill)

	// Listen to task events
	r.t.e.On(eventNameTaskClosed, func(payload interface{}) (delete bool) {
		r.e.Emit(EventNameReaderClosed, nil)
		return
	})
	r.t.e.On(eventNameTaskDone, func(payload interface{}) (delete bool) {
		r.e.Emit(EventNameReaderDone, nil)
		return
	})
	return r
}

func (r *Reader) Context() context.Context {
	return r.ctx
}

func (r *Reader) String() string {
	return fmt.Sprintf("reader_%d", r.id)
}

func (r *Reader) On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return r.e.On(n, h)
}

func (r *Reader) emit(es ...emission) {
	for _, e := range es {
		r.e.Emit(e.n, e.payload)
	}
}

func (r *Reader) Status() Status {
	return r.t.status()
}

// Open starts decoding src in the background. The reader starts paused and owns src
// from now on. Cancelling ctx closes the reader.
func (r *Reader) Open(ctx context.Context, src Source) error {
	// Lock
	r.m.Lock()

	// Already opened
	if r.src != nil {
		r.m.Unlock()
		return fmt.Errorf("astireader: reader is already opened: %w", ErrInvalidState)
	}

	// Get info
	i := src.Info()

	// Backward playback needs to know where the stream ends
	if r.s.direction == DirectionBackward && r.o.Buffer.Shuffle && i.Duration <= 0 {
		r.m.Unlock()
		return fmt.Errorf("astireader: backward playback needs a duration: %w", ErrInvalidState)
	}

	// Create shuffler
	if r.o.Buffer.Shuffle {
		if r.o.Buffer.Capacity <= 0 {
			r.m.Unlock()
			return fmt.Errorf("astireader: invalid buffer capacity %d", r.o.Buffer.Capacity)
		}
		r.sh = newShuffler(r.o.Buffer.Capacity, r.s.direction, i)
	}

	// Update
	r.info = i
	r.src = src
	r.s.position = i.StartTime
	r.s.run = seekRequest{target: i.StartTime}
	if r.backwardShuffling() {
		r.sh.repositionUnlocked(r, r.endTimeUnlocked())
	}

	// Unlock
	r.m.Unlock()

	//!\\ Mutex should be unlocked at this point

	// Make sure source is closed
	r.c.Add(func() {
		if err := src.Close(); err != nil {
			r.l.WarnC(r.ctx, fmt.Errorf("astireader: closing source failed: %w", err))
		}
	})

	// Start task
	if err := r.t.start(ctx, r.o.Worker.NewTask); err != nil {
		return fmt.Errorf("astireader: starting task failed: %w", err)
	}

	// Log
	r.l.InfoC(r.ctx, fmt.Sprintf("astireader: %s opened with %s starting at %s and lasting %s", r, i.Geometry, i.StartTime, i.Duration))

	// Emit
	r.e.Emit(EventNameReaderOpened, i)
	return nil
}

func (r *Reader) onTaskStart(ctx context.Context, tc astikit.TaskCreator) {
	tc().Do(newPacketReader(r).run)
	tc().Do(newFrameFilter(r).run)
	if r.sh != nil {
		tc().Do(func() { r.sh.run(r) })
	}
}

// Close stops the workers, waits for them to be done and closes the source. It's always
// safe to call, even after a failure.
func (r *Reader) Close() error {
	if err := r.t.close(); err != nil {
		return fmt.Errorf("astireader: closing task failed: %w", err)
	}
	return nil
}

func (r *Reader) isKilled() bool {
	return atomic.LoadUint32(&r.killed) > 0
}

func (r *Reader) kill() {
	r.m.Lock()
	defer r.m.Unlock()
	r.killUnlocked()
}

// Mutex should be locked
func (r *Reader) killUnlocked() {
	// Flag must be set before notifying
	atomic.StoreUint32(&r.killed, 1)

	// Notify decoder queue
	r.dm.Lock()
	r.dc.Broadcast()
	r.dm.Unlock()

	// Notify the rest
	r.cb.Broadcast()
	r.cf.Broadcast()
	r.cp.Broadcast()
	r.cw.Broadcast()
}

func (r *Reader) fail(w worker, err error) {
	// Lock
	r.m.Lock()

	// Store error
	fe := r.failUnlocked(w, err)

	// Unlock
	r.m.Unlock()

	// Only the first error is reported
	if fe == nil {
		return
	}

	// Log
	r.l.ErrorC(r.ctx, fe.Error())

	// Emit
	r.e.Emit(EventNameReaderFailed, fe)
}

// Mutex should be locked
func (r *Reader) failUnlocked(w worker, err error) (fe *FailedError) {
	if r.s.err == nil {
		fe = &FailedError{Err: err, Worker: w.String()}
		r.s.err = fe
		r.applyUnlocked(w, workerEventFail)
	}
	r.killUnlocked()
	return
}

// Mutex should be locked
func (r *Reader) applyUnlocked(w worker, e workerEvent) {
	// Apply
	from := r.s.statuses[w]
	se, ok := r.s.apply(w, e)
	if !ok {
		return
	}

	// Log
	r.l.DebugC(r.ctx, fmt.Sprintf("astireader: %s: %s + %s => %s", w, from, e, r.s.statuses[w]))

	// Side effects
	if se&sideEffectWake > 0 {
		r.cw.Broadcast()
	}
	if se&(sideEffectInterruptWrite|sideEffectSignalDrained) > 0 {
		r.cb.Broadcast()
	}
	if se&sideEffectSignalDrained > 0 {
		r.cp.Broadcast()
	}
	if se&sideEffectKill > 0 {
		r.killUnlocked()
	}
}

// Err returns the error that made the reader fail, if any.
//
// Workers fail in the background: right after a fault, Err may still return nil until the
// failing worker has stored its error. From that moment on, every method returns the
// stored error while Status keeps reporting the reader as opened until it's closed.
func (r *Reader) Err() error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.s.err != nil {
		return r.s.err
	}
	return nil
}

// Mutex should be locked
func (r *Reader) usableUnlocked() error {
	if r.s.err != nil {
		return r.s.err
	}
	if r.src == nil {
		return ErrNotOpened
	}
	if r.isKilled() {
		return ErrClosed
	}
	return nil
}

// Mutex should be locked
func (r *Reader) closedErrUnlocked() error {
	if r.s.err != nil {
		return r.s.err
	}
	return ErrClosed
}

// waitUnlocked waits on c until fn returns true, the reader is killed or the timeout is
// reached. A timeout <= 0 waits forever.
//
// Mutex should be locked
func (r *Reader) waitUnlocked(c *sync.Cond, timeout time.Duration, fn func() bool) bool {
	// Handle timeout
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		t := time.AfterFunc(timeout, func() {
			r.m.Lock()
			defer r.m.Unlock()
			c.Broadcast()
		})
		defer t.Stop()
	}

	// Wait
	for !fn() {
		if r.isKilled() || (timeout > 0 && !time.Now().Before(deadline)) {
			return false
		}
		c.Wait()
	}
	return true
}

// Mutex should be locked
func (r *Reader) backwardShuffling() bool {
	return r.sh != nil && r.s.direction == DirectionBackward
}

// Mutex should be locked
func (r *Reader) endTimeUnlocked() time.Duration {
	return r.info.StartTime + r.info.Duration
}

// Mutex should be locked
func (r *Reader) writeBufferUnlocked() *FrameBuffer {
	return r.attached
}

// Mutex should be locked
func (r *Reader) readBufferUnlocked() *FrameBuffer {
	if r.sh != nil {
		return r.sh.read
	}
	return r.attached
}

// stalledUnlocked returns whether no frame will reach the consumer until the reader
// is resumed
//
// Mutex should be locked
func (r *Reader) stalledUnlocked() bool {
	return r.s.paused && r.s.idle() && (r.sh == nil || !r.sh.swappable())
}

// Mutex should be locked
func (r *Reader) attachUnlocked(b *FrameBuffer) {
	r.attached = b
	r.cb.Broadcast()
}

// Start starts playing. Workers start right away, frames flow as soon as a buffer is
// attached.
func (r *Reader) Start() error {
	return r.play()
}

// Resume resumes playing after a pause, right after the last frame written to a buffer
func (r *Reader) Resume() error {
	return r.play()
}

func (r *Reader) play() error {
	// Lock
	r.m.Lock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		r.m.Unlock()
		return err
	}

	// Play
	r.s.paused = false
	r.playUnlocked()

	// Unlock
	r.m.Unlock()

	// Emit
	r.e.Emit(EventNameReaderStarted, nil)
	return nil
}

// Mutex should be locked
func (r *Reader) playUnlocked() {
	// Backward runs are driven by the shuffler
	if r.backwardShuffling() {
		r.cb.Broadcast()
		return
	}
	r.startRunUnlocked()
}

// Mutex should be locked
func (r *Reader) startRunUnlocked() {
	// Already running
	if !r.s.idle() {
		return
	}

	// Resume an interrupted run
	if r.s.seek == nil {
		// Nothing left to read
		if r.s.endOfStream {
			return
		}
		r.s.seek = r.s.resync
	}
	r.s.resync = nil

	// Reset decoder queue
	r.dm.Lock()
	r.dq.full = false
	r.dm.Unlock()

	// Reset run
	r.s.committed = nil
	r.s.committedTies = 0
	r.s.discarding = false
	r.s.endOfInput = false
	r.s.marker = seekMarker{}
	r.s.overflow = nil
	r.s.stopped = false
	if r.s.seek != nil {
		r.s.marker = r.s.seek.marker
		r.s.run = *r.s.seek
	}

	// Start workers
	r.applyUnlocked(workerPacketReader, workerEventStart)
	r.applyUnlocked(workerFrameFilter, workerEventStart)
}

// Pause waits for the frames being decoded to be written to the buffer, or dropped when
// the buffer is full, and for the workers to be idle
func (r *Reader) Pause() error {
	// Lock
	r.m.Lock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		r.m.Unlock()
		return err
	}

	// Pause
	r.s.paused = true
	err := r.drainUnlocked()

	// Unlock
	r.m.Unlock()

	// Emit
	if err == nil {
		r.e.Emit(EventNameReaderPaused, nil)
	}
	return err
}

// Mutex should be locked
func (r *Reader) pauseUnlocked() {
	if r.s.idle() {
		return
	}
	r.s.pausing = true
	r.applyUnlocked(workerPacketReader, workerEventPause)
	r.applyUnlocked(workerFrameFilter, workerEventPause)
}

// drainUnlocked pauses the workers and waits for them to be idle
//
// Mutex should be locked
func (r *Reader) drainUnlocked() error {
	// Pause
	r.pauseUnlocked()

	// Prevent the shuffler from starting runs while waiting
	r.s.controlling++
	defer func() { r.s.controlling-- }()

	// Wait
	for !r.s.idle() {
		if r.isKilled() {
			return r.closedErrUnlocked()
		}
		r.cp.Wait()
	}
	return nil
}

// Stop pauses and rewinds to the start of the playback direction
func (r *Reader) Stop() error {
	// Lock
	r.m.Lock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		r.m.Unlock()
		return err
	}

	// Drain
	r.s.paused = true
	if err := r.drainUnlocked(); err != nil {
		r.m.Unlock()
		return err
	}

	// Rewind
	r.repositionUnlocked(r.rewindTimeUnlocked(), false)

	// Unlock
	r.m.Unlock()

	// Emit
	r.e.Emit(EventNameReaderPaused, nil)
	return nil
}

// Mutex should be locked
func (r *Reader) rewindTimeUnlocked() time.Duration {
	if r.s.direction == DirectionBackward {
		return r.endTimeUnlocked()
	}
	return r.info.StartTime
}

// SetCurrentTime moves the reader to t. When exact is false, the reader resumes at the
// sync point preceding t, otherwise frames before t are dropped.
func (r *Reader) SetCurrentTime(t time.Duration, exact bool) error {
	// Lock
	r.m.Lock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		r.m.Unlock()
		return err
	}

	// Drain
	if err := r.drainUnlocked(); err != nil {
		r.m.Unlock()
		return err
	}

	// Clamp
	if t < r.info.StartTime {
		t = r.info.StartTime
	} else if r.info.Duration > 0 && t > r.endTimeUnlocked() {
		t = r.endTimeUnlocked()
	}

	// Reposition
	r.repositionUnlocked(t, exact)

	// Play
	if !r.s.paused {
		r.playUnlocked()
	}

	// Unlock
	r.m.Unlock()

	// Log
	r.l.DebugC(r.ctx, fmt.Sprintf("astireader: %s seeked to %s (exact: %v)", r, t, exact))

	// Emit
	r.e.Emit(EventNameReaderSeeked, t)
	return nil
}

// Mutex should be locked
func (r *Reader) repositionUnlocked(t time.Duration, exact bool) {
	// Reset buffers
	if r.sh != nil {
		r.sh.resetUnlocked()
	} else if r.attached != nil {
		r.attached.Reset()
	}

	// Update state
	r.s.endOfStream = false
	r.s.position = t
	r.s.resync = nil
	r.s.seek = nil

	// Backward runs are driven by the shuffler
	if r.backwardShuffling() {
		r.sh.repositionUnlocked(r, t)
		return
	}

	// Create seek request
	sr := &seekRequest{target: t}
	if exact {
		sr.marker.until = &t
	}
	r.s.seek = sr
}

// SetDirection switches the playback direction at the current time
func (r *Reader) SetDirection(d Direction) error {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		return err
	}

	// Nothing to do
	if d == r.s.direction {
		return nil
	}

	// Backward playback needs to know where the stream ends
	if d == DirectionBackward && r.sh != nil && r.info.Duration <= 0 {
		return fmt.Errorf("astireader: backward playback needs a duration: %w", ErrInvalidState)
	}

	// Drain
	if err := r.drainUnlocked(); err != nil {
		return err
	}

	// Update direction
	t := r.currentTimeUnlocked()
	r.s.direction = d
	if r.sh != nil {
		r.sh.setDirection(d)
	}

	// Reposition
	r.repositionUnlocked(t, true)

	// Play
	if !r.s.paused {
		r.playUnlocked()
	}
	return nil
}

// SetFilterDescription replaces the filter graph and rewinds to the start of the playback
// direction. Since the geometry may change, buffers are detached: shuffled buffers are
// reallocated automatically whereas consumers attaching their own buffer must attach a
// new one once BlockTillFirstFrame returns.
func (r *Reader) SetFilterDescription(description, pixelFormat string) error {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		return err
	}

	// Drain
	if err := r.drainUnlocked(); err != nil {
		return err
	}

	// Update filter
	r.s.filter = FilterGraphOptions{
		Description: description,
		PixelFormat: pixelFormat,
	}
	r.s.filterVersion++

	// Geometry will be known again with the next frame
	r.s.geometry = nil
	r.attached = nil
	if r.sh != nil {
		r.sh.freeUnlocked()
	}

	// Rewind
	r.repositionUnlocked(r.rewindTimeUnlocked(), false)

	// Play
	if !r.s.paused {
		r.playUnlocked()
	}
	return nil
}

// ResetBuffer attaches b to the reader. A nil buffer rewinds the attached buffer.
// Only available when buffers are not shuffled.
func (r *Reader) ResetBuffer(b *FrameBuffer) error {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		return err
	}

	// Buffers are owned by the shuffler
	if r.sh != nil {
		return fmt.Errorf("astireader: buffers are shuffled: %w", ErrInvalidState)
	}

	// Rewind attached buffer
	if b == nil {
		if b = r.attached; b == nil {
			return nil
		}
	} else if r.s.geometry != nil && b.FrameSize() != r.s.geometry.Size() {
		return fmt.Errorf("astireader: buffer frame size %d doesn't match frame size %d", b.FrameSize(), r.s.geometry.Size())
	}

	// Nothing left to write
	b.Reset()
	if r.s.endOfStream {
		b.copyFrame(nil, 0) //nolint: errcheck
	}

	// Attach
	r.attachUnlocked(b)
	return nil
}

// ReleaseBuffer detaches and returns the attached buffer. Frames are dropped until a
// new buffer is attached when the reader is paused, otherwise the frame filter waits.
// Only available when buffers are not shuffled.
func (r *Reader) ReleaseBuffer() (*FrameBuffer, error) {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		return nil, err
	}

	// Buffers are owned by the shuffler
	if r.sh != nil {
		return nil, fmt.Errorf("astireader: buffers are shuffled: %w", ErrInvalidState)
	}

	// Detach
	b := r.attached
	r.attached = nil
	return b, nil
}

// ReadFrame copies the next frame into dst, when not nil, waiting for it if needed. It
// returns ErrWouldBlock when the reader is paused and no frame is available, or when no
// buffer has been attached while not shuffling.
func (r *Reader) ReadFrame(dst []byte) (fi FrameInfo, err error) {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Loop
	for {
		// Not usable
		if err = r.usableUnlocked(); err != nil {
			return
		}

		// Read
		if fi, err = r.readFrameUnlocked(dst); !errors.Is(err, ErrWouldBlock) {
			return
		}

		// Nothing will come
		if r.stalledUnlocked() || (r.sh == nil && r.attached == nil) {
			return
		}

		// Wait
		r.cb.Wait()
	}
}

// TryReadFrame is the non blocking version of ReadFrame
func (r *Reader) TryReadFrame(dst []byte) (FrameInfo, error) {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		return FrameInfo{}, err
	}

	// Read
	return r.readFrameUnlocked(dst)
}

// Mutex should be locked
func (r *Reader) readFrameUnlocked(dst []byte) (fi FrameInfo, err error) {
	// No buffer
	b := r.readBufferUnlocked()
	if b == nil {
		if r.s.endOfStream {
			err = ErrEndOfStream
		} else {
			err = ErrWouldBlock
		}
		return
	}

	// Read
	fi, err = b.ReadFrame(dst, true)
	switch {
	case err == nil:
		r.s.position = fi.Time
		r.cb.Broadcast()
	case errors.Is(err, ErrEndOfBuffer) && r.sh != nil:
		// Next buffer is on its way unless the stream is exhausted backward
		if r.sh.exhausted {
			err = ErrStartOfStream
		} else {
			err = ErrWouldBlock
		}
	}
	return
}

// BlockTillBufferFull waits for the buffer the consumer reads from to be full or closed
// and returns its number of frames. On timeout, it returns the current number of frames.
// A timeout <= 0 waits forever.
func (r *Reader) BlockTillBufferFull(timeout time.Duration) (n int, err error) {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Not usable
	if err = r.usableUnlocked(); err != nil {
		return
	}

	// Wait
	r.waitUnlocked(r.cb, timeout, func() bool {
		b := r.readBufferUnlocked()
		if b == nil {
			return r.s.endOfStream
		}
		n = b.Count()
		return b.Complete() || r.stalledUnlocked()
	})

	// Killed while waiting
	if r.isKilled() {
		err = r.closedErrUnlocked()
	}
	return
}

// BlockTillFrameAvail waits for at least min frames to be available and returns the
// number of available frames. It returns early when no more frames will come. On
// timeout, it returns the current number of available frames. A timeout <= 0 waits
// forever.
func (r *Reader) BlockTillFrameAvail(min int, timeout time.Duration) (n int, err error) {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Not usable
	if err = r.usableUnlocked(); err != nil {
		return
	}

	// At least one frame
	if min <= 0 {
		min = 1
	}

	// Wait
	r.waitUnlocked(r.cb, timeout, func() bool {
		b := r.readBufferUnlocked()
		if b == nil {
			return r.s.endOfStream
		}
		n = b.Available()
		if n >= min || r.stalledUnlocked() {
			return true
		}
		if r.sh != nil {
			return (b.EOF() && b.Direction() == DirectionForward) || r.sh.exhausted
		}
		return b.Complete()
	})

	// Killed while waiting
	if r.isKilled() {
		err = r.closedErrUnlocked()
	}
	return
}

// BlockTillFirstFrame waits for the geometry of the first frame written to buffers after
// a start. A timeout <= 0 waits forever.
func (r *Reader) BlockTillFirstFrame(timeout time.Duration) (Geometry, error) {
	// Lock
	r.m.Lock()
	defer r.m.Unlock()

	// Not usable
	if err := r.usableUnlocked(); err != nil {
		return Geometry{}, err
	}

	// Wait
	r.waitUnlocked(r.cf, timeout, func() bool { return r.s.geometry != nil || r.s.endOfStream })

	// Process
	switch {
	case r.isKilled():
		return Geometry{}, r.closedErrUnlocked()
	case r.s.geometry != nil:
		return *r.s.geometry, nil
	case r.s.endOfStream:
		return Geometry{}, ErrEndOfStream
	default:
		return Geometry{}, ErrTimeout
	}
}

func (r *Reader) Direction() Direction {
	r.m.Lock()
	defer r.m.Unlock()
	return r.s.direction
}

func (r *Reader) Duration() time.Duration {
	r.m.Lock()
	defer r.m.Unlock()
	return r.info.Duration
}

func (r *Reader) FrameRate() Rational {
	r.m.Lock()
	defer r.m.Unlock()
	return r.info.FrameRate
}

// Geometry returns the geometry of the frames written to buffers, or the geometry
// advertised by the source until the first frame is decoded
func (r *Reader) Geometry() Geometry {
	r.m.Lock()
	defer r.m.Unlock()
	if r.s.geometry != nil {
		return *r.s.geometry
	}
	return r.info.Geometry
}

func (r *Reader) Height() int {
	return r.Geometry().Height
}

func (r *Reader) PixelFormat() string {
	return r.Geometry().PixelFormat
}

func (r *Reader) Width() int {
	return r.Geometry().Width
}

func (r *Reader) StartTime() time.Duration {
	r.m.Lock()
	defer r.m.Unlock()
	return r.info.StartTime
}

func (r *Reader) Paused() bool {
	r.m.Lock()
	defer r.m.Unlock()
	return r.s.paused
}

// CurrentTime returns the time of the next frame to be read or, when none is available,
// the time of the last frame read or the last seek
func (r *Reader) CurrentTime() time.Duration {
	r.m.Lock()
	defer r.m.Unlock()
	return r.currentTimeUnlocked()
}

// Mutex should be locked
func (r *Reader) currentTimeUnlocked() time.Duration {
	if b := r.readBufferUnlocked(); b != nil {
		if fi, err := b.ReadFrame(nil, false); err == nil {
			return fi.Time
		}
	}
	return r.s.position
}
