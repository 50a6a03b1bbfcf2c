package astireader

import "time"

type worker int

const (
	workerPacketReader worker = iota
	workerFrameFilter
	workerShuffler
)

func (w worker) String() string {
	switch w {
	case workerFrameFilter:
		return "frame filter"
	case workerShuffler:
		return "shuffler"
	default:
		return "packet reader"
	}
}

type workerStatus int

const (
	workerStatusIdle workerStatus = iota
	workerStatusActive
	workerStatusPauseRequested
	workerStatusDraining
	workerStatusFailed
)

func (s workerStatus) String() string {
	switch s {
	case workerStatusActive:
		return "active"
	case workerStatusPauseRequested:
		return "pause requested"
	case workerStatusDraining:
		return "draining"
	case workerStatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

type workerEvent int

const (
	workerEventStart workerEvent = iota
	workerEventPause
	// The packet reader reached the end of the input
	workerEventEndOfInput
	// The packet reader pushed the flush packet
	workerEventFlushSent
	// The frame filter received the decoder's end of stream
	workerEventFlushDone
	workerEventFail
)

func (e workerEvent) String() string {
	switch e {
	case workerEventPause:
		return "pause"
	case workerEventEndOfInput:
		return "end of input"
	case workerEventFlushSent:
		return "flush sent"
	case workerEventFlushDone:
		return "flush done"
	case workerEventFail:
		return "fail"
	default:
		return "start"
	}
}

type sideEffect uint

const (
	sideEffectNone sideEffect = 0
	// Wakes a worker waiting to be told to run
	sideEffectWake sideEffect = 1 << iota
	// Interrupts the frame filter when it's waiting for buffer space
	sideEffectInterruptWrite
	// Signals the pause drain waiters
	sideEffectSignalDrained
	sideEffectKill
)

type transitionKey struct {
	e    workerEvent
	from workerStatus
}

type transition struct {
	se sideEffect
	to workerStatus
}

var transitions = map[worker]map[transitionKey]transition{
	workerPacketReader: {
		{from: workerStatusIdle, e: workerEventStart}:                {to: workerStatusActive, se: sideEffectWake},
		{from: workerStatusActive, e: workerEventPause}:              {to: workerStatusPauseRequested},
		{from: workerStatusActive, e: workerEventEndOfInput}:         {to: workerStatusDraining},
		{from: workerStatusPauseRequested, e: workerEventEndOfInput}: {to: workerStatusDraining},
		{from: workerStatusPauseRequested, e: workerEventFlushSent}:  {to: workerStatusIdle, se: sideEffectSignalDrained},
		{from: workerStatusDraining, e: workerEventFlushSent}:        {to: workerStatusIdle, se: sideEffectSignalDrained},
		{from: workerStatusIdle, e: workerEventFail}:                 {to: workerStatusFailed, se: sideEffectKill},
		{from: workerStatusActive, e: workerEventFail}:               {to: workerStatusFailed, se: sideEffectKill},
		{from: workerStatusPauseRequested, e: workerEventFail}:       {to: workerStatusFailed, se: sideEffectKill},
		{from: workerStatusDraining, e: workerEventFail}:             {to: workerStatusFailed, se: sideEffectKill},
	},
	workerFrameFilter: {
		{from: workerStatusIdle, e: workerEventStart}:               {to: workerStatusActive, se: sideEffectWake},
		{from: workerStatusActive, e: workerEventPause}:             {to: workerStatusPauseRequested, se: sideEffectInterruptWrite},
		{from: workerStatusDraining, e: workerEventPause}:           {to: workerStatusDraining, se: sideEffectInterruptWrite},
		{from: workerStatusActive, e: workerEventFlushSent}:         {to: workerStatusDraining},
		{from: workerStatusPauseRequested, e: workerEventFlushSent}: {to: workerStatusDraining},
		{from: workerStatusActive, e: workerEventFlushDone}:         {to: workerStatusIdle, se: sideEffectSignalDrained},
		{from: workerStatusPauseRequested, e: workerEventFlushDone}: {to: workerStatusIdle, se: sideEffectSignalDrained},
		{from: workerStatusDraining, e: workerEventFlushDone}:       {to: workerStatusIdle, se: sideEffectSignalDrained},
		{from: workerStatusIdle, e: workerEventFail}:                {to: workerStatusFailed, se: sideEffectKill},
		{from: workerStatusActive, e: workerEventFail}:              {to: workerStatusFailed, se: sideEffectKill},
		{from: workerStatusPauseRequested, e: workerEventFail}:      {to: workerStatusFailed, se: sideEffectKill},
		{from: workerStatusDraining, e: workerEventFail}:            {to: workerStatusFailed, se: sideEffectKill},
	},
}

// seekMarker drops the frames preceding an exact seek target and ends runs that must
// not go past a given time
type seekMarker struct {
	// Number of frames equal to until that are dropped as well
	skip  int
	stop  *time.Duration
	until *time.Duration
}

func (m *seekMarker) accept(t time.Duration) (keep, stop bool) {
	// Stop
	if m.stop != nil && t >= *m.stop {
		return false, true
	}

	// Drop
	if m.until != nil {
		if t < *m.until {
			return false, false
		}
		if t == *m.until && m.skip > 0 {
			m.skip--
			return false, false
		}
		m.until = nil
	}
	return true, false
}

type seekRequest struct {
	marker seekMarker
	target time.Duration
}

// state is the whole pipeline state. It is owned by the reader's mutex.
type state struct {
	// Last committed frame's time since the last run started
	committed *time.Duration
	// Number of frames committed at the committed time since the last run started
	committedTies int
	// The reader is inside a control operation that waits for the pipeline to drain
	controlling int
	direction   Direction
	// Frames are dropped until the end of the current run
	discarding bool
	// The end of input has been committed
	endOfStream bool
	endOfInput  bool
	err         *FailedError
	filter      FilterGraphOptions
	// Incremented each time the filter options change
	filterVersion uint64
	geometry      *Geometry
	marker        seekMarker
	// Backward only, time of the frame that didn't fit in the chunk
	overflow *time.Duration
	paused   bool
	// A pause is being honored
	pausing  bool
	position time.Duration
	// Seek used to resume an interrupted run
	resync   *seekRequest
	run      seekRequest
	seek     *seekRequest
	statuses map[worker]workerStatus
	// The stop marker has been reached during the current run
	stopped bool
}

func newState() *state {
	return &state{
		paused: true,
		statuses: map[worker]workerStatus{
			workerFrameFilter:  workerStatusIdle,
			workerPacketReader: workerStatusIdle,
		},
	}
}

// apply looks up the transition matching the worker's status and the event, updates the
// status and returns the side effect the caller must execute. Events without transition
// are ignored.
func (s *state) apply(w worker, e workerEvent) (sideEffect, bool) {
	t, ok := transitions[w][transitionKey{from: s.statuses[w], e: e}]
	if !ok {
		return sideEffectNone, false
	}
	s.statuses[w] = t.to
	return t.se, true
}

func (s *state) idle() bool {
	return s.statuses[workerPacketReader] == workerStatusIdle && s.statuses[workerFrameFilter] == workerStatusIdle
}
