package astireader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	s := newState()
	require.True(t, s.idle())
	require.True(t, s.paused)

	// Unknown transitions are ignored
	se, ok := s.apply(workerPacketReader, workerEventFlushSent)
	require.False(t, ok)
	require.Equal(t, sideEffectNone, se)
	require.Equal(t, workerStatusIdle, s.statuses[workerPacketReader])

	// Start
	se, ok = s.apply(workerPacketReader, workerEventStart)
	require.True(t, ok)
	require.Equal(t, sideEffectWake, se)
	_, ok = s.apply(workerFrameFilter, workerEventStart)
	require.True(t, ok)
	require.False(t, s.idle())

	// Pause
	se, _ = s.apply(workerPacketReader, workerEventPause)
	require.Equal(t, sideEffectNone, se)
	require.Equal(t, workerStatusPauseRequested, s.statuses[workerPacketReader])
	se, _ = s.apply(workerFrameFilter, workerEventPause)
	require.Equal(t, sideEffectInterruptWrite, se)

	// End of input while pausing
	_, ok = s.apply(workerPacketReader, workerEventEndOfInput)
	require.True(t, ok)
	require.Equal(t, workerStatusDraining, s.statuses[workerPacketReader])

	// Flush
	se, _ = s.apply(workerPacketReader, workerEventFlushSent)
	require.Equal(t, sideEffectSignalDrained, se)
	require.Equal(t, workerStatusIdle, s.statuses[workerPacketReader])
	_, _ = s.apply(workerFrameFilter, workerEventFlushSent)
	require.Equal(t, workerStatusDraining, s.statuses[workerFrameFilter])
	require.False(t, s.idle())
	se, _ = s.apply(workerFrameFilter, workerEventFlushDone)
	require.Equal(t, sideEffectSignalDrained, se)
	require.True(t, s.idle())

	// Failure is terminal
	se, ok = s.apply(workerFrameFilter, workerEventFail)
	require.True(t, ok)
	require.Equal(t, sideEffectKill, se)
	for _, e := range []workerEvent{workerEventStart, workerEventPause, workerEventFlushDone, workerEventFail} {
		_, ok = s.apply(workerFrameFilter, e)
		require.False(t, ok)
	}
	require.Equal(t, workerStatusFailed, s.statuses[workerFrameFilter])
}

func TestSeekMarker(t *testing.T) {
	until := 80 * time.Millisecond
	stop := 200 * time.Millisecond

	// Exclusive
	m := seekMarker{stop: &stop, until: &until}
	for _, v := range []struct {
		keep bool
		stop bool
		t    time.Duration
	}{
		{t: 40 * time.Millisecond},
		{keep: true, t: 80 * time.Millisecond},
		// Once a frame has been kept, earlier frames are kept as well
		{keep: true, t: 60 * time.Millisecond},
		{keep: true, t: 160 * time.Millisecond},
		{stop: true, t: 200 * time.Millisecond},
	} {
		keep, stop := m.accept(v.t)
		require.Equal(t, v.keep, keep, "time %s", v.t)
		require.Equal(t, v.stop, stop, "time %s", v.t)
	}

	// Skip
	until2 := until
	m = seekMarker{skip: 2, until: &until2}
	for _, v := range []struct {
		keep bool
		t    time.Duration
	}{
		{t: 40 * time.Millisecond},
		{t: 80 * time.Millisecond},
		{t: 80 * time.Millisecond},
		{keep: true, t: 80 * time.Millisecond},
		{keep: true, t: 80 * time.Millisecond},
	} {
		keep, _ := m.accept(v.t)
		require.Equal(t, v.keep, keep, "time %s", v.t)
	}

	// Skip with no frame at until
	until3 := until
	m = seekMarker{skip: 1, until: &until3}
	keep, _ := m.accept(120 * time.Millisecond)
	require.True(t, keep)

	// Empty
	m = seekMarker{}
	keep, stop2 := m.accept(0)
	require.True(t, keep)
	require.False(t, stop2)
}

func TestResyncRequest(t *testing.T) {
	r := &Reader{s: newState()}
	t1 := 80 * time.Millisecond
	r.s.run = seekRequest{target: t1}

	// Nothing committed
	require.Equal(t, &seekRequest{target: t1}, r.resyncRequestUnlocked())

	// Ties committed by the run
	t2 := 160 * time.Millisecond
	r.s.committed = &t2
	r.s.committedTies = 2
	sr := r.resyncRequestUnlocked()
	require.Equal(t, t2, sr.target)
	require.Equal(t, 2, sr.marker.skip)
	require.Equal(t, t2, *sr.marker.until)

	// Ties skipped by the run are skipped again
	r.s.run = *sr
	r.s.committedTies = 1
	sr = r.resyncRequestUnlocked()
	require.Equal(t, 3, sr.marker.skip)

	// Ties skipped by the run at another time are not
	t3 := 200 * time.Millisecond
	r.s.committed = &t3
	sr = r.resyncRequestUnlocked()
	require.Equal(t, 1, sr.marker.skip)
}
