package monitorer

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/astireader"
	"github.com/stretchr/testify/require"
)

type mockedReader struct {
	dss []astikit.DeltaStat
	e   *astikit.EventManager
}

func newMockedReader(dss ...astikit.DeltaStat) *mockedReader {
	return &mockedReader{
		dss: dss,
		e:   astikit.NewEventManager(),
	}
}

func (r *mockedReader) DeltaStats() []astikit.DeltaStat {
	return r.dss
}

func (r *mockedReader) On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return r.e.On(n, h)
}

func (r *mockedReader) String() string {
	return "reader_1"
}

func newTestDeltaStat(name string) astikit.DeltaStat {
	return astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{Name: name},
		Valuer:   astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} { return 0 }),
	}
}

func TestMonitorer(t *testing.T) {
	count := uint64(1)
	defer astikit.MockNow(func() time.Time {
		return time.Unix(int64(atomic.LoadUint64(&count)), 0)
	}).Close()

	var deltas []Delta
	m := New(MonitorerOptions{
		DeltaStats: []astikit.DeltaStat{newTestDeltaStat("n1")},
		OnDelta:    func(d Delta) { deltas = append(deltas, d) },
		Period:     time.Second,
	})
	defer m.Close()

	r := newMockedReader(newTestDeltaStat("n2"))
	id := m.AddReader(r, newTestDeltaStat("n3"))
	require.Equal(t, uint64(1), id)

	m.onStats([]astikit.DeltaStatValue{{ID: 1, Value: 1}})
	require.Equal(t, []Delta{{
		At: *astikit.NewTimestamp(time.Unix(1, 0)),
		NewStats: []DeltaStat{
			{
				ID:       1,
				Metadata: DeltaStatMetadata{Name: "n1"},
			},
			{
				ID:       2,
				Metadata: DeltaStatMetadata{Name: "n2"},
				ReaderID: astikit.UInt64Ptr(1),
			},
			{
				ID:       3,
				Metadata: DeltaStatMetadata{Name: "n3"},
				ReaderID: astikit.UInt64Ptr(1),
			},
		},
		StatValues: map[uint64]interface{}{1: 1},
	}}, deltas)

	atomic.StoreUint64(&count, 2)
	r.e.Emit(astireader.EventNameReaderOpened, astireader.SourceInfo{
		Duration:  2 * time.Second,
		FrameRate: astireader.NewRational(25, 1),
		Geometry: astireader.Geometry{
			Height:      1,
			MediaType:   astireader.MediaTypeVideo,
			PixelFormat: "rgba",
			Width:       2,
		},
		StartTime: time.Second,
	})
	r.e.Emit(astireader.EventNameReaderSeeked, 1500*time.Millisecond)
	r.e.Emit(astireader.EventNameReaderFailed, &astireader.FailedError{Err: errors.New("test")})
	r.e.Emit(astireader.EventNameReaderPaused, nil)
	dr := DeltaReader{
		Duration:  2 * time.Second,
		FrameRate: "25/1",
		Geometry:  "video rgba 2x1",
		ID:        1,
		Name:      "reader_1",
		StartTime: time.Second,
	}
	m.onStats([]astikit.DeltaStatValue{{ID: 1, Value: 2}, {ID: 2, Value: 3}})
	require.Len(t, deltas, 2)
	require.Equal(t, Delta{
		At: *astikit.NewTimestamp(time.Unix(2, 0)),
		Events: []DeltaEvent{
			{
				At:       *astikit.NewTimestamp(time.Unix(2, 0)),
				Name:     string(astireader.EventNameReaderSeeked),
				Payload:  "1.5s",
				ReaderID: 1,
			},
			{
				At:       *astikit.NewTimestamp(time.Unix(2, 0)),
				Name:     string(astireader.EventNameReaderFailed),
				Payload:  "test",
				ReaderID: 1,
			},
			{
				At:       *astikit.NewTimestamp(time.Unix(2, 0)),
				Name:     string(astireader.EventNameReaderPaused),
				ReaderID: 1,
			},
		},
		OpenedReaders: []DeltaReader{dr},
		StatValues:    map[uint64]interface{}{1: 2, 2: 3},
	}, deltas[1])

	atomic.StoreUint64(&count, 3)
	require.Equal(t, Delta{
		At: *astikit.NewTimestamp(time.Unix(3, 0)),
		NewStats: []DeltaStat{
			{
				ID:       1,
				Metadata: DeltaStatMetadata{Name: "n1"},
			},
			{
				ID:       2,
				Metadata: DeltaStatMetadata{Name: "n2"},
				ReaderID: astikit.UInt64Ptr(1),
			},
			{
				ID:       3,
				Metadata: DeltaStatMetadata{Name: "n3"},
				ReaderID: astikit.UInt64Ptr(1),
			},
		},
		OpenedReaders: []DeltaReader{dr},
		StatValues:    map[uint64]interface{}{1: 2, 2: 3},
	}, m.CatchUp())

	m.onStats(nil)
	require.Len(t, deltas, 2)

	r.e.Emit(astireader.EventNameReaderClosed, nil)
	m.onStats([]astikit.DeltaStatValue{{ID: 1, Value: 4}})
	require.Len(t, deltas, 3)
	require.Equal(t, Delta{
		At:            *astikit.NewTimestamp(time.Unix(3, 0)),
		ClosedReaders: []uint64{1},
		StatValues:    map[uint64]interface{}{1: 4},
	}, deltas[2])
	require.Equal(t, Delta{
		At: *astikit.NewTimestamp(time.Unix(3, 0)),
		NewStats: []DeltaStat{{
			ID:       1,
			Metadata: DeltaStatMetadata{Name: "n1"},
		}},
		StatValues: map[uint64]interface{}{1: 4},
	}, m.CatchUp())
}
