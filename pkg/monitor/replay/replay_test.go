package replay_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/astireader"
	"github.com/asticode/go-astireader/pkg/monitor/replay"
	"github.com/stretchr/testify/require"
)

type mockedReader struct {
	e *astikit.EventManager
	w *astikit.Worker
}

func (r *mockedReader) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{{
		Metadata: astikit.DeltaStatMetadata{Name: "n"},
		Valuer: astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} {
			r.w.Stop()
			return 1
		}),
	}}
}

func (r *mockedReader) On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return r.e.On(n, h)
}

func (r *mockedReader) String() string {
	return "reader_1"
}

func TestReplay(t *testing.T) {
	count := uint64(1)
	defer astikit.MockNow(func() time.Time {
		return time.Unix(int64(atomic.LoadUint64(&count)), 0)
	}).Close()

	w := astikit.NewWorker(astikit.WorkerOptions{})
	path := filepath.Join(t.TempDir(), "replay.txt")
	r, err := replay.New(replay.Options{
		DeltaPeriod: time.Millisecond,
		Name:        "Name",
		Path:        path,
	})
	require.NoError(t, err)

	rd := &mockedReader{
		e: astikit.NewEventManager(),
		w: w,
	}
	r.AddReader(rd)
	rd.e.Emit(astireader.EventNameReaderOpened, astireader.SourceInfo{
		Duration: time.Second,
		Geometry: astireader.Geometry{
			Channels:     2,
			MediaType:    astireader.MediaTypeAudio,
			SampleFormat: "s16",
			SampleRate:   48000,
			Samples:      1024,
		},
	})
	rd.e.Emit(astireader.EventNameReaderStarted, nil)

	r.Start(w.Context(), w.NewTask)
	w.Wait()
	require.NoError(t, r.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"name":"Name","started_at":1}
{"at":1,"events":[{"at":1,"name":"astireader.reader.started","reader_id":1}],"new_stats":[{"id":1,"metadata":{"name":"n"},"reader_id":1}],"opened_readers":[{"duration":1000000000,"geometry":"audio s16 48000Hz 2ch 1024 samples","id":1,"name":"reader_1","start_time":0}],"stat_values":{"1":1}}
`, string(b))
}
