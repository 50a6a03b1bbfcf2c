package monitorer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/astireader"
)

type Delta struct {
	At            astikit.Timestamp      `json:"at"`
	ClosedReaders []uint64               `json:"closed_readers,omitempty"`
	Events        []DeltaEvent           `json:"events,omitempty"`
	NewStats      []DeltaStat            `json:"new_stats,omitempty"`
	OpenedReaders []DeltaReader          `json:"opened_readers,omitempty"`
	StatValues    map[uint64]interface{} `json:"stat_values,omitempty"`
}

func newDelta() *Delta {
	return &Delta{StatValues: make(map[uint64]interface{})}
}

func (d Delta) empty() bool {
	return len(d.ClosedReaders) == 0 && len(d.Events) == 0 &&
		len(d.NewStats) == 0 && len(d.OpenedReaders) == 0 &&
		len(d.StatValues) == 0
}

func (d Delta) copy() *Delta {
	dst := newDelta()
	dst.At = d.At
	if len(d.ClosedReaders) > 0 {
		dst.ClosedReaders = make([]uint64, len(d.ClosedReaders))
		copy(dst.ClosedReaders, d.ClosedReaders)
	}
	if len(d.Events) > 0 {
		dst.Events = make([]DeltaEvent, len(d.Events))
		copy(dst.Events, d.Events)
	}
	if len(d.NewStats) > 0 {
		dst.NewStats = make([]DeltaStat, len(d.NewStats))
		copy(dst.NewStats, d.NewStats)
	}
	if len(d.OpenedReaders) > 0 {
		dst.OpenedReaders = make([]DeltaReader, len(d.OpenedReaders))
		copy(dst.OpenedReaders, d.OpenedReaders)
	}
	if len(d.StatValues) > 0 {
		dst.StatValues = make(map[uint64]interface{}, len(d.StatValues))
		for k, v := range d.StatValues {
			dst.StatValues[k] = v
		}
	}
	return dst
}

type DeltaEvent struct {
	At       astikit.Timestamp `json:"at"`
	Name     string            `json:"name"`
	Payload  string            `json:"payload,omitempty"`
	ReaderID uint64            `json:"reader_id"`
}

type DeltaReader struct {
	Duration  time.Duration `json:"duration"`
	FrameRate string        `json:"frame_rate,omitempty"`
	Geometry  string        `json:"geometry"`
	ID        uint64        `json:"id"`
	Name      string        `json:"name"`
	StartTime time.Duration `json:"start_time"`
}

type DeltaStat struct {
	ID       uint64            `json:"id"`
	Metadata DeltaStatMetadata `json:"metadata"`
	ReaderID *uint64           `json:"reader_id,omitempty"`
}

type DeltaStatMetadata struct {
	Description string `json:"description,omitempty"`
	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

func newDeltaStatMetadata(i astikit.DeltaStatMetadata) DeltaStatMetadata {
	return DeltaStatMetadata{
		Description: i.Description,
		Label:       i.Label,
		Name:        i.Name,
		Unit:        i.Unit,
	}
}

// Reader is satisfied by *astireader.Reader
type Reader interface {
	DeltaStats() []astikit.DeltaStat
	On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover
	String() string
}

var _ Reader = (*astireader.Reader)(nil)

type Monitorer struct {
	cd       *Delta // Catchup Delta
	d        *Delta
	ds       *astikit.DeltaStater
	mc       *sync.Mutex // Locks cd
	md       *sync.Mutex // Locks d
	o        MonitorerOptions
	readerID uint64
}

type OnDelta func(d Delta)

type MonitorerOptions struct {
	// Stats that don't belong to a reader, such as host usage
	DeltaStats []astikit.DeltaStat
	OnDelta    OnDelta
	Period     time.Duration
}

func New(o MonitorerOptions) *Monitorer {
	// Create monitorer
	m := &Monitorer{
		cd: newDelta(),
		d:  newDelta(),
		mc: &sync.Mutex{},
		md: &sync.Mutex{},
		o:  o,
	}

	// Create Delta stater
	m.ds = astikit.NewDeltaStater(astikit.DeltaStaterOptions{
		OnStats: m.onStats,
		Period:  o.Period,
	})

	// Add global stats
	m.addStats(nil, o.DeltaStats)
	return m
}

func (m *Monitorer) addStats(readerID *uint64, dss []astikit.DeltaStat) (statIDs []uint64) {
	// Loop through delta stats
	for _, ds := range dss {
		// Add to stater
		statID := m.ds.Add(ds.Valuer)

		// Store stat id
		statIDs = append(statIDs, statID)

		// Create Delta stat
		s := DeltaStat{
			ID:       statID,
			Metadata: newDeltaStatMetadata(ds.Metadata),
			ReaderID: readerID,
		}

		// Store stat
		m.mc.Lock()
		m.cd.NewStats = append(m.cd.NewStats, s)
		m.mc.Unlock()
		m.md.Lock()
		m.d.NewStats = append(m.d.NewStats, s)
		m.md.Unlock()
	}
	return
}

// AddReader must be called before the reader is opened for its opening to be monitored.
// Extra delta stats are attached to the reader and removed once it's closed.
func (m *Monitorer) AddReader(r Reader, extra ...astikit.DeltaStat) (id uint64) {
	// Create id
	id = atomic.AddUint64(&m.readerID, 1)

	// Add stats
	statIDs := m.addStats(astikit.UInt64Ptr(id), append(r.DeltaStats(), extra...))

	// Listen to reader
	r.On(astireader.EventNameReaderOpened, func(payload interface{}) (delete bool) {
		// Assert payload
		i, ok := payload.(astireader.SourceInfo)
		if !ok {
			return
		}

		// Create Delta reader
		dr := DeltaReader{
			Duration:  i.Duration,
			Geometry:  i.Geometry.String(),
			ID:        id,
			Name:      r.String(),
			StartTime: i.StartTime,
		}
		if i.FrameRate.Valid() {
			dr.FrameRate = i.FrameRate.String()
		}

		// Store reader
		m.mc.Lock()
		m.cd.OpenedReaders = append(m.cd.OpenedReaders, dr)
		m.mc.Unlock()
		m.md.Lock()
		m.d.OpenedReaders = append(m.d.OpenedReaders, dr)
		m.md.Unlock()
		return
	})
	for _, n := range []astikit.EventName{
		astireader.EventNameReaderEndOfStream,
		astireader.EventNameReaderFailed,
		astireader.EventNameReaderPaused,
		astireader.EventNameReaderSeeked,
		astireader.EventNameReaderStarted,
		astireader.EventNameReaderStartOfStream,
	} {
		n := n
		r.On(n, func(payload interface{}) (delete bool) {
			m.storeEvent(id, n, payload)
			return
		})
	}
	r.On(astireader.EventNameReaderClosed, func(payload interface{}) (delete bool) {
		// Remove stats
		m.mc.Lock()
		for _, statID := range statIDs {
			for idx := 0; idx < len(m.cd.NewStats); idx++ {
				if m.cd.NewStats[idx].ID == statID {
					m.cd.NewStats = append(m.cd.NewStats[:idx], m.cd.NewStats[idx+1:]...)
					idx--
				}
			}
		}
		m.mc.Unlock()
		m.ds.Remove(statIDs...)

		// Store reader
		m.mc.Lock()
		for idx := 0; idx < len(m.cd.OpenedReaders); idx++ {
			if m.cd.OpenedReaders[idx].ID == id {
				m.cd.OpenedReaders = append(m.cd.OpenedReaders[:idx], m.cd.OpenedReaders[idx+1:]...)
				idx--
			}
		}
		m.mc.Unlock()
		m.md.Lock()
		m.d.ClosedReaders = append(m.d.ClosedReaders, id)
		m.md.Unlock()
		return true
	})
	return
}

// Events are not part of the catch up delta since it only describes the current state
func (m *Monitorer) storeEvent(readerID uint64, n astikit.EventName, payload interface{}) {
	// Create Delta event
	de := DeltaEvent{
		At:       *astikit.NewTimestamp(astikit.Now()),
		Name:     string(n),
		ReaderID: readerID,
	}
	switch v := payload.(type) {
	case error:
		de.Payload = v.Error()
	case time.Duration:
		de.Payload = v.String()
	}

	// Store event
	m.md.Lock()
	m.d.Events = append(m.d.Events, de)
	m.md.Unlock()
}

func (m *Monitorer) Start(ctx context.Context) {
	// Start stater
	m.ds.Start(ctx)
}

func (m *Monitorer) Close() {
	// Stop stater
	m.ds.Stop()
}

func (m *Monitorer) onStats(stats []astikit.DeltaStatValue) {
	// Swap Delta
	m.md.Lock()
	d := *m.d
	m.d = newDelta()
	m.md.Unlock()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())

	// Loop through stats
	m.mc.Lock()
	m.cd.StatValues = map[uint64]interface{}{}
	for _, s := range stats {
		// Add
		d.StatValues[s.ID] = s.Value
		m.cd.StatValues[s.ID] = s.Value
	}
	m.mc.Unlock()

	// Callback
	if !d.empty() && m.o.OnDelta != nil {
		m.o.OnDelta(d)
	}
}

func (m *Monitorer) CatchUp() Delta {
	// Lock
	m.mc.Lock()
	defer m.mc.Unlock()

	// Copy
	d := m.cd.copy()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())
	return *d
}
