package astiavreader

import (
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

type poolCumulativeStats struct {
	allocated uint64
}

// Frames handed out by the pool are owned by the caller until they're put back
type framePool struct {
	c    *astikit.Closer
	cs   *poolCumulativeStats
	fs   []*astiav.Frame
	mp   sync.Mutex // Locks fs and used
	used int
}

func newFramePool(c *astikit.Closer) *framePool {
	return &framePool{
		c:  c,
		cs: &poolCumulativeStats{},
	}
}

func (fp *framePool) get() (f *astiav.Frame) {
	// Lock
	fp.mp.Lock()
	defer fp.mp.Unlock()

	// Update used
	fp.used++

	// Pool is empty
	if len(fp.fs) == 0 {
		// Allocate frame
		f = astiav.AllocFrame()

		// Increment allocated frames
		atomic.AddUint64(&fp.cs.allocated, 1)

		// Make sure frame is freed properly
		fp.c.Add(f.Free)
		return
	}

	// Use last frame in pool
	f = fp.fs[len(fp.fs)-1]
	fp.fs = fp.fs[:len(fp.fs)-1]
	return
}

func (fp *framePool) put(f *astiav.Frame) {
	// Lock
	fp.mp.Lock()
	defer fp.mp.Unlock()

	// Unref
	f.Unref()

	// Update
	fp.fs = append(fp.fs, f)
	fp.used--
}

// Returns the number of frames that have been handed out and not put back yet
func (fp *framePool) inUse() int {
	fp.mp.Lock()
	defer fp.mp.Unlock()
	return fp.used
}

func (fp *framePool) deltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of allocated frames",
				Label:       "Allocated frames",
				Name:        DeltaStatNameAllocatedFrames,
				Unit:        "f",
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&fp.cs.allocated),
		},
	}
}

type packetPool struct {
	c    *astikit.Closer
	cs   *poolCumulativeStats
	mp   sync.Mutex // Locks ps and used
	ps   []*astiav.Packet
	used int
}

func newPacketPool(c *astikit.Closer) *packetPool {
	return &packetPool{
		c:  c,
		cs: &poolCumulativeStats{},
	}
}

func (pp *packetPool) get() (pkt *astiav.Packet) {
	// Lock
	pp.mp.Lock()
	defer pp.mp.Unlock()

	// Update used
	pp.used++

	// Pool is empty
	if len(pp.ps) == 0 {
		// Allocate packet
		pkt = astiav.AllocPacket()

		// Increment allocated packets
		atomic.AddUint64(&pp.cs.allocated, 1)

		// Make sure packet is freed properly
		pp.c.Add(pkt.Free)
		return
	}

	// Use last packet in pool
	pkt = pp.ps[len(pp.ps)-1]
	pp.ps = pp.ps[:len(pp.ps)-1]
	return
}

func (pp *packetPool) put(pkt *astiav.Packet) {
	// Lock
	pp.mp.Lock()
	defer pp.mp.Unlock()

	// Unref
	pkt.Unref()

	// Update
	pp.ps = append(pp.ps, pkt)
	pp.used--
}

func (pp *packetPool) inUse() int {
	pp.mp.Lock()
	defer pp.mp.Unlock()
	return pp.used
}

func (pp *packetPool) deltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of allocated packets",
				Label:       "Allocated packets",
				Name:        DeltaStatNameAllocatedPackets,
				Unit:        "p",
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&pp.cs.allocated),
		},
	}
}
