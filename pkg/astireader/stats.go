package astireader

import (
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

const (
	DeltaStatNameBufferSwaps   = "astireader.buffer.swaps"
	DeltaStatNameDroppedFrames = "astireader.dropped.frames"
	DeltaStatNameHostUsage     = "astireader.host.usage"
	DeltaStatNameIncomingRate  = "astireader.incoming.rate"
	DeltaStatNameOutgoingRate  = "astireader.outgoing.rate"
	DeltaStatNameProcessedRate = "astireader.processed.rate"
)

type DeltaStatHostUsageValue struct {
	CPU    DeltaStatHostCPUUsageValue    `json:"cpu"`
	Memory DeltaStatHostMemoryUsageValue `json:"memory"`
}

type DeltaStatHostCPUUsageValue struct {
	Individual []float64 `json:"individual"`
	Process    *float64  `json:"process,omitempty"`
	Total      float64   `json:"total"`
}

type DeltaStatHostMemoryUsageValue struct {
	Resident uint64 `json:"resident"`
	Total    uint64 `json:"total"`
	Used     uint64 `json:"used"`
	Virtual  uint64 `json:"virtual"`
}

type readerCumulativeStats struct {
	bufferSwaps     uint64
	droppedFrames   uint64
	incomingPackets uint64
	outgoingFrames  uint64
	processedFrames uint64
}

type ReaderCumulativeStats struct {
	BufferSwaps     uint64
	DroppedFrames   uint64
	IncomingPackets uint64
	OutgoingFrames  uint64
	ProcessedFrames uint64
}

func (r *Reader) CumulativeStats() ReaderCumulativeStats {
	return ReaderCumulativeStats{
		BufferSwaps:     atomic.LoadUint64(&r.cs.bufferSwaps),
		DroppedFrames:   atomic.LoadUint64(&r.cs.droppedFrames),
		IncomingPackets: atomic.LoadUint64(&r.cs.incomingPackets),
		OutgoingFrames:  atomic.LoadUint64(&r.cs.outgoingFrames),
		ProcessedFrames: atomic.LoadUint64(&r.cs.processedFrames),
	}
}

func (r *Reader) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets coming in per second",
				Label:       "Incoming rate",
				Name:        DeltaStatNameIncomingRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&r.cs.incomingPackets),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames decoded per second",
				Label:       "Processed rate",
				Name:        DeltaStatNameProcessedRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&r.cs.processedFrames),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames written to buffers per second",
				Label:       "Outgoing rate",
				Name:        DeltaStatNameOutgoingRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&r.cs.outgoingFrames),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames dropped while seeking or pausing",
				Label:       "Dropped frames",
				Name:        DeltaStatNameDroppedFrames,
				Unit:        "f",
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&r.cs.droppedFrames),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of buffer swaps",
				Label:       "Buffer swaps",
				Name:        DeltaStatNameBufferSwaps,
				Unit:        "s",
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&r.cs.bufferSwaps),
		},
	}
}
