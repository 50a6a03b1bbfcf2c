// Package psutil provides a host usage delta stat that can be reported next to a reader's own stats
package psutil

import (
	"fmt"
	"os"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/astireader"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

type Options struct {
	// Defaults to the current process
	PID int32
	// When true, per-CPU percentages are not collected
	SkipIndividualCPUs bool
}

func New(o Options) (astikit.DeltaStat, error) {
	// Create valuer
	vr, err := newValuer(o)
	if err != nil {
		return astikit.DeltaStat{}, fmt.Errorf("psutil: creating valuer failed: %w", err)
	}

	// Create delta stat
	return astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{
			Description: "Host and reader process CPU and memory usage",
			Label:       "Host usage",
			Name:        astireader.DeltaStatNameHostUsage,
		},
		Valuer: vr,
	}, nil
}

var _ astikit.DeltaStatValuer = (*valuer)(nil)

type valuer struct {
	busy        func() (float64, error)
	cpus        func(perCPU bool) ([]float64, error)
	lastBusy    *float64
	memory      func() (resident, virtual uint64, err error)
	o           Options
	totalMemory func() (total, used uint64, err error)
}

func newValuer(o Options) (vr *valuer, err error) {
	// Get pid
	if o.PID == 0 {
		o.PID = int32(os.Getpid())
	}

	// Create process
	var p *process.Process
	if p, err = process.NewProcess(o.PID); err != nil {
		err = fmt.Errorf("psutil: creating process %d failed: %w", o.PID, err)
		return
	}

	// Create valuer
	vr = &valuer{
		busy: func() (float64, error) {
			t, err := p.Times()
			if err != nil {
				return 0, err
			}
			return t.Total() - t.Idle, nil
		},
		cpus: func(perCPU bool) ([]float64, error) { return cpu.Percent(0, perCPU) },
		memory: func() (uint64, uint64, error) {
			i, err := p.MemoryInfo()
			if err != nil {
				return 0, 0, err
			}
			return i.RSS, i.VMS, nil
		},
		o: o,
		totalMemory: func() (uint64, uint64, error) {
			s, err := mem.VirtualMemory()
			if err != nil {
				return 0, 0, err
			}
			return s.Total, s.Used, nil
		},
	}
	return
}

func (vr *valuer) Value(delta time.Duration) interface{} {
	// Get process CPU
	var v astireader.DeltaStatHostUsageValue
	if b, err := vr.busy(); err == nil {
		if vr.lastBusy != nil && delta > 0 {
			v.CPU.Process = astikit.Float64Ptr((b - *vr.lastBusy) / delta.Seconds() * 100)
		}
		vr.lastBusy = astikit.Float64Ptr(b)
	}

	// Get global CPU
	if !vr.o.SkipIndividualCPUs {
		if ps, err := vr.cpus(true); err == nil {
			v.CPU.Individual = ps
		}
	}
	if ps, err := vr.cpus(false); err == nil && len(ps) > 0 {
		v.CPU.Total = ps[0]
	}

	// Get memory
	if r, vi, err := vr.memory(); err == nil {
		v.Memory.Resident = r
		v.Memory.Virtual = vi
	}
	if t, u, err := vr.totalMemory(); err == nil {
		v.Memory.Total = t
		v.Memory.Used = u
	}
	return v
}
