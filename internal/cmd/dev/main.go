package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astilog"
	"github.com/asticode/go-astireader/pkg/astireader"
	astiavreader "github.com/asticode/go-astireader/pkg/libs/astiav"
	"github.com/asticode/go-astireader/pkg/monitor/replay"
	"github.com/asticode/go-astireader/pkg/monitor/server"
	"github.com/asticode/go-astireader/pkg/stats/psutil"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Create logger
	l := astilog.New(astilog.Configuration{})

	// Parse flags
	fs := newFlagSet(os.Args[0])
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		l.Fatal(fmt.Errorf("main: parsing flags failed: %w", err))
	}

	// Create configuration
	c, err := newConfiguration(fs)
	if err != nil {
		l.Error(fmt.Errorf("main: creating configuration failed: %w", err))
		fs.Usage()
		return
	}

	// Create worker
	w := astikit.NewWorker(astikit.WorkerOptions{Logger: l})
	w.HandleSignals(astikit.TermSignalHandler(w.Stop))

	// Run
	if err = run(w, l, c); err != nil {
		l.Error(err)
	}

	// Stop worker
	w.Stop()
	w.Wait()
}

func run(w *astikit.Worker, sl astikit.StdLogger, c Configuration) (err error) {
	// Get options
	l := astikit.AdaptStdLogger(sl)
	d, _ := c.direction()
	mt, _ := c.mediaType()
	ll, _ := c.libavLevel()

	// Create log interceptor
	li := astiavreader.NewLogInterceptor(astiavreader.LogInterceptorOptions{
		Level:  ll,
		Logger: sl,
		Merge: astiavreader.LogInterceptorMergeOptions{
			AllowedCount: 1,
			Buffer:       c.Libav.MergeLogBuffer,
		},
	})
	li.Start(w.Context(), w.NewTask)
	defer li.Close()

	// Open source
	src, err := astiavreader.Open(w.Context(), astiavreader.OpenOptions{
		Decoder:        astiavreader.DecoderOptions{ThreadCount: c.Decoder.Threads},
		Filter:         astiavreader.FilterOptions{ThreadCount: c.Decoder.Threads},
		LogInterceptor: li,
		Logger:         sl,
		MediaType:      mt,
		URL:            c.Input,
	})
	if err != nil {
		return fmt.Errorf("main: opening %s failed: %w", c.Input, err)
	}

	// Make sure monitors are closed after the reader
	mc := astikit.NewCloser()
	defer func() {
		if err := mc.Close(); err != nil {
			l.WarnC(w.Context(), fmt.Errorf("main: closing monitors failed: %w", err))
		}
	}()

	// Create reader
	r := astireader.NewReader(astireader.ReaderOptions{
		Buffer: astireader.BufferOptions{
			Capacity:  c.Buffer.Capacity,
			Direction: d,
			Shuffle:   true,
		},
		ContextAdapter: func(ctx context.Context, r *astireader.Reader) context.Context {
			return astilog.ContextWithFields(ctx, map[string]interface{}{
				"input":  c.Input,
				"reader": r.String(),
			})
		},
		Filter: c.filterGraphOptions(mt),
		Logger: sl,
		Worker: w,
	})
	defer r.Close()

	// Monitor
	if err = monitor(w, sl, c, mc, r, src); err != nil {
		src.Close()
		return fmt.Errorf("main: monitoring failed: %w", err)
	}

	// Open reader
	if err = r.Open(w.Context(), src); err != nil {
		src.Close()
		return fmt.Errorf("main: opening reader failed: %w", err)
	}

	// Start
	if err = r.Start(); err != nil {
		return fmt.Errorf("main: starting reader failed: %w", err)
	}

	// Seek
	if c.Seek.Time > 0 {
		if err = r.SetCurrentTime(c.Seek.Time, c.Seek.Exact); err != nil {
			return fmt.Errorf("main: seeking to %s failed: %w", c.Seek.Time, err)
		}
	}

	// Wait for first frame
	g, err := r.BlockTillFirstFrame(0)
	if err != nil {
		if errors.Is(err, astireader.ErrEndOfStream) {
			l.InfoC(r.Context(), "main: no frame has been decoded")
			return nil
		}
		return fmt.Errorf("main: waiting for first frame failed: %w", err)
	}
	l.InfoC(r.Context(), fmt.Sprintf("main: first frame is %s", g))

	// Create dumper
	var dp *dumper
	if c.Dump.Dir != "" {
		if dp, err = newDumper(c.Dump); err != nil {
			return fmt.Errorf("main: creating dumper failed: %w", err)
		}
	}

	// Create host usage stat
	hs, err := psutil.New(psutil.Options{})
	if err != nil {
		return fmt.Errorf("main: creating host usage stat failed: %w", err)
	}

	// Create group
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	// Read
	eg.Go(func() error {
		// Make sure stats stop being printed
		defer cancel()
		return read(ctx, r, l, dp, newProgress(os.Stderr, r.Duration()))
	})

	// Print stats
	if c.StatsPeriod > 0 {
		eg.Go(func() error {
			ss := append(append([]astikit.DeltaStat{hs}, r.DeltaStats()...), src.DeltaStats()...)
			astikit.Tick(ctx, c.StatsPeriod, func(t time.Time) {
				for _, s := range ss {
					l.InfoC(ctx, "main: "+formatDeltaStat(s, c.StatsPeriod))
				}
			})
			return nil
		})
	}

	// Wait
	if err = eg.Wait(); err != nil {
		return err
	}

	// Log
	cs := r.CumulativeStats()
	l.InfoC(r.Context(), fmt.Sprintf("main: %d frames read, %d dropped, %d buffer swaps", cs.OutgoingFrames, cs.DroppedFrames, cs.BufferSwaps))
	if dp != nil {
		l.InfoC(r.Context(), fmt.Sprintf("main: %d frames dumped to %s", dp.dumped, c.Dump.Dir))
	}
	return nil
}

// Readers must be added to monitors before being opened
func monitor(w *astikit.Worker, sl astikit.StdLogger, c Configuration, mc *astikit.Closer, r *astireader.Reader, src *astiavreader.Source) error {
	// Create server
	if c.Monitor.Addr != "" {
		// Create host usage stat
		hs, err := psutil.New(psutil.Options{})
		if err != nil {
			return fmt.Errorf("main: creating host usage stat failed: %w", err)
		}

		// Create server
		s := server.New(server.Options{
			Addr:        c.Monitor.Addr,
			API:         server.APIOptions{URL: "/api"},
			DeltaPeriod: c.Monitor.Period,
			DeltaStats:  []astikit.DeltaStat{hs},
			Logger:      sl,
			Push:        server.PushOptions{URL: "/push"},
		})

		mc.AddWithError(s.Close)

		// Monitor reader
		s.AddReader(r, src.DeltaStats()...)

		// Start
		s.Start(w.Context(), w.NewTask)
	}

	// Create replay
	if c.Monitor.ReplayPath != "" {
		// Create host usage stat
		hs, err := psutil.New(psutil.Options{})
		if err != nil {
			return fmt.Errorf("main: creating host usage stat failed: %w", err)
		}

		// Create replay
		rp, err := replay.New(replay.Options{
			DeltaPeriod: c.Monitor.Period,
			DeltaStats:  []astikit.DeltaStat{hs},
			Logger:      sl,
			Name:        c.Input,
			Path:        c.Monitor.ReplayPath,
		})
		if err != nil {
			return fmt.Errorf("main: creating replay failed: %w", err)
		}

		mc.AddWithError(rp.Close)

		// Monitor reader
		rp.AddReader(r, src.DeltaStats()...)

		// Start
		rp.Start(w.Context(), w.NewTask)
	}
	return nil
}

func read(ctx context.Context, r *astireader.Reader, l astikit.CompleteLogger, dp *dumper, p *progress) error {
	var buf []byte
	for {
		// Make sure buffer is big enough
		g := r.Geometry()
		if s := g.Size(); s > len(buf) {
			buf = make([]byte, s)
		}

		// Read frame
		fi, err := r.ReadFrame(buf)
		if err != nil {
			switch {
			case errors.Is(err, astireader.ErrEndOfStream), errors.Is(err, astireader.ErrStartOfStream):
				p.done()
				l.InfoC(ctx, fmt.Sprintf("main: reached %s", err))
				return nil
			case errors.Is(err, astireader.ErrClosed), ctx.Err() != nil:
				p.done()
				return nil
			default:
				return fmt.Errorf("main: reading frame failed: %w", err)
			}
		}

		// Dump
		if dp != nil {
			if err = dp.dump(buf[:fi.Size], g, fi.Time); err != nil {
				return fmt.Errorf("main: dumping frame failed: %w", err)
			}
		}

		// Progress
		p.update(fi.Time)
	}
}

// Progress is only written on terminals
type progress struct {
	d    time.Duration
	f    *os.File
	last time.Time
	tty  bool
}

func newProgress(f *os.File, d time.Duration) *progress {
	return &progress{
		d:   d,
		f:   f,
		tty: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
	}
}

func (p *progress) update(t time.Duration) {
	if !p.tty {
		return
	}
	if n := astikit.Now(); n.Sub(p.last) >= 250*time.Millisecond {
		p.last = n
		fmt.Fprintf(p.f, "\r%s / %s", t.Round(time.Millisecond), p.d.Round(time.Millisecond))
	}
}

func (p *progress) done() {
	if p.tty && !p.last.IsZero() {
		fmt.Fprintln(p.f)
	}
}

func formatDeltaStat(s astikit.DeltaStat, period time.Duration) string {
	// Get label
	label := s.Metadata.Label
	if label == "" {
		label = s.Metadata.Name
	}

	// Switch on value
	switch v := s.Valuer.Value(period).(type) {
	case astireader.DeltaStatHostUsageValue:
		msg := fmt.Sprintf("%s: cpu %.1f%%, memory %d/%d MB", label, v.CPU.Total, v.Memory.Used>>20, v.Memory.Total>>20)
		if v.CPU.Process != nil {
			msg += fmt.Sprintf(", process cpu %.1f%% and memory %d MB", *v.CPU.Process, v.Memory.Resident>>20)
		}
		return msg
	case float64:
		return fmt.Sprintf("%s: %.2f %s", label, v, s.Metadata.Unit)
	default:
		return fmt.Sprintf("%s: %v %s", label, v, s.Metadata.Unit)
	}
}
