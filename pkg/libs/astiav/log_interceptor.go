package astiavreader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// LogInterceptor routes libav logs to a logger. Logs emitted by libav objects belonging to a
// source are written with the source's context.
type LogInterceptor struct {
	c             *astikit.Closer
	ctx           context.Context
	items         map[string]*logInterceptorItem // Indexed by key
	l             astikit.CompleteLogger
	mi            sync.Mutex // Locks items
	o             LogInterceptorOptions
	previousLevel *astiav.LogLevel
}

type logInterceptorItem struct {
	count     uint
	createdAt time.Time
	ctx       context.Context
	fmt       string
	key       string
	ll        astikit.LoggerLevel
	written   uint
}

type LogInterceptorOptions struct {
	Level     astiav.LogLevel
	LevelFunc func(l astiav.LogLevel) (ll astikit.LoggerLevel, processed, stop bool)
	Logger    astikit.StdLogger
	Merge     LogInterceptorMergeOptions
}

// Messages sharing the same format and level are merged during Buffer, only the first
// AllowedCount ones being written
type LogInterceptorMergeOptions struct {
	AllowedCount uint
	Buffer       time.Duration
}

func NewLogInterceptor(o LogInterceptorOptions) *LogInterceptor {
	return &LogInterceptor{
		c:     astikit.NewCloser(),
		ctx:   context.Background(),
		items: make(map[string]*logInterceptorItem),
		l:     astikit.AdaptStdLogger(o.Logger),
		o:     o,
	}
}

func (li *LogInterceptor) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Store context
	li.ctx = ctx

	// Set log level
	ll := astiav.GetLogLevel()
	li.previousLevel = &ll
	astiav.SetLogLevel(li.o.Level)

	// Set log callback
	astiav.SetLogCallback(li.callback)

	// Make sure interceptor is closed properly
	li.c.Add(li.close)

	// Start merger
	if li.o.Merge.Buffer > 0 {
		tc().Do(func() {
			// Tick
			astikit.Tick(ctx, li.o.Merge.Buffer/10, li.tick)
		})
	}
}

func (li *LogInterceptor) Close() error {
	return li.c.Close()
}

func (li *LogInterceptor) close() {
	if li.previousLevel != nil {
		astiav.SetLogLevel(*li.previousLevel)
		li.previousLevel = nil
	}
	astiav.ResetLogCallback()
	li.purge()
}

func (li *LogInterceptor) callback(c astiav.Classer, level astiav.LogLevel, format, msg string) {
	// Process message
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}

	// Process format
	format = strings.TrimSpace(format)
	if format == "%s" {
		format = msg
	}

	// Get context
	ctx := li.ctx

	// Process classer
	if c != nil {
		if cl := c.Class(); cl != nil {
			msg += ": " + cl.String()
		}
		if s, ok := classers.get(c); ok {
			ctx = s.ctx
			msg += ": " + s.String()
		}
	}

	// Get log level
	ll, ok := li.loggerLevel(level)
	if !ok {
		return
	}
	switch level {
	case astiav.LogLevelFatal:
		msg = "FATAL! " + msg
	case astiav.LogLevelPanic:
		msg = "PANIC! " + msg
	}

	// Write
	li.write(ctx, ll, "libav: "+format, "libav: "+msg)
}

func (li *LogInterceptor) loggerLevel(level astiav.LogLevel) (astikit.LoggerLevel, bool) {
	// Custom
	if li.o.LevelFunc != nil {
		ll, processed, stop := li.o.LevelFunc(level)
		if stop {
			return ll, false
		}
		if processed {
			return ll, true
		}
	}

	// Default
	switch level {
	case astiav.LogLevelDebug, astiav.LogLevelVerbose:
		return astikit.LoggerLevelDebug, true
	case astiav.LogLevelInfo:
		return astikit.LoggerLevelInfo, true
	case astiav.LogLevelError, astiav.LogLevelFatal, astiav.LogLevelPanic:
		return astikit.LoggerLevelError, true
	case astiav.LogLevelWarning:
		return astikit.LoggerLevelWarn, true
	default:
		return astikit.LoggerLevelDebug, false
	}
}

func (li *LogInterceptor) write(ctx context.Context, ll astikit.LoggerLevel, format, msg string) {
	// Merge
	if li.o.Merge.Buffer > 0 {
		if write := li.addItem(ctx, ll, format); !write {
			return
		}
	}

	// Write
	li.l.WriteC(ctx, ll, msg)
}

func (li *LogInterceptor) addItem(ctx context.Context, ll astikit.LoggerLevel, format string) (write bool) {
	// Lock
	li.mi.Lock()
	defer li.mi.Unlock()

	// Item exists
	key := ll.String() + ":" + format
	if i, ok := li.items[key]; ok {
		i.count++
		if write = li.o.Merge.AllowedCount > 0 && i.count <= li.o.Merge.AllowedCount; write {
			i.written++
		}
		return
	}

	// Create item
	li.items[key] = &logInterceptorItem{
		count:     1,
		createdAt: astikit.Now(),
		ctx:       ctx,
		fmt:       format,
		key:       key,
		ll:        ll,
		written:   1,
	}
	return true
}

func (li *LogInterceptor) tick(t time.Time) {
	// Lock
	li.mi.Lock()
	defer li.mi.Unlock()

	// Loop through items
	for _, i := range li.items {
		// Period has been reached
		if t.Sub(i.createdAt) >= li.o.Merge.Buffer {
			li.removeItemUnlocked(i)
		}
	}
}

func (li *LogInterceptor) removeItemUnlocked(i *logInterceptorItem) {
	switch repeated := i.count - i.written; {
	case repeated > 1:
		li.l.WriteC(i.ctx, i.ll, fmt.Sprintf("astiavreader: pattern repeated %d times: %s", repeated, i.fmt))
	case repeated == 1:
		li.l.WriteC(i.ctx, i.ll, "astiavreader: pattern repeated once: "+i.fmt)
	}
	delete(li.items, i.key)
}

func (li *LogInterceptor) purge() {
	// Lock
	li.mi.Lock()
	defer li.mi.Unlock()

	// Loop through items
	for _, i := range li.items {
		li.removeItemUnlocked(i)
	}
}

var logInterceptors = newLogInterceptorPool()

type logInterceptorPool struct {
	m sync.Mutex
	p map[*Source]*LogInterceptor
}

func newLogInterceptorPool() *logInterceptorPool {
	return &logInterceptorPool{p: make(map[*Source]*LogInterceptor)}
}

func (p *logInterceptorPool) set(s *Source, li *LogInterceptor) {
	p.m.Lock()
	defer p.m.Unlock()
	p.p[s] = li
}

func (p *logInterceptorPool) del(s *Source) {
	p.m.Lock()
	defer p.m.Unlock()
	delete(p.p, s)
}

func (p *logInterceptorPool) get(s *Source) (*LogInterceptor, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	li, ok := p.p[s]
	return li, ok
}
