package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astireader/pkg/astireader"
	"gopkg.in/yaml.v3"
)

// Flag values are read back in newConfiguration so that only explicitly set flags override
// the configuration file
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Int("capacity", 0, "number of frames per buffer")
	fs.String("c", "", "configuration path")
	fs.String("direction", "", "forward or backward")
	fs.String("dump", "", "directory frames are dumped to")
	fs.Int("dump-every", 0, "dump one frame every n frames")
	fs.Int("dump-max", 0, "maximum number of dumped frames")
	fs.Bool("exact", false, "seek exactly")
	fs.String("filter", "", "filter description")
	fs.String("i", "", "input path")
	fs.String("libav-level", "", "libav log level")
	fs.String("media-type", "", "video or audio")
	fs.Duration("merge-log-buffer", 0, "period during which identical libav logs are merged")
	fs.String("monitor-addr", "", "address the monitor server listens on")
	fs.Duration("monitor-period", 0, "period between monitor deltas")
	fs.String("pix-fmt", "", "output pixel or sample format")
	fs.String("replay", "", "path monitor deltas are recorded to")
	fs.Duration("seek", 0, "time to seek to once started")
	fs.Duration("stats-period", 0, "period between stats")
	fs.Int("threads", 0, "number of decoding threads")
	return fs
}

type Configuration struct {
	Buffer      BufferConfiguration  `yaml:"buffer"`
	Decoder     DecoderConfiguration `yaml:"decoder"`
	Dump        DumpConfiguration    `yaml:"dump"`
	Filter      FilterConfiguration  `yaml:"filter"`
	Input       string               `yaml:"input"`
	Libav       LibavConfiguration   `yaml:"libav"`
	MediaType   string               `yaml:"media_type"`
	Monitor     MonitorConfiguration `yaml:"monitor"`
	Seek        SeekConfiguration    `yaml:"seek"`
	StatsPeriod time.Duration        `yaml:"stats_period"`
}

type DecoderConfiguration struct {
	Threads int `yaml:"threads"`
}

type FilterConfiguration struct {
	Description string `yaml:"description"`
	PixelFormat string `yaml:"pixel_format"`
}

type LibavConfiguration struct {
	Level          string        `yaml:"level"`
	MergeLogBuffer time.Duration `yaml:"merge_log_buffer"`
}

type MonitorConfiguration struct {
	Addr       string        `yaml:"addr"`
	Period     time.Duration `yaml:"period"`
	ReplayPath string        `yaml:"replay_path"`
}

type SeekConfiguration struct {
	Exact bool          `yaml:"exact"`
	Time  time.Duration `yaml:"time"`
}

type BufferConfiguration struct {
	Capacity  int    `yaml:"capacity"`
	Direction string `yaml:"direction"`
}

type DumpConfiguration struct {
	Dir   string `yaml:"dir"`
	Every int    `yaml:"every"`
	Max   int    `yaml:"max"`
}

func defaultConfiguration() (c Configuration) {
	c.Buffer.Capacity = 32
	c.Buffer.Direction = astireader.DirectionForward.String()
	c.Dump.Every = 1
	c.Libav.Level = "warning"
	c.MediaType = "video"
	c.Monitor.Period = time.Second
	c.StatsPeriod = 5 * time.Second
	return
}

// Values are read from the configuration file first, explicitly set flags override them
func newConfiguration(fs *flag.FlagSet) (c Configuration, err error) {
	// Default
	c = defaultConfiguration()

	// Configuration file
	if f := fs.Lookup("c"); f != nil && f.Value.String() != "" {
		var b []byte
		if b, err = os.ReadFile(f.Value.String()); err != nil {
			err = fmt.Errorf("main: reading %s failed: %w", f.Value.String(), err)
			return
		}
		if err = yaml.Unmarshal(b, &c); err != nil {
			err = fmt.Errorf("main: unmarshaling %s failed: %w", f.Value.String(), err)
			return
		}
	}

	// Flags
	fs.Visit(func(f *flag.Flag) {
		g, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		switch f.Name {
		case "capacity":
			c.Buffer.Capacity = g.Get().(int)
		case "direction":
			c.Buffer.Direction = g.Get().(string)
		case "dump":
			c.Dump.Dir = g.Get().(string)
		case "dump-every":
			c.Dump.Every = g.Get().(int)
		case "dump-max":
			c.Dump.Max = g.Get().(int)
		case "exact":
			c.Seek.Exact = g.Get().(bool)
		case "filter":
			c.Filter.Description = g.Get().(string)
		case "i":
			c.Input = g.Get().(string)
		case "libav-level":
			c.Libav.Level = g.Get().(string)
		case "media-type":
			c.MediaType = g.Get().(string)
		case "merge-log-buffer":
			c.Libav.MergeLogBuffer = g.Get().(time.Duration)
		case "monitor-addr":
			c.Monitor.Addr = g.Get().(string)
		case "monitor-period":
			c.Monitor.Period = g.Get().(time.Duration)
		case "pix-fmt":
			c.Filter.PixelFormat = g.Get().(string)
		case "replay":
			c.Monitor.ReplayPath = g.Get().(string)
		case "seek":
			c.Seek.Time = g.Get().(time.Duration)
		case "stats-period":
			c.StatsPeriod = g.Get().(time.Duration)
		case "threads":
			c.Decoder.Threads = g.Get().(int)
		}
	})

	// Validate
	if c.Input == "" {
		err = errors.New("main: no input provided")
		return
	}
	if _, err = c.direction(); err != nil {
		return
	}
	if _, err = c.mediaType(); err != nil {
		return
	}
	if _, err = c.libavLevel(); err != nil {
		return
	}
	if (c.Monitor.Addr != "" || c.Monitor.ReplayPath != "") && c.Monitor.Period <= 0 {
		err = errors.New("main: monitor period must be positive")
		return
	}
	return
}

func (c Configuration) direction() (astireader.Direction, error) {
	switch strings.ToLower(c.Buffer.Direction) {
	case "", "forward":
		return astireader.DirectionForward, nil
	case "backward":
		return astireader.DirectionBackward, nil
	default:
		return astireader.DirectionForward, fmt.Errorf("main: invalid direction %q", c.Buffer.Direction)
	}
}

func (c Configuration) mediaType() (astiav.MediaType, error) {
	switch strings.ToLower(c.MediaType) {
	case "", "video":
		return astiav.MediaTypeVideo, nil
	case "audio":
		return astiav.MediaTypeAudio, nil
	default:
		return astiav.MediaTypeUnknown, fmt.Errorf("main: invalid media type %q", c.MediaType)
	}
}

func (c Configuration) libavLevel() (astiav.LogLevel, error) {
	switch strings.ToLower(c.Libav.Level) {
	case "quiet":
		return astiav.LogLevelQuiet, nil
	case "error":
		return astiav.LogLevelError, nil
	case "", "warning":
		return astiav.LogLevelWarning, nil
	case "info":
		return astiav.LogLevelInfo, nil
	case "verbose":
		return astiav.LogLevelVerbose, nil
	case "debug":
		return astiav.LogLevelDebug, nil
	default:
		return astiav.LogLevelWarning, fmt.Errorf("main: invalid libav level %q", c.Libav.Level)
	}
}

// Video frames can only be dumped as packed rgba
func (c Configuration) filterGraphOptions(mt astiav.MediaType) astireader.FilterGraphOptions {
	o := astireader.FilterGraphOptions{
		Description: c.Filter.Description,
		PixelFormat: c.Filter.PixelFormat,
	}
	if c.Dump.Dir != "" && mt == astiav.MediaTypeVideo {
		o.PixelFormat = "rgba"
	}
	return o
}
