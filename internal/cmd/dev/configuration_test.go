package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astireader/pkg/astireader"
	"github.com/stretchr/testify/require"
)

func TestConfiguration(t *testing.T) {
	// No input
	fs := newFlagSet("test")
	require.NoError(t, fs.Parse(nil))
	_, err := newConfiguration(fs)
	require.Error(t, err)

	// Defaults
	fs = newFlagSet("test")
	require.NoError(t, fs.Parse([]string{"-i", "input.mp4"}))
	c, err := newConfiguration(fs)
	require.NoError(t, err)
	e := defaultConfiguration()
	e.Input = "input.mp4"
	require.Equal(t, e, c)

	// File and flags
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(`buffer:
  capacity: 8
  direction: backward
dump:
  dir: frames
  every: 5
filter:
  description: hflip
input: file.mp4
libav:
  level: debug
  merge_log_buffer: 2s
monitor:
  addr: 127.0.0.1:4000
seek:
  exact: true
  time: 1m
stats_period: 1s
`), 0644))
	fs = newFlagSet("test")
	require.NoError(t, fs.Parse([]string{"-c", p, "-capacity", "16", "-media-type", "audio", "-dump-max", "3", "-replay", "replay.txt"}))
	c, err = newConfiguration(fs)
	require.NoError(t, err)
	require.Equal(t, Configuration{
		Buffer: BufferConfiguration{
			Capacity:  16,
			Direction: "backward",
		},
		Dump: DumpConfiguration{
			Dir:   "frames",
			Every: 5,
			Max:   3,
		},
		Filter: FilterConfiguration{Description: "hflip"},
		Input:  "file.mp4",
		Libav: LibavConfiguration{
			Level:          "debug",
			MergeLogBuffer: 2 * time.Second,
		},
		MediaType: "audio",
		Monitor: MonitorConfiguration{
			Addr:       "127.0.0.1:4000",
			Period:     time.Second,
			ReplayPath: "replay.txt",
		},
		Seek: SeekConfiguration{
			Exact: true,
			Time:  time.Minute,
		},
		StatsPeriod: time.Second,
	}, c)
	d, err := c.direction()
	require.NoError(t, err)
	require.Equal(t, astireader.DirectionBackward, d)
	mt, err := c.mediaType()
	require.NoError(t, err)
	require.Equal(t, astiav.MediaTypeAudio, mt)
	ll, err := c.libavLevel()
	require.NoError(t, err)
	require.Equal(t, astiav.LogLevelDebug, ll)
	require.Equal(t, astireader.FilterGraphOptions{Description: "hflip"}, c.filterGraphOptions(mt))
	require.Equal(t, astireader.FilterGraphOptions{
		Description: "hflip",
		PixelFormat: "rgba",
	}, c.filterGraphOptions(astiav.MediaTypeVideo))

	// Invalid values
	for _, args := range [][]string{
		{"-i", "input.mp4", "-direction", "sideways"},
		{"-i", "input.mp4", "-media-type", "subtitle"},
		{"-i", "input.mp4", "-libav-level", "loud"},
		{"-i", "input.mp4", "-monitor-addr", "127.0.0.1:4000", "-monitor-period", "0s"},
		{"-c", filepath.Join(t.TempDir(), "missing.yml")},
	} {
		fs = newFlagSet("test")
		require.NoError(t, fs.Parse(args))
		_, err = newConfiguration(fs)
		require.Error(t, err, args)
	}
}
