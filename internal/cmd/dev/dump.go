package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/asticode/go-astireader/pkg/astireader"
	"golang.org/x/image/bmp"
)

type dumper struct {
	count   int
	dumped  int
	o       DumpConfiguration
	written []string
}

func newDumper(o DumpConfiguration) (*dumper, error) {
	// Default
	if o.Every <= 0 {
		o.Every = 1
	}

	// Create dir
	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return nil, fmt.Errorf("main: creating %s failed: %w", o.Dir, err)
	}
	return &dumper{o: o}, nil
}

func (d *dumper) dump(data []byte, g astireader.Geometry, t time.Duration) error {
	// Skip
	d.count++
	if (d.count-1)%d.o.Every != 0 || (d.o.Max > 0 && d.dumped >= d.o.Max) {
		return nil
	}

	// Create image
	i, err := newImage(data, g)
	if err != nil {
		return fmt.Errorf("main: creating image failed: %w", err)
	}

	// Create file
	p := filepath.Join(d.o.Dir, fmt.Sprintf("%06d_%d.bmp", d.count-1, t.Milliseconds()))
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("main: creating %s failed: %w", p, err)
	}
	defer f.Close()

	// Encode
	if err = bmp.Encode(f, i); err != nil {
		return fmt.Errorf("main: encoding %s failed: %w", p, err)
	}

	// Update
	d.dumped++
	d.written = append(d.written, p)
	return nil
}

func newImage(data []byte, g astireader.Geometry) (image.Image, error) {
	// Check size
	if len(data) < g.Size() {
		return nil, fmt.Errorf("main: %d bytes is too small for %s", len(data), g)
	}

	// Switch on geometry
	r := image.Rect(0, 0, g.Width, g.Height)
	switch {
	case g.MediaType != astireader.MediaTypeVideo:
		return nil, fmt.Errorf("main: %s can't be dumped", g)
	case g.PixelFormat == "rgba":
		return &image.RGBA{Pix: data[:g.Size()], Rect: r, Stride: 4 * g.Width}, nil
	case g.PixelFormat == "gray":
		return &image.Gray{Pix: data[:g.Size()], Rect: r, Stride: g.Width}, nil
	default:
		return nil, fmt.Errorf("main: pixel format %s can't be dumped", g.PixelFormat)
	}
}
