package occupancy

import (
	"fmt"
	"time"
)

// Frame is a read-only view of the pixels of one capture instant.
// Pix holds Height rows of Width*Channels interleaved 8-bit samples.
// The core never keeps a reference to Pix after the call that received it.
type Frame struct {
	Pix       []byte
	Width     int
	Height    int
	Channels  int
	Timestamp time.Time
}

// Geometry returns the frame layout.
func (f *Frame) Geometry() Geometry {
	return Geometry{Width: f.Width, Height: f.Height, Channels: f.Channels}
}

// Validate rejects nil, zero-size and inconsistent frames.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrEmptyFrame)
	}
	if f.Width <= 0 || f.Height <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: geometry %s", ErrEmptyFrame, f.Geometry())
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return fmt.Errorf("%w: buffer has %d bytes, geometry %s needs %d", ErrEmptyFrame, len(f.Pix), f.Geometry(), want)
	}
	return nil
}
