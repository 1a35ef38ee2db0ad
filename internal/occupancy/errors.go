package occupancy

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFrame is returned when a frame has no pixels or a buffer that
	// does not match its declared geometry. Such frames never reach the model.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrPipelineStopped is returned by Process once the pipeline is stopped.
	ErrPipelineStopped = errors.New("pipeline stopped")
)

// ConfigurationError reports an invalid configuration option.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Geometry describes the pixel layout a background model was seeded with.
type Geometry struct {
	Width    int
	Height   int
	Channels int
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Width, g.Height, g.Channels)
}

// GeometryMismatchError is returned when a frame does not match the
// geometry fixed by the first frame a background model saw.
type GeometryMismatchError struct {
	Expected Geometry
	Got      Geometry
}

func (e *GeometryMismatchError) Error() string {
	return fmt.Sprintf("frame geometry %s does not match model geometry %s", e.Got, e.Expected)
}
