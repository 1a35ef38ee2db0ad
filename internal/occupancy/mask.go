package occupancy

// Mask values.
const (
	Background uint8 = 0
	Foreground uint8 = 255
)

// Mask is a binary image with one byte per pixel, row-major.
type Mask struct {
	Pix    []uint8
	Width  int
	Height int
}

// NewMask returns an all-background mask.
func NewMask(width, height int) *Mask {
	return &Mask{
		Pix:    make([]uint8, width*height),
		Width:  width,
		Height: height,
	}
}

// At reports whether (x, y) is foreground. Out-of-range points are background.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x] != Background
}

// Set marks (x, y) as foreground or background.
func (m *Mask) Set(x, y int, fg bool) {
	if fg {
		m.Pix[y*m.Width+x] = Foreground
	} else {
		m.Pix[y*m.Width+x] = Background
	}
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != Background {
			n++
		}
	}
	return n
}

// Equal reports whether two masks have the same size and content. A nil
// mask only equals nil.
func (m *Mask) Equal(other *Mask) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Width != other.Width || m.Height != other.Height || len(m.Pix) != len(other.Pix) {
		return false
	}
	for i := range m.Pix {
		if m.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	c := &Mask{Pix: make([]uint8, len(m.Pix)), Width: m.Width, Height: m.Height}
	copy(c.Pix, m.Pix)
	return c
}
