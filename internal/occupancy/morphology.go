package occupancy

import "math"

type offset struct{ dx, dy int }

// Cleaner removes speckle noise and fills small holes in a foreground mask
// by an opening followed by a closing with the same structuring element.
type Cleaner struct {
	size    int
	shape   KernelShape
	element []offset
}

// NewCleaner builds a cleaner for an odd kernel size of at least 1.
func NewCleaner(size int, shape KernelShape) (*Cleaner, error) {
	if size < 1 || size%2 == 0 {
		return nil, &ConfigurationError{Field: "morphology_kernel_size", Reason: "must be an odd integer >= 1"}
	}
	element, err := structuringElement(size, shape)
	if err != nil {
		return nil, err
	}
	return &Cleaner{size: size, shape: shape, element: element}, nil
}

// Size returns the kernel side length.
func (c *Cleaner) Size() int { return c.size }

// Shape returns the kernel shape.
func (c *Cleaner) Shape() KernelShape { return c.shape }

// Clean returns close(open(mask)). The input is not modified.
func (c *Cleaner) Clean(mask *Mask) *Mask {
	opened := c.dilate(c.erode(mask))
	return c.erode(c.dilate(opened))
}

// erode keeps a pixel only when every in-bounds neighbour under the element
// is foreground.
func (c *Cleaner) erode(src *Mask) *Mask {
	dst := NewMask(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			keep := true
			for _, o := range c.element {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= src.Width || ny >= src.Height {
					continue
				}
				if src.Pix[ny*src.Width+nx] == Background {
					keep = false
					break
				}
			}
			if keep {
				dst.Pix[y*dst.Width+x] = Foreground
			}
		}
	}
	return dst
}

// dilate sets a pixel when any in-bounds neighbour under the element is
// foreground.
func (c *Cleaner) dilate(src *Mask) *Mask {
	dst := NewMask(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			for _, o := range c.element {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= src.Width || ny >= src.Height {
					continue
				}
				if src.Pix[ny*src.Width+nx] != Background {
					dst.Pix[y*dst.Width+x] = Foreground
					break
				}
			}
		}
	}
	return dst
}

// structuringElement returns the element as offsets from its centre. The
// ellipse follows the usual inscribed-ellipse rasterisation, so a 5x5
// ellipse is a full square with its four corners cut.
func structuringElement(size int, shape KernelShape) ([]offset, error) {
	r := size / 2
	var element []offset

	switch shape {
	case KernelRect:
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				element = append(element, offset{dx, dy})
			}
		}
	case KernelCross:
		for d := -r; d <= r; d++ {
			element = append(element, offset{d, 0})
			if d != 0 {
				element = append(element, offset{0, d})
			}
		}
	case KernelEllipse:
		for dy := -r; dy <= r; dy++ {
			half := 0
			if r > 0 {
				half = int(math.Round(float64(r) * math.Sqrt(float64(r*r-dy*dy)/float64(r*r))))
			}
			for dx := -half; dx <= half; dx++ {
				element = append(element, offset{dx, dy})
			}
		}
	default:
		return nil, &ConfigurationError{Field: "kernel_shape", Reason: "must be one of ellipse, rect, cross"}
	}
	return element, nil
}
