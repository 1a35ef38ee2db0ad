package occupancy

// Variance bounds in squared 8-bit intensity units. The floor keeps a
// perfectly static scene from driving the variance to zero, where sensor
// noise alone would be classified as foreground.
const (
	varianceInit = 15.0
	varianceMin  = 4.0
	varianceMax  = 75.0
)

// BackgroundModel keeps a running per-pixel mean and variance of the scene.
// It is owned by exactly one pipeline and is not safe for concurrent use.
type BackgroundModel struct {
	history   int
	threshold float64

	geometry Geometry
	seen     int       // frames blended so far
	mean     []float32 // Width*Height*Channels
	variance []float32 // Width*Height, shared across channels
}

// NewBackgroundModel creates an empty model. Statistics are allocated on the
// first frame, which also fixes the accepted geometry.
func NewBackgroundModel(historyLength int, varianceThreshold float64) *BackgroundModel {
	return &BackgroundModel{
		history:   historyLength,
		threshold: varianceThreshold,
	}
}

// Initialized reports whether the model has seen a frame.
func (b *BackgroundModel) Initialized() bool {
	return b.seen > 0
}

// Geometry returns the geometry fixed by the first frame.
func (b *BackgroundModel) Geometry() Geometry {
	return b.geometry
}

// FramesSeen returns the number of frames blended into the model.
func (b *BackgroundModel) FramesSeen() int {
	return b.seen
}

// learningRate is 1/min(n, history) for the n-th frame: the first frame
// seeds the model outright and the weight settles at 1/history.
func (b *BackgroundModel) learningRate() float32 {
	n := b.seen + 1
	if n > b.history {
		n = b.history
	}
	return 1 / float32(n)
}

// Apply classifies every pixel of frame against the current model, then
// blends the frame into the model. The returned mask is freshly allocated.
func (b *BackgroundModel) Apply(frame *Frame) (*Mask, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	g := frame.Geometry()
	if b.seen == 0 {
		b.geometry = g
		b.mean = make([]float32, g.Width*g.Height*g.Channels)
		b.variance = make([]float32, g.Width*g.Height)
	} else if g != b.geometry {
		return nil, &GeometryMismatchError{Expected: b.geometry, Got: g}
	}

	mask := NewMask(g.Width, g.Height)
	alpha := b.learningRate()
	first := b.seen == 0
	ch := g.Channels

	for p := 0; p < g.Width*g.Height; p++ {
		base := p * ch

		if first {
			for c := 0; c < ch; c++ {
				b.mean[base+c] = float32(frame.Pix[base+c])
			}
			b.variance[p] = varianceInit
			continue
		}

		var dist2 float32
		for c := 0; c < ch; c++ {
			d := float32(frame.Pix[base+c]) - b.mean[base+c]
			dist2 += d * d
		}

		// The variance is per channel, so the distance is too: the same
		// per-channel deviation classifies alike in gray and colour frames.
		dist2 /= float32(ch)

		variance := b.variance[p]
		if float64(dist2) > b.threshold*float64(variance) {
			mask.Pix[p] = Foreground
		}

		// Blend after classification so the frame is judged against history only.
		for c := 0; c < ch; c++ {
			m := b.mean[base+c]
			b.mean[base+c] = m + alpha*(float32(frame.Pix[base+c])-m)
		}
		variance += alpha * (dist2 - variance)
		if variance < varianceMin {
			variance = varianceMin
		} else if variance > varianceMax {
			variance = varianceMax
		}
		b.variance[p] = variance
	}

	b.seen++
	return mask, nil
}
