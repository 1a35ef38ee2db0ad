package occupancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_SingleRegion(t *testing.T) {
	t.Parallel()
	m := maskWithRects(100, 100, BoundingBox{X: 30, Y: 20, W: 40, H: 30})

	blobs := Extract(m, 100, 5000, 0.85)
	require.Len(t, blobs, 1)
	b := blobs[0]
	assert.Equal(t, BoundingBox{X: 30, Y: 20, W: 40, H: 30}, b.Box)
	assert.Equal(t, 1200, b.Area)
	assert.Equal(t, Point{X: 50, Y: 35}, b.Centroid)
	assert.InDelta(t, 0.85, b.Confidence, 1e-9)
}

func TestExtract_AreaBoundsAreExclusive(t *testing.T) {
	t.Parallel()
	// 10x10 = 100 pixels
	m := maskWithRects(50, 50, BoundingBox{X: 5, Y: 5, W: 10, H: 10})

	assert.Empty(t, Extract(m, 100, 1000, 0.85), "area equal to min")
	assert.Len(t, Extract(m, 99, 1000, 0.85), 1)
	assert.Empty(t, Extract(m, 10, 100, 0.85), "area equal to max")
	assert.Len(t, Extract(m, 10, 101, 0.85), 1)
}

func TestExtract_DiagonalPixelsAreConnected(t *testing.T) {
	t.Parallel()
	m := NewMask(10, 10)
	for i := 0; i < 6; i++ {
		m.Set(i, i, true)
	}

	blobs := Extract(m, 0, 100, 0.5)
	require.Len(t, blobs, 1)
	assert.Equal(t, 6, blobs[0].Area)
	assert.Equal(t, BoundingBox{X: 0, Y: 0, W: 6, H: 6}, blobs[0].Box)
}

func TestExtract_AreaIsPixelCountNotBoxArea(t *testing.T) {
	t.Parallel()
	// L shape: 10x2 bar plus 2x8 leg
	m := maskWithRects(30, 30,
		BoundingBox{X: 0, Y: 0, W: 10, H: 2},
		BoundingBox{X: 0, Y: 2, W: 2, H: 8},
	)

	blobs := Extract(m, 0, 1000, 0.5)
	require.Len(t, blobs, 1)
	assert.Equal(t, 36, blobs[0].Area)
	assert.Equal(t, 10, blobs[0].Box.W)
	assert.Equal(t, 10, blobs[0].Box.H)
}

func TestExtract_OrderedByTopLeft(t *testing.T) {
	t.Parallel()
	m := maskWithRects(100, 100,
		BoundingBox{X: 60, Y: 50, W: 10, H: 10},
		BoundingBox{X: 5, Y: 50, W: 10, H: 10},
		BoundingBox{X: 40, Y: 5, W: 10, H: 10},
	)
	for y := 30; y < 45; y++ {
		m.Set(80, y, true)
	}

	blobs := Extract(m, 5, 1000, 0.85)
	require.Len(t, blobs, 4)
	assert.Equal(t, Point{45, 10}, blobs[0].Centroid)
	assert.Equal(t, 80, blobs[1].Box.X)
	assert.Equal(t, 5, blobs[2].Box.X)
	assert.Equal(t, 60, blobs[3].Box.X)
}

func TestExtract_EmptyMask(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Extract(NewMask(20, 20), 1, 100, 0.85))
}
