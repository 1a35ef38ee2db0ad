package occupancy

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func elementGrid(t *testing.T, size int, shape KernelShape) []string {
	t.Helper()
	element, err := structuringElement(size, shape)
	require.NoError(t, err)

	r := size / 2
	rows := make([][]byte, size)
	for i := range rows {
		rows[i] = bytes.Repeat([]byte{'0'}, size)
	}
	for _, o := range element {
		rows[o.dy+r][o.dx+r] = '1'
	}
	out := make([]string, size)
	for i, row := range rows {
		out[i] = string(row)
	}
	return out
}

func TestStructuringElement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"00100", "11111", "11111", "11111", "00100"}, elementGrid(t, 5, KernelEllipse))
	assert.Equal(t, []string{"010", "111", "010"}, elementGrid(t, 3, KernelEllipse))
	assert.Equal(t, []string{"111", "111", "111"}, elementGrid(t, 3, KernelRect))
	assert.Equal(t, []string{"00100", "00100", "11111", "00100", "00100"}, elementGrid(t, 5, KernelCross))
	assert.Equal(t, []string{"1"}, elementGrid(t, 1, KernelEllipse))

	_, err := structuringElement(3, KernelShape("diamond"))
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewCleaner_RejectsEvenSize(t *testing.T) {
	t.Parallel()
	for _, size := range []int{0, 2, 4, -1} {
		_, err := NewCleaner(size, KernelEllipse)
		var cfgErr *ConfigurationError
		assert.ErrorAs(t, err, &cfgErr, "size %d", size)
	}
}

func TestCleaner_RemovesSpecklesAndFillsHoles(t *testing.T) {
	t.Parallel()
	c, err := NewCleaner(5, KernelEllipse)
	require.NoError(t, err)

	m := maskWithRects(60, 60, BoundingBox{X: 10, Y: 10, W: 30, H: 30})
	m.Set(50, 50, true) // isolated speckle
	m.Set(25, 25, false) // pinhole

	cleaned := c.Clean(m)
	assert.False(t, cleaned.At(50, 50))
	assert.True(t, cleaned.At(25, 25))
	assert.True(t, cleaned.At(20, 20))
	assert.False(t, cleaned.At(5, 5))
}

func TestCleaner_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	c, err := NewCleaner(5, KernelEllipse)
	require.NoError(t, err)

	m := maskWithRects(20, 20, BoundingBox{X: 2, Y: 2, W: 3, H: 3})
	before := m.Clone()
	_ = c.Clean(m)
	assert.True(t, before.Equal(m))
}

func TestCleaner_SizeOneIsIdentity(t *testing.T) {
	t.Parallel()
	c, err := NewCleaner(1, KernelEllipse)
	require.NoError(t, err)

	m := randomMask(rand.New(rand.NewSource(7)), 40, 30, 0.3)
	assert.True(t, m.Equal(c.Clean(m)))
}

func TestCleaner_Idempotent(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))

	for _, shape := range []KernelShape{KernelEllipse, KernelRect, KernelCross} {
		for _, size := range []int{3, 5, 7} {
			c, err := NewCleaner(size, shape)
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				m := randomMask(rng, 48, 36, 0.45)
				once := c.Clean(m)
				twice := c.Clean(once)
				assert.True(t, once.Equal(twice), "shape=%s size=%d iteration=%d", shape, size, i)
			}
		}
	}
}

func TestCleaner_ForegroundTouchingBorderSurvives(t *testing.T) {
	t.Parallel()
	c, err := NewCleaner(5, KernelEllipse)
	require.NoError(t, err)

	m := maskWithRects(40, 40, BoundingBox{X: 0, Y: 0, W: 15, H: 15})
	cleaned := c.Clean(m)
	assert.True(t, cleaned.At(0, 0))
	assert.True(t, cleaned.At(14, 0))
	assert.True(t, cleaned.At(0, 14))
}

func randomMask(rng *rand.Rand, w, h int, density float64) *Mask {
	m := NewMask(w, h)
	for i := range m.Pix {
		if rng.Float64() < density {
			m.Pix[i] = Foreground
		}
	}
	return m
}
