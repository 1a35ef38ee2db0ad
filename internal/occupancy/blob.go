package occupancy

import "sort"

// BoundingBox is an axis-aligned rectangle in pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Point is an integer pixel position.
type Point struct {
	X int
	Y int
}

// Blob is one connected foreground region of a single frame. It carries no
// identity and must not be correlated with blobs of other frames.
type Blob struct {
	Box        BoundingBox
	Centroid   Point
	Area       int // foreground pixel count
	Confidence float64
}

// neighbours8 lists the 8-connected offsets.
var neighbours8 = [8]offset{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Extract finds the 8-connected foreground regions of mask whose area lies
// strictly between minArea and maxArea. Blobs are ordered by the top-left
// corner of their bounding box, row first; ties keep scan order.
func Extract(mask *Mask, minArea, maxArea int, confidence float64) []Blob {
	w, h := mask.Width, mask.Height
	visited := make([]bool, w*h)
	var blobs []Blob
	var stack []int

	for start := range mask.Pix {
		if visited[start] || mask.Pix[start] == Background {
			continue
		}

		minX, minY := w, h
		maxX, maxY := -1, -1
		area := 0

		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%w, idx/w
			area++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			for _, o := range neighbours8 {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if visited[n] || mask.Pix[n] == Background {
					continue
				}
				visited[n] = true
				stack = append(stack, n)
			}
		}

		if area <= minArea || area >= maxArea {
			continue
		}

		box := BoundingBox{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1}
		blobs = append(blobs, Blob{
			Box:        box,
			Centroid:   Point{X: box.X + box.W/2, Y: box.Y + box.H/2},
			Area:       area,
			Confidence: confidence,
		})
	}

	sort.SliceStable(blobs, func(i, j int) bool {
		if blobs[i].Box.Y != blobs[j].Box.Y {
			return blobs[i].Box.Y < blobs[j].Box.Y
		}
		return blobs[i].Box.X < blobs[j].Box.X
	})
	return blobs
}
