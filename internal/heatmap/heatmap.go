// Package heatmap aggregates detection centroids into a coarse grid. Only
// per-cell hit counts are kept; single detections are never stored.
package heatmap

import (
	"fmt"
	"sort"

	"crowdcount/internal/database"
	"crowdcount/internal/occupancy"
)

// Grid divides a frame into Cols x Rows equal cells
type Grid struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Validate checks the grid dimensions
func (g Grid) Validate() error {
	if g.Cols < 1 || g.Rows < 1 {
		return fmt.Errorf("heatmap grid must be at least 1x1, got %dx%d", g.Cols, g.Rows)
	}
	return nil
}

// Cell maps a pixel position of a width x height frame to its cell. ok is
// false when the position lies outside the frame.
func (g Grid) Cell(x, y, width, height int) (col, row int, ok bool) {
	if width <= 0 || height <= 0 || x < 0 || y < 0 || x >= width || y >= height {
		return 0, 0, false
	}
	return x * g.Cols / width, y * g.Rows / height, true
}

// Bin counts the detections of a result per cell, ordered by row then column
func (g Grid) Bin(result *occupancy.Result, width, height int) []database.HeatmapCell {
	if result == nil || len(result.Detections) == 0 {
		return nil
	}

	counts := make(map[[2]int]int64)
	for _, d := range result.Detections {
		col, row, ok := g.Cell(d.Centroid[0], d.Centroid[1], width, height)
		if !ok {
			continue
		}
		counts[[2]int{col, row}]++
	}

	cells := make([]database.HeatmapCell, 0, len(counts))
	for k, hits := range counts {
		cells = append(cells, database.HeatmapCell{Col: k[0], Row: k[1], Hits: hits})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Col < cells[j].Col
	})
	return cells
}

// Hotspot is the busiest cell of a map
type Hotspot struct {
	Col  int   `json:"col"`
	Row  int   `json:"row"`
	Hits int64 `json:"hits"`
}

// Map is a normalized heatmap. Intensity[row][col] is in [0, 1], relative to
// the busiest cell.
type Map struct {
	CameraID  string      `json:"camera_id"`
	Cols      int         `json:"cols"`
	Rows      int         `json:"rows"`
	Intensity [][]float64 `json:"intensity"`
	TotalHits int64       `json:"total_hits"`
	MaxHits   int64       `json:"max_hits"`
	Hotspot   *Hotspot    `json:"hotspot,omitempty"`
}

// Build normalizes stored cell counts into a Map. Cells outside the grid are
// ignored.
func Build(cameraID string, g Grid, cells []database.HeatmapCell) *Map {
	m := &Map{
		CameraID:  cameraID,
		Cols:      g.Cols,
		Rows:      g.Rows,
		Intensity: make([][]float64, g.Rows),
	}
	for r := range m.Intensity {
		m.Intensity[r] = make([]float64, g.Cols)
	}

	for _, c := range cells {
		if c.Col < 0 || c.Col >= g.Cols || c.Row < 0 || c.Row >= g.Rows || c.Hits <= 0 {
			continue
		}
		m.TotalHits += c.Hits
		if c.Hits > m.MaxHits {
			m.MaxHits = c.Hits
			m.Hotspot = &Hotspot{Col: c.Col, Row: c.Row, Hits: c.Hits}
		}
	}

	if m.MaxHits == 0 {
		return m
	}

	for _, c := range cells {
		if c.Col < 0 || c.Col >= g.Cols || c.Row < 0 || c.Row >= g.Rows || c.Hits <= 0 {
			continue
		}
		m.Intensity[c.Row][c.Col] = float64(c.Hits) / float64(m.MaxHits)
	}
	return m
}
