// Package insights turns stored occupancy counts into summary statistics,
// a density level and a plain-language recommendation.
package insights

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"crowdcount/internal/database"
)

// Level is a coarse crowd density classification
type Level string

const (
	LevelEmpty        Level = "empty"
	LevelLow          Level = "low"
	LevelModerate     Level = "moderate"
	LevelHigh         Level = "high"
	LevelOverCapacity Level = "over_capacity"
)

// Thresholds used when a camera has no configured capacity
const (
	lowMax      = 5
	moderateMax = 15
)

// Capacity ratios separating levels
const (
	lowRatio      = 0.3
	moderateRatio = 0.7
)

// Summary describes occupancy over a window of samples
type Summary struct {
	CameraID       string     `json:"camera_id"`
	Samples        int        `json:"samples"`
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
	Current        int        `json:"current"`
	Mean           float64    `json:"mean"`
	StdDev         float64    `json:"stddev"`
	Peak           int        `json:"peak"`
	PeakAt         *time.Time `json:"peak_at,omitempty"`
	BusiestHour    *int       `json:"busiest_hour,omitempty"` // UTC hour of day with the highest mean count
	Capacity       int        `json:"capacity,omitempty"`
	Utilization    *float64   `json:"utilization,omitempty"` // Current / Capacity
	Level          Level      `json:"density_level"`
	Recommendation string     `json:"recommendation"`
}

// Classify returns the density level for a count. A positive capacity makes
// the level relative to it.
func Classify(count, capacity int) Level {
	if count <= 0 {
		return LevelEmpty
	}
	if capacity > 0 {
		ratio := float64(count) / float64(capacity)
		switch {
		case ratio >= 1:
			return LevelOverCapacity
		case ratio >= moderateRatio:
			return LevelHigh
		case ratio >= lowRatio:
			return LevelModerate
		default:
			return LevelLow
		}
	}
	switch {
	case count <= lowMax:
		return LevelLow
	case count <= moderateMax:
		return LevelModerate
	default:
		return LevelHigh
	}
}

// Recommend returns advice for a density level
func Recommend(level Level) string {
	switch level {
	case LevelEmpty:
		return "Area is empty. Consider reducing heating, lighting or staffing."
	case LevelLow:
		return "Occupancy is low. Current resources are sufficient."
	case LevelModerate:
		return "Occupancy is moderate. Monitor for increases."
	case LevelHigh:
		return "Occupancy is high. Consider opening additional space or adding staff."
	case LevelOverCapacity:
		return "Capacity exceeded. Limit entry until occupancy drops."
	default:
		return ""
	}
}

// Summarize computes statistics over samples. current is the latest live
// count, or -1 to use the newest sample.
func Summarize(cameraID string, samples []*database.SampleRecord, current, capacity int) *Summary {
	s := &Summary{
		CameraID: cameraID,
		Samples:  len(samples),
		Current:  current,
		Capacity: capacity,
	}

	if len(samples) > 0 {
		counts := make([]float64, len(samples))
		newest := samples[0]
		oldest := samples[0]
		for i, sample := range samples {
			counts[i] = float64(sample.PeopleCount)
			if sample.Timestamp.After(newest.Timestamp) {
				newest = sample
			}
			if sample.Timestamp.Before(oldest.Timestamp) {
				oldest = sample
			}
		}

		s.Mean, s.StdDev = stat.MeanStdDev(counts, nil)
		if len(counts) < 2 || math.IsNaN(s.StdDev) {
			s.StdDev = 0
		}

		peak := samples[floats.MaxIdx(counts)]
		s.Peak = peak.PeopleCount
		peakAt := peak.Timestamp
		s.PeakAt = &peakAt

		from, to := oldest.Timestamp, newest.Timestamp
		s.From, s.To = &from, &to

		if hour, ok := busiestHour(samples); ok {
			s.BusiestHour = &hour
		}

		if s.Current < 0 {
			s.Current = newest.PeopleCount
		}
	}

	if s.Current < 0 {
		s.Current = 0
	}
	if capacity > 0 {
		u := float64(s.Current) / float64(capacity)
		s.Utilization = &u
	}

	s.Level = Classify(s.Current, capacity)
	s.Recommendation = Recommend(s.Level)
	return s
}

// busiestHour returns the UTC hour with the highest mean count. Ties go to
// the earlier hour.
func busiestHour(samples []*database.SampleRecord) (int, bool) {
	var byHour [24][]float64
	for _, sample := range samples {
		h := sample.Timestamp.UTC().Hour()
		byHour[h] = append(byHour[h], float64(sample.PeopleCount))
	}

	best, bestMean := -1, math.Inf(-1)
	for h, counts := range byHour {
		if len(counts) == 0 {
			continue
		}
		if m := stat.Mean(counts, nil); m > bestMean {
			best, bestMean = h, m
		}
	}
	return best, best >= 0
}
