package occupancy

import (
	"encoding/json"
	"fmt"
	"time"
)

// DataRetentionNone is the only retention policy a result ever reports.
const DataRetentionNone = "none"

// Detection is the public view of a blob: a frame-scoped label, a position
// and a score. Box and area stay inside the core.
type Detection struct {
	ID         string  `json:"id"`
	Centroid   [2]int  `json:"centroid"`
	Confidence float64 `json:"confidence"`
}

// Result is the occupancy signal for one frame of one camera.
type Result struct {
	CameraID         string      `json:"camera_id"`
	Timestamp        time.Time   `json:"timestamp"`
	PeopleCount      int         `json:"people_count"`
	Detections       []Detection `json:"detections"`
	PrivacyCompliant bool        `json:"privacy_compliant"`
	DataRetention    string      `json:"data_retention"`
}

// Build turns filtered blobs into a Result. Labels are assigned in blob
// order and are only meaningful within this result.
func Build(cameraID string, ts time.Time, blobs []Blob) *Result {
	detections := make([]Detection, len(blobs))
	for i, b := range blobs {
		detections[i] = Detection{
			ID:         Label(i),
			Centroid:   [2]int{b.Centroid.X, b.Centroid.Y},
			Confidence: b.Confidence,
		}
	}
	return &Result{
		CameraID:         cameraID,
		Timestamp:        ts.UTC(),
		PeopleCount:      len(blobs),
		Detections:       detections,
		PrivacyCompliant: true,
		DataRetention:    DataRetentionNone,
	}
}

// Label returns the label of the i-th blob of a frame, counting from zero.
func Label(i int) string {
	return fmt.Sprintf("person_%d", i+1)
}

// MarshalJSON renders the timestamp as RFC 3339 in UTC.
func (r *Result) MarshalJSON() ([]byte, error) {
	type alias Result
	return json.Marshal(&struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     (*alias)(r),
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}
