// Package occupancy counts people in camera frames without keeping anything
// that could identify them.
//
// Each camera owns a Pipeline. A frame is compared against an adaptive
// per-pixel background model, the resulting foreground mask is cleaned with
// a morphological open and close, and the remaining connected regions whose
// area falls inside the configured bounds are reported as anonymous
// detections. Labels such as "person_1" are scoped to a single frame and
// must never be used to follow someone across frames.
//
// No frame, mask or pixel outlives the call that produced it. The only
// output is a Result holding a count and coarse positions, and an optional
// synthetic view drawn on a blank canvas.
package occupancy
