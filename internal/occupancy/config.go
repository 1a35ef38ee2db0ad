package occupancy

// KernelShape selects the structuring element used by the mask cleaner.
type KernelShape string

const (
	KernelEllipse KernelShape = "ellipse"
	KernelRect    KernelShape = "rect"
	KernelCross   KernelShape = "cross"
)

// DefaultConfidence is the fixed score given to motion-derived detections.
const DefaultConfidence = 0.85

// Config holds the tunables of one camera pipeline.
type Config struct {
	HistoryLength        int         `json:"history_length" yaml:"history_length"`                 // Background adaptation window in frames
	VarianceThreshold    float64     `json:"variance_threshold" yaml:"variance_threshold"`         // Squared distance in variances to call a pixel foreground
	MinBlobArea          int         `json:"min_blob_area" yaml:"min_blob_area"`                   // Exclusive lower area bound in pixels
	MaxBlobArea          int         `json:"max_blob_area" yaml:"max_blob_area"`                   // Exclusive upper area bound in pixels
	MorphologyKernelSize int         `json:"morphology_kernel_size" yaml:"morphology_kernel_size"` // Odd structuring element size
	KernelShape          KernelShape `json:"kernel_shape" yaml:"kernel_shape"`
	Confidence           float64     `json:"confidence" yaml:"confidence"`
}

// DefaultConfig returns the defaults used by the privacy detector in the field.
func DefaultConfig() Config {
	return Config{
		HistoryLength:        500,
		VarianceThreshold:    16,
		MinBlobArea:          1000,
		MaxBlobArea:          50000,
		MorphologyKernelSize: 5,
		KernelShape:          KernelEllipse,
		Confidence:           DefaultConfidence,
	}
}

// Validate returns a *ConfigurationError for the first invalid option.
func (c Config) Validate() error {
	switch {
	case c.HistoryLength <= 0:
		return &ConfigurationError{Field: "history_length", Reason: "must be > 0"}
	case c.VarianceThreshold <= 0:
		return &ConfigurationError{Field: "variance_threshold", Reason: "must be > 0"}
	case c.MinBlobArea <= 0:
		return &ConfigurationError{Field: "min_blob_area", Reason: "must be > 0"}
	case c.MinBlobArea >= c.MaxBlobArea:
		return &ConfigurationError{Field: "max_blob_area", Reason: "must be greater than min_blob_area"}
	case c.MorphologyKernelSize < 1 || c.MorphologyKernelSize%2 == 0:
		return &ConfigurationError{Field: "morphology_kernel_size", Reason: "must be an odd integer >= 1"}
	case c.Confidence <= 0 || c.Confidence > 1:
		return &ConfigurationError{Field: "confidence", Reason: "must be in (0, 1]"}
	}

	switch c.KernelShape {
	case KernelEllipse, KernelRect, KernelCross:
	default:
		return &ConfigurationError{Field: "kernel_shape", Reason: "must be one of ellipse, rect, cross"}
	}
	return nil
}
