// Package analysis defines the capability result types and error taxonomy
// shared by adapters, execution strategies, and the analysis engine.
package analysis

import (
	"time"

	"github.com/segsight/segsight/internal/models"
)

// Detection is a single detected feature with a normalized bounding box.
type Detection struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	BBox       models.BoundingBox `json:"bbox"`
}

// CapabilityResult is the closed set of per-capability result payloads.
// Exactly one concrete type exists per capability family; a consumer switches
// on the concrete type instead of sniffing map keys.
type CapabilityResult interface {
	// Capability identifies which analysis produced this result.
	Capability() models.Capability
}

// DetectionResult carries located features for the image capabilities
// (object_detection, logo_detection, text_detection).
type DetectionResult struct {
	Kind       models.Capability `json:"capability"`
	Detections []Detection       `json:"detections"`
}

// Capability implements CapabilityResult.
func (r *DetectionResult) Capability() models.Capability { return r.Kind }

// MotionResult carries temporal activity metrics for motion_analysis.
type MotionResult struct {
	// AverageMotion is the mean changed-pixel fraction across sampled frame
	// pairs, in [0,1].
	AverageMotion float64 `json:"average_motion"`
	// MaxMotion is the largest changed-pixel fraction of any sampled pair.
	MaxMotion float64 `json:"max_motion"`
	// ActivityScore is AverageMotion scaled to [0,10].
	ActivityScore float64 `json:"activity_score"`
	// MotionAreas bounds the regions that changed, one per sampled pair.
	MotionAreas []models.BoundingBox `json:"motion_areas,omitempty"`
	// FramesAnalyzed is how many frame pairs contributed.
	FramesAnalyzed int `json:"frames_analyzed"`
}

// Capability implements CapabilityResult.
func (r *MotionResult) Capability() models.Capability { return models.CapabilityMotionAnalysis }

// VisualResult carries locally computed visual properties for
// visual_analysis. All scalar levels are normalized to [0,1].
type VisualResult struct {
	DominantColors []models.RGB `json:"dominant_colors"`
	Brightness     float64      `json:"brightness"`
	Contrast       float64      `json:"contrast"`
	Saturation     float64      `json:"saturation"`
}

// Capability implements CapabilityResult.
func (r *VisualResult) Capability() models.Capability { return models.CapabilityVisualAnalysis }

// SegmentReport is the outcome of analyzing one segment: one result per
// requested capability plus the frame bookkeeping shared by all of them.
type SegmentReport struct {
	StreamKey   string
	SegmentPath string
	SessionID   string

	// FrameTimestamp is seconds into the segment of the analyzed frame.
	FrameTimestamp float64
	// StreamPTS is the segment's position on the stream media timeline,
	// when the transport stream carries one.
	StreamPTS time.Duration

	Results map[models.Capability]CapabilityResult

	// Providers records which provider served each capability, for
	// attribution on the stored rows. visual_analysis has no entry.
	Providers map[models.Capability]*models.Provider

	// Errors holds per-capability failures for capabilities that could not
	// produce a result. A capability appears in Results or Errors, not both.
	Errors map[models.Capability]error

	ProcessingTime time.Duration
}
