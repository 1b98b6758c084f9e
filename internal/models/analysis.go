package models

// BoundingBox is a detection location normalized to the source frame:
// (0,0) is top-left, (1,1) is bottom-right. A full-frame detection is
// {0, 0, 1, 1}.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the box lies within [0,1]^4.
func (b BoundingBox) Valid() bool {
	return b.X >= 0 && b.Y >= 0 && b.Width >= 0 && b.Height >= 0 &&
		b.X+b.Width <= 1.000001 && b.Y+b.Height <= 1.000001
}

// Analysis is the result of analyzing one segment with one capability.
// The composite key (stream_key, segment_path, capability) is unique: a
// replayed event must not produce a second row.
type Analysis struct {
	BaseModel

	StreamKey   string `gorm:"not null;size:64;index:idx_analyses_stream_captured,priority:1;uniqueIndex:uniq_stream_segment_cap,priority:1" json:"stream_key"`
	SessionID   string `gorm:"size:64;index" json:"session_id,omitempty"`
	SegmentPath string `gorm:"not null;size:500;uniqueIndex:uniq_stream_segment_cap,priority:2" json:"segment_path"`

	CapturedAt Time `gorm:"not null;index:idx_analyses_stream_captured,priority:2,sort:desc" json:"captured_at"`

	// ProviderID is null only for visual_analysis.
	ProviderID *ULID `gorm:"type:varchar(26);index" json:"provider_id,omitempty"`

	Capability Capability `gorm:"not null;size:50;index;uniqueIndex:uniq_stream_segment_cap,priority:3" json:"capability"`

	// FrameTimestamp is seconds into the segment of the analyzed frame.
	FrameTimestamp float64 `gorm:"not null;default:0" json:"frame_timestamp"`

	ConfidenceThreshold float64 `gorm:"not null;default:0.5" json:"confidence_threshold"`

	ProcessingTimeMs int64 `json:"processing_time_ms"`

	Detections []Detection `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE" json:"detections"`

	Visual *VisualSummary `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE" json:"visual,omitempty"`
}

// TableName returns the table name for Analysis.
func (Analysis) TableName() string {
	return "analyses"
}

// Detection is a single detected feature within an analysis.
type Detection struct {
	BaseModel

	AnalysisID ULID `gorm:"not null;index;type:varchar(26)" json:"-"`

	Label      string  `gorm:"not null;size:200;index" json:"label"`
	Confidence float64 `gorm:"not null;index" json:"confidence"`

	BBoxX      float64 `gorm:"not null" json:"-"`
	BBoxY      float64 `gorm:"not null" json:"-"`
	BBoxWidth  float64 `gorm:"not null" json:"-"`
	BBoxHeight float64 `gorm:"not null" json:"-"`

	// DetectionType is one of object, logo, text.
	DetectionType string `gorm:"not null;size:20;index" json:"detection_type"`
}

// TableName returns the table name for Detection.
func (Detection) TableName() string {
	return "detections"
}

// BBox returns the bounding box of the detection.
func (d *Detection) BBox() BoundingBox {
	return BoundingBox{X: d.BBoxX, Y: d.BBoxY, Width: d.BBoxWidth, Height: d.BBoxHeight}
}

// SetBBox stores the bounding box on the detection.
func (d *Detection) SetBBox(b BoundingBox) {
	d.BBoxX, d.BBoxY, d.BBoxWidth, d.BBoxHeight = b.X, b.Y, b.Width, b.Height
}

// RGB is an integer color triple.
type RGB [3]int

// RGBList is a JSON-serialized list of colors.
type RGBList []RGB

// VisualSummary holds locally computed visual properties of a frame.
// All scalar levels are normalized to [0,1].
type VisualSummary struct {
	BaseModel

	AnalysisID ULID `gorm:"not null;uniqueIndex;type:varchar(26)" json:"-"`

	DominantColors RGBList `gorm:"type:text;serializer:json" json:"dominant_colors"`

	Brightness float64  `gorm:"not null" json:"brightness"`
	Contrast   float64  `gorm:"not null" json:"contrast"`
	Saturation float64  `gorm:"not null" json:"saturation"`
	Activity   *float64 `json:"activity_score,omitempty"`

	// Motion metrics, set only on motion_analysis rows. Fractions in [0,1].
	AverageMotion *float64 `json:"average_motion,omitempty"`
	MaxMotion     *float64 `json:"max_motion,omitempty"`
}

// TableName returns the table name for VisualSummary.
func (VisualSummary) TableName() string {
	return "visual_summaries"
}
