package models

import "fmt"

// Capability is the closed set of analysis kinds the pipeline understands.
type Capability string

const (
	// CapabilityObjectDetection locates generic objects in a frame.
	CapabilityObjectDetection Capability = "object_detection"
	// CapabilityLogoDetection locates brand logos in a frame.
	CapabilityLogoDetection Capability = "logo_detection"
	// CapabilityTextDetection performs OCR on a frame.
	CapabilityTextDetection Capability = "text_detection"
	// CapabilityMotionAnalysis computes temporal motion features over a segment.
	CapabilityMotionAnalysis Capability = "motion_analysis"
	// CapabilityVisualAnalysis computes local visual properties of a frame.
	// It is always performed in-process and never backed by a provider.
	CapabilityVisualAnalysis Capability = "visual_analysis"
)

// AllCapabilities lists every capability in a stable order.
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityObjectDetection,
		CapabilityLogoDetection,
		CapabilityTextDetection,
		CapabilityMotionAnalysis,
		CapabilityVisualAnalysis,
	}
}

// ParseCapability validates a capability string.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	switch c {
	case CapabilityObjectDetection, CapabilityLogoDetection, CapabilityTextDetection,
		CapabilityMotionAnalysis, CapabilityVisualAnalysis:
		return c, nil
	}
	return "", fmt.Errorf("unknown capability: %q", s)
}

// IsProviderDriven reports whether the capability requires an active provider.
// visual_analysis is computed locally and has no provider.
func (c Capability) IsProviderDriven() bool {
	return c != CapabilityVisualAnalysis
}

// IsTemporal reports whether the capability analyzes whole segments rather
// than single frames.
func (c Capability) IsTemporal() bool {
	return c == CapabilityMotionAnalysis
}

// Queue names. Logo detection is slow enough to warrant its own queue so it
// cannot starve the rest; maintenance tasks get a third.
const (
	QueueLogoDetection    = "logo_detection"
	QueueVisualAnalysis   = "visual_analysis"
	QueueConfigManagement = "config_management"
)

// QueueName returns the dedicated sub-queue this capability is dispatched to.
func (c Capability) QueueName() string {
	if c == CapabilityLogoDetection {
		return QueueLogoDetection
	}
	return QueueVisualAnalysis
}

// DetectionType maps an image capability to the detection_type recorded on
// its Detection rows.
func (c Capability) DetectionType() string {
	switch c {
	case CapabilityObjectDetection:
		return "object"
	case CapabilityLogoDetection:
		return "logo"
	case CapabilityTextDetection:
		return "text"
	default:
		return ""
	}
}
