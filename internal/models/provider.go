package models

import (
	"slices"

	"gorm.io/gorm"
)

// ProviderType identifies a concrete adapter implementation.
type ProviderType string

const (
	// ProviderTypeHostedVision is a hosted vision REST backend covering
	// object, logo, and text detection.
	ProviderTypeHostedVision ProviderType = "hosted_vision"
	// ProviderTypeLocalObject is a local object detector driven as a
	// subprocess model runner.
	ProviderTypeLocalObject ProviderType = "local_object"
	// ProviderTypeLocalOCR is a local tesseract OCR.
	ProviderTypeLocalOCR ProviderType = "local_ocr"
	// ProviderTypePromptClassifier is a text-prompted logo classifier that
	// builds its vocabulary from the Brand table at inference time.
	ProviderTypePromptClassifier ProviderType = "prompt_classifier"
	// ProviderTypeLocalMotion is the local background-subtraction motion
	// analyzer.
	ProviderTypeLocalMotion ProviderType = "local_motion"
)

// CapabilityList is a JSON-serialized list of capabilities.
type CapabilityList []Capability

// APIConfig holds provider-specific connection settings.
type APIConfig map[string]string

// Provider is a named configuration binding capabilities to an adapter
// implementation.
type Provider struct {
	BaseModel

	Name string `gorm:"not null;uniqueIndex;size:100" json:"name"`

	ProviderType ProviderType `gorm:"not null;size:50;index" json:"provider_type"`

	// ModelIdentifier names the model the adapter loads (a weights path, a
	// hosted model name, etc).
	ModelIdentifier string `gorm:"size:200" json:"model_identifier,omitempty"`

	// Capabilities is the subset of analysis kinds this provider serves.
	Capabilities CapabilityList `gorm:"type:text;serializer:json" json:"capabilities"`

	// APIConfig carries endpoint/credential settings. Values under api_key,
	// secret, or credentials keys are redacted when logged.
	APIConfig APIConfig `gorm:"type:text;serializer:json" json:"api_config,omitempty"`

	// Active has no column default: GORM skips zero-valued fields on insert
	// when one is set, which would silently store Active=false rows as active.
	Active bool `gorm:"not null;index" json:"active"`
}

// TableName returns the table name for Provider.
func (Provider) TableName() string {
	return "providers"
}

// HasCapability reports whether the provider claims the given capability.
func (p *Provider) HasCapability(c Capability) bool {
	return slices.Contains(p.Capabilities, c)
}

// Validate performs basic validation on the provider.
func (p *Provider) Validate() error {
	if p.Name == "" {
		return ErrProviderNameRequired
	}
	for _, c := range p.Capabilities {
		if _, err := ParseCapability(string(c)); err != nil {
			return err
		}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the provider and generates its ULID.
func (p *Provider) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the provider before update.
func (p *Provider) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}

// StringList is a JSON-serialized list of strings.
type StringList []string

// Brand is a logo-detection vocabulary entry. SearchTerms is the prompt
// vocabulary supplied to the prompt classifier adapter.
type Brand struct {
	BaseModel

	Name        string     `gorm:"not null;uniqueIndex;size:100" json:"name"`
	SearchTerms StringList `gorm:"type:text;serializer:json" json:"search_terms"`
	Active      bool       `gorm:"not null;index" json:"active"`
	Category    string     `gorm:"size:50" json:"category,omitempty"`
}

// TableName returns the table name for Brand.
func (Brand) TableName() string {
	return "brands"
}

// Validate performs basic validation on the brand.
func (b *Brand) Validate() error {
	if b.Name == "" {
		return ErrBrandNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the brand and generates its ULID.
func (b *Brand) BeforeCreate(tx *gorm.DB) error {
	if err := b.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return b.Validate()
}
