package models

import "time"

// SourceMode distinguishes sources that call us from sources we poll.
type SourceMode string

const (
	SourceModePush SourceMode = "push"
	SourceModePull SourceMode = "pull"
)

// SourceConfig is the registry entry for one external source.
type SourceConfig struct {
	SourceType string     `yaml:"source_type" json:"source_type"`
	Mode       SourceMode `yaml:"mode" json:"mode"`
	Schema     string     `yaml:"schema" json:"schema"`
	LinkField  string     `yaml:"link_field" json:"link_field"`

	// TrustLinkReference marks the link field as copied without verification
	// against any registry. It must be set explicitly.
	TrustLinkReference bool `yaml:"trust_link_reference" json:"trust_link_reference"`

	Extraction ExtractionProfile `yaml:"extraction" json:"extraction"`
	Pull       *PullConfig       `yaml:"pull,omitempty" json:"pull,omitempty"`
}

// Extraction engines a source may pin. An empty engine uses the
// service-wide default.
const (
	ExtractionEngineAgent  = "agent"
	ExtractionEngineDirect = "direct"
)

// ExtractionProfile tells the extraction agent what to pull out of a payload.
type ExtractionProfile struct {
	Fields  []string    `yaml:"fields" json:"fields"`
	Ruleset string      `yaml:"ruleset" json:"ruleset"`
	Rules   []RangeRule `yaml:"rules,omitempty" json:"rules,omitempty"`
	Engine  string      `yaml:"engine,omitempty" json:"engine,omitempty"`
}

// RangeRule is a reasonableness check evaluated by the deterministic extractor
// and included as guidance in the agent prompt.
type RangeRule struct {
	Field   string   `yaml:"field" json:"field"`
	Min     *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	OneOf   []string `yaml:"one_of,omitempty" json:"one_of,omitempty"`
	Message string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// PullConfig configures polling of a pull-mode source.
type PullConfig struct {
	URL      string            `yaml:"url" json:"url"`
	Interval time.Duration     `yaml:"interval" json:"interval"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"-"`
	ItemsKey string            `yaml:"items_key,omitempty" json:"items_key,omitempty"`
}
