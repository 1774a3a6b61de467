// Package sources holds the table of registered external sources: which
// schema each one is validated against, how its payloads are extracted and
// linked, and whether it pushes to us or is polled.
package sources

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/schema"
)

// Source types become object key prefixes, so they are restricted to a
// conservative alphabet.
var sourceTypePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// File is the on-disk layout of the sources file.
type File struct {
	Schemas map[string]*schema.Field `yaml:"schemas"`
	Sources []models.SourceConfig    `yaml:"sources"`
}

// Registry maps source types to their configuration. It is built once at
// startup and read-only afterwards.
type Registry struct {
	sources   map[string]models.SourceConfig
	validator *schema.Validator
}

// Load reads and validates the sources file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("sources file %s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes a sources file. Unknown keys are rejected so typos in
// operator-edited YAML fail loudly.
func Parse(data []byte) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return New(f.Schemas, f.Sources)
}

// New builds a registry from schema definitions and source entries.
func New(schemas map[string]*schema.Field, entries []models.SourceConfig) (*Registry, error) {
	validator, err := schema.NewValidator(schemas)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		sources:   make(map[string]models.SourceConfig, len(entries)),
		validator: validator,
	}

	for i, src := range entries {
		if src.Schema == "" {
			src.Schema = src.SourceType
		}
		if src.Mode == "" {
			src.Mode = models.SourceModePush
		}
		if err := reg.check(src); err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := reg.sources[src.SourceType]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate source_type %q", i, src.SourceType)
		}
		reg.sources[src.SourceType] = src
	}

	return reg, nil
}

func (r *Registry) check(src models.SourceConfig) error {
	if !sourceTypePattern.MatchString(src.SourceType) {
		return fmt.Errorf("invalid source_type %q", src.SourceType)
	}
	if !r.validator.Has(src.Schema) {
		return fmt.Errorf("%s: schema %q is not defined", src.SourceType, src.Schema)
	}
	if src.LinkField == "" {
		return fmt.Errorf("%s: link_field is required", src.SourceType)
	}
	if !src.TrustLinkReference {
		return fmt.Errorf("%s: trust_link_reference must be true; link references are never verified against a registry", src.SourceType)
	}

	switch src.Mode {
	case models.SourceModePush:
		if src.Pull != nil {
			return fmt.Errorf("%s: pull settings given for a push source", src.SourceType)
		}
	case models.SourceModePull:
		if src.Pull == nil || src.Pull.URL == "" {
			return fmt.Errorf("%s: pull.url is required for pull sources", src.SourceType)
		}
		if src.Pull.Interval <= 0 {
			return fmt.Errorf("%s: pull.interval must be positive", src.SourceType)
		}
	default:
		return fmt.Errorf("%s: unknown mode %q", src.SourceType, src.Mode)
	}

	switch src.Extraction.Engine {
	case "", models.ExtractionEngineAgent, models.ExtractionEngineDirect:
	default:
		return fmt.Errorf("%s: unknown extraction engine %q", src.SourceType, src.Extraction.Engine)
	}

	seen := make(map[string]bool, len(src.Extraction.Fields))
	for _, field := range src.Extraction.Fields {
		if field == "" {
			return fmt.Errorf("%s: empty extraction field name", src.SourceType)
		}
		if seen[field] {
			return fmt.Errorf("%s: extraction field %q listed twice", src.SourceType, field)
		}
		seen[field] = true
	}
	for _, rule := range src.Extraction.Rules {
		if !seen[rule.Field] {
			return fmt.Errorf("%s: rule references field %q outside the extraction profile", src.SourceType, rule.Field)
		}
		if rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max {
			return fmt.Errorf("%s: rule for %q has min above max", src.SourceType, rule.Field)
		}
	}
	return nil
}

// Get returns the configuration for sourceType, or an error wrapping
// apperrors.ErrUnknownSource.
func (r *Registry) Get(sourceType string) (models.SourceConfig, error) {
	src, ok := r.sources[sourceType]
	if !ok {
		return models.SourceConfig{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownSource, sourceType)
	}
	return src, nil
}

// List returns all sources ordered by source type.
func (r *Registry) List() []models.SourceConfig {
	out := make([]models.SourceConfig, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceType < out[j].SourceType })
	return out
}

// PullSources returns the sources polled by the pull scheduler.
func (r *Registry) PullSources() []models.SourceConfig {
	var out []models.SourceConfig
	for _, src := range r.List() {
		if src.Mode == models.SourceModePull {
			out = append(out, src)
		}
	}
	return out
}

// Validator returns the schema validator compiled from the same file.
func (r *Registry) Validator() *schema.Validator {
	return r.validator
}
