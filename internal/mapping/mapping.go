// Package mapping models the config-driven polymorphism spec.md §9 asks to
// re-architect away from per-country code paths: a registry keyed on
// (country, direction, source_format) returning a plain-data Spec.
package mapping

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/obsrvr/tradeledger/internal/model"
)

type ValueType string

const (
	ValueFOB     ValueType = "FOB"
	ValueCIF     ValueType = "CIF"
	ValueCustoms ValueType = "CUSTOMS"
)

type Lifecycle string

const (
	LifecycleDraft    Lifecycle = "DRAFT"
	LifecycleVerified Lifecycle = "VERIFIED"
	LifecycleLive     Lifecycle = "LIVE"
)

// Spec is the declarative, data-only description of how to project one
// (country, direction, format) group of raw rows into StandardizedRow
// columns. S2 never branches on country — it only ever reads a Spec.
type Spec struct {
	Country      string             `yaml:"country"`
	Direction    model.Direction    `yaml:"direction"`
	SourceFormat model.SourceFormat `yaml:"source_format"`
	Lifecycle    Lifecycle          `yaml:"lifecycle"`

	// ColumnMapping maps a canonical field name (buyer_name_raw,
	// hs_code_raw, qty_raw, value_raw, shipment_date_raw, export_date_raw,
	// import_date_raw, supplier_name_raw, currency_raw, weight_unit_raw,
	// vessel_raw, container_raw, teu_raw, port_of_loading_raw,
	// port_of_discharge_raw) to one or more source column names, first
	// non-empty wins.
	ColumnMapping map[string][]string `yaml:"column_mapping"`

	WeightUnit    string            `yaml:"weight_unit"`
	ValueCurrency string            `yaml:"value_currency"`
	ValueType     ValueType         `yaml:"value_type"`
	Defaults      map[string]string `yaml:"defaults"`
	DateFormats   []string          `yaml:"date_formats"`
}

// Registry is the config-driven lookup keyed on the mapping triple.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

func (r *Registry) Put(spec *Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[model.MappingKey(spec.Country, spec.Direction, spec.SourceFormat)] = spec
}

var ErrConfigMissing = fmt.Errorf("mapping: no config for triple")

// Lookup returns the Spec for (country, direction, format), or
// ErrConfigMissing — spec.md §7's ConfigMissing error, which fails that
// file without aborting the stage.
func (r *Registry) Lookup(country string, dir model.Direction, format model.SourceFormat) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[model.MappingKey(country, dir, format)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, model.MappingKey(country, dir, format))
	}
	return spec, nil
}

// Groups returns every (country, direction, source_format) triple the
// registry has a Spec for, so a caller can fan the standardize stage out
// without hardcoding the set of known countries.
func (r *Registry) Groups() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, *spec)
	}
	return out
}

// LoadRegistry reads a list of Specs from a single YAML file (one document,
// a top-level `mappings:` sequence) and populates a Registry — the
// "config-driven, not code-driven" lookup spec.md §9 asks for. Unlike
// internal/config.Load, it applies no defaults to what it reads.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping config: %w", err)
	}
	var doc struct {
		Mappings []*Spec `yaml:"mappings"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mapping config: %w", err)
	}
	reg := NewRegistry()
	for _, spec := range doc.Mappings {
		reg.Put(spec)
	}
	return reg, nil
}

// First returns the first non-empty source column value for a canonical
// field, using fields.GetString in source-column order.
func (s *Spec) First(fields *model.Bag, canonical string) (string, bool) {
	for _, col := range s.ColumnMapping[canonical] {
		if v, ok := fields.GetString(col); ok {
			return v, true
		}
	}
	if d, ok := s.Defaults[canonical]; ok {
		return d, true
	}
	return "", false
}
