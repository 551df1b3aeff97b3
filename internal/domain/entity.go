package domain

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// EntityType represents an entity the compiler may address
type EntityType string

const (
	EntityClient          EntityType = "client"
	EntitySession         EntityType = "session"
	EntityRate            EntityType = "rate"
	EntityInvoice         EntityType = "invoice"
	EntitySessionType     EntityType = "sessionType"
	EntityClientType      EntityType = "clientType"
	EntityExpense         EntityType = "expense"
	EntityExpenseCategory EntityType = "expenseCategory"
	EntityKnowledgeEntry  EntityType = "knowledgeEntry"
)

// Reference declares a field that names another entity
type Reference struct {
	Field      string     `yaml:"field"`
	Entity     EntityType `yaml:"entity"`
	IDField    string     `yaml:"idField"`
	AutoCreate bool       `yaml:"autoCreate"`
}

// DurationRule derives a duration in hours from two HH:MM fields
type DurationRule struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Into  string `yaml:"into"`
}

// TotalRule derives quantity x price
type TotalRule struct {
	Quantity string `yaml:"quantity"`
	Price    string `yaml:"price"`
	Into     string `yaml:"into"`
}

// PriceRecordRule links a created record to a price record of another entity
type PriceRecordRule struct {
	Entity      EntityType `yaml:"entity"`
	IDField     string     `yaml:"idField"`
	PriceField  string     `yaml:"priceField"`
	AmountField string     `yaml:"amountField"`
	Match       []string   `yaml:"match"`
}

// Derivations are computed when an entity is created
type Derivations struct {
	Duration    *DurationRule    `yaml:"duration"`
	Total       *TotalRule       `yaml:"total"`
	PriceRecord *PriceRecordRule `yaml:"priceRecord"`
}

// EntitySchema describes one entity type
type EntitySchema struct {
	Type        EntityType     `yaml:"-"`
	Collection  string         `yaml:"collection"`
	Description string         `yaml:"description"`
	NameField   string         `yaml:"nameField"`
	DateField   string         `yaml:"dateField"`
	SoftDelete  string         `yaml:"softDelete"`
	Required    []string       `yaml:"required"`
	Optional    []string       `yaml:"optional"`
	Defaults    map[string]any `yaml:"defaults"`
	References  []Reference    `yaml:"references"`
	Derive      Derivations    `yaml:"derive"`
}

// Reference returns the reference declared for field, if any
func (s *EntitySchema) Reference(field string) (Reference, bool) {
	for _, ref := range s.References {
		if ref.Field == field {
			return ref, true
		}
	}
	return Reference{}, false
}

// ReferenceByID returns the reference that resolves into idField, if any
func (s *EntitySchema) ReferenceByID(idField string) (Reference, bool) {
	for _, ref := range s.References {
		if ref.IDField == idField {
			return ref, true
		}
	}
	return Reference{}, false
}

// HasField reports whether field is declared as required or optional
func (s *EntitySchema) HasField(field string) bool {
	for _, f := range s.Required {
		if f == field {
			return true
		}
	}
	for _, f := range s.Optional {
		if f == field {
			return true
		}
	}
	return false
}

// Registry holds every entity schema
type Registry struct {
	OwnerField string
	entities   map[EntityType]*EntitySchema
}

//go:embed schema.yaml
var defaultSchema []byte

// DefaultRegistry loads the embedded entity registry
func DefaultRegistry() *Registry {
	reg, err := LoadRegistry(defaultSchema)
	if err != nil {
		panic(fmt.Sprintf("embedded entity schema is invalid: %v", err))
	}
	return reg
}

// LoadRegistry parses a YAML entity registry
func LoadRegistry(data []byte) (*Registry, error) {
	var doc struct {
		OwnerField string                       `yaml:"ownerField"`
		Entities   map[EntityType]*EntitySchema `yaml:"entities"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse entity schema: %w", err)
	}
	if doc.OwnerField == "" {
		return nil, fmt.Errorf("ownerField is required")
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("at least one entity is required")
	}

	for name, schema := range doc.Entities {
		if schema == nil || schema.Collection == "" {
			return nil, fmt.Errorf("entity %s: collection is required", name)
		}
		schema.Type = name
	}
	for name, schema := range doc.Entities {
		for _, ref := range schema.References {
			if _, ok := doc.Entities[ref.Entity]; !ok {
				return nil, fmt.Errorf("entity %s: reference %s targets unknown entity %s", name, ref.Field, ref.Entity)
			}
			if doc.Entities[ref.Entity].NameField == "" {
				return nil, fmt.Errorf("entity %s: reference %s targets %s which has no name field", name, ref.Field, ref.Entity)
			}
		}
		if pr := schema.Derive.PriceRecord; pr != nil {
			if _, ok := doc.Entities[pr.Entity]; !ok {
				return nil, fmt.Errorf("entity %s: price record targets unknown entity %s", name, pr.Entity)
			}
			if pr.IDField == "" || pr.PriceField == "" || pr.AmountField == "" {
				return nil, fmt.Errorf("entity %s: price record requires idField, priceField and amountField", name)
			}
		}
	}

	return &Registry{OwnerField: doc.OwnerField, entities: doc.Entities}, nil
}

// Lookup returns the schema for an entity type
func (r *Registry) Lookup(t EntityType) (*EntitySchema, bool) {
	s, ok := r.entities[t]
	return s, ok
}

// IsAllowed reports whether the entity type is registered
func (r *Registry) IsAllowed(t EntityType) bool {
	_, ok := r.entities[t]
	return ok
}

// Types returns the registered entity types in sorted order
func (r *Registry) Types() []EntityType {
	out := make([]EntityType, 0, len(r.entities))
	for t := range r.entities {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Collections returns the allow-listed collection names
func (r *Registry) Collections() []string {
	out := make([]string, 0, len(r.entities))
	for _, t := range r.Types() {
		out = append(out, r.entities[t].Collection)
	}
	return out
}

// ByCollection returns the schema owning a collection
func (r *Registry) ByCollection(collection string) (*EntitySchema, bool) {
	for _, s := range r.entities {
		if s.Collection == collection {
			return s, true
		}
	}
	return nil, false
}
