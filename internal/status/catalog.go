package status

import (
	"fmt"
	"io"
	"os"

	"labcore/pkg/domain"

	"gopkg.in/yaml.v3"
)

// Well-known status domains shipped with the default catalog.
const (
	DomainRequest   = "request"
	DomainTechnique = "technique"
	DomainSample    = "sample"
	DomainWorklist  = "worklist"
)

// DomainSpec declares one status domain and its transition table.
type DomainSpec struct {
	Key         string              `json:"key" yaml:"key"`
	States      []StateDef          `json:"states" yaml:"states"`
	Transitions map[string][]string `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// Catalog is the full set of status domains loaded at startup.
type Catalog struct {
	Domains []DomainSpec `json:"domains" yaml:"domains"`
}

// NewRegistry registers every domain of the catalog, then every transition
// table, and seals the result. Any error means the catalog is misconfigured.
func NewRegistry(cat Catalog) (*Registry, error) {
	reg := NewEmptyRegistry()
	for _, d := range cat.Domains {
		if err := reg.RegisterDomain(d.Key, d.States); err != nil {
			return nil, err
		}
	}
	for _, d := range cat.Domains {
		if len(d.Transitions) == 0 {
			continue
		}
		if err := reg.RegisterTransitions(d.Key, d.Transitions); err != nil {
			return nil, err
		}
	}
	reg.Seal()
	return reg, nil
}

// LoadCatalog decodes a YAML catalog.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return Catalog{}, fmt.Errorf("decode status catalog: %w", err)
	}
	if len(cat.Domains) == 0 {
		return Catalog{}, fmt.Errorf("status catalog declares no domains")
	}
	return cat, nil
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open status catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadCatalog(f)
}

// DefaultCatalog returns the built-in lab catalog.
func DefaultCatalog() Catalog {
	return Catalog{Domains: []DomainSpec{
		{
			Key: DomainRequest,
			States: []StateDef{
				{Key: "received", Label: "Received", Priority: 1, Color: "blue"},
				{Key: "in_analysis", Label: "In analysis", Priority: 2, Color: "orange"},
				{Key: "validated", Label: "Validated", Priority: 3, Color: "teal"},
				{Key: "completed", Label: "Completed", Priority: 4, Color: "green", Terminal: true},
				{Key: "cancelled", Label: "Cancelled", Priority: 5, Color: "red", Terminal: true},
			},
			Transitions: map[string][]string{
				"received":    {"in_analysis", "cancelled"},
				"in_analysis": {"validated", "cancelled"},
				"validated":   {"completed", "in_analysis"},
			},
		},
		{
			Key: DomainTechnique,
			States: []StateDef{
				{Key: string(domain.TechniqueStatusPending), Label: "Pending", Priority: 1, Color: "gray"},
				{Key: string(domain.TechniqueStatusInProcess), Label: "In process", Priority: 2, Color: "orange"},
				{Key: string(domain.TechniqueStatusCompleted), Label: "Completed", Priority: 3, Color: "green", Terminal: true},
				{Key: string(domain.TechniqueStatusCancelled), Label: "Cancelled", Priority: 4, Color: "red", Terminal: true},
			},
			Transitions: map[string][]string{
				string(domain.TechniqueStatusPending):   {string(domain.TechniqueStatusInProcess), string(domain.TechniqueStatusCancelled)},
				string(domain.TechniqueStatusInProcess): {string(domain.TechniqueStatusCompleted), string(domain.TechniqueStatusCancelled)},
			},
		},
		{
			Key: DomainSample,
			States: []StateDef{
				{Key: "registered", Label: "Registered", Priority: 1, Color: "gray"},
				{Key: "received", Label: "Received", Priority: 2, Color: "blue"},
				{Key: "in_analysis", Label: "In analysis", Priority: 3, Color: "orange"},
				{Key: "stored", Label: "Stored", Priority: 4, Color: "teal"},
				{Key: "disposed", Label: "Disposed", Priority: 5, Color: "red", Terminal: true},
				{Key: "rejected", Label: "Rejected", Priority: 6, Color: "red", Terminal: true},
			},
			Transitions: map[string][]string{
				"registered":  {"received", "rejected"},
				"received":    {"in_analysis", "stored", "rejected"},
				"in_analysis": {"stored", "disposed"},
				"stored":      {"in_analysis", "disposed"},
			},
		},
		{
			Key: DomainWorklist,
			States: []StateDef{
				{Key: string(domain.StageCreated), Label: "Created", Priority: 1, Color: "gray"},
				{Key: string(domain.StageTechnicianAssigned), Label: "Technician assigned", Priority: 2, Color: "blue"},
				{Key: string(domain.StageTechniquesStarted), Label: "Techniques started", Priority: 3, Color: "orange"},
				{Key: string(domain.StageResultsImported), Label: "Results imported", Priority: 4, Color: "green", Terminal: true},
			},
			Transitions: map[string][]string{
				string(domain.StageCreated):            {string(domain.StageTechnicianAssigned)},
				string(domain.StageTechnicianAssigned): {string(domain.StageTechniquesStarted)},
				string(domain.StageTechniquesStarted):  {string(domain.StageResultsImported)},
			},
		},
	}}
}
