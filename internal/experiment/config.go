package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exphub-io/exphub/internal/config"
)

// DefaultDefinitionsPath is the default location of the experiment definitions
// file, following the hidden-file convention of other tool configs.
const DefaultDefinitionsPath = ".exphub.yaml"

// DefinitionsPathEnvVar overrides the definitions file location.
const DefinitionsPathEnvVar = "EXPHUB_EXPERIMENTS_PATH"

type (
	// Definitions is the operator-authored experiment configuration file.
	Definitions struct {
		Experiments []Definition `yaml:"experiments"`
	}

	// Definition is one experiment entry in the definitions file.
	Definition struct {
		ID          string              `yaml:"id"`
		Name        string              `yaml:"name"`
		Description string              `yaml:"description"`
		StartAt     time.Time           `yaml:"start_at"`
		EndAt       time.Time           `yaml:"end_at"`
		Variants    []VariantDefinition `yaml:"variants"`
	}

	// VariantDefinition is one variant entry in the definitions file.
	VariantDefinition struct {
		ID         string  `yaml:"id"`
		Name       string  `yaml:"name"`
		Allocation float64 `yaml:"allocation"`
	}
)

// LoadDefinitions reads experiment definitions from a YAML file.
//
// A missing file is not an error: definitions are optional and experiments
// can be created through the API instead. Invalid YAML is an error, since a
// present-but-broken definitions file is operator intent that failed.
func LoadDefinitions(path string) (*Definitions, error) {
	defs := &Definitions{}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defs, nil
		}

		return nil, fmt.Errorf("reading experiment definitions %s: %w", path, err)
	}

	if len(data) == 0 {
		return defs, nil
	}

	if err := yaml.Unmarshal(data, defs); err != nil {
		return nil, fmt.Errorf("parsing experiment definitions %s: %w", path, err)
	}

	return defs, nil
}

// LoadDefinitionsFromEnv loads definitions from the path named by
// EXPHUB_EXPERIMENTS_PATH, falling back to .exphub.yaml.
func LoadDefinitionsFromEnv() (*Definitions, error) {
	path := config.GetEnvStr(DefinitionsPathEnvVar, DefaultDefinitionsPath)

	return LoadDefinitions(path)
}

// Experiment converts a definition into the domain value object. Status is
// left empty so Registry.Create applies its planned default.
func (d Definition) Experiment() *Experiment {
	variants := make([]Variant, len(d.Variants))
	for i, v := range d.Variants {
		variants[i] = Variant{ID: v.ID, Name: v.Name, Allocation: v.Allocation}
	}

	return &Experiment{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		StartAt:     d.StartAt,
		EndAt:       d.EndAt,
		Variants:    variants,
	}
}

// Apply creates every defined experiment that does not exist yet. Existing
// ids are skipped, never mutated: applying definitions is idempotent and can
// run on every service start. The first configuration error aborts, since it
// means the definitions file itself is broken.
func (r *Registry) Apply(ctx context.Context, defs *Definitions) error {
	for _, def := range defs.Experiments {
		err := r.Create(ctx, def.Experiment())
		if errors.Is(err, ErrDuplicateExperiment) {
			continue
		}

		if err != nil {
			return fmt.Errorf("applying experiment definition %q: %w", def.ID, err)
		}
	}

	return nil
}
