package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fl2m/platform/internal/app/domain/contract"
)

//go:embed plans.yaml
var defaultPlans []byte

// LoadPlans reads the plan catalog from path, or the embedded catalog when
// path is empty.
func LoadPlans(path string) (contract.Catalog, error) {
	data := defaultPlans
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return contract.Catalog{}, fmt.Errorf("read plans file: %w", err)
		}
		data = raw
	}
	return ParsePlans(data)
}

// ParsePlans decodes and validates a YAML plan catalog.
func ParsePlans(data []byte) (contract.Catalog, error) {
	var catalog contract.Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return contract.Catalog{}, fmt.Errorf("parse plans: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return contract.Catalog{}, err
	}
	return catalog, nil
}
