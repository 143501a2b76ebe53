package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rental-marketplace/backend/internal/models"
)

// tierFile is the on-disk shape of TIERS_FILE:
//
//	PREMIUM:
//	  window_hours: 96
//	  number_of_options: 4
//	  deposit: 12000
type tierFile map[models.ServiceTier]struct {
	WindowHours     int   `yaml:"window_hours"`
	NumberOfOptions int   `yaml:"number_of_options"`
	Deposit         int64 `yaml:"deposit"`
}

// LoadTiers returns the default catalog with any tiers in path overriding it.
// An empty path yields the defaults.
func LoadTiers(path string) (models.TierCatalog, error) {
	catalog := models.DefaultTiers()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	var file tierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}
	for tier, t := range file {
		if _, known := catalog[tier]; !known {
			return nil, fmt.Errorf("%w: unknown service tier %q in %s", models.ErrValidation, tier, path)
		}
		catalog[tier] = models.TierSpec{
			Window:          time.Duration(t.WindowHours) * time.Hour,
			NumberOfOptions: t.NumberOfOptions,
			Deposit:         models.Money(t.Deposit),
		}
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}
