package models

import (
	"fmt"
	"time"
)

type ServiceTier string

const (
	TierStandard ServiceTier = "STANDARD"
	TierPremium  ServiceTier = "PREMIUM"
	TierUrgent   ServiceTier = "URGENT"
)

// TierSpec fixes what a search job tier buys: how long the claiming hunter
// has, how many options they must deliver and the deposit held in escrow.
type TierSpec struct {
	Window          time.Duration `json:"window" yaml:"window"`
	NumberOfOptions int           `json:"number_of_options" yaml:"number_of_options"`
	Deposit         Money         `json:"deposit" yaml:"deposit"`
}

type TierCatalog map[ServiceTier]TierSpec

func DefaultTiers() TierCatalog {
	return TierCatalog{
		TierStandard: {Window: 7 * 24 * time.Hour, NumberOfOptions: 3, Deposit: 5000},
		TierPremium:  {Window: 5 * 24 * time.Hour, NumberOfOptions: 3, Deposit: 10000},
		TierUrgent:   {Window: 2 * 24 * time.Hour, NumberOfOptions: 3, Deposit: 15000},
	}
}

func (c TierCatalog) Lookup(tier ServiceTier) (TierSpec, error) {
	spec, ok := c[tier]
	if !ok {
		return TierSpec{}, fmt.Errorf("%w: unknown service tier %q", ErrValidation, tier)
	}
	return spec, nil
}

func (c TierCatalog) Validate() error {
	for tier, spec := range c {
		if spec.Window <= 0 || spec.NumberOfOptions <= 0 || spec.Deposit <= 0 {
			return fmt.Errorf("%w: tier %s must have positive window, options and deposit", ErrValidation, tier)
		}
	}
	return nil
}
