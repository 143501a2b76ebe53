package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type LocationKind string

const (
	LocationLandmark LocationKind = "landmark"
	LocationProperty LocationKind = "property"
)

// Location is where a viewing takes place: either the listed property itself
// or a landmark meeting point agreed during negotiation.
type Location struct {
	Kind    LocationKind `json:"kind"`
	Name    string       `json:"name"`
	Details string       `json:"details,omitempty"`
}

func (l Location) Validate() error {
	if l.Kind != LocationLandmark && l.Kind != LocationProperty {
		return fmt.Errorf("%w: unknown location kind %q", ErrValidation, l.Kind)
	}
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: location name is required", ErrValidation)
	}
	return nil
}

func (l Location) IsZero() bool {
	return l.Kind == "" && l.Name == "" && l.Details == ""
}

// ParseLocation normalizes a client-supplied location once, at the boundary.
// Accepted inputs: a bare string ("Shell Station"), a JSON Location, or a legacy
// JSON object carrying one of name/location/address/generalArea.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: location is required", ErrValidation)
	}
	if !strings.HasPrefix(raw, "{") {
		return Location{Kind: LocationLandmark, Name: raw}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Location{}, fmt.Errorf("%w: malformed location: %v", ErrValidation, err)
	}

	loc := Location{Kind: LocationLandmark}
	if k, _ := obj["kind"].(string); k != "" {
		loc.Kind = LocationKind(strings.ToLower(k))
	}
	for _, key := range []string{"name", "location", "address", "generalArea"} {
		if v, _ := obj[key].(string); strings.TrimSpace(v) != "" {
			loc.Name = strings.TrimSpace(v)
			break
		}
	}
	if d, _ := obj["details"].(string); d != "" {
		loc.Details = d
	}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}
