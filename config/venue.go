package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// VenueLayout describes the physical tables of one tournament venue.
//
//	tournament_id: 12
//	tables:
//	  - label: "Table 1"
//	  - label: "Feature"
type VenueLayout struct {
	TournamentID int          `yaml:"tournament_id"`
	Tables       []VenueTable `yaml:"tables"`
}

type VenueTable struct {
	Label string `yaml:"label"`
}

// Labels returns the table labels in file order.
func (v *VenueLayout) Labels() []string {
	labels := make([]string, 0, len(v.Tables))
	for _, t := range v.Tables {
		labels = append(labels, t.Label)
	}
	return labels
}

func LoadVenueFile(path string) (*VenueLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read venue file %s: %w", path, err)
	}
	return ParseVenue(data)
}

func ParseVenue(data []byte) (*VenueLayout, error) {
	var layout VenueLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse venue layout: %w", err)
	}
	if layout.TournamentID <= 0 {
		return nil, fmt.Errorf("venue layout: tournament_id must be positive")
	}
	if len(layout.Tables) == 0 {
		return nil, fmt.Errorf("venue layout: no tables defined")
	}
	seen := make(map[string]bool, len(layout.Tables))
	for i, t := range layout.Tables {
		label := strings.TrimSpace(t.Label)
		if label == "" {
			return nil, fmt.Errorf("venue layout: table %d has an empty label", i+1)
		}
		key := strings.ToLower(label)
		if seen[key] {
			return nil, fmt.Errorf("venue layout: duplicate table label %q", label)
		}
		seen[key] = true
		layout.Tables[i].Label = label
	}
	return &layout, nil
}
