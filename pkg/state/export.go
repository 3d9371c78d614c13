package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultLocationName = "Default Location"

// LocationExport is a location in the portable world format.
type LocationExport struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Exposition  []string `json:"exposition" yaml:"exposition"`
}

// CharacterExport is a character in the portable world format.
// Location and KnownCharacters refer to names, not ids.
type CharacterExport struct {
	Name            string   `json:"name" yaml:"name"`
	Description     string   `json:"description" yaml:"description"`
	PfpBase64       string   `json:"pfp_base64,omitempty" yaml:"pfp_base64,omitempty"`
	Location        string   `json:"location" yaml:"location"`
	Quotes          []string `json:"quotes" yaml:"quotes"`
	Notes           []string `json:"notes" yaml:"notes"`
	KnownCharacters []string `json:"knownCharacters" yaml:"knownCharacters"`
}

// WorldExport is the durable world file.
type WorldExport struct {
	Locations  []LocationExport  `json:"locations" yaml:"locations"`
	Characters []CharacterExport `json:"characters" yaml:"characters"`
}

// ImportReport summarizes what an import did.
type ImportReport struct {
	LocationsCreated  int      `json:"locations_created"`
	LocationsReused   int      `json:"locations_reused"`
	CharactersCreated int      `json:"characters_created"`
	Warnings          []string `json:"warnings,omitempty"`
}

func (r *ImportReport) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Export converts the world to the portable format.
func (w *World) Export() *WorldExport {
	out := &WorldExport{
		Locations:  make([]LocationExport, 0, len(w.Locations)),
		Characters: make([]CharacterExport, 0, len(w.Characters)),
	}
	for _, l := range w.Locations {
		out.Locations = append(out.Locations, LocationExport{
			Name:        l.Name,
			Description: l.Description,
			Exposition:  nonNil(l.Exposition),
		})
	}
	for _, c := range w.Characters {
		ce := CharacterExport{
			Name:            c.Name,
			Description:     c.Description,
			PfpBase64:       c.Avatar,
			Quotes:          nonNil(c.Quotes),
			Notes:           nonNil(c.Notes),
			KnownCharacters: []string{},
		}
		if l, ok := w.Location(c.GroupChatID); ok {
			ce.Location = l.Name
		}
		for _, id := range c.KnownCharacterIDs {
			if known, ok := w.Character(id); ok {
				ce.KnownCharacters = append(ce.KnownCharacters, known.Name)
			}
		}
		out.Characters = append(out.Characters, ce)
	}
	return out
}

// Import merges an export into the world. Locations are matched by
// exact name and reused. Characters whose location cannot be resolved
// go to the first location in the file, then the world's first
// location, and only then to a synthesized default.
// Unresolved relationship names are dropped. Entities without a name
// are skipped with a warning.
func (w *World) Import(in *WorldExport) (*ImportReport, error) {
	report := &ImportReport{}
	if in == nil {
		return report, nil
	}

	var firstID string
	for i, le := range in.Locations {
		name := strings.TrimSpace(le.Name)
		if name == "" {
			report.warn("location %d skipped: missing name", i)
			continue
		}
		if existing, ok := w.LocationByName(name); ok {
			report.LocationsReused++
			if firstID == "" {
				firstID = existing.ID
			}
			continue
		}
		l, err := w.AddLocation(Location{
			Name:        name,
			Description: le.Description,
			Exposition:  nonNil(le.Exposition),
		})
		if err != nil {
			return report, fmt.Errorf("failed to add location %q: %w", name, err)
		}
		report.LocationsCreated++
		if firstID == "" {
			firstID = l.ID
		}
	}

	// Relationship edges are resolved after every character exists.
	type pending struct {
		id    string
		known []string
	}
	var edges []pending

	for i, ce := range in.Characters {
		name := strings.TrimSpace(ce.Name)
		if name == "" {
			report.warn("character %d skipped: missing name", i)
			continue
		}
		locID := ""
		if l, ok := w.LocationByName(ce.Location); ok {
			locID = l.ID
		} else {
			if firstID == "" && len(w.Locations) > 0 {
				firstID = w.Locations[0].ID
			}
			if firstID == "" {
				firstID = w.defaultLocationID(report)
			}
			if ce.Location != "" {
				report.warn("character %q: location %q not found, using default", name, ce.Location)
			}
			locID = firstID
		}
		c, err := w.AddCharacter(Character{
			Name:        name,
			Description: ce.Description,
			Avatar:      ce.PfpBase64,
			GroupChatID: locID,
			Notes:       nonNil(ce.Notes),
			Quotes:      nonNil(ce.Quotes),
		})
		if err != nil {
			return report, fmt.Errorf("failed to add character %q: %w", name, err)
		}
		report.CharactersCreated++
		edges = append(edges, pending{id: c.ID, known: ce.KnownCharacters})
	}

	for _, e := range edges {
		for _, name := range e.known {
			if known, ok := w.CharacterByName(name); ok {
				w.AddKnown(e.id, known.ID)
			}
		}
	}
	return report, nil
}

func (w *World) defaultLocationID(report *ImportReport) string {
	if l, ok := w.LocationByName(DefaultLocationName); ok {
		return l.ID
	}
	l, err := w.AddLocation(Location{Name: DefaultLocationName, Exposition: []string{}})
	if err != nil {
		return ""
	}
	report.LocationsCreated++
	return l.ID
}

// DecodeWorldExport parses a world file. YAML is accepted when the
// content is not a JSON object.
func DecodeWorldExport(data []byte) (*WorldExport, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("world file is empty")
	}
	var out WorldExport
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("failed to parse world JSON: %w", err)
		}
		return &out, nil
	}
	if err := yaml.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("failed to parse world YAML: %w", err)
	}
	return &out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
