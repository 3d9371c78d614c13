package state

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCharacterNotFound = errors.New("character not found")
	ErrLocationNotFound  = errors.New("location not found")
	ErrDuplicateName     = errors.New("a location with that name already exists")
	ErrNameRequired      = errors.New("name is required")
)

// Character is an AI-driven persona.
type Character struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Avatar            string   `json:"avatar,omitempty"`
	GroupChatID       string   `json:"groupChatId"` // "" when unassigned
	Notes             []string `json:"notes"`
	Quotes            []string `json:"quotes"`
	KnownCharacterIDs []string `json:"knownCharacterIds"`
}

// Knows reports whether id is in the character's known set.
func (c *Character) Knows(id string) bool {
	return slices.Contains(c.KnownCharacterIDs, id)
}

// Location is a group chat: a conversational space holding characters.
type Location struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	CharacterIDs []string `json:"characterIds"`
	Exposition   []string `json:"exposition,omitempty"`
}

// HasCharacter reports whether id is a member of the location.
func (l *Location) HasCharacter(id string) bool {
	return slices.Contains(l.CharacterIDs, id)
}

// World is the canonical character and location universe.
// Character.GroupChatID and Location.CharacterIDs form a bidirectional
// index; every mutation method here keeps both sides in step.
type World struct {
	Characters []Character `json:"characters"`
	Locations  []Location  `json:"locations"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

func NewWorld() *World {
	return &World{
		Characters: make([]Character, 0),
		Locations:  make([]Location, 0),
	}
}

// Clone returns a deep copy.
func (w *World) Clone() *World {
	out := &World{
		Characters: make([]Character, len(w.Characters)),
		Locations:  make([]Location, len(w.Locations)),
		UpdatedAt:  w.UpdatedAt,
	}
	for i, c := range w.Characters {
		c.Notes = slices.Clone(c.Notes)
		c.Quotes = slices.Clone(c.Quotes)
		c.KnownCharacterIDs = slices.Clone(c.KnownCharacterIDs)
		out.Characters[i] = c
	}
	for i, l := range w.Locations {
		l.CharacterIDs = slices.Clone(l.CharacterIDs)
		l.Exposition = slices.Clone(l.Exposition)
		out.Locations[i] = l
	}
	return out
}

// Lookups. A miss returns false rather than an error so callers can
// treat dangling references as "not found".

func (w *World) Character(id string) (*Character, bool) {
	for i := range w.Characters {
		if w.Characters[i].ID == id {
			return &w.Characters[i], true
		}
	}
	return nil, false
}

func (w *World) CharacterByName(name string) (*Character, bool) {
	for i := range w.Characters {
		if w.Characters[i].Name == name {
			return &w.Characters[i], true
		}
	}
	return nil, false
}

func (w *World) Location(id string) (*Location, bool) {
	for i := range w.Locations {
		if w.Locations[i].ID == id {
			return &w.Locations[i], true
		}
	}
	return nil, false
}

// LocationByName resolves a location by exact name.
func (w *World) LocationByName(name string) (*Location, bool) {
	for i := range w.Locations {
		if w.Locations[i].Name == name {
			return &w.Locations[i], true
		}
	}
	return nil, false
}

// CoLocated returns the other characters in the given character's location.
func (w *World) CoLocated(charID string) []Character {
	c, ok := w.Character(charID)
	if !ok || c.GroupChatID == "" {
		return nil
	}
	var out []Character
	for _, other := range w.Characters {
		if other.ID != charID && other.GroupChatID == c.GroupChatID {
			out = append(out, other)
		}
	}
	return out
}

// AddCharacter inserts a character, assigning an id if missing and
// registering it with its location. An unknown location leaves the
// character unassigned.
func (w *World) AddCharacter(c Character) (*Character, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, ErrNameRequired
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Notes == nil {
		c.Notes = []string{}
	}
	if c.Quotes == nil {
		c.Quotes = []string{}
	}
	c.KnownCharacterIDs = dedupe(slices.DeleteFunc(slices.Clone(c.KnownCharacterIDs), func(id string) bool {
		return id == c.ID
	}))
	target := c.GroupChatID
	c.GroupChatID = ""
	w.Characters = append(w.Characters, c)
	if target != "" {
		if err := w.MoveCharacter(c.ID, target); err != nil && !errors.Is(err, ErrLocationNotFound) {
			return nil, err
		}
	}
	added, _ := w.Character(c.ID)
	return added, nil
}

// CharacterPatch is a partial update to a character. Nil fields are untouched.
type CharacterPatch struct {
	Name              *string   `json:"name,omitempty"`
	Description       *string   `json:"description,omitempty"`
	Avatar            *string   `json:"avatar,omitempty"`
	GroupChatID       *string   `json:"groupChatId,omitempty"`
	Notes             *[]string `json:"notes,omitempty"`
	AppendNotes       []string  `json:"appendNotes,omitempty"`
	Quotes            *[]string `json:"quotes,omitempty"`
	KnownCharacterIDs *[]string `json:"knownCharacterIds,omitempty"`
}

// PatchCharacter applies a partial update. A location change goes
// through MoveCharacter so membership stays consistent.
func (w *World) PatchCharacter(id string, p CharacterPatch) error {
	c, ok := w.Character(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCharacterNotFound, id)
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return ErrNameRequired
		}
		c.Name = name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Avatar != nil {
		c.Avatar = *p.Avatar
	}
	if p.Notes != nil {
		c.Notes = slices.Clone(*p.Notes)
	}
	c.Notes = append(c.Notes, p.AppendNotes...)
	if p.Quotes != nil {
		c.Quotes = slices.Clone(*p.Quotes)
	}
	if p.KnownCharacterIDs != nil {
		c.KnownCharacterIDs = []string{}
		for _, known := range *p.KnownCharacterIDs {
			if _, exists := w.Character(known); exists && known != id {
				c.KnownCharacterIDs = addID(c.KnownCharacterIDs, known)
			}
		}
	}
	if p.GroupChatID != nil {
		return w.MoveCharacter(id, *p.GroupChatID)
	}
	return nil
}

// DeleteCharacter removes a character, its location membership, and
// every other character's reference to it.
func (w *World) DeleteCharacter(id string) error {
	idx := slices.IndexFunc(w.Characters, func(c Character) bool { return c.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrCharacterNotFound, id)
	}
	w.Characters = slices.Delete(w.Characters, idx, idx+1)
	for i := range w.Locations {
		w.Locations[i].CharacterIDs = removeID(w.Locations[i].CharacterIDs, id)
	}
	for i := range w.Characters {
		w.Characters[i].KnownCharacterIDs = removeID(w.Characters[i].KnownCharacterIDs, id)
	}
	return nil
}

// MoveCharacter reassigns a character. An empty locationID unassigns it.
func (w *World) MoveCharacter(charID, locationID string) error {
	c, ok := w.Character(charID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCharacterNotFound, charID)
	}
	if locationID != "" {
		if _, ok := w.Location(locationID); !ok {
			return fmt.Errorf("%w: %s", ErrLocationNotFound, locationID)
		}
	}
	if old, ok := w.Location(c.GroupChatID); ok {
		old.CharacterIDs = removeID(old.CharacterIDs, charID)
	}
	c.GroupChatID = locationID
	if dest, ok := w.Location(locationID); ok {
		dest.CharacterIDs = addID(dest.CharacterIDs, charID)
	}
	return nil
}

// AddLocation inserts a location. Names must be unique.
func (w *World) AddLocation(l Location) (*Location, error) {
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return nil, ErrNameRequired
	}
	if _, exists := w.LocationByName(l.Name); exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, l.Name)
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	members := l.CharacterIDs
	l.CharacterIDs = []string{}
	w.Locations = append(w.Locations, l)
	for _, id := range members {
		if _, ok := w.Character(id); ok {
			if err := w.MoveCharacter(id, l.ID); err != nil {
				return nil, err
			}
		}
	}
	added, _ := w.Location(l.ID)
	return added, nil
}

// LocationPatch is a partial update to a location's descriptive fields
// and/or its membership. Membership changes never replace the set.
type LocationPatch struct {
	Name               *string   `json:"name,omitempty"`
	Description        *string   `json:"description,omitempty"`
	Exposition         *[]string `json:"exposition,omitempty"`
	AddCharacterIDs    []string  `json:"addCharacterIds,omitempty"`
	RemoveCharacterIDs []string  `json:"removeCharacterIds,omitempty"`
}

// PatchLocation applies descriptive changes and membership changes.
// Membership changes are routed through MoveCharacter.
func (w *World) PatchLocation(id string, p LocationPatch) error {
	l, ok := w.Location(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return ErrNameRequired
		}
		if other, exists := w.LocationByName(name); exists && other.ID != id {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		l.Name = name
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Exposition != nil {
		l.Exposition = slices.Clone(*p.Exposition)
	}
	for _, charID := range p.RemoveCharacterIDs {
		if c, ok := w.Character(charID); ok && c.GroupChatID == id {
			if err := w.MoveCharacter(charID, ""); err != nil {
				return err
			}
		}
	}
	for _, charID := range p.AddCharacterIDs {
		if _, ok := w.Character(charID); ok {
			if err := w.MoveCharacter(charID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteLocation removes a location and unassigns its members.
func (w *World) DeleteLocation(id string) error {
	idx := slices.IndexFunc(w.Locations, func(l Location) bool { return l.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	w.Locations = slices.Delete(w.Locations, idx, idx+1)
	for i := range w.Characters {
		if w.Characters[i].GroupChatID == id {
			w.Characters[i].GroupChatID = ""
		}
	}
	return nil
}

// AddKnown records that charID knows otherID. Self-loops are ignored.
func (w *World) AddKnown(charID, otherID string) {
	if charID == otherID {
		return
	}
	if c, ok := w.Character(charID); ok {
		c.KnownCharacterIDs = addID(c.KnownCharacterIDs, otherID)
	}
}

func (w *World) RemoveKnown(charID, otherID string) {
	if c, ok := w.Character(charID); ok {
		c.KnownCharacterIDs = removeID(c.KnownCharacterIDs, otherID)
	}
}

// CheckIndex verifies the character/location bidirectional index.
func (w *World) CheckIndex() error {
	for _, c := range w.Characters {
		if c.GroupChatID == "" {
			continue
		}
		l, ok := w.Location(c.GroupChatID)
		if !ok {
			return fmt.Errorf("character %s references missing location %s", c.ID, c.GroupChatID)
		}
		if !l.HasCharacter(c.ID) {
			return fmt.Errorf("location %s does not list character %s", l.ID, c.ID)
		}
	}
	for _, l := range w.Locations {
		seen := make(map[string]bool, len(l.CharacterIDs))
		for _, id := range l.CharacterIDs {
			if seen[id] {
				return fmt.Errorf("location %s lists character %s twice", l.ID, id)
			}
			seen[id] = true
			c, ok := w.Character(id)
			if !ok {
				return fmt.Errorf("location %s lists missing character %s", l.ID, id)
			}
			if c.GroupChatID != l.ID {
				return fmt.Errorf("location %s lists character %s assigned to %q", l.ID, id, c.GroupChatID)
			}
		}
	}
	return nil
}

func addID(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = addID(out, id)
	}
	return out
}
