package state

import (
	"log/slog"
	"slices"
	"strings"
)

// DeltaWorker applies the deltas staged by a character turn to the
// world and settings. Character patches run first, then location
// membership patches, then the stranger label.
type DeltaWorker struct {
	world    *World
	settings *Settings
	deltas   []Delta
	logger   *slog.Logger
}

// NewDeltaWorker creates a worker for one batch of deltas.
func NewDeltaWorker(w *World, s *Settings, deltas []Delta, logger *slog.Logger) *DeltaWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeltaWorker{
		world:    w,
		settings: s,
		deltas:   deltas,
		logger:   logger,
	}
}

// Apply runs all three phases in order.
func (dw *DeltaWorker) Apply() {
	dw.ApplyCharacters()
	dw.ApplyLocations()
	dw.ApplyLabel()
}

// ApplyCharacters appends notes and sets the location reference.
// Membership bookkeeping is left to ApplyLocations.
func (dw *DeltaWorker) ApplyCharacters() {
	if dw.world == nil {
		return
	}
	for _, d := range dw.deltas {
		if d.Kind != DeltaCharacter || d.Character == nil {
			continue
		}
		c, ok := dw.world.Character(d.CharacterID)
		if !ok {
			dw.logger.Warn("Skipping patch for missing character", "character_id", d.CharacterID)
			continue
		}
		c.Notes = append(c.Notes, d.Character.AppendNotes...)
		if d.Character.GroupChatID != nil {
			dest := *d.Character.GroupChatID
			if dest != "" {
				if _, ok := dw.world.Location(dest); !ok {
					dw.logger.Warn("Skipping move to missing location",
						"character_id", c.ID,
						"location_id", dest)
					continue
				}
			}
			c.GroupChatID = dest
		}
	}
}

// ApplyLocations adds and removes members. Adds are skipped unless the
// character now points at the location, so a skipped move cannot
// leave a half-updated index.
func (dw *DeltaWorker) ApplyLocations() {
	if dw.world == nil {
		return
	}
	for _, d := range dw.deltas {
		if d.Kind != DeltaLocation || d.Location == nil {
			continue
		}
		l, ok := dw.world.Location(d.LocationID)
		if !ok {
			dw.logger.Warn("Skipping membership patch for missing location", "location_id", d.LocationID)
			continue
		}
		for _, id := range d.Location.RemoveCharacterIDs {
			if c, ok := dw.world.Character(id); ok && c.GroupChatID == l.ID {
				continue
			}
			l.CharacterIDs = removeID(l.CharacterIDs, id)
		}
		for _, id := range d.Location.AddCharacterIDs {
			c, ok := dw.world.Character(id)
			if !ok || c.GroupChatID != l.ID {
				continue
			}
			if !slices.Contains(l.CharacterIDs, id) {
				l.CharacterIDs = append(l.CharacterIDs, id)
			}
		}
	}
}

// ApplyLabel sets the stranger label. The last non-blank label wins.
func (dw *DeltaWorker) ApplyLabel() {
	if dw.settings == nil {
		return
	}
	for _, d := range dw.deltas {
		if d.Kind != DeltaLabel || d.Label == nil {
			continue
		}
		label := strings.TrimSpace(*d.Label)
		if label == "" {
			continue
		}
		dw.logger.Debug("Stranger label updated", "old", dw.settings.StrangerLabel, "new", label)
		dw.settings.StrangerLabel = label
	}
}
