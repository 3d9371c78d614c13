package state

import "github.com/jwebster45206/troupe/pkg/chat"

// DeltaKind tags a Delta variant.
type DeltaKind string

const (
	DeltaNone      DeltaKind = ""
	DeltaCharacter DeltaKind = "character"
	DeltaLocation  DeltaKind = "location"
	DeltaLabel     DeltaKind = "label"
)

// Delta is one staged mutation produced by a character turn. Exactly
// one of Character, Location or Label is set, matching Kind.
// Patches are partial: they never replace a record wholesale.
type Delta struct {
	Kind        DeltaKind       `json:"kind"`
	CharacterID string          `json:"character_id,omitempty"`
	Character   *CharacterPatch `json:"character,omitempty"`
	LocationID  string          `json:"location_id,omitempty"`
	Location    *LocationPatch  `json:"location,omitempty"`
	Label       *string         `json:"label,omitempty"`
}

func NoteDelta(charID, note string) Delta {
	return Delta{
		Kind:        DeltaCharacter,
		CharacterID: charID,
		Character:   &CharacterPatch{AppendNotes: []string{note}},
	}
}

func RelocateDelta(charID, locationID string) Delta {
	return Delta{
		Kind:        DeltaCharacter,
		CharacterID: charID,
		Character:   &CharacterPatch{GroupChatID: &locationID},
	}
}

func MembershipDelta(locationID string, add, remove []string) Delta {
	return Delta{
		Kind:       DeltaLocation,
		LocationID: locationID,
		Location:   &LocationPatch{AddCharacterIDs: add, RemoveCharacterIDs: remove},
	}
}

func LabelDelta(label string) Delta {
	return Delta{Kind: DeltaLabel, Label: &label}
}

// IsEmpty reports whether the delta carries no change.
func (d *Delta) IsEmpty() bool {
	if d == nil {
		return true
	}
	switch d.Kind {
	case DeltaCharacter:
		return d.Character == nil || (len(d.Character.AppendNotes) == 0 && d.Character.GroupChatID == nil)
	case DeltaLocation:
		return d.Location == nil || (len(d.Location.AddCharacterIDs) == 0 && len(d.Location.RemoveCharacterIDs) == 0)
	case DeltaLabel:
		return d.Label == nil
	}
	return true
}

// TurnCommit is everything one character turn writes back, applied
// as a single batch.
type TurnCommit struct {
	LocationID string `json:"location_id"`

	// LoadingID is the placeholder to remove before appending Messages.
	LoadingID string `json:"loading_id,omitempty"`

	Messages    []chat.ChatMessage `json:"messages"`
	Deltas      []Delta            `json:"deltas,omitempty"`
	InputTokens int                `json:"input_tokens"`
}

// ApplyHistory returns history with the loading placeholder removed
// and the turn's messages appended.
func (tc *TurnCommit) ApplyHistory(history []chat.ChatMessage) []chat.ChatMessage {
	out := make([]chat.ChatMessage, 0, len(history)+len(tc.Messages))
	for _, m := range history {
		if tc.LoadingID != "" && m.ID == tc.LoadingID {
			continue
		}
		out = append(out, m)
	}
	return append(out, tc.Messages...)
}
