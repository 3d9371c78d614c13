package state

import (
	"encoding/json"
	"testing"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildExportWorld(t *testing.T) *World {
	t.Helper()
	w, _, _ := newTestWorld(t)
	tavern, _ := w.Location("tavern")
	tavern.Exposition = []string{"Rain hammers the shutters."}
	_, err := w.AddCharacter(Character{ID: "mira", Name: "Mira", Description: "A bard.", GroupChatID: "tavern", Quotes: []string{"Sing with me!"}})
	require.NoError(t, err)
	_, err = w.AddCharacter(Character{ID: "bo", Name: "Bo", Description: "A smith.", GroupChatID: "market", KnownCharacterIDs: []string{"mira"}, Notes: []string{"Mira sings off key."}})
	require.NoError(t, err)
	w.AddKnown("mira", "bo")
	return w
}

func TestWorldExport_RoundTrip(t *testing.T) {
	src := buildExportWorld(t)

	data, err := json.Marshal(src.Export())
	require.NoError(t, err)

	decoded, err := DecodeWorldExport(data)
	require.NoError(t, err)

	dst := NewWorld()
	report, err := dst.Import(decoded)
	require.NoError(t, err)
	assert.Equal(t, 2, report.LocationsCreated)
	assert.Equal(t, 2, report.CharactersCreated)
	assert.Empty(t, report.Warnings)

	require.Len(t, dst.Locations, len(src.Locations))
	require.Len(t, dst.Characters, len(src.Characters))

	for _, orig := range src.Characters {
		got, ok := dst.CharacterByName(orig.Name)
		require.True(t, ok, orig.Name)
		assert.Equal(t, orig.Description, got.Description)
		assert.Equal(t, orig.Notes, got.Notes)
		assert.Equal(t, orig.Quotes, got.Quotes)

		origLoc, _ := src.Location(orig.GroupChatID)
		gotLoc, _ := dst.Location(got.GroupChatID)
		assert.Equal(t, origLoc.Name, gotLoc.Name)

		var origKnown, gotKnown []string
		for _, id := range orig.KnownCharacterIDs {
			k, _ := src.Character(id)
			origKnown = append(origKnown, k.Name)
		}
		for _, id := range got.KnownCharacterIDs {
			k, _ := dst.Character(id)
			gotKnown = append(gotKnown, k.Name)
		}
		assert.ElementsMatch(t, origKnown, gotKnown)
	}

	tavern, _ := dst.LocationByName("Tavern")
	assert.Equal(t, []string{"Rain hammers the shutters."}, tavern.Exposition)
	assert.NoError(t, dst.CheckIndex())
}

func TestWorldImport_Defaults(t *testing.T) {
	tests := []struct {
		name             string
		existing         []Location
		in               WorldExport
		expectLocations  []string
		expectCharLoc    map[string]string
		expectKnown      map[string][]string
		expectWarnings   int
		expectCharacters int
		expectCreated    int
	}{
		{
			name: "unresolved location uses first defined location",
			in: WorldExport{
				Locations:  []LocationExport{{Name: "Dock"}, {Name: "Ship"}},
				Characters: []CharacterExport{{Name: "Ann", Location: "Moon"}},
			},
			expectLocations:  []string{"Dock", "Ship"},
			expectCharLoc:    map[string]string{"Ann": "Dock"},
			expectWarnings:   1,
			expectCharacters: 1,
			expectCreated:    2,
		},
		{
			name: "no locations synthesizes default",
			in: WorldExport{
				Characters: []CharacterExport{{Name: "Ann"}, {Name: "Ben"}},
			},
			expectLocations:  []string{DefaultLocationName},
			expectCharLoc:    map[string]string{"Ann": DefaultLocationName, "Ben": DefaultLocationName},
			expectCharacters: 2,
			expectCreated:    1,
		},
		{
			name:     "unresolved location falls back to the world's first location",
			existing: []Location{{ID: "tavern", Name: "Tavern"}},
			in: WorldExport{
				Characters: []CharacterExport{{Name: "Mira", Location: "Nowhere"}},
			},
			expectLocations:  []string{"Tavern"},
			expectCharLoc:    map[string]string{"Mira": "Tavern"},
			expectWarnings:   1,
			expectCharacters: 1,
		},
		{
			name:     "existing location reused by name",
			existing: []Location{{ID: "dock", Name: "Dock"}},
			in: WorldExport{
				Locations:  []LocationExport{{Name: "Dock"}},
				Characters: []CharacterExport{{Name: "Ann", Location: "Dock"}},
			},
			expectLocations:  []string{"Dock"},
			expectCharLoc:    map[string]string{"Ann": "Dock"},
			expectCharacters: 1,
		},
		{
			name: "unresolved relationships dropped, nameless entities skipped",
			in: WorldExport{
				Locations: []LocationExport{{Name: "Dock"}, {Name: ""}},
				Characters: []CharacterExport{
					{Name: "Ann", Location: "Dock", KnownCharacters: []string{"Ben", "Nobody", "Ann"}},
					{Name: "Ben", Location: "Dock"},
					{Name: " "},
				},
			},
			expectLocations:  []string{"Dock"},
			expectCharLoc:    map[string]string{"Ann": "Dock", "Ben": "Dock"},
			expectKnown:      map[string][]string{"Ann": {"Ben"}},
			expectWarnings:   2,
			expectCharacters: 2,
			expectCreated:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorld()
			for _, l := range tt.existing {
				_, err := w.AddLocation(l)
				require.NoError(t, err)
			}

			report, err := w.Import(&tt.in)
			require.NoError(t, err)

			var names []string
			for _, l := range w.Locations {
				names = append(names, l.Name)
			}
			assert.Equal(t, tt.expectLocations, names)
			assert.Len(t, w.Characters, tt.expectCharacters)
			assert.Len(t, report.Warnings, tt.expectWarnings)
			assert.Equal(t, tt.expectCreated, report.LocationsCreated)

			for charName, locName := range tt.expectCharLoc {
				c, ok := w.CharacterByName(charName)
				require.True(t, ok)
				l, ok := w.Location(c.GroupChatID)
				require.True(t, ok)
				assert.Equal(t, locName, l.Name)
			}
			for charName, knownNames := range tt.expectKnown {
				c, _ := w.CharacterByName(charName)
				var got []string
				for _, id := range c.KnownCharacterIDs {
					k, _ := w.Character(id)
					got = append(got, k.Name)
				}
				assert.Equal(t, knownNames, got)
			}
			assert.NoError(t, w.CheckIndex())
		})
	}
}

func TestDecodeWorldExport_YAML(t *testing.T) {
	data := []byte(`
locations:
  - name: Lighthouse
    description: A tall tower.
    exposition:
      - The lamp turns slowly.
characters:
  - name: Keeper
    description: Old and watchful.
    location: Lighthouse
    quotes: ["Mind the stairs."]
    notes: []
    knownCharacters: []
`)
	out, err := DecodeWorldExport(data)
	require.NoError(t, err)
	require.Len(t, out.Locations, 1)
	require.Len(t, out.Characters, 1)
	assert.Equal(t, "Lighthouse", out.Characters[0].Location)
	assert.Equal(t, []string{"The lamp turns slowly."}, out.Locations[0].Exposition)

	_, err = DecodeWorldExport([]byte("   "))
	assert.Error(t, err)
}

func TestHistoryExport_RoundTrip(t *testing.T) {
	src := buildExportWorld(t)
	histories := map[string][]chat.ChatMessage{
		"tavern": {
			{ID: "1", Type: chat.MessageTypeUser, Sender: "Stranger", Text: "Hi"},
			{ID: "2", Type: chat.MessageTypeLoading, Sender: "Mira"},
			{ID: "3", Type: chat.MessageTypeCharacter, Sender: "Mira", Text: "Hello!", CharID: "mira"},
		},
		"market": {
			{ID: "4", Type: chat.MessageTypeNarration, Sender: chat.SenderNarrator, Text: "*Bo arrived.*"},
		},
	}

	export := NewHistoryExport(src, histories)
	assert.Equal(t, 1, export.Version)
	assert.Len(t, export.Messages["tavern"], 2, "loading stripped")
	assert.Equal(t, "Tavern", export.LocationNames["tavern"])

	data, err := json.Marshal(export)
	require.NoError(t, err)
	var decoded HistoryExport
	require.NoError(t, json.Unmarshal(data, &decoded))

	dst := NewWorld()
	_, err = dst.AddLocation(Location{ID: "new-tavern", Name: "Tavern"})
	require.NoError(t, err)

	rekeyed, skipped, err := decoded.Rekey(dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"Market"}, skipped)
	require.Len(t, rekeyed["new-tavern"], 2)
	assert.NotEqual(t, "1", rekeyed["new-tavern"][0].ID)
	assert.Equal(t, "Hi", rekeyed["new-tavern"][0].Text)
	assert.Equal(t, "Hello!", rekeyed["new-tavern"][1].Text)
}

func TestHistoryExport_RejectsUnknownVersion(t *testing.T) {
	h := &HistoryExport{Version: 2}
	_, _, err := h.Rekey(NewWorld())
	assert.Error(t, err)
}
