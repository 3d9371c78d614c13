package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/troupe/pkg/state"
)

// Builder assembles a character's system prompt using a fluent interface.
// Output is deterministic for the same inputs.
type Builder struct {
	character *state.Character
	location  *state.Location
	world     *state.World
	settings  *state.Settings
}

// New creates a new persona builder.
func New() *Builder {
	return &Builder{}
}

// WithCharacter sets the acting character.
func (b *Builder) WithCharacter(c *state.Character) *Builder {
	b.character = c
	return b
}

// WithLocation sets the location the turn takes place in.
func (b *Builder) WithLocation(l *state.Location) *Builder {
	b.location = l
	return b
}

// WithWorld sets the character and location universe.
func (b *Builder) WithWorld(w *state.World) *Builder {
	b.world = w
	return b
}

// WithSettings sets user settings (style, profile, stranger label).
func (b *Builder) WithSettings(s *state.Settings) *Builder {
	b.settings = s
	return b
}

// Build returns the system prompt.
func (b *Builder) Build() (string, error) {
	if b.character == nil {
		return "", fmt.Errorf("character is required")
	}
	if b.location == nil {
		return "", fmt.Errorf("location is required")
	}
	if b.world == nil {
		return "", fmt.Errorf("world is required")
	}
	settings := b.settings
	if settings == nil {
		settings = state.NewSettings()
	}

	sections := []string{
		b.identitySection(),
		b.locationSection(),
		b.travelSection(),
		b.rosterSection(settings.LegacyRoster),
		b.notesSection(),
		b.quotesSection(),
		userSection(settings),
		fmt.Sprintf(HouseRules, b.character.Name, ToolMoveToLocation, ToolTakeNote, ToolSetUserName),
		StyleDirective(settings.ResponseStyle),
	}

	var parts []string
	for _, s := range sections {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (b *Builder) identitySection() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are %s, a character in a shared roleplay.", b.character.Name))
	if d := strings.TrimSpace(b.character.Description); d != "" {
		sb.WriteString("\n\n### Who you are\n")
		sb.WriteString(d)
	}
	return sb.String()
}

func (b *Builder) locationSection() string {
	var sb strings.Builder
	sb.WriteString("### Where you are\n")
	sb.WriteString(b.location.Name)
	if d := strings.TrimSpace(b.location.Description); d != "" {
		sb.WriteString(": " + d)
	}
	for _, line := range b.location.Exposition {
		if line = strings.TrimSpace(line); line != "" {
			sb.WriteString("\n" + line)
		}
	}
	return sb.String()
}

func (b *Builder) travelSection() string {
	var names []string
	for _, l := range b.world.Locations {
		if l.ID != b.location.ID {
			names = append(names, l.Name)
		}
	}
	if len(names) == 0 {
		return "### Other places\nThere is nowhere else to go."
	}
	return "### Other places\n" + strings.Join(names, ", ")
}

// Peers returns the characters the acting character is aware of here.
// In legacy mode that is everyone co-located; otherwise co-located
// characters whose id is in the known set.
func (b *Builder) Peers(legacy bool) []state.Character {
	var out []state.Character
	for _, other := range b.world.Characters {
		if other.ID == b.character.ID || !b.location.HasCharacter(other.ID) {
			continue
		}
		if !legacy && !b.character.Knows(other.ID) {
			continue
		}
		out = append(out, other)
	}
	return out
}

func (b *Builder) rosterSection(legacy bool) string {
	peers := b.Peers(legacy)
	if len(peers) == 0 {
		return "### People you know here\nNo one you know is here."
	}
	var sb strings.Builder
	sb.WriteString("### People you know here")
	for _, p := range peers {
		sb.WriteString("\n- " + p.Name)
		if d := strings.TrimSpace(p.Description); d != "" {
			sb.WriteString(": " + d)
		}
	}
	return sb.String()
}

func (b *Builder) notesSection() string {
	if len(b.character.Notes) == 0 {
		return "### Your notes\n" + NotesPlaceholder
	}
	return "### Your notes\n- " + strings.Join(b.character.Notes, "\n- ")
}

func (b *Builder) quotesSection() string {
	if len(b.character.Quotes) == 0 {
		return ""
	}
	return "### How you talk\n- " + strings.Join(b.character.Quotes, "\n- ")
}

func userSection(s *state.Settings) string {
	if s.ProfileShared() {
		return "### The human\n" + strings.TrimSpace(fmt.Sprintf(KnownUserInstructions, strings.TrimSpace(s.Profile.Name), s.Profile.Bio))
	}
	return "### The human\n" + fmt.Sprintf(StrangerInstructions, s.UserDisplayName())
}
