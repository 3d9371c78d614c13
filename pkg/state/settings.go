package state

import (
	"fmt"
	"strings"
)

// ResponseStyle selects how characters format their replies.
type ResponseStyle string

const (
	StyleDialogue    ResponseStyle = "dialogue"    // quoted speech only
	StyleCasual      ResponseStyle = "casual"      // *action* plus "dialogue"
	StyleDescriptive ResponseStyle = "descriptive" // prose with embedded dialogue
)

// ModelPurpose identifies which configured model a call should use.
type ModelPurpose string

const (
	PurposeCharacter     ModelPurpose = "character"
	PurposeSummarization ModelPurpose = "summarization"
	PurposeWorldbuilder  ModelPurpose = "worldbuilder"
)

const DefaultStrangerLabel = "Stranger"

// Models holds per-purpose model names. Blank entries fall back to Character.
type Models struct {
	Character     string `json:"character,omitempty"`
	Summarization string `json:"summarization,omitempty"`
	Worldbuilder  string `json:"worldbuilder,omitempty"`
}

// Profile describes the human player when profile sharing is on.
type Profile struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

// Settings are user-tunable options for generation and presentation.
// StrangerLabel is the only field changed by play.
type Settings struct {
	Temperature   *float64      `json:"temperature,omitempty"`
	TopK          *int          `json:"topK,omitempty"`
	TopP          *float64      `json:"topP,omitempty"`
	MaxTokens     int           `json:"maxTokens,omitempty"`
	Models        Models        `json:"models"`
	ResponseStyle ResponseStyle `json:"responseStyle"`
	ShareProfile  bool          `json:"shareProfile"`
	Profile       Profile       `json:"profile"`
	StrangerLabel string        `json:"strangerLabel"`
	LegacyRoster  bool          `json:"legacyRoster"` // all co-located characters are peers
}

func NewSettings() *Settings {
	return &Settings{
		ResponseStyle: StyleDescriptive,
		StrangerLabel: DefaultStrangerLabel,
	}
}

// Normalize fills defaults for blank fields.
func (s *Settings) Normalize() {
	if s.ResponseStyle == "" {
		s.ResponseStyle = StyleDescriptive
	}
	if strings.TrimSpace(s.StrangerLabel) == "" {
		s.StrangerLabel = DefaultStrangerLabel
	}
}

func (s *Settings) Validate() error {
	switch s.ResponseStyle {
	case "", StyleDialogue, StyleCasual, StyleDescriptive:
	default:
		return fmt.Errorf("invalid response style %q", s.ResponseStyle)
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if s.TopP != nil && (*s.TopP < 0 || *s.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1")
	}
	if s.TopK != nil && *s.TopK < 0 {
		return fmt.Errorf("topK must be positive")
	}
	return nil
}

// ModelFor returns the model for a purpose, falling back to the
// character model when the purpose has none configured.
func (s *Settings) ModelFor(p ModelPurpose) string {
	switch p {
	case PurposeSummarization:
		if s.Models.Summarization != "" {
			return s.Models.Summarization
		}
	case PurposeWorldbuilder:
		if s.Models.Worldbuilder != "" {
			return s.Models.Worldbuilder
		}
	}
	return s.Models.Character
}

// ProfileShared reports whether characters see the player's real identity.
func (s *Settings) ProfileShared() bool {
	return s.ShareProfile && strings.TrimSpace(s.Profile.Name) != ""
}

// UserDisplayName is the sender name used for the player's messages.
func (s *Settings) UserDisplayName() string {
	if s.ProfileShared() {
		return strings.TrimSpace(s.Profile.Name)
	}
	if strings.TrimSpace(s.StrangerLabel) == "" {
		return DefaultStrangerLabel
	}
	return s.StrangerLabel
}

// SettingsPatch is a partial settings update.
type SettingsPatch struct {
	Temperature   *float64       `json:"temperature,omitempty"`
	TopK          *int           `json:"topK,omitempty"`
	TopP          *float64       `json:"topP,omitempty"`
	MaxTokens     *int           `json:"maxTokens,omitempty"`
	Models        *Models        `json:"models,omitempty"`
	ResponseStyle *ResponseStyle `json:"responseStyle,omitempty"`
	ShareProfile  *bool          `json:"shareProfile,omitempty"`
	Profile       *Profile       `json:"profile,omitempty"`
	StrangerLabel *string        `json:"strangerLabel,omitempty"`
	LegacyRoster  *bool          `json:"legacyRoster,omitempty"`
}

func (s *Settings) Apply(p SettingsPatch) {
	if p.Temperature != nil {
		s.Temperature = p.Temperature
	}
	if p.TopK != nil {
		s.TopK = p.TopK
	}
	if p.TopP != nil {
		s.TopP = p.TopP
	}
	if p.MaxTokens != nil {
		s.MaxTokens = *p.MaxTokens
	}
	if p.Models != nil {
		s.Models = *p.Models
	}
	if p.ResponseStyle != nil {
		s.ResponseStyle = *p.ResponseStyle
	}
	if p.ShareProfile != nil {
		s.ShareProfile = *p.ShareProfile
	}
	if p.Profile != nil {
		s.Profile = *p.Profile
	}
	if p.StrangerLabel != nil {
		s.StrangerLabel = *p.StrangerLabel
	}
	if p.LegacyRoster != nil {
		s.LegacyRoster = *p.LegacyRoster
	}
	s.Normalize()
}
