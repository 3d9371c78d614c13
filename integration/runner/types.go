package runner

import (
	"time"

	"github.com/jwebster45206/troupe/pkg/state"
)

// Step actions
const (
	ActionMessage    = "message"
	ActionDirector   = "director"
	ActionTurn       = "turn"
	ActionExposition = "exposition"
)

// TestSuite defines a complete integration test scenario.
// It either seeds a world and runs Steps, or sequences other Cases.
type TestSuite struct {
	Name      string             `json:"name"`
	SeedWorld *state.WorldExport `json:"seed_world,omitempty"` // Used for regular tests
	Location  string             `json:"location,omitempty"`   // Seeded location name the steps run in
	Steps     []TestStep         `json:"steps,omitempty"`      // Used for regular tests
	Cases     []string           `json:"cases,omitempty"`      // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep defines a single interaction and its expected outcomes.
// Character names refer to seeded names, without the run suffix.
type TestStep struct {
	Name         string       `json:"name,omitempty"`
	Action       string       `json:"action"`
	Text         string       `json:"text,omitempty"`      // message and director text, or the turn's user message
	Character    string       `json:"character,omitempty"` // turn only
	Nudge        string       `json:"nudge,omitempty"`     // turn only
	Expectations Expectations `json:"expect"`
}

// Expectations defines what to check after a step executes
type Expectations struct {
	// World checks, keyed by seeded character name
	CharacterLocations map[string]string   `json:"character_locations,omitempty"` // "" means unassigned
	NotesContain       map[string][]string `json:"notes_contain,omitempty"`
	Knows              map[string][]string `json:"knows,omitempty"`

	// History checks for the suite's location
	HistoryMinLength *int `json:"history_min_length,omitempty"`

	// Response analysis over the dialogue the step produced
	ResponseContains    []string `json:"response_contains,omitempty"`
	ResponseNotContains []string `json:"response_not_contains,omitempty"`
	ResponseRegex       string   `json:"response_regex,omitempty"`
	ResponseMinLength   *int     `json:"response_min_length,omitempty"`
	ResponseMaxLength   *int     `json:"response_max_length,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	StepName     string
	Success      bool
	Error        error
	Duration     time.Duration
	ResponseText string
	RequestID    string
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job        TestJob
	Results    []TestResult
	Error      error
	Duration   time.Duration
	LocationID string // Seeded location the steps ran in
	RunTag     string // Suffix appended to seeded names
}
