package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/state"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running troupe API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
	Async             bool // Send turns through the queue and poll history
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 5 * time.Minute},
		Timeout:           30 * time.Second,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	if !suite.IsSequence() {
		if suite.SeedWorld == nil {
			return TestSuite{}, fmt.Errorf("%s: seed_world is required", filename)
		}
		if suite.Location == "" {
			return TestSuite{}, fmt.Errorf("%s: location is required", filename)
		}
	}
	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
// Returns a list of actual test suites (expanded from the sequence if needed)
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	// If this is not a sequence, return it as-is
	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// Recursively load (in case a sequence references another sequence)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// suiteRun holds the ids resolved for one run of a suite.
type suiteRun struct {
	tag        string
	locationID string
	locations  map[string]string // seeded name -> id
	characters map[string]string // seeded name -> id
}

// RunSuite executes a complete test suite
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
	}

	run, err := r.seedWorld(ctx, suite)
	if err != nil {
		result.Error = fmt.Errorf("failed to seed world: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.LocationID = run.locationID
	result.RunTag = run.tag

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.executeStep(ctx, run, step)
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}

		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// seedWorld imports the suite's world with every name suffixed by a
// fresh run tag, so repeated runs never merge into earlier locations.
func (r *Runner) seedWorld(ctx context.Context, suite TestSuite) (*suiteRun, error) {
	run := &suiteRun{
		tag:        uuid.New().String()[:8],
		locations:  make(map[string]string),
		characters: make(map[string]string),
	}

	if _, err := ImportWorld(ctx, r.Client, r.BaseURL, tagWorld(suite.SeedWorld, run.tag)); err != nil {
		return nil, err
	}

	locations, err := ListLocations(ctx, r.Client, r.BaseURL)
	if err != nil {
		return nil, err
	}
	for _, l := range suite.SeedWorld.Locations {
		for _, got := range locations {
			if got.Name == tagName(l.Name, run.tag) {
				run.locations[l.Name] = got.ID
			}
		}
	}

	characters, err := ListCharacters(ctx, r.Client, r.BaseURL)
	if err != nil {
		return nil, err
	}
	for _, c := range suite.SeedWorld.Characters {
		for _, got := range characters {
			if got.Name == tagName(c.Name, run.tag) {
				run.characters[c.Name] = got.ID
			}
		}
	}

	id, ok := run.locations[suite.Location]
	if !ok {
		return nil, fmt.Errorf("location %q was not seeded", suite.Location)
	}
	run.locationID = id
	return run, nil
}

func tagName(name, tag string) string {
	if name == "" {
		return ""
	}
	return name + " #" + tag
}

// tagWorld returns a copy of world with every name and name reference tagged.
func tagWorld(world *state.WorldExport, tag string) *state.WorldExport {
	out := &state.WorldExport{
		Locations:  make([]state.LocationExport, len(world.Locations)),
		Characters: make([]state.CharacterExport, len(world.Characters)),
	}
	for i, l := range world.Locations {
		l.Name = tagName(l.Name, tag)
		out.Locations[i] = l
	}
	for i, c := range world.Characters {
		c.Name = tagName(c.Name, tag)
		c.Location = tagName(c.Location, tag)
		known := make([]string, len(c.KnownCharacters))
		for j, k := range c.KnownCharacters {
			known[j] = tagName(k, tag)
		}
		c.KnownCharacters = known
		out.Characters[i] = c
	}
	return out
}

// executeStep performs a single step and checks its expectations
func (r *Runner) executeStep(ctx context.Context, run *suiteRun, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{StepName: step.Name}
	fail := func(err error) TestResult {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	var err error
	switch step.Action {
	case ActionMessage:
		err = PostMessage(ctx, r.Client, r.BaseURL, run.locationID, chat.MessageTypeUser, step.Text)
	case ActionDirector:
		err = PostMessage(ctx, r.Client, r.BaseURL, run.locationID, chat.MessageTypeDirector, step.Text)
	case ActionExposition:
		var msgs []chat.ChatMessage
		msgs, err = PostExposition(ctx, r.Client, r.BaseURL, run.locationID)
		result.ResponseText = joinText(msgs)
	case ActionTurn:
		result.ResponseText, result.RequestID, err = r.runTurn(ctx, run, step)
	default:
		err = fmt.Errorf("unknown action %q", step.Action)
	}
	if err != nil {
		return fail(err)
	}

	if err := r.checkExpectations(ctx, run, step.Expectations, result.ResponseText); err != nil {
		return fail(fmt.Errorf("expectation failed: %w", err))
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// runTurn runs one character turn and returns the dialogue it produced.
func (r *Runner) runTurn(ctx context.Context, run *suiteRun, step TestStep) (string, string, error) {
	charID, ok := run.characters[step.Character]
	if !ok {
		return "", "", fmt.Errorf("character %q was not seeded", step.Character)
	}
	req := chat.TurnRequest{
		CharacterID: charID,
		Message:     step.Text,
		Nudge:       step.Nudge,
		Async:       r.Async,
	}

	if !r.Async {
		resp, err := PostTurn(ctx, r.Client, r.BaseURL, run.locationID, req)
		if err != nil {
			return "", "", err
		}
		return joinText(fromCharacter(resp.Messages, charID)), resp.RequestID, nil
	}

	history, err := GetHistory(ctx, r.Client, r.BaseURL, run.locationID)
	if err != nil {
		return "", "", err
	}
	resp, err := PostTurn(ctx, r.Client, r.BaseURL, run.locationID, req)
	if err != nil {
		return "", "", err
	}
	msgs, err := PollForTurn(ctx, r.Client, r.BaseURL, run.locationID, charID, MessageIDs(history))
	if err != nil {
		return "", resp.RequestID, err
	}
	return joinText(msgs), resp.RequestID, nil
}

func fromCharacter(msgs []chat.ChatMessage, charID string) []chat.ChatMessage {
	var out []chat.ChatMessage
	for _, m := range msgs {
		if m.CharID == charID && m.Type == chat.MessageTypeCharacter {
			out = append(out, m)
		}
	}
	return out
}

func joinText(msgs []chat.ChatMessage) string {
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	return strings.Join(texts, "\n")
}

// checkExpectations validates the step's expectations against the live world
func (r *Runner) checkExpectations(ctx context.Context, run *suiteRun, exp Expectations, responseText string) error {
	if len(exp.CharacterLocations) > 0 || len(exp.NotesContain) > 0 || len(exp.Knows) > 0 {
		characters, err := ListCharacters(ctx, r.Client, r.BaseURL)
		if err != nil {
			return err
		}
		byID := make(map[string]state.Character, len(characters))
		for _, c := range characters {
			byID[c.ID] = c
		}
		lookup := func(name string) (state.Character, error) {
			c, ok := byID[run.characters[name]]
			if !ok {
				return state.Character{}, fmt.Errorf("expected character %s to exist, but it doesn't", name)
			}
			return c, nil
		}

		for name, wantLocation := range exp.CharacterLocations {
			c, err := lookup(name)
			if err != nil {
				return err
			}
			wantID := ""
			if wantLocation != "" {
				id, ok := run.locations[wantLocation]
				if !ok {
					return fmt.Errorf("expected location %s was not seeded", wantLocation)
				}
				wantID = id
			}
			if c.GroupChatID != wantID {
				return fmt.Errorf("expected %s to be at %q, got location id %q", name, wantLocation, c.GroupChatID)
			}
		}

		for name, wantNotes := range exp.NotesContain {
			c, err := lookup(name)
			if err != nil {
				return err
			}
			notes := strings.ToLower(strings.Join(c.Notes, "\n"))
			for _, want := range wantNotes {
				if !strings.Contains(notes, strings.ToLower(want)) {
					return fmt.Errorf("expected %s's notes to contain '%s'. Actual notes: %v", name, want, c.Notes)
				}
			}
		}

		for name, wantKnown := range exp.Knows {
			c, err := lookup(name)
			if err != nil {
				return err
			}
			for _, other := range wantKnown {
				if !slices.Contains(c.KnownCharacterIDs, run.characters[other]) {
					return fmt.Errorf("expected %s to know %s", name, other)
				}
			}
		}
	}

	if exp.HistoryMinLength != nil {
		history, err := GetHistory(ctx, r.Client, r.BaseURL, run.locationID)
		if err != nil {
			return err
		}
		if len(history) < *exp.HistoryMinLength {
			return fmt.Errorf("expected history length >= %d, got %d", *exp.HistoryMinLength, len(history))
		}
	}

	return checkResponse(exp, responseText)
}

// checkResponse validates the response text expectations
func checkResponse(exp Expectations, responseText string) error {
	if len(exp.ResponseContains) > 0 {
		lowerResponse := strings.ToLower(responseText)
		for _, expectedText := range exp.ResponseContains {
			if !strings.Contains(lowerResponse, strings.ToLower(expectedText)) {
				return fmt.Errorf("expected response to contain '%s', but it didn't", expectedText)
			}
		}
	}

	if len(exp.ResponseNotContains) > 0 {
		lowerResponse := strings.ToLower(responseText)
		for _, unexpectedText := range exp.ResponseNotContains {
			if strings.Contains(lowerResponse, strings.ToLower(unexpectedText)) {
				return fmt.Errorf("expected response to NOT contain '%s', but it did", unexpectedText)
			}
		}
	}

	if exp.ResponseRegex != "" {
		matched, err := regexp.MatchString(exp.ResponseRegex, responseText)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		if !matched {
			return fmt.Errorf("response didn't match regex pattern: %s", exp.ResponseRegex)
		}
	}

	if exp.ResponseMinLength != nil && len(responseText) < *exp.ResponseMinLength {
		return fmt.Errorf("expected response length >= %d, got %d", *exp.ResponseMinLength, len(responseText))
	}
	if exp.ResponseMaxLength != nil && len(responseText) > *exp.ResponseMaxLength {
		return fmt.Errorf("expected response length <= %d, got %d", *exp.ResponseMaxLength, len(responseText))
	}

	return nil
}
