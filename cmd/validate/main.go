package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/troupe/pkg/state"
)

func main() {
	strict := flag.BoolP("strict", "s", false, "treat warnings as errors")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [--strict] <world.json|world.yaml>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	failed := false
	for _, filename := range flag.Args() {
		validator := &WorldValidator{Strict: *strict}
		if err := validator.validateFile(filename); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			failed = true
			continue
		}
		for _, w := range validator.warnings {
			fmt.Println(w)
		}
		fmt.Printf("%s is valid (%d locations, %d characters)\n", filename, validator.locations, validator.characters)
	}
	if failed {
		os.Exit(1)
	}
}

// WorldValidator checks a world export file before it is imported.
type WorldValidator struct {
	Strict bool

	errors     []string
	warnings   []string
	locations  int
	characters int
}

func (v *WorldValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("world file must have a .json, .yaml or .yml extension: %s", filepath.Base(filename))
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return v.validate(data, ext == ".json")
}

func (v *WorldValidator) validate(data []byte, isJSON bool) error {
	v.errors, v.warnings = nil, nil

	export, err := decodeStrict(data, isJSON)
	if err != nil {
		return err
	}
	v.locations = len(export.Locations)
	v.characters = len(export.Characters)
	v.validateExport(export)

	// An import into an empty world must leave a consistent index.
	world := state.NewWorld()
	report, err := world.Import(export)
	if err != nil {
		v.addError(fmt.Sprintf("import failed: %v", err))
	} else {
		for _, w := range report.Warnings {
			v.addWarning(w)
		}
		if err := world.CheckIndex(); err != nil {
			v.addError(fmt.Sprintf("imported world is inconsistent: %v", err))
		}
	}

	if v.Strict && len(v.warnings) > 0 {
		v.errors = append(v.errors, v.warnings...)
		v.warnings = nil
	}
	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors:\n%s", strings.Join(v.errors, "\n"))
	}
	return nil
}

// decodeStrict rejects unknown fields, which state.DecodeWorldExport
// tolerates.
func decodeStrict(data []byte, isJSON bool) (*state.WorldExport, error) {
	var out state.WorldExport
	if isJSON {
		if !json.Valid(data) {
			return nil, fmt.Errorf("file contains invalid JSON")
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("failed strict JSON unmarshaling: %w", err)
		}
		return &out, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed strict YAML unmarshaling: %w", err)
	}
	return &out, nil
}

func (v *WorldValidator) validateExport(export *state.WorldExport) {
	locations := make(map[string]bool, len(export.Locations))
	for i, l := range export.Locations {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			v.addError(fmt.Sprintf("location #%d has no name", i+1))
			continue
		}
		if locations[name] {
			v.addWarning(fmt.Sprintf("location %q is listed more than once", name))
		}
		locations[name] = true
	}

	characters := make(map[string]bool, len(export.Characters))
	for i, c := range export.Characters {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			v.addError(fmt.Sprintf("character #%d has no name", i+1))
			continue
		}
		if characters[name] {
			v.addWarning(fmt.Sprintf("character %q is listed more than once", name))
		}
		characters[name] = true
	}

	for _, c := range export.Characters {
		for _, known := range c.KnownCharacters {
			if !characters[strings.TrimSpace(known)] {
				v.addWarning(fmt.Sprintf("character %q knows unknown character %q", c.Name, known))
			}
		}
	}
}

func (v *WorldValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

func (v *WorldValidator) addWarning(msg string) {
	v.warnings = append(v.warnings, "  ! "+msg)
}
