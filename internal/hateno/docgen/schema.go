// Package docgen generates JSON Schema documents from Hateno's Go config
// structs, so hateno.conf and its sub-config files have a machine-checkable
// shape without hand-maintaining it separately from the Go types that parse
// them.
package docgen

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/JeremyHeleine/hateno-go/internal/config"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/maker"
)

// ModuleRoot finds the repository root by walking up from the current
// directory looking for go.mod.
func ModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent of %s", dir)
		}
		dir = parent
	}
}

// newReflector builds a jsonschema.Reflector with Go doc comments resolved
// against the module's source tree, matching struct field names by their
// "json" tag.
//
// AddGoComments needs the working directory at the module root so the
// filepath walk it performs maps back to this module's import path; the
// caller's cwd is restored afterwards.
func newReflector() (*jsonschema.Reflector, error) {
	root, err := ModuleRoot()
	if err != nil {
		return nil, err
	}

	orig, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	if err := os.Chdir(root); err != nil {
		return nil, fmt.Errorf("chdir to module root: %w", err)
	}
	defer func() { _ = os.Chdir(orig) }()

	r := &jsonschema.Reflector{}
	if err := r.AddGoComments("github.com/JeremyHeleine/hateno-go", "."); err != nil {
		return nil, fmt.Errorf("extracting Go comments: %w", err)
	}
	return r, nil
}

// GenerateConfigSchema produces a JSON Schema for hateno.conf.
func GenerateConfigSchema() (*jsonschema.Schema, error) {
	r, err := newReflector()
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&config.Config{})
	s.Title = "Hateno Folder Configuration"
	s.Description = "Schema for hateno.conf — the top-level configuration file of a simulations folder."
	return s, nil
}

// GenerateMakerRequestSchema produces a JSON Schema for one entry of a
// simulations list, the shape fed to `simulations-maker` and consumed by
// [maker.Request].
func GenerateMakerRequestSchema() (*jsonschema.Schema, error) {
	r, err := newReflector()
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&maker.Request{})
	s.Title = "Maker Simulations Request"
	s.Description = "Schema for one entry of the simulations list file passed to simulations-maker."
	return s, nil
}

// WriteSchema writes s to path as indented JSON, via a temp file + rename
// so a reader never observes a partially-written file.
func WriteSchema(path string, s *jsonschema.Schema) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".genschema-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
