// Package config handles loading and parsing a simulations folder's
// hateno.conf and its sub-config files.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/JeremyHeleine/hateno-go/internal/fsys"
)

// SettingSpec describes one setting within a settings set, as listed in
// hateno.conf's "settings" array.
type SettingSpec struct {
	Name    string `json:"name"`
	Default any    `json:"default"`
	Exclude bool   `json:"exclude,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// SettingsSet groups related settings (e.g. "physics", "mesh") and says
// whether at least one values set is required when a simulation doesn't
// provide one explicitly.
type SettingsSet struct {
	Set      string        `json:"set"`
	Required bool          `json:"required,omitempty"`
	Settings []SettingSpec `json:"settings"`
}

// Config is the top-level configuration of a simulations folder, stored
// as hateno.conf.
type Config struct {
	Exec           string        `json:"exec"`
	SettingPattern string        `json:"setting_pattern"`
	Settings       []SettingsSet `json:"settings"`
	Fixers         []any         `json:"fixers,omitempty"`
	Namers         []any         `json:"namers,omitempty"`
	DefaultConfig  string        `json:"default_config,omitempty"`
	SettingsFile   string        `json:"settings_file,omitempty"`
	NamingInclude  []string      `json:"naming_options_include,omitempty"`
}

// Load reads and parses hateno.conf at path, using fs for I/O. Missing
// "fixers"/"namers" keys default to empty lists, matching the original
// implementation's lenient behavior.
func Load(fs fsys.FS, path string) (*Config, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes JSON data into a Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Fixers == nil {
		cfg.Fixers = []any{}
	}
	if cfg.Namers == nil {
		cfg.Namers = []any{}
	}
	return &cfg, nil
}

// Marshal encodes a Config to indented JSON bytes.
func (c *Config) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Recipe describes the skeletons and launcher found in a named
// configuration subfolder's recipe.json (spec §4.E "Recipe skeleton
// coordinates" — see SPEC_FULL.md §4).
type Recipe struct {
	Subgroups  []string `json:"subgroups"`
	Wholegroup []string `json:"wholegroup"`
	Launch     string   `json:"launch"`
}

// LoadRecipe reads a recipe.json file from a skeletons subfolder.
func LoadRecipe(fs fsys.FS, skeletonsDir string) (*Recipe, error) {
	data, err := fs.ReadFile(filepath.Join(skeletonsDir, "recipe.json"))
	if err != nil {
		return nil, fmt.Errorf("loading recipe %q: %w", skeletonsDir, err)
	}
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing recipe %q: %w", skeletonsDir, err)
	}
	return &r, nil
}

// NamedConfig reads a sub-config file (config/<foldername>/<name>.json).
// A missing file is not an error: it returns nil, nil, matching the
// original's lenient "config not present" semantics.
func NamedConfig(fs fsys.FS, confFolderPath, foldername, name string) (map[string]any, error) {
	path := filepath.Join(confFolderPath, "config", foldername, name+".json")
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return v, nil
}
