// Package simulation represents a single simulation, identified by the
// user settings that define it, and the machinery to turn those user
// settings into the full ("raw") settings a folder's recipe needs.
package simulation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JeremyHeleine/hateno-go/internal/config"
)

// UserSetting is one set of values a user supplied for a named settings
// set (config.SettingsSet.Set).
type UserSetting struct {
	Set      string         `json:"set"`
	Settings map[string]any `json:"settings"`
}

// UserSettings is the request a caller hands in to build a Simulation:
// optional global settings plus the per-set values.
type UserSettings struct {
	Global   map[string]any `json:"-"`
	Settings []UserSetting  `json:"settings"`
}

// RawSetting is one fully-resolved setting value, carrying enough to
// render it as a command-line fragment.
type RawSetting struct {
	Name    string
	Value   any
	Exclude bool
	Pattern string
}

// Simulation is a single simulation: the folder config it belongs to,
// the user-supplied settings, and the lazily-computed raw settings
// derived from them.
type Simulation struct {
	cfg  *config.Config
	user UserSettings

	raw [][]RawSetting
}

// New builds a Simulation from a folder config and user settings.
func New(cfg *config.Config, user UserSettings) *Simulation {
	return &Simulation{cfg: cfg, user: user}
}

// Get returns a global user setting (the "globalsetting:name" tag in
// [Simulation.ParseString]).
func (s *Simulation) Get(key string) (any, bool) {
	v, ok := s.user.Global[key]
	return v, ok
}

// Set changes a global user setting.
func (s *Simulation) Set(key string, value any) {
	if s.user.Global == nil {
		s.user.Global = map[string]any{}
	}
	s.user.Global[key] = value
}

// rawSettings returns (and generates, on first use) the full list of
// settings sets, taking the folder's default values into account.
func (s *Simulation) rawSettings() [][]RawSetting {
	if s.raw == nil {
		s.generateSettings()
	}
	return s.raw
}

// generateSettings builds the full list of settings: for every settings
// set in the folder config, it starts from the default values and
// overrides them with whatever the user provided for that set. A set
// with no user-provided values is included only if the folder marks it
// required.
func (s *Simulation) generateSettings() {
	s.raw = nil
	defaultPattern := s.cfg.SettingPattern

	for _, set := range s.cfg.Settings {
		defaults := make([]RawSetting, len(set.Settings))
		for i, spec := range set.Settings {
			pattern := spec.Pattern
			if pattern == "" {
				pattern = defaultPattern
			}
			defaults[i] = RawSetting{
				Name:    spec.Name,
				Value:   spec.Default,
				Exclude: spec.Exclude,
				Pattern: pattern,
			}
		}

		var valuesSets []map[string]any
		for _, us := range s.user.Settings {
			if us.Set == set.Set {
				valuesSets = append(valuesSets, us.Settings)
			}
		}

		if len(valuesSets) > 0 {
			for _, values := range valuesSets {
				copySet := make([]RawSetting, len(defaults))
				copy(copySet, defaults)
				for i, rs := range copySet {
					if v, ok := values[rs.Name]; ok {
						rs.Value = v
						copySet[i] = rs
					}
				}
				s.raw = append(s.raw, copySet)
			}
		} else if set.Required {
			s.raw = append(s.raw, defaults)
		}
	}
}

// Settings returns the complete list of sets of settings to use, as
// name->value maps. Settings with Exclude set are omitted.
func (s *Simulation) Settings() []map[string]any {
	sets := s.rawSettings()
	out := make([]map[string]any, len(sets))
	for i, set := range sets {
		m := map[string]any{}
		for _, rs := range set {
			if !rs.Exclude {
				m[rs.Name] = rs.Value
			}
		}
		out[i] = m
	}
	return out
}

// ReducedSettings merges every settings set into one name->value map,
// ignoring multiple occurrences of the same setting (later sets win).
func (s *Simulation) ReducedSettings() map[string]any {
	out := map[string]any{}
	for _, set := range s.Settings() {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}

// SettingsAsStrings returns the complete list of sets of settings,
// rendered through each setting's pattern.
func (s *Simulation) SettingsAsStrings() [][]string {
	sets := s.rawSettings()
	out := make([][]string, len(sets))
	for i, set := range sets {
		strs := make([]string, len(set))
		for j, rs := range set {
			strs[j] = renderPattern(rs.Pattern, rs.Name, rs.Value)
		}
		out[i] = strs
	}
	return out
}

// renderPattern substitutes {name} and {value} in a pattern, the way
// Python's str.format(name=..., value=...) does for the two named
// fields this pattern language uses.
func renderPattern(pattern, name string, value any) string {
	r := strings.NewReplacer(
		"{name}", name,
		"{value}", fmt.Sprint(value),
	)
	return r.Replace(pattern)
}

// CommandLine returns the command line to use to generate this
// simulation: the folder's exec plus every rendered setting string, in
// settings-set order.
func (s *Simulation) CommandLine() string {
	parts := []string{s.cfg.Exec}
	for _, strs := range s.SettingsAsStrings() {
		parts = append(parts, strs...)
	}
	return strings.Join(parts, " ")
}

var settingTagRegex = regexp.MustCompile(`\{(global)?setting:([^}]+)\}`)

// ParseString replaces {setting:name} and {globalsetting:name} tags in
// s with the corresponding values. An unresolved tag is left untouched,
// exactly like the original's safe lookup.
func (s *Simulation) ParseString(str string) string {
	reduced := s.ReducedSettings()
	return settingTagRegex.ReplaceAllStringFunc(str, func(match string) string {
		groups := settingTagRegex.FindStringSubmatch(match)
		global, name := groups[1] == "global", groups[2]
		if global {
			if v, ok := s.user.Global[name]; ok {
				return fmt.Sprint(v)
			}
			return match
		}
		if v, ok := reduced[name]; ok {
			return fmt.Sprint(v)
		}
		return match
	})
}
