package folder

import (
	"encoding/json"
	"testing"

	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	_ "github.com/JeremyHeleine/hateno-go/internal/hateno/registry"
)

func newTestFolder(t *testing.T, confExtra map[string]any) (*Folder, *fsys.Fake) {
	t.Helper()
	fake := fsys.NewFake()

	conf := map[string]any{
		"exec":            "./run.sh",
		"setting_pattern": "{name}={value}",
		"settings":        []any{},
		"default_config":  "default",
	}
	for k, v := range confExtra {
		conf[k] = v
	}
	data, err := json.Marshal(conf)
	if err != nil {
		t.Fatalf("marshaling test conf: %v", err)
	}
	fake.Files["/sims/.hateno/hateno.conf"] = data
	fake.Dirs["/sims/.hateno"] = true

	f, err := Open(fake, "/sims")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f, fake
}

func TestOpenMissingConfFails(t *testing.T) {
	fake := fsys.NewFake()
	if _, err := Open(fake, "/sims"); err == nil {
		t.Fatal("expected error opening a folder with no hateno.conf")
	}
}

func TestOpenCreatesTmpDir(t *testing.T) {
	_, fake := newTestFolder(t, nil)
	if !fake.Dirs["/sims/.hateno/tmp"] {
		t.Error("Open did not create .hateno/tmp")
	}
}

func TestNamedConfigCachesResult(t *testing.T) {
	f, fake := newTestFolder(t, nil)
	fake.Files["/sims/.hateno/config/default/output.json"] = []byte(`{"files":[]}`)

	first, err := f.NamedConfig("output", "")
	if err != nil {
		t.Fatalf("NamedConfig: %v", err)
	}
	if first == nil {
		t.Fatal("expected a non-nil config")
	}

	callsBefore := len(fake.Calls)
	second, err := f.NamedConfig("output", "")
	if err != nil {
		t.Fatalf("NamedConfig (cached): %v", err)
	}
	if len(fake.Calls) != callsBefore {
		t.Error("NamedConfig re-read the file instead of using its cache")
	}
	if second["files"] == nil {
		t.Error("cached config lost its content")
	}
}

func TestNamedConfigMissingReturnsNil(t *testing.T) {
	f, _ := newTestFolder(t, nil)
	got, err := f.NamedConfig("output", "")
	if err != nil {
		t.Fatalf("NamedConfig: %v", err)
	}
	if got != nil {
		t.Errorf("NamedConfig() = %v, want nil for a missing sub-config", got)
	}
}

func TestConfigFilepathDefaultsToDefaultConfig(t *testing.T) {
	f, _ := newTestFolder(t, nil)
	got := f.ConfigFilepath("recipe.json", "")
	want := "/sims/.hateno/config/default/recipe.json"
	if got != want {
		t.Errorf("ConfigFilepath() = %q, want %q", got, want)
	}
}

func TestParseScriptToLaunchNoCoordinates(t *testing.T) {
	s := parseScriptToLaunch("launcher.sh")
	if s.Name != "launcher.sh" {
		t.Errorf("Name = %q, want %q", s.Name, "launcher.sh")
	}
	if s.Coords != [2]int{-1, -1} {
		t.Errorf("Coords = %v, want [-1 -1]", s.Coords)
	}
}

func TestParseScriptToLaunchWithCoordinates(t *testing.T) {
	s := parseScriptToLaunch("launcher.sh:2:5")
	if s.Name != "launcher.sh" {
		t.Errorf("Name = %q, want %q", s.Name, "launcher.sh")
	}
	if s.Coords != [2]int{2, 5} {
		t.Errorf("Coords = %v, want [2 5]", s.Coords)
	}
}

func TestParseScriptToLaunchOneCoordinate(t *testing.T) {
	s := parseScriptToLaunch("launcher.sh:3")
	if s.Name != "launcher.sh" {
		t.Errorf("Name = %q, want %q", s.Name, "launcher.sh")
	}
	if s.Coords != [2]int{3, -1} {
		t.Errorf("Coords = %v, want [3 -1]", s.Coords)
	}
}

func TestParseScriptToLaunchPathWithColons(t *testing.T) {
	s := parseScriptToLaunch("some:weird:path.sh")
	if s.Name != "some:weird:path.sh" {
		t.Errorf("Name = %q, want %q (no trailing integers to strip)", s.Name, "some:weird:path.sh")
	}
	if s.Coords != [2]int{-1, -1} {
		t.Errorf("Coords = %v, want [-1 -1]", s.Coords)
	}
}

func TestApplyFixersAppliesConfiguredFixers(t *testing.T) {
	f, _ := newTestFolder(t, map[string]any{"fixers": []any{"intFloats"}})

	got, err := f.ApplyFixers(2.0, nil, nil)
	if err != nil {
		t.Fatalf("ApplyFixers: %v", err)
	}
	if got != int64(2) {
		t.Errorf("ApplyFixers(2.0) = %v, want int64(2)", got)
	}
}
