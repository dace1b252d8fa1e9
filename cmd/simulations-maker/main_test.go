package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/JeremyHeleine/hateno-go/internal/events"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/maker"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/ui"
)

func TestRunMissingArgsExitsNonZero(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--settings", "settings.json", "only-one-arg"}, &stdout, &stderr); code == 0 {
		t.Error("run() with one positional arg should fail (two required)")
	}
}

func TestRunMissingSettingsFlagExitsNonZero(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"folder", "requests.json"}, &stdout, &stderr); code == 0 {
		t.Error("run() without --settings should fail, it is required")
	}
}

func TestRunUnreadableSettingsFileExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{
		"--settings", filepath.Join(dir, "missing-settings.json"),
		filepath.Join(dir, "folder"),
		filepath.Join(dir, "requests.json"),
	}, &stdout, &stderr)
	if code == 0 {
		t.Error("run() with a missing --settings file should fail")
	}
	if stderr.Len() == 0 {
		t.Error("expected an error message on stderr")
	}
}

func TestReadSettingsFileParsesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte(`{
		"generator_recipe": "default",
		"settings": {
			"generate_only": true,
			"settings_file": "reduced.json",
			"remote_base_dir": "/remote/sims"
		}
	}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := readSettingsFile(path)
	if err != nil {
		t.Fatalf("readSettingsFile: %v", err)
	}
	if got.GeneratorRecipe != "default" {
		t.Errorf("GeneratorRecipe = %q, want %q", got.GeneratorRecipe, "default")
	}
	if !got.Settings.GenerateOnly {
		t.Error("Settings.GenerateOnly = false, want true")
	}
	if got.Settings.SettingsFile != "reduced.json" {
		t.Errorf("Settings.SettingsFile = %q, want %q", got.Settings.SettingsFile, "reduced.json")
	}
	if got.Settings.RemoteBaseDir != "/remote/sims" {
		t.Errorf("Settings.RemoteBaseDir = %q, want %q", got.Settings.RemoteBaseDir, "/remote/sims")
	}
}

func TestReadSettingsFileMissingErrors(t *testing.T) {
	if _, err := readSettingsFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing settings file")
	}
}

func TestReadSettingsFileMalformedErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := readSettingsFile(path); err == nil {
		t.Fatal("expected an error for malformed settings JSON")
	}
}

func TestReadRequestsFileParsesList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.json")
	if err := os.WriteFile(path, []byte(`[
		{"folder": "sim1", "settings": {"settings": []}},
		{"folder": "sim2", "settings": {"settings": []}}
	]`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := readRequestsFile(path)
	if err != nil {
		t.Fatalf("readRequestsFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Folder != "sim1" || got[1].Folder != "sim2" {
		t.Errorf("got = %+v, want folders sim1, sim2", got)
	}
}

func TestReadRequestsFileMalformedErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := readRequestsFile(path); err == nil {
		t.Fatal("expected an error for malformed requests JSON")
	}
}

func TestWriteRequestsFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "unresolved.json")

	want, err := readRequestsFileFromBytes(t, []byte(`[{"folder": "sim1", "settings": {"settings": []}}]`))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := writeRequestsFile(path, want); err != nil {
		t.Fatalf("writeRequestsFile: %v", err)
	}

	got, err := readRequestsFile(path)
	if err != nil {
		t.Fatalf("readRequestsFile: %v", err)
	}
	if len(got) != 1 || got[0].Folder != "sim1" {
		t.Errorf("got = %+v, want one request for sim1", got)
	}
}

func readRequestsFileFromBytes(t *testing.T, data []byte) ([]maker.Request, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return readRequestsFile(path)
}

func TestOpenRecorderFallsBackToDiscardOnUnwritableFolder(t *testing.T) {
	var stderr bytes.Buffer
	// A regular file in place of the folder makes .hateno impossible to create.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rec, closeRec := openRecorder(blocked, &stderr)
	defer closeRec()
	if rec == nil {
		t.Fatal("openRecorder returned a nil recorder")
	}
	if rec != events.Discard {
		t.Errorf("openRecorder returned %T, want events.Discard", rec)
	}
}

func TestFanoutRecorderRecordsToBoth(t *testing.T) {
	a := &recordingRecorder{}
	b := &recordingRecorder{}
	fr := fanoutRecorder{a: a, b: b}

	fr.Record(events.Event{Type: events.ExtractStart})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("a.events = %d, b.events = %d, want 1 and 1", len(a.events), len(b.events))
	}
}

type recordingRecorder struct {
	events []events.Event
}

func (r *recordingRecorder) Record(e events.Event) {
	r.events = append(r.events, e)
}

func TestProgressRecorderTracksLinesAcrossCalls(t *testing.T) {
	u := ui.New(&bytes.Buffer{})
	p := newProgressRecorder(u)

	p.Record(events.Event{Type: events.ExtractStart})
	if _, ok := p.lineIDs["extract"]; !ok {
		t.Fatal("expected an \"extract\" line id to be tracked after ExtractStart")
	}

	p.Record(events.Event{Type: events.ExtractDone, Message: "done"})
	if len(p.lineIDs) != 1 {
		t.Errorf("len(lineIDs) = %d, want 1 (ExtractDone should reuse the tracked id, not drop it)", len(p.lineIDs))
	}
}
