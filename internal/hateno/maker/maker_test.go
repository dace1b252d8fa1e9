package maker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/folder"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/job"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/remote"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/simulation"
)

func requireTar(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar binary not available")
	}
}

// newTestFolder builds a real on-disk simulations folder with a
// "physics" settings set, a generator config + skeleton rendering a
// single-file job log, and (optionally) an output config requiring a
// non-empty result file.
func newTestFolder(t *testing.T, withOutputConfig bool) *folder.Folder {
	t.Helper()

	root := t.TempDir()
	hatenoDir := filepath.Join(root, ".hateno")
	if err := os.MkdirAll(filepath.Join(hatenoDir, "config", "default"), 0o755); err != nil {
		t.Fatalf("creating config dir: %v", err)
	}

	conf := map[string]any{
		"exec":            "./run.sh",
		"setting_pattern": "{name}={value}",
		"default_config":  "default",
		"settings_file":   "settings.json",
		"settings": []map[string]any{
			{
				"set":      "physics",
				"required": true,
				"settings": []map[string]any{
					{"name": "temperature", "default": 300},
				},
			},
		},
	}
	writeJSON(t, filepath.Join(hatenoDir, "hateno.conf"), conf)

	generatorConf := map[string]any{
		"skeleton_filename": "skel.sh",
		"launch_filename":   "launch.sh",
		"log_filename":      "job.log",
		"n_exec":            1,
	}
	writeJSON(t, filepath.Join(hatenoDir, "config", "default", "generator.json"), generatorConf)
	writeJSON(t, filepath.Join(hatenoDir, "config", "default", "maker.json"), map[string]any{
		"max_corrupted": 0,
		"max_failures":  0,
	})

	if err := os.WriteFile(
		filepath.Join(hatenoDir, "config", "default", "skel.sh"),
		[]byte("#!/bin/sh\n### BEGIN_EXEC ###\nrun_one $LOG_FILENAME\n### END_EXEC ###\ntrue\n"),
		0o644,
	); err != nil {
		t.Fatalf("writing skeleton: %v", err)
	}

	if withOutputConfig {
		outputConf := map[string]any{
			"files": []map[string]any{
				{"name": "result_{setting:temperature}.dat", "checks": []string{"notEmpty"}},
			},
		}
		writeJSON(t, filepath.Join(hatenoDir, "config", "default", "output.json"), outputConf)
	}

	f, err := folder.Open(fsys.OSFS{}, root)
	if err != nil {
		t.Fatalf("folder.Open: %v", err)
	}
	return f
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func newRequest(folder string, temperature int) Request {
	return Request{
		Folder: folder,
		Settings: simulation.UserSettings{
			Settings: []simulation.UserSetting{
				{Set: "physics", Settings: map[string]any{"temperature": temperature}},
			},
		},
	}
}

// instantRemote wraps a real Local transport but makes Execute write a
// fully successful job log immediately, so WAIT's first poll already
// observes completion — letting tests exercise the whole loop without
// actually running a job-dispatch socket protocol.
type instantRemote struct {
	*remote.Local
}

func (r instantRemote) Execute(command string) ([]byte, error) {
	dir := filepath.Dir(command)
	data, err := os.ReadFile(filepath.Join(dir, "command_lines.json"))
	if err != nil {
		return nil, err
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, err
	}

	log := make([]job.LogEntry, len(lines))
	for i, l := range lines {
		log[i] = job.LogEntry{Exec: l, Success: true}
	}
	out, err := json.MarshalIndent(log, "", "\t")
	if err != nil {
		return nil, err
	}
	return out, os.WriteFile(filepath.Join(dir, "job.log"), out, 0o644)
}

func TestBudgetExceededUnboundedByDefaultCorruption(t *testing.T) {
	m := &Maker{maxCorrupted: -1, maxFailures: 0}
	m.corruptions = 1000
	if m.budgetExceeded() {
		t.Error("negative max_corrupted should never exceed")
	}
}

func TestBudgetExceededOnFailureDefault(t *testing.T) {
	m := &Maker{maxCorrupted: -1, maxFailures: 0}
	m.failures = 1
	if !m.budgetExceeded() {
		t.Error("expected the default max_failures=0 budget to be exceeded after one failure")
	}
}

func TestBudgetExceededWithinCorruptionLimit(t *testing.T) {
	m := &Maker{maxCorrupted: 2, maxFailures: -1}
	m.corruptions = 2
	if m.budgetExceeded() {
		t.Error("corruptions == max_corrupted should not exceed yet")
	}
	m.corruptions = 3
	if !m.budgetExceeded() {
		t.Error("corruptions > max_corrupted should exceed")
	}
}

func TestSaveStateRequiresPaused(t *testing.T) {
	f := newTestFolder(t, false)
	m, err := New(f, fsys.OSFS{}, remote.NewLocal(), nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.SaveState(filepath.Join(t.TempDir(), "state.json")); !errors.Is(err, ErrNotPaused) {
		t.Errorf("SaveState() err = %v, want ErrNotPaused", err)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	f := newTestFolder(t, false)
	m, err := New(f, fsys.OSFS{}, remote.NewLocal(), nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Resume(context.Background()); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume() err = %v, want ErrNotPaused", err)
	}
}

func TestRunFailsWhilePaused(t *testing.T) {
	f := newTestFolder(t, false)
	m, err := New(f, fsys.OSFS{}, remote.NewLocal(), nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.paused = true
	if _, err := m.Run(context.Background(), nil); !errors.Is(err, ErrPaused) {
		t.Errorf("Run() err = %v, want ErrPaused", err)
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	f := newTestFolder(t, false)
	m, err := New(f, fsys.OSFS{}, remote.NewLocal(), nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := newRequest(filepath.Join(t.TempDir(), "dest"), 310)
	m.paused = true
	m.state = &loopState{
		remaining:       []Request{req},
		phase:           "wait",
		scriptsDir:      "/remote/scripts",
		simulationsRoot: "/remote/simulations_abc",
		logPath:         "/remote/scripts/job.log",
		assigned:        []assignment{{Request: req, RemoteFolder: "/remote/simulations_abc/0"}},
	}
	m.corruptions = 2
	m.failures = 1

	statePath := filepath.Join(t.TempDir(), "state.json")
	if err := m.SaveState(statePath); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, err := New(f, fsys.OSFS{}, remote.NewLocal(), nil, Options{})
	if err != nil {
		t.Fatalf("New (loaded): %v", err)
	}
	if err := loaded.LoadState(statePath); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	if !loaded.Paused() {
		t.Fatal("expected LoadState to leave the Maker paused")
	}
	if loaded.corruptions != 2 || loaded.failures != 1 {
		t.Errorf("counters = (%d, %d), want (2, 1)", loaded.corruptions, loaded.failures)
	}
	if loaded.state.logPath != "/remote/scripts/job.log" {
		t.Errorf("logPath = %q, want the saved path", loaded.state.logPath)
	}
	if len(loaded.state.remaining) != 1 || loaded.state.remaining[0].Folder != req.Folder {
		t.Errorf("remaining requests did not round-trip: %+v", loaded.state.remaining)
	}
	if len(loaded.state.assigned) != 1 || loaded.state.assigned[0].RemoteFolder != "/remote/simulations_abc/0" {
		t.Errorf("assignments did not round-trip: %+v", loaded.state.assigned)
	}
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	f := newTestFolder(t, false)
	m, err := New(f, fsys.OSFS{}, remote.NewLocal(), nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(bad, []byte("not json"), 0o644); err != nil {
		t.Fatalf("writing garbage state: %v", err)
	}
	if err := m.LoadState(bad); !errors.Is(err, ErrStateWrongFormat) {
		t.Errorf("LoadState() err = %v, want ErrStateWrongFormat", err)
	}
}

func TestRunReturnsEmptyWhenEverythingAlreadyKnown(t *testing.T) {
	requireTar(t)
	f := newTestFolder(t, true)
	m, err := New(f, fsys.OSFS{}, remote.NewLocal(), nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sim := simulation.New(f.Config(), simulation.UserSettings{
		Settings: []simulation.UserSetting{{Set: "physics", Settings: map[string]any{"temperature": 300}}},
	})
	seedFolder := t.TempDir()
	if err := os.WriteFile(filepath.Join(seedFolder, "result_300.dat"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seeding output: %v", err)
	}
	if err := m.mgr.Add(context.Background(), sim, seedFolder); err != nil {
		t.Fatalf("seeding catalog: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "dest")
	remaining, err := m.Run(context.Background(), []Request{newRequest(dest, 300)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %v, want empty", remaining)
	}

	if _, err := os.Stat(filepath.Join(dest, "result_300.dat")); err != nil {
		t.Errorf("expected the catalog entry to be extracted into dest: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "settings.json")); err != nil {
		t.Errorf("expected a per-simulation settings file: %v", err)
	}
}

func TestRunIntegrationHappyPath(t *testing.T) {
	requireTar(t)
	f := newTestFolder(t, true)
	rt := instantRemote{Local: remote.NewLocal()}
	m, err := New(f, fsys.OSFS{}, rt, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "dest")
	remaining, err := m.Run(context.Background(), []Request{newRequest(dest, 310)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The generated skeleton never actually produces result_310.dat, so
	// the configured output checker fails and the simulation is counted
	// as corrupted rather than registered. The fixture's max_corrupted=0
	// means that single corruption already exceeds budget on the next
	// pass through the loop, so Run terminates after one iteration and
	// hands the still-unsatisfied request back.
	if len(remaining) != 1 {
		t.Fatalf("remaining = %v, want exactly the unproduced request", remaining)
	}
	if remaining[0].Folder != dest {
		t.Errorf("remaining[0].Folder = %q, want %q", remaining[0].Folder, dest)
	}
}

