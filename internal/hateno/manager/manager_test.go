package manager

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/JeremyHeleine/hateno-go/internal/events"
	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/folder"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/simulation"
)

func requireTar(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar binary not available")
	}
}

// newTestManager builds a real (on-disk) simulations folder with a
// minimal hateno.conf and, when withOutputConfig is set, an "output"
// config requiring a single non-empty file, then returns a Manager over
// it plus the Folder for building simulations against its config.
func newTestManager(t *testing.T, withOutputConfig bool) (*Manager, *folder.Folder) {
	t.Helper()
	requireTar(t)

	root := t.TempDir()
	hatenoDir := filepath.Join(root, ".hateno")
	if err := os.MkdirAll(hatenoDir, 0o755); err != nil {
		t.Fatalf("creating .hateno: %v", err)
	}

	conf := map[string]any{
		"exec":            "./run.sh",
		"setting_pattern": "{name}={value}",
		"default_config":  "default",
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
	data, err := json.Marshal(conf)
	if err != nil {
		t.Fatalf("marshaling conf: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hatenoDir, "hateno.conf"), data, 0o644); err != nil {
		t.Fatalf("writing hateno.conf: %v", err)
	}

	if withOutputConfig {
		outputDir := filepath.Join(hatenoDir, "config", "default")
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			t.Fatalf("creating output config dir: %v", err)
		}
		outputConf := map[string]any{
			"files": []map[string]any{
				{"name": "result_{setting:temperature}.dat", "checks": []string{"notEmpty"}},
			},
		}
		data, err := json.Marshal(outputConf)
		if err != nil {
			t.Fatalf("marshaling output config: %v", err)
		}
		if err := os.WriteFile(filepath.Join(outputDir, "output.json"), data, 0o644); err != nil {
			t.Fatalf("writing output config: %v", err)
		}
	}

	fs := fsys.OSFS{}
	f, err := folder.Open(fs, root)
	if err != nil {
		t.Fatalf("folder.Open: %v", err)
	}

	return New(f, fs, nil), f
}

func newSim(f *folder.Folder, temperature int) *simulation.Simulation {
	return simulation.New(f.Config(), simulation.UserSettings{
		Settings: []simulation.UserSetting{
			{Set: "physics", Settings: map[string]any{"temperature": temperature}},
		},
	})
}

func TestAddFolderNotFound(t *testing.T) {
	m, f := newTestManager(t, false)
	sim := newSim(f, 300)

	err := m.Add(context.Background(), sim, filepath.Join(t.TempDir(), "does-not-exist"))
	var notFound *FolderNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Add() err = %v, want *FolderNotFoundError", err)
	}
}

func TestAddIntegrityCheckFailed(t *testing.T) {
	m, f := newTestManager(t, true)
	sim := newSim(f, 300)

	simFolder := t.TempDir()
	// No result_300.dat written: the configured notEmpty checker must fail.

	err := m.Add(context.Background(), sim, simFolder)
	var failedCheck *IntegrityCheckFailedError
	if !errors.As(err, &failedCheck) {
		t.Fatalf("Add() err = %v, want *IntegrityCheckFailedError", err)
	}
}

func TestAddDeleteRoundTrip(t *testing.T) {
	m, f := newTestManager(t, true)
	sim := newSim(f, 300)

	simFolder := t.TempDir()
	if err := os.WriteFile(filepath.Join(simFolder, "result_300.dat"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seeding output file: %v", err)
	}

	ctx := context.Background()
	if err := m.Add(ctx, sim, simFolder); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := os.Stat(simFolder); !os.IsNotExist(err) {
		t.Error("Add should have removed the source folder after archiving")
	}

	catalog, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(catalog) != 1 {
		t.Fatalf("len(catalog) = %d, want 1", len(catalog))
	}

	if err := m.Delete(ctx, sim); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	catalog, err = m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(catalog) != 0 {
		t.Fatalf("len(catalog) = %d after Delete, want 0", len(catalog))
	}
}

func TestDeleteNotFound(t *testing.T) {
	m, f := newTestManager(t, false)
	sim := newSim(f, 300)

	err := m.Delete(context.Background(), sim)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Delete() err = %v, want *NotFoundError", err)
	}
}

func TestAddExtractRoundTrip(t *testing.T) {
	m, f := newTestManager(t, true)
	sim := newSim(f, 300)

	simFolder := filepath.Join(t.TempDir(), "sim")
	if err := os.MkdirAll(simFolder, 0o755); err != nil {
		t.Fatalf("creating sim folder: %v", err)
	}
	if err := os.WriteFile(filepath.Join(simFolder, "result_300.dat"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seeding output file: %v", err)
	}

	ctx := context.Background()
	if err := m.Add(ctx, sim, simFolder); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored")
	if err := m.Extract(ctx, sim, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "result_300.dat"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q, want %q", got, "data")
	}
}

func TestExtractDestinationAlreadyExists(t *testing.T) {
	m, f := newTestManager(t, true)
	sim := newSim(f, 300)

	simFolder := t.TempDir()
	if err := os.WriteFile(filepath.Join(simFolder, "result_300.dat"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seeding output file: %v", err)
	}
	ctx := context.Background()
	if err := m.Add(ctx, sim, simFolder); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dest := t.TempDir() // already exists
	err := m.Extract(ctx, sim, dest)
	var exists *FolderAlreadyExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("Extract() err = %v, want *FolderAlreadyExistsError", err)
	}
}

func TestBatchAddClassifiesErrors(t *testing.T) {
	m, f := newTestManager(t, true)

	goodFolder := t.TempDir()
	if err := os.WriteFile(filepath.Join(goodFolder, "result_300.dat"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seeding good output file: %v", err)
	}

	entries := []BatchEntry{
		{Sim: newSim(f, 300), Folder: goodFolder},
		{Sim: newSim(f, 301), Folder: filepath.Join(t.TempDir(), "missing")},
	}

	failed, err := m.BatchAdd(context.Background(), entries)
	if err != nil {
		t.Fatalf("BatchAdd: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("len(failed) = %d, want 1", len(failed))
	}

	catalog, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(catalog) != 1 {
		t.Fatalf("len(catalog) = %d, want 1 (only the successful add)", len(catalog))
	}
}

func TestBatchExtractIgnoresExistingByDefault(t *testing.T) {
	m, f := newTestManager(t, true)
	sim := newSim(f, 300)

	simFolder := t.TempDir()
	if err := os.WriteFile(filepath.Join(simFolder, "result_300.dat"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seeding output file: %v", err)
	}
	ctx := context.Background()
	if err := m.Add(ctx, sim, simFolder); err != nil {
		t.Fatalf("Add: %v", err)
	}

	existingDest := t.TempDir()
	entries := []BatchEntry{{Sim: sim, Folder: existingDest}}

	failed, err := m.BatchExtract(ctx, entries, true)
	if err != nil {
		t.Fatalf("BatchExtract: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("len(failed) = %d, want 0 (existing destination ignored)", len(failed))
	}
}

func TestLockPreventsSecondAcquire(t *testing.T) {
	m, f := newTestManager(t, false)

	ok, err := m.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !ok {
		t.Fatal("expected the first Lock to succeed")
	}
	defer m.Unlock()

	// A second Manager over the same folder path gets its own flock file
	// descriptor, so its TryLock must observe the first one still held.
	second := New(f, fsys.OSFS{}, nil)
	ok, err = second.Lock()
	if err != nil {
		t.Fatalf("second Lock: %v", err)
	}
	if ok {
		t.Error("expected the second Lock to fail while the first is held")
	}
}

func TestEventsRecorded(t *testing.T) {
	m, f := newTestManager(t, true)
	rec := events.NewFake()
	m.rec = rec

	sim := newSim(f, 300)
	simFolder := t.TempDir()
	if err := os.WriteFile(filepath.Join(simFolder, "result_300.dat"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seeding output file: %v", err)
	}

	if err := m.Add(context.Background(), sim, simFolder); err != nil {
		t.Fatalf("Add: %v", err)
	}

	found := false
	for _, e := range rec.Events {
		if e.Type == events.ManagerAdd {
			found = true
		}
	}
	if !found {
		t.Error("expected a manager.add event to be recorded")
	}
}
