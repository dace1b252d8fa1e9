// Package manager keeps a simulations folder's catalog: the mapping of
// archive name to settings for every simulation that has been stored,
// and the add/delete/extract operations that keep an output folder and
// that mapping in sync. One archive name, computed by
// internal/hateno/identity, names one entry on both sides.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/JeremyHeleine/hateno-go/internal/events"
	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/archive"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/folder"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/identity"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/registry"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/simulation"
	"github.com/JeremyHeleine/hateno-go/internal/telemetry"
)

// FolderNotFoundError is returned by Add when a simulation's output
// folder does not exist.
type FolderNotFoundError struct{ Folder string }

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("manager: simulation folder %q not found", e.Folder)
}

// IntegrityCheckFailedError is returned by Add when at least one
// configured checker rejected the simulation's output.
type IntegrityCheckFailedError struct{ Folder string }

func (e *IntegrityCheckFailedError) Error() string {
	return fmt.Sprintf("manager: integrity check failed for %q", e.Folder)
}

// NotFoundError is returned by Delete and Extract when no catalog entry
// matches the simulation's archive name.
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("manager: simulation %q not found in catalog", e.Name)
}

// FolderAlreadyExistsError is returned by Extract when its destination
// already exists.
type FolderAlreadyExistsError struct{ Folder string }

func (e *FolderAlreadyExistsError) Error() string {
	return fmt.Sprintf("manager: destination folder %q already exists", e.Folder)
}

// Manager owns one simulations folder's catalog and the archives it
// refers to. Not safe for concurrent use from multiple processes beyond
// what [Manager.Lock] already guards against: it marks one running
// instance, it doesn't serialize catalog writes across instances.
type Manager struct {
	folder *folder.Folder
	fs     fsys.FS
	rec    events.Recorder
	lock   *flock.Flock

	catalog map[string]string
	loaded  bool
}

// New builds a Manager over folder. A nil rec discards every event.
func New(f *folder.Folder, fs fsys.FS, rec events.Recorder) *Manager {
	if rec == nil {
		rec = events.Discard
	}
	return &Manager{
		folder: f,
		fs:     fs,
		rec:    rec,
		lock:   flock.New(f.RunningManagerIndicatorFilename()),
	}
}

// Lock marks this folder as having a running manager, so that other
// tools (the Maker in particular) can tell one is active. It reports
// false, not an error, if another instance already holds the lock.
func (m *Manager) Lock() (bool, error) {
	return m.lock.TryLock()
}

// Unlock releases the presence marker acquired by Lock.
func (m *Manager) Unlock() error {
	return m.lock.Unlock()
}

// catalogMap returns (loading on first use) the name->settings mapping
// backing the catalog.
func (m *Manager) catalogMap() (map[string]string, error) {
	if m.loaded {
		return m.catalog, nil
	}

	data, err := m.fs.ReadFile(m.folder.SimulationsListFilename())
	if err != nil {
		if os.IsNotExist(err) {
			m.catalog = map[string]string{}
			m.loaded = true
			return m.catalog, nil
		}
		return nil, fmt.Errorf("manager: reading catalog: %w", err)
	}

	c := map[string]string{}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("manager: parsing catalog: %w", err)
	}
	m.catalog = c
	m.loaded = true
	return m.catalog, nil
}

// saveCatalog writes the in-memory catalog to disk atomically: write to
// a temp file alongside the destination, then rename over it.
func (m *Manager) saveCatalog() error {
	data, err := json.MarshalIndent(m.catalog, "", "\t")
	if err != nil {
		return fmt.Errorf("manager: encoding catalog: %w", err)
	}

	dst := m.folder.SimulationsListFilename()
	tmp := dst + ".tmp"
	if err := m.fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manager: writing catalog: %w", err)
	}
	if err := m.fs.Rename(tmp, dst); err != nil {
		return fmt.Errorf("manager: committing catalog: %w", err)
	}
	return nil
}

// List returns every catalog entry: archive name to its canonical
// settings JSON.
func (m *Manager) List() (map[string]string, error) {
	c, err := m.catalogMap()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out, nil
}

// archivePath is where the archive for name lives: directly under the
// simulations folder's root, alongside its .hateno configuration
// directory.
func (m *Manager) archivePath(name string) string {
	return filepath.Join(m.folder.Path(), name+".tar.bz2")
}

// checkIntegrity applies every checker configured in the "output" named
// config against simFolder, stopping at the first failure. A folder
// with no "output" config passes unconditionally.
func (m *Manager) checkIntegrity(sim *simulation.Simulation, simFolder string) (bool, error) {
	output, err := m.folder.NamedConfig("output", "")
	if err != nil {
		return false, err
	}
	if output == nil {
		return true, nil
	}

	reduced := sim.ReducedSettings()
	tree := map[string][]string{}

	for _, entry := range []struct {
		key  string
		kind registry.CheckKind
	}{
		{"files", registry.FileCheck},
		{"folders", registry.FolderCheck},
	} {
		raw, ok := output[entry.key]
		if !ok {
			continue
		}
		items, ok := raw.([]any)
		if !ok {
			continue
		}

		names := make([]string, 0, len(items))
		for _, item := range items {
			spec, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rawName, _ := spec["name"].(string)
			name := sim.ParseString(rawName)
			names = append(names, name)

			checks, _ := spec["checks"].([]any)
			for _, c := range checks {
				checkerName, _ := c.(string)
				checker, err := registry.GetChecker(entry.kind, checkerName)
				if err != nil {
					return false, err
				}
				ok, err := checker(registry.CheckInput{Folder: simFolder, Settings: reduced, Target: name})
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
		}
		tree[entry.key] = names
	}

	if checks, ok := output["checks"].([]any); ok {
		for _, c := range checks {
			checkerName, _ := c.(string)
			checker, err := registry.GetChecker(registry.GlobalCheck, checkerName)
			if err != nil {
				return false, err
			}
			ok, err := checker(registry.CheckInput{Folder: simFolder, Settings: reduced, Tree: tree})
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}

	return true, nil
}

// CheckIntegrity runs sim's configured output checkers against
// simFolder without archiving anything, for callers (the Maker's
// generate_only DOWNLOAD step) that need the verdict without also
// registering the simulation in the catalog.
func (m *Manager) CheckIntegrity(sim *simulation.Simulation, simFolder string) (bool, error) {
	return m.checkIntegrity(sim, simFolder)
}

// Add archives simFolder's contents under sim's archive name and
// records the entry in the catalog, removing simFolder once the
// archive is written. It fails with [FolderNotFoundError] if simFolder
// does not exist, or [IntegrityCheckFailedError] if a configured
// checker rejects its contents.
func (m *Manager) Add(ctx context.Context, sim *simulation.Simulation, simFolder string) error {
	return m.add(ctx, sim, simFolder, true)
}

func (m *Manager) add(ctx context.Context, sim *simulation.Simulation, simFolder string, saveList bool) error {
	if info, err := os.Stat(simFolder); err != nil || !info.IsDir() {
		err := &FolderNotFoundError{Folder: simFolder}
		telemetry.RecordManagerAdd(ctx, err)
		return err
	}

	ok, err := m.checkIntegrity(sim, simFolder)
	if err != nil {
		return err
	}
	if !ok {
		err := &IntegrityCheckFailedError{Folder: simFolder}
		telemetry.RecordManagerAdd(ctx, err)
		return err
	}

	canonical := identity.CanonicalSettings(sim.Settings())
	name, err := identity.Hash(canonical)
	if err != nil {
		return err
	}
	settingsJSON, err := identity.CanonicalJSON(canonical)
	if err != nil {
		return err
	}

	if err := archive.Compress(ctx, m.archivePath(name), simFolder); err != nil {
		return err
	}
	if err := m.fs.RemoveAll(simFolder); err != nil {
		return err
	}

	catalog, err := m.catalogMap()
	if err != nil {
		return err
	}
	catalog[name] = string(settingsJSON)

	if saveList {
		if err := m.saveCatalog(); err != nil {
			return err
		}
	}

	m.rec.Record(events.Event{Type: events.ManagerAdd, Subject: name})
	telemetry.RecordManagerAdd(ctx, nil)
	return nil
}

// Delete removes sim's archive and its catalog entry. It fails with
// [NotFoundError] if no entry matches sim's archive name.
func (m *Manager) Delete(ctx context.Context, sim *simulation.Simulation) error {
	return m.delete(ctx, sim, true)
}

func (m *Manager) delete(ctx context.Context, sim *simulation.Simulation, saveList bool) error {
	name, err := identity.Hash(identity.CanonicalSettings(sim.Settings()))
	if err != nil {
		return err
	}

	catalog, err := m.catalogMap()
	if err != nil {
		return err
	}
	if _, ok := catalog[name]; !ok {
		err := &NotFoundError{Name: name}
		telemetry.RecordManagerDelete(ctx, err)
		return err
	}

	if err := m.fs.RemoveAll(m.archivePath(name)); err != nil {
		return err
	}
	delete(catalog, name)

	if saveList {
		if err := m.saveCatalog(); err != nil {
			return err
		}
	}

	m.rec.Record(events.Event{Type: events.ManagerDelete, Subject: name})
	telemetry.RecordManagerDelete(ctx, nil)
	return nil
}

// Extract unpacks sim's archive into destFolder, which must not already
// exist. It fails with [NotFoundError] if no catalog entry matches, or
// [FolderAlreadyExistsError] if destFolder is already there.
func (m *Manager) Extract(ctx context.Context, sim *simulation.Simulation, destFolder string) error {
	name, err := identity.Hash(identity.CanonicalSettings(sim.Settings()))
	if err != nil {
		return err
	}

	catalog, err := m.catalogMap()
	if err != nil {
		return err
	}
	if _, ok := catalog[name]; !ok {
		err := &NotFoundError{Name: name}
		telemetry.RecordManagerExtract(ctx, err)
		return err
	}

	if _, err := os.Stat(destFolder); err == nil {
		err := &FolderAlreadyExistsError{Folder: destFolder}
		telemetry.RecordManagerExtract(ctx, err)
		return err
	}

	if err := m.fs.MkdirAll(destFolder, 0o755); err != nil {
		return err
	}
	if err := archive.Extract(ctx, m.archivePath(name), destFolder); err != nil {
		return err
	}

	m.rec.Record(events.Event{Type: events.ManagerExtract, Subject: name})
	telemetry.RecordManagerExtract(ctx, nil)
	return nil
}

// BatchEntry pairs a simulation with the local folder an Add or Extract
// call needs: the source to archive, or the destination to extract
// into. Unused for BatchDelete.
type BatchEntry struct {
	Sim    *simulation.Simulation
	Folder string
}

// BatchAdd adds every entry, saving the catalog once at the end.
// Entries whose Add call fails with [FolderNotFoundError] or
// [IntegrityCheckFailedError] are returned in failed rather than
// aborting the batch; any other error aborts it immediately.
func (m *Manager) BatchAdd(ctx context.Context, entries []BatchEntry) (failed []BatchEntry, err error) {
	for _, e := range entries {
		addErr := m.add(ctx, e.Sim, e.Folder, false)
		if addErr == nil {
			continue
		}

		var notFound *FolderNotFoundError
		var failedCheck *IntegrityCheckFailedError
		switch {
		case errors.As(addErr, &notFound), errors.As(addErr, &failedCheck):
			failed = append(failed, e)
		default:
			return failed, addErr
		}
	}

	if err := m.saveCatalog(); err != nil {
		return failed, err
	}
	return failed, nil
}

// BatchDelete deletes every entry's simulation, saving the catalog once
// at the end. Entries whose Delete call fails with [NotFoundError] are
// returned in failed rather than aborting the batch.
func (m *Manager) BatchDelete(ctx context.Context, entries []BatchEntry) (failed []BatchEntry, err error) {
	for _, e := range entries {
		delErr := m.delete(ctx, e.Sim, false)
		if delErr == nil {
			continue
		}

		var notFound *NotFoundError
		if errors.As(delErr, &notFound) {
			failed = append(failed, e)
			continue
		}
		return failed, delErr
	}

	if err := m.saveCatalog(); err != nil {
		return failed, err
	}
	return failed, nil
}

// BatchExtract extracts every entry. When ignoreExisting is true, an
// entry whose destination already exists is silently skipped rather
// than counted as a failure; when false, it is added to failed like any
// other error.
func (m *Manager) BatchExtract(ctx context.Context, entries []BatchEntry, ignoreExisting bool) (failed []BatchEntry, err error) {
	for _, e := range entries {
		extractErr := m.Extract(ctx, e.Sim, e.Folder)
		if extractErr == nil {
			continue
		}

		var notFound *NotFoundError
		var exists *FolderAlreadyExistsError
		switch {
		case errors.As(extractErr, &notFound):
			failed = append(failed, e)
		case errors.As(extractErr, &exists):
			if !ignoreExisting {
				failed = append(failed, e)
			}
		default:
			return failed, extractErr
		}
	}
	return failed, nil
}
