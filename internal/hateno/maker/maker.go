// Package maker drives one batch of simulations through the
// EXTRACT → GENERATE → WAIT → DOWNLOAD → CLEANUP_SCRIPTS loop: it asks
// the Manager what it already has, hands the rest to the Generator and
// a remote transport, polls the resulting job log, and registers
// whatever comes back. Corruption and failure budgets bound how many
// loop iterations are spent retrying before giving up on the remainder.
package maker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JeremyHeleine/hateno-go/internal/events"
	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/folder"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/generator"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/job"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/manager"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/remote"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/simulation"
	"github.com/JeremyHeleine/hateno-go/internal/telemetry"
)

// ErrPaused is returned by Run when the Maker is already paused.
var ErrPaused = errors.New("maker: already paused")

// ErrNotPaused is returned by Resume and SaveState when the Maker isn't
// currently paused.
var ErrNotPaused = errors.New("maker: not paused")

// ErrStateWrongFormat is returned by LoadState when the saved state
// can't be parsed.
var ErrStateWrongFormat = errors.New("maker: saved state has wrong format")

const waitPollInterval = 500 * time.Millisecond

// Request is one simulation the caller wants produced: the destination
// folder its files should appear in, and the user settings identifying
// it.
type Request struct {
	Folder   string                  `json:"folder"`
	Settings simulation.UserSettings `json:"settings"`
}

// Options tunes the loop's behavior beyond what hateno.conf's "maker"
// sub-config already controls (max_corrupted/max_failures).
type Options struct {
	// ConfigName selects the named config set (generator/skeleton) used
	// to render launch scripts. Empty uses the folder's default_config.
	ConfigName string

	// GenerateOnly skips catalog archiving: a generated simulation that
	// passes its integrity check is moved straight to its requested
	// destination folder instead of being handed to Manager.add, and
	// EXTRACT only treats a destination as already satisfied when that
	// folder exists on disk.
	GenerateOnly bool

	// SettingsFile, if non-empty, overrides hateno.conf's settings_file
	// entry for where to write each simulation's reduced settings
	// inside its destination folder (EXTRACT writes it, and so does
	// DOWNLOAD in generate_only mode). Empty falls back to the folder config, and no file is
	// written when neither is set.
	SettingsFile string

	// RemoteBaseDir is the directory on the remote host under which
	// scratch scripts and per-simulation work folders are created.
	// Empty mirrors the local scratch path directly, which is correct
	// whenever the transport is [remote.Local].
	RemoteBaseDir string
}

// assignment pairs a Request with the remote work folder the Generator
// assigned it for one GENERATE/WAIT/DOWNLOAD cycle.
type assignment struct {
	Request      Request `json:"request"`
	RemoteFolder string  `json:"remote_folder"`
}

// loopState is the Maker's position within one run: the still-unsettled
// requests, which phase to resume at, and (once GENERATE has run) the
// remote paths and assignments WAIT/DOWNLOAD need.
type loopState struct {
	remaining       []Request
	phase           string // "extract" or "wait"
	scriptsDir      string
	simulationsRoot string
	logPath         string
	assigned        []assignment
}

// savedState is loopState's JSON-serializable projection, used by
// SaveState/LoadState.
type savedState struct {
	Remaining       []Request    `json:"remaining"`
	Corruptions     int          `json:"corruptions"`
	Failures        int          `json:"failures"`
	ScriptsDir      string       `json:"scripts_dir"`
	SimulationsRoot string       `json:"simulations_root"`
	LogPath         string       `json:"log_path"`
	Assigned        []assignment `json:"assigned"`
}

// Maker owns one simulations folder's EXTRACT/GENERATE/WAIT/DOWNLOAD
// loop. Not safe for concurrent use: the state machine assumes a single
// caller driving it sequentially, matching the original's single-Maker-
// per-folder model (enforced by the Manager's presence marker, not by
// this type).
type Maker struct {
	folder *folder.Folder
	fs     fsys.FS
	mgr    *manager.Manager
	gen    *generator.Generator
	remote remote.Folder
	rec    events.Recorder
	opts   Options

	maxCorrupted int
	maxFailures  int
	corruptions  int
	failures     int

	paused bool
	state  *loopState
}

// New builds a Maker over folder, using rt to reach wherever
// simulations actually run. It reads max_corrupted/max_failures from
// the folder's "maker" sub-config, defaulting to -1 (unbounded
// corruptions) and 0 (no tolerated worker failures) when absent, the
// same defaults the original implementation uses.
func New(f *folder.Folder, fs fsys.FS, rt remote.Folder, rec events.Recorder, opts Options) (*Maker, error) {
	if rec == nil {
		rec = events.Discard
	}

	maxCorrupted, maxFailures := -1, 0
	cfg, err := f.NamedConfig("maker", "")
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		if v, ok := cfg["max_corrupted"]; ok {
			maxCorrupted = intFromAny(v, maxCorrupted)
		}
		if v, ok := cfg["max_failures"]; ok {
			maxFailures = intFromAny(v, maxFailures)
		}
	}

	return &Maker{
		folder:       f,
		fs:           fs,
		mgr:          manager.New(f, fs, rec),
		gen:          generator.New(fs, f),
		remote:       rt,
		rec:          rec,
		opts:         opts,
		maxCorrupted: maxCorrupted,
		maxFailures:  maxFailures,
	}, nil
}

// Paused reports whether the Maker is currently suspended mid-WAIT.
func (m *Maker) Paused() bool { return m.paused }

// Run drives requests through the loop until the request list is fully
// satisfied, a budget is exceeded, or WAIT is interrupted via ctx
// cancellation (in which case it returns with Paused() true rather than
// an error). It fails with [ErrPaused] if the Maker is already paused.
func (m *Maker) Run(ctx context.Context, requests []Request) ([]Request, error) {
	if m.paused {
		return nil, ErrPaused
	}
	return m.loop(ctx, &loopState{remaining: requests, phase: "extract"})
}

// Resume re-enters the loop from a state previously restored by
// LoadState. It fails with [ErrNotPaused] if the Maker isn't paused.
func (m *Maker) Resume(ctx context.Context) ([]Request, error) {
	if !m.paused {
		return nil, ErrNotPaused
	}
	st := m.state
	m.paused = false
	m.state = nil
	m.rec.Record(events.Event{Type: events.MakerResumed})
	telemetry.RecordMakerPause(ctx, "resumed")
	return m.loop(ctx, st)
}

// SaveState persists the current request list, both counters, the
// in-flight assignments and remote paths to path. It fails with
// [ErrNotPaused] unless the Maker is currently paused.
func (m *Maker) SaveState(path string) error {
	if !m.paused || m.state == nil {
		return ErrNotPaused
	}

	saved := savedState{
		Remaining:       m.state.remaining,
		Corruptions:     m.corruptions,
		Failures:        m.failures,
		ScriptsDir:      m.state.scriptsDir,
		SimulationsRoot: m.state.simulationsRoot,
		LogPath:         m.state.logPath,
		Assigned:        m.state.assigned,
	}
	data, err := json.MarshalIndent(saved, "", "\t")
	if err != nil {
		return fmt.Errorf("maker: encoding saved state: %w", err)
	}
	return m.fs.WriteFile(path, data, 0o644)
}

// LoadState restores a Maker's paused state from path, saved earlier by
// SaveState (possibly in a different process). The Maker must not
// already be paused; call Resume afterwards to continue the loop.
func (m *Maker) LoadState(path string) error {
	data, err := m.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("maker: reading saved state: %w", err)
	}
	var saved savedState
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("%w: %v", ErrStateWrongFormat, err)
	}

	m.state = &loopState{
		remaining:       saved.Remaining,
		phase:           "wait",
		scriptsDir:      saved.ScriptsDir,
		simulationsRoot: saved.SimulationsRoot,
		logPath:         saved.LogPath,
		assigned:        saved.Assigned,
	}
	m.corruptions = saved.Corruptions
	m.failures = saved.Failures
	m.paused = true
	return nil
}

// loop runs EXTRACT (when st.phase is "extract") through
// WAIT/DOWNLOAD/CLEANUP_SCRIPTS, repeating until the request list is
// empty, a budget is exceeded, or WAIT pauses.
func (m *Maker) loop(ctx context.Context, st *loopState) ([]Request, error) {
	for {
		if m.budgetExceeded() {
			return st.remaining, nil
		}

		if st.phase == "extract" {
			unknown, err := m.extract(ctx, st.remaining)
			if err != nil {
				return st.remaining, err
			}
			if len(unknown) == 0 {
				_ = m.fs.RemoveAll(m.folder.CurrentSessionLink())
				return nil, nil
			}
			st.remaining = unknown

			if m.budgetExceeded() {
				return st.remaining, nil
			}

			scriptsDir, simsRoot, logPath, assigned, err := m.generate(ctx, unknown)
			if err != nil {
				return st.remaining, err
			}
			st.scriptsDir, st.simulationsRoot, st.logPath, st.assigned = scriptsDir, simsRoot, logPath, assigned
			st.phase = "wait"
		}

		paused, err := m.wait(ctx, st.logPath, len(st.assigned))
		if err != nil {
			return st.remaining, err
		}
		if paused {
			m.paused = true
			m.state = st
			m.rec.Record(events.Event{Type: events.MakerPaused})
			telemetry.RecordMakerPause(ctx, "paused")
			return st.remaining, nil
		}

		if err := m.download(ctx, st.assigned); err != nil {
			return st.remaining, err
		}
		if err := m.remote.Remove(st.simulationsRoot); err != nil {
			return st.remaining, err
		}
		if err := m.cleanupScripts(st.scriptsDir); err != nil {
			return st.remaining, err
		}

		telemetry.RecordMakerIteration(ctx, "iteration", nil)
		st.phase = "extract"
	}
}

func (m *Maker) budgetExceeded() bool {
	if m.maxCorrupted >= 0 && m.corruptions > m.maxCorrupted {
		return true
	}
	if m.maxFailures >= 0 && m.failures > m.maxFailures {
		return true
	}
	return false
}

// extract asks the Manager to satisfy every request it already has an
// archive for, returning the ones it doesn't. Already-satisfied
// requests get their settings file written (if configured); in
// generate_only mode, the unknown set is further filtered to those
// whose destination folder doesn't already exist on disk.
func (m *Maker) extract(ctx context.Context, requests []Request) ([]Request, error) {
	m.rec.Record(events.Event{Type: events.ExtractStart})

	entries := make([]manager.BatchEntry, len(requests))
	for i, r := range requests {
		entries[i] = manager.BatchEntry{
			Sim:    simulation.New(m.folder.Config(), r.Settings),
			Folder: r.Folder,
		}
	}

	failed, err := m.mgr.BatchExtract(ctx, entries, true)
	if err != nil {
		return nil, err
	}

	stillUnknown := make(map[string]bool, len(failed))
	for _, e := range failed {
		stillUnknown[e.Folder] = true
	}

	var unknown []Request
	for _, r := range requests {
		if stillUnknown[r.Folder] {
			unknown = append(unknown, r)
			continue
		}
		sim := simulation.New(m.folder.Config(), r.Settings)
		if err := m.writeSettingsFile(sim, r.Folder); err != nil {
			return nil, err
		}
	}

	if m.opts.GenerateOnly {
		filtered := unknown[:0]
		for _, r := range unknown {
			if _, err := m.fs.Stat(r.Folder); err != nil {
				filtered = append(filtered, r)
			}
		}
		unknown = filtered
	}

	m.rec.Record(events.Event{Type: events.ExtractDone, Message: fmt.Sprintf("%d unknown", len(unknown))})
	return unknown, nil
}

// generate allocates a scratch directory, assigns each unknown
// simulation its own remote work folder under a fresh
// simulations_<hex> root, renders the launch script against the
// scratch directory with empty_dest, mirrors it to the remote host,
// and executes the launcher. It returns the remote scripts directory,
// the remote simulations root, the launcher's job log path, and the
// per-simulation assignments for WAIT/DOWNLOAD.
func (m *Maker) generate(ctx context.Context, unknown []Request) (scriptsDir, simulationsRoot, logPath string, assigned []assignment, err error) {
	m.rec.Record(events.Event{Type: events.GenerateStart})

	local, err := m.folder.TempDir()
	if err != nil {
		return "", "", "", nil, err
	}

	link := m.folder.CurrentSessionLink()
	_ = m.fs.RemoveAll(link)
	_ = m.fs.Symlink(local, link)

	remoteBase := m.opts.RemoteBaseDir
	if remoteBase == "" {
		remoteBase = filepath.Dir(local)
	}
	scriptsDir = filepath.Join(remoteBase, filepath.Base(local))
	simulationsRoot = filepath.Join(remoteBase, fmt.Sprintf("simulations_%x", time.Now().UnixNano()))

	assigned = make([]assignment, len(unknown))
	for i, r := range unknown {
		sim := simulation.New(m.folder.Config(), r.Settings)
		remoteFolder := filepath.Join(simulationsRoot, strconv.Itoa(i))
		sim.Set("folder", remoteFolder)
		m.gen.Add(sim)
		assigned[i] = assignment{Request: r, RemoteFolder: remoteFolder}
	}

	result, genErr := m.gen.Generate(local, m.opts.ConfigName, true, scriptsDir)
	if genErr != nil {
		return "", "", "", nil, genErr
	}

	if err := m.remote.Put(local, scriptsDir, true, true); err != nil {
		return "", "", "", nil, err
	}
	if _, err := m.remote.Execute(result.LaunchPath); err != nil {
		return "", "", "", nil, err
	}

	m.rec.Record(events.Event{Type: events.GenerateDone, Subject: result.LaunchPath})
	return scriptsDir, simulationsRoot, result.LogPath, assigned, nil
}

// wait polls logPath every 500ms (with an fsnotify-driven fast path
// layered on top, best-effort since not every transport's log path is
// locally watchable) until its JSON array length reaches total. ctx
// cancellation pauses the loop instead of failing it.
func (m *Maker) wait(ctx context.Context, logPath string, total int) (paused bool, err error) {
	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		defer watcher.Close()
		_ = watcher.Add(filepath.Dir(logPath))
	} else {
		watcher = nil
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	lastLen := -1
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-ticker.C:
		case <-watcherEvents(watcher):
		}

		data, readErr := m.remote.GetFileContents(logPath)
		if readErr != nil {
			continue
		}
		var log []job.LogEntry
		if err := json.Unmarshal(data, &log); err != nil {
			continue
		}

		if len(log) != lastLen {
			lastLen = len(log)
			m.rec.Record(events.Event{Type: events.WaitProgress, Message: fmt.Sprintf("%d/%d", len(log), total)})
		}

		if len(log) >= total {
			failedWorkers := 0
			for _, e := range log {
				if !e.Success {
					failedWorkers++
				}
			}
			if failedWorkers > 0 {
				m.failures++
				telemetry.RecordMakerFailure(ctx, "wait")
				m.rec.Record(events.Event{Type: events.MakerFailure, Message: fmt.Sprintf("%d failed workers", failedWorkers)})
			}
			return false, nil
		}
	}
}

func watcherEvents(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

// download pulls each assignment's remote work folder into a fresh
// local temp directory, then either registers it with the Manager (the
// default) or, in generate_only mode, checks its integrity directly and
// moves it straight to the request's destination folder. Any item
// failing its integrity check is discarded; if at least one did, the
// corruption counter increments once for the whole step.
func (m *Maker) download(ctx context.Context, assigned []assignment) error {
	corrupted := false

	for i, a := range assigned {
		local, err := m.folder.TempDir()
		if err != nil {
			return err
		}

		// A transport failure here simply leaves local empty, which
		// falls through to a failed integrity check below — matching
		// the propagation policy in spec §7.
		_ = m.remote.Get(a.RemoteFolder, local, true)
		m.rec.Record(events.Event{Type: events.DownloadProgress, Message: fmt.Sprintf("%d/%d", i+1, len(assigned))})

		sim := simulation.New(m.folder.Config(), a.Request.Settings)

		if m.opts.GenerateOnly {
			ok, err := m.mgr.CheckIntegrity(sim, local)
			if err != nil {
				return err
			}
			if !ok {
				corrupted = true
				_ = m.fs.RemoveAll(local)
				continue
			}
			if err := m.fs.MkdirAll(filepath.Dir(a.Request.Folder), 0o755); err != nil {
				return err
			}
			if err := m.fs.Rename(local, a.Request.Folder); err != nil {
				return err
			}
			if err := m.writeSettingsFile(sim, a.Request.Folder); err != nil {
				return err
			}
			continue
		}

		if err := m.mgr.Add(ctx, sim, local); err != nil {
			var notFound *manager.FolderNotFoundError
			var failedCheck *manager.IntegrityCheckFailedError
			if errors.As(err, &notFound) || errors.As(err, &failedCheck) {
				corrupted = true
				_ = m.fs.RemoveAll(local)
				continue
			}
			return err
		}
	}

	if corrupted {
		m.corruptions++
		telemetry.RecordMakerCorruption(ctx, "download")
		m.rec.Record(events.Event{Type: events.MakerCorruption})
	}
	m.rec.Record(events.Event{Type: events.DownloadDone})
	return nil
}

// cleanupScripts recursively removes the remote scripts directory
// GENERATE rendered the launcher into.
func (m *Maker) cleanupScripts(scriptsDir string) error {
	if err := m.remote.Remove(scriptsDir); err != nil {
		return err
	}
	m.rec.Record(events.Event{Type: events.CleanupDone, Subject: scriptsDir})
	return nil
}

// settingsFileName resolves the per-simulation settings filename to
// write: the Options override if set, else hateno.conf's settings_file,
// else empty (meaning: don't write one).
func (m *Maker) settingsFileName() string {
	if m.opts.SettingsFile != "" {
		return m.opts.SettingsFile
	}
	return m.folder.Config().SettingsFile
}

func (m *Maker) writeSettingsFile(sim *simulation.Simulation, dest string) error {
	name := m.settingsFileName()
	if name == "" {
		return nil
	}
	data, err := json.MarshalIndent(sim.ReducedSettings(), "", "\t")
	if err != nil {
		return err
	}
	return m.fs.WriteFile(filepath.Join(dest, name), data, 0o644)
}

func intFromAny(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}
