package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JeremyHeleine/hateno-go/internal/events"
	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/clitransport"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/folder"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/maker"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/ui"
)

type runOptions struct {
	folderPath       string
	simulationsList  string
	settingsPath     string
	saveUnknownPath  string
	progressDisabled bool
}

// makerSettingsFile is the JSON shape of the --settings file: the
// generator recipe to use, the remote transport to reach, and the
// maker-specific overrides passed through to the Maker constructor.
type makerSettingsFile struct {
	GeneratorRecipe string              `json:"generator_recipe"`
	Remote          json.RawMessage     `json:"remote,omitempty"`
	Settings        makerSettingsFields `json:"settings"`
}

type makerSettingsFields struct {
	GenerateOnly  bool   `json:"generate_only,omitempty"`
	SettingsFile  string `json:"settings_file,omitempty"`
	RemoteBaseDir string `json:"remote_base_dir,omitempty"`
}

func doRun(opts runOptions, stdout, stderr io.Writer) error {
	settings, err := readSettingsFile(opts.settingsPath)
	if err != nil {
		return err
	}

	remoteCfg, err := clitransport.UnmarshalConfig(settings.Remote)
	if err != nil {
		return err
	}
	rt, err := clitransport.Dial(remoteCfg)
	if err != nil {
		return err
	}
	defer rt.Close() //nolint:errcheck // best-effort on exit

	f, err := folder.Open(fsys.OSFS{}, opts.folderPath)
	if err != nil {
		return err
	}

	rec, closeRec := openRecorder(f.Path(), stderr)
	defer closeRec()

	if !opts.progressDisabled {
		rec = fanoutRecorder{a: rec, b: newProgressRecorder(ui.New(stdout))}
	}

	m, err := maker.New(f, fsys.OSFS{}, rt, rec, maker.Options{
		ConfigName:    settings.GeneratorRecipe,
		GenerateOnly:  settings.Settings.GenerateOnly,
		SettingsFile:  settings.Settings.SettingsFile,
		RemoteBaseDir: settings.Settings.RemoteBaseDir,
	})
	if err != nil {
		return err
	}

	requests, err := readRequestsFile(opts.simulationsList)
	if err != nil {
		return err
	}

	remaining, err := m.Run(context.Background(), requests)
	if err != nil {
		return err
	}

	if m.Paused() {
		fmt.Fprintln(stdout, "simulations-maker: paused (interrupted); resume with a saved state file")
	}

	if len(remaining) == 0 {
		fmt.Fprintln(stdout, "simulations-maker: all simulations satisfied")
		return nil
	}

	fmt.Fprintf(stdout, "simulations-maker: %d simulation(s) still unresolved\n", len(remaining))
	if opts.saveUnknownPath == "" {
		for _, r := range remaining {
			fmt.Fprintln(stdout, "  "+r.Folder)
		}
		return nil
	}
	return writeRequestsFile(opts.saveUnknownPath, remaining)
}

func readSettingsFile(path string) (*makerSettingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file %q: %w", path, err)
	}
	var s makerSettingsFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings file %q: %w", path, err)
	}
	return &s, nil
}

func readRequestsFile(path string) ([]maker.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading simulations list %q: %w", path, err)
	}
	var requests []maker.Request
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("parsing simulations list %q: %w", path, err)
	}
	return requests, nil
}

func writeRequestsFile(path string, requests []maker.Request) error {
	data, err := json.MarshalIndent(requests, "", "\t")
	if err != nil {
		return fmt.Errorf("encoding unresolved simulations: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %q: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return nil
}

// openRecorder opens a JSONL event recorder at <folder>/.hateno/events.jsonl,
// falling back to events.Discard if it can't be opened. The returned func
// closes it (a no-op for the discard fallback).
func openRecorder(folderPath string, stderr io.Writer) (events.Recorder, func()) {
	rec, err := events.NewFileRecorder(filepath.Join(folderPath, ".hateno", "events.jsonl"), stderr)
	if err != nil {
		return events.Discard, func() {}
	}
	return rec, func() { _ = rec.Close() }
}

// fanoutRecorder records to both a and b, so the maker loop can append
// to the durable event log and drive live progress lines at once.
type fanoutRecorder struct {
	a, b events.Recorder
}

func (f fanoutRecorder) Record(e events.Event) {
	f.a.Record(e)
	f.b.Record(e)
}

// progressRecorder renders a subset of maker events as live, in-place
// progress lines.
type progressRecorder struct {
	ui      *ui.UI
	lineIDs map[string]string
}

func newProgressRecorder(u *ui.UI) *progressRecorder {
	return &progressRecorder{ui: u, lineIDs: map[string]string{}}
}

func (p *progressRecorder) Record(e events.Event) {
	switch e.Type {
	case events.ExtractStart:
		p.lineIDs["extract"] = p.ui.AddLine("extract: running")
	case events.ExtractDone:
		p.replace("extract", "extract: "+e.Message)
	case events.GenerateStart:
		p.lineIDs["generate"] = p.ui.AddLine("generate: running")
	case events.GenerateDone:
		p.replace("generate", "generate: launched "+e.Subject)
	case events.WaitProgress:
		if id, ok := p.lineIDs["wait"]; ok {
			p.ui.ReplaceLine(id, "wait: "+e.Message)
		} else {
			p.lineIDs["wait"] = p.ui.AddLine("wait: " + e.Message)
		}
	case events.DownloadProgress:
		if id, ok := p.lineIDs["download"]; ok {
			p.ui.ReplaceLine(id, "download: "+e.Message)
		} else {
			p.lineIDs["download"] = p.ui.AddLine("download: " + e.Message)
		}
	}
}

func (p *progressRecorder) replace(key, text string) {
	if id, ok := p.lineIDs[key]; ok {
		p.ui.ReplaceLine(id, text)
	}
}
