package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/folder"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/generator"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/simulation"
)

type runOptions struct {
	folderPath   string
	requestsPath string
	recipe       string
	outputDir    string
	emptyOutput  bool
}

func doRun(opts runOptions, stdout io.Writer) error {
	f, err := folder.Open(fsys.OSFS{}, opts.folderPath)
	if err != nil {
		return err
	}

	userSettings, err := readUserSettingsFile(opts.requestsPath)
	if err != nil {
		return err
	}

	g := generator.New(fsys.OSFS{}, f)
	for _, us := range userSettings {
		g.Add(simulation.New(f.Config(), us))
	}

	result, err := g.Generate(opts.outputDir, opts.recipe, opts.emptyOutput, "")
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "simulations-generator: launcher at %s\n", result.LaunchPath)
	fmt.Fprintf(stdout, "simulations-generator: job log at %s\n", result.LogPath)
	return nil
}

func readUserSettingsFile(path string) ([]simulation.UserSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading requests %q: %w", path, err)
	}
	var settings []simulation.UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing requests %q: %w", path, err)
	}
	return settings, nil
}
