// Package generator renders a skeleton script into the one or more
// launch scripts needed to run a batch of simulations, and exports the
// command lines those scripts will execute.
package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/folder"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/simulation"
)

// ErrEmptyList is returned by Generate when no simulation has been
// added.
var ErrEmptyList = errors.New("generator: no simulation to generate")

// ErrDestinationExists is returned by Generate when dest already exists
// and emptyDest is false.
var ErrDestinationExists = errors.New("generator: destination folder already exists")

// Generator accumulates simulations to generate and renders them
// against a folder's configured skeleton.
type Generator struct {
	fs     fsys.FS
	folder *folder.Folder

	simulations []*simulation.Simulation
}

// New returns a Generator for folder.
func New(fs fsys.FS, f *folder.Folder) *Generator {
	return &Generator{fs: fs, folder: f}
}

// Add appends simulations to the list to generate.
func (g *Generator) Add(sims ...*simulation.Simulation) {
	g.simulations = append(g.simulations, sims...)
}

// Clear empties the list of simulations to generate.
func (g *Generator) Clear() {
	g.simulations = nil
}

// CommandLines returns the command line for each simulation to
// generate, in order.
func (g *Generator) CommandLines() []string {
	lines := make([]string, len(g.simulations))
	for i, s := range g.simulations {
		lines[i] = s.CommandLine()
	}
	return lines
}

var execBlockRegex = regexp.MustCompile(`(?ms)^[ \t]*### BEGIN_EXEC ###[ \t]*\n(.*?)^[ \t]*### END_EXEC ###[ \t]*\n`)

// Result is what Generate produces: the paths (resolved against
// basedir, i.e. suitable for use on whatever host will run the script)
// of the generated launch script and its completion log.
type Result struct {
	LaunchPath string
	LogPath    string
}

// Generate renders the configured skeleton into destFolder: it exports
// command_lines.json, duplicates the skeleton's BEGIN_EXEC/END_EXEC
// block once per worker (substituting that worker's own LOG_FILENAME),
// then substitutes the whole script's remaining $NAME-style tags against
// the named generator sub-config. basedir, if non-empty, is the path the
// script will actually run from (e.g. a remote machine); it defaults to
// destFolder.
func (g *Generator) Generate(destFolder, configName string, emptyDest bool, basedir string) (Result, error) {
	if len(g.simulations) == 0 {
		return Result{}, ErrEmptyList
	}

	if err := g.createDestinationFolder(destFolder, emptyDest); err != nil {
		return Result{}, err
	}

	cmdLinesPath := filepath.Join(destFolder, "command_lines.json")
	if err := g.exportCommandLines(cmdLinesPath); err != nil {
		return Result{}, err
	}

	cfgRaw, err := g.folder.NamedConfig("generator", configName)
	if err != nil {
		return Result{}, err
	}
	if cfgRaw == nil {
		return Result{}, fmt.Errorf("generator: no generator config found for %q", configName)
	}

	skeletonFilename, _ := cfgRaw["skeleton_filename"].(string)
	skeletonPath := g.folder.ConfigFilepath(skeletonFilename, configName)
	skeleton, err := g.fs.ReadFile(skeletonPath)
	if err != nil {
		return Result{}, fmt.Errorf("reading skeleton %q: %w", skeletonPath, err)
	}

	nExec := intFromConfig(cfgRaw, "n_exec", 1)
	logFilenamePattern, _ := cfgRaw["log_filename"].(string)

	scriptContent := execBlockRegex.ReplaceAllStringFunc(string(skeleton), func(match string) string {
		groups := execBlockRegex.FindStringSubmatch(match)
		content := groups[1]
		return g.replaceExecBlock(content, logFilenamePattern, nExec)
	})

	variables := map[string]string{}
	for key, value := range cfgRaw {
		variables[strings.ToUpper(key)] = fmt.Sprint(value)
	}

	if basedir == "" {
		basedir = destFolder
	}
	variables["COMMAND_LINES_FILENAME"] = filepath.Join(basedir, "command_lines.json")
	variables["LOG_FILENAME"] = filepath.Join(basedir, variables["LOG_FILENAME"])

	scriptContent = safeSubstitute(scriptContent, variables)

	launchFilename, _ := cfgRaw["launch_filename"].(string)
	scriptPath := filepath.Join(destFolder, launchFilename)
	if err := g.fs.WriteFile(scriptPath, []byte(scriptContent), 0o755); err != nil {
		return Result{}, fmt.Errorf("writing launch script %q: %w", scriptPath, err)
	}

	return Result{
		LaunchPath: filepath.Join(basedir, launchFilename),
		LogPath:    variables["LOG_FILENAME"],
	}, nil
}

func (g *Generator) createDestinationFolder(dest string, emptyDest bool) error {
	if info, err := g.fs.Stat(dest); err == nil && info.IsDir() {
		if !emptyDest {
			return ErrDestinationExists
		}
		entries, err := g.fs.ReadDir(dest)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := g.fs.RemoveAll(filepath.Join(dest, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	return g.fs.MkdirAll(dest, 0o755)
}

func (g *Generator) exportCommandLines(path string) error {
	data, err := json.MarshalIndent(g.CommandLines(), "", "\t")
	if err != nil {
		return err
	}
	return g.fs.WriteFile(path, data, 0o644)
}

// replaceExecBlock duplicates content once per worker slot (capped at
// the number of simulations to generate), substituting each worker's
// own LOG_FILENAME (the %k placeholder replaced with that worker's
// index).
func (g *Generator) replaceExecBlock(content, logFilenamePattern string, nExec int) string {
	count := nExec
	if len(g.simulations) < count {
		count = len(g.simulations)
	}
	var b strings.Builder
	for k := 0; k < count; k++ {
		perWorkerLog := strings.ReplaceAll(logFilenamePattern, "%k", strconv.Itoa(k))
		b.WriteString(safeSubstitute(content, map[string]string{"LOG_FILENAME": perWorkerLog}))
	}
	return b.String()
}

var templateTag = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// safeSubstitute mimics Python's string.Template.safe_substitute: known
// $NAME / ${NAME} tags are replaced, unknown ones are left untouched.
func safeSubstitute(s string, vars map[string]string) string {
	return templateTag.ReplaceAllStringFunc(s, func(match string) string {
		groups := templateTag.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

func intFromConfig(cfg map[string]any, key string, def int) int {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}
