// Package folder gives every other Hateno component access to a
// simulations folder's configuration files: hateno.conf, the named
// sub-configs under config/, and the skeleton recipes under skeletons/.
package folder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/JeremyHeleine/hateno-go/internal/config"
	"github.com/JeremyHeleine/hateno-go/internal/fsys"
	"github.com/JeremyHeleine/hateno-go/internal/hateno/registry"
)

const (
	mainFolder      = ".hateno"
	configFolder    = "config"
	skeletonsFolder = "skeletons"
	simulationsDir  = "simulations"
	tmpFolder       = "tmp"

	confFilename             = "hateno.conf"
	simulationsListFilename  = "simulations.list"
	runningIndicatorFilename = "manager.running"
)

// Skeletons is the result of reading a skeletons subfolder's
// recipe.json: the skeleton file groups plus the parsed launcher
// "coordinates" (script name, row/column in the command-lines file it
// should be picked from).
type Skeletons struct {
	Subgroups      []string
	Wholegroup     []string
	ScriptToLaunch ScriptToLaunch
}

// ScriptToLaunch names which generated script acts as the launcher, and
// at which row/column of its duplicated BEGIN_EXEC block (-1 means "not
// pinned to a particular worker slot").
type ScriptToLaunch struct {
	Name   string
	Coords [2]int
}

// Folder gives access to the configuration files of a simulations
// folder. Config objects and skeleton recipes are loaded lazily and
// cached, matching the original's behavior.
type Folder struct {
	fs   fsys.FS
	path string

	confFolderPath string
	tmpDir         string

	conf      *config.Config
	configs   map[string]map[string]map[string]any
	skeletons map[string]Skeletons
}

// Open loads a simulations folder at path, creating its tmp directory
// if needed. It returns an error if hateno.conf is missing.
func Open(fs fsys.FS, path string) (*Folder, error) {
	confFolderPath := filepath.Join(path, mainFolder)
	settingsFile := filepath.Join(confFolderPath, confFilename)

	if _, err := fs.Stat(settingsFile); err != nil {
		return nil, fmt.Errorf("opening folder %q: %w", path, err)
	}

	tmpDir := filepath.Join(confFolderPath, tmpFolder)
	if _, err := fs.Stat(tmpDir); err != nil {
		if err := fs.MkdirAll(tmpDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating tmp dir %q: %w", tmpDir, err)
		}
	}

	cfg, err := config.Load(fs, settingsFile)
	if err != nil {
		return nil, err
	}

	return &Folder{
		fs:             fs,
		path:           path,
		confFolderPath: confFolderPath,
		tmpDir:         tmpDir,
		conf:           cfg,
		configs:        map[string]map[string]map[string]any{},
		skeletons:      map[string]Skeletons{},
	}, nil
}

// Path returns the simulations folder's path.
func (f *Folder) Path() string { return f.path }

// Config returns the parsed hateno.conf.
func (f *Folder) Config() *config.Config { return f.conf }

// TempDir creates and returns a fresh temporary directory under this
// folder's .hateno/tmp.
func (f *Folder) TempDir() (string, error) {
	dir, err := os.MkdirTemp(f.tmpDir, "")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	return dir, nil
}

// NamedConfig returns the sub-config configname from foldername's
// config directory (config/<foldername>/<configname>.json). If
// foldername is empty, the folder's default_config is used. Results are
// cached.
func (f *Folder) NamedConfig(configname, foldername string) (map[string]any, error) {
	if foldername == "" {
		foldername = f.conf.DefaultConfig
	}
	if foldername == "" {
		return nil, fmt.Errorf("no config folder name given for %q", configname)
	}

	if f.configs[foldername] == nil {
		f.configs[foldername] = map[string]map[string]any{}
	}
	if v, ok := f.configs[foldername][configname]; ok {
		return v, nil
	}

	v, err := config.NamedConfig(f.fs, f.confFolderPath, foldername, configname)
	if err != nil {
		return nil, err
	}
	f.configs[foldername][configname] = v
	return v, nil
}

// ConfigFilepath resolves filename against foldername's config
// directory (config/<foldername>/filename), defaulting foldername to
// the folder's default_config like [Folder.NamedConfig] does.
func (f *Folder) ConfigFilepath(filename, foldername string) string {
	if foldername == "" {
		foldername = f.conf.DefaultConfig
	}
	return filepath.Join(f.confFolderPath, configFolder, foldername, filename)
}

// Skeletons returns the skeleton file groups and launcher coordinates
// for the named skeletons subfolder, reading and caching recipe.json on
// first use.
func (f *Folder) Skeletons(foldername string) (Skeletons, error) {
	if s, ok := f.skeletons[foldername]; ok {
		return s, nil
	}

	dir := filepath.Join(f.confFolderPath, skeletonsFolder, foldername)
	recipe, err := config.LoadRecipe(f.fs, dir)
	if err != nil {
		return Skeletons{}, err
	}

	subgroups := make([]string, len(recipe.Subgroups))
	for i, name := range recipe.Subgroups {
		subgroups[i] = filepath.Join(dir, name)
	}
	wholegroup := make([]string, len(recipe.Wholegroup))
	for i, name := range recipe.Wholegroup {
		wholegroup[i] = filepath.Join(dir, name)
	}

	script := parseScriptToLaunch(filepath.Join(dir, recipe.Launch))

	s := Skeletons{Subgroups: subgroups, Wholegroup: wholegroup, ScriptToLaunch: script}
	f.skeletons[foldername] = s
	return s, nil
}

// SimulationsListFilename returns the path to the catalog's mapping
// file.
func (f *Folder) SimulationsListFilename() string {
	return filepath.Join(f.confFolderPath, simulationsListFilename)
}

// SimulationsFolder returns the path to the folder where simulation
// archives are extracted, creating it if needed.
func (f *Folder) SimulationsFolder() (string, error) {
	path := filepath.Join(f.confFolderPath, simulationsDir)
	if _, err := f.fs.Stat(path); err != nil {
		if err := f.fs.MkdirAll(path, 0o755); err != nil {
			return "", err
		}
	}
	return path, nil
}

// CurrentSessionLink returns the path of the symlink a Maker session
// maintains against its active scratch directory, so a running session
// can be located on disk without parsing its saved pause state.
func (f *Folder) CurrentSessionLink() string {
	return filepath.Join(f.confFolderPath, "current")
}

// RunningManagerIndicatorFilename returns the path to the file used as
// a presence marker while a Manager instance is running.
func (f *Folder) RunningManagerIndicatorFilename() string {
	return filepath.Join(f.confFolderPath, runningIndicatorFilename)
}

// ApplyFixers fixes value by applying before, then the folder's
// globally configured fixers, then after, in order.
func (f *Folder) ApplyFixers(value any, before, after []FixerCall) (any, error) {
	calls := append(append(append([]FixerCall{}, before...), parseFixerList(f.conf.Fixers)...), after...)
	for _, call := range calls {
		fn, err := registry.GetFixer(call.Name)
		if err != nil {
			return nil, err
		}
		value, err = fn(value, call.Args...)
		if err != nil {
			return nil, fmt.Errorf("applying fixer %q: %w", call.Name, err)
		}
	}
	return value, nil
}

// ApplyNamers computes the name to use for setting by applying before,
// then the folder's globally configured namers, then after, in order.
func (f *Folder) ApplyNamers(setting registry.Setting, before, after []NamerCall) (string, error) {
	name := setting.Name
	calls := append(append(append([]NamerCall{}, before...), parseNamerList(f.conf.Namers)...), after...)
	for _, call := range calls {
		fn, err := registry.GetNamer(call.Name)
		if err != nil {
			return "", err
		}
		setting.Name = name
		var err2 error
		name, err2 = fn(setting, call.Args...)
		if err2 != nil {
			return "", fmt.Errorf("applying namer %q: %w", call.Name, err2)
		}
	}
	return name, nil
}

// FixerCall names a fixer and the extra arguments to pass it.
type FixerCall struct {
	Name string
	Args []string
}

// NamerCall names a namer and the extra arguments to pass it.
type NamerCall struct {
	Name string
	Args []string
}

// parseFixerList decodes hateno.conf's "fixers" entries, each either a
// bare fixer name or a [name, arg, arg, ...] list.
func parseFixerList(raw []any) []FixerCall {
	calls := make([]FixerCall, 0, len(raw))
	for _, item := range raw {
		calls = append(calls, parseCall(item))
	}
	return calls
}

func parseNamerList(raw []any) []NamerCall {
	calls := make([]NamerCall, 0, len(raw))
	for _, item := range raw {
		c := parseCall(item)
		calls = append(calls, NamerCall{Name: c.Name, Args: c.Args})
	}
	return calls
}

func parseCall(item any) FixerCall {
	switch v := item.(type) {
	case string:
		return FixerCall{Name: v}
	case []any:
		if len(v) == 0 {
			return FixerCall{}
		}
		name, _ := v[0].(string)
		args := make([]string, 0, len(v)-1)
		for _, a := range v[1:] {
			args = append(args, fmt.Sprint(a))
		}
		return FixerCall{Name: name, Args: args}
	default:
		return FixerCall{}
	}
}

// parseScriptToLaunch splits a "path:row:col" launcher reference the
// way the original does: split on ':' from the right, keep splitting
// off trailing integer components until a non-numeric component is
// found, and treat whatever remains (rejoined with ':') as the path.
func parseScriptToLaunch(launch string) ScriptToLaunch {
	parts := splitRight(launch, ':', 2)
	coords := [2]int{-1, -1}

	cut := len(parts)
	for cut > 0 {
		if _, ok := parseIntOrNone(parts[cut-1]); !ok {
			break
		}
		cut--
	}

	nums := make([]int, 0, len(parts)-cut)
	for _, p := range parts[cut:] {
		n, _ := parseIntOrNone(p)
		nums = append(nums, n)
	}
	for i, n := range nums {
		if i < 2 {
			coords[i] = n
		}
	}

	name := joinColon(parts[:cut])
	return ScriptToLaunch{Name: name, Coords: coords}
}

func splitRight(s string, sep byte, maxSplit int) []string {
	var parts []string
	for i := 0; i < maxSplit; i++ {
		idx := lastIndexByte(s, sep)
		if idx < 0 {
			break
		}
		parts = append([]string{s[idx+1:]}, parts...)
		s = s[:idx]
	}
	return append([]string{s}, parts...)
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func joinColon(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}

func parseIntOrNone(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}
