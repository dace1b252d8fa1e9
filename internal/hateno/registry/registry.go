// Package registry implements explicit, database/sql-style dispatch
// tables for the fixer, namer, and checker functions a simulations
// folder can reference by name. Built-ins self-register from init() in
// sibling files of this package; a project wanting more can register
// its own via [RegisterFixer] / [RegisterNamer] / [RegisterChecker] from
// a blank import, the same way a database/sql driver registers itself.
package registry

import "fmt"

// Fixer fixes a decoded JSON value to prevent false duplicates (e.g. so
// that 0.0 and 0 aren't considered different settings values).
type Fixer func(value any, args ...string) (any, error)

// Setting is the minimal view of a setting a namer needs.
type Setting struct {
	Name  string
	Value any
}

// Namer computes the name to use for a setting in a simulation's
// command line or folder name.
type Namer func(s Setting, args ...string) (string, error)

// CheckKind says what a [Checker] inspects.
type CheckKind int

const (
	// FileCheck is applied to a single file, found by glob pattern.
	FileCheck CheckKind = iota
	// FolderCheck is applied to a single folder, found by glob pattern.
	FolderCheck
	// GlobalCheck is applied to the whole simulation folder at once.
	GlobalCheck
)

// CheckInput carries what a checker needs to inspect a simulation.
type CheckInput struct {
	// Folder is the simulation's output folder on local disk.
	Folder string
	// Settings is the simulation's reduced settings (name -> value).
	Settings map[string]any
	// Target is the glob pattern (file/folder checks) or unused (global).
	Target string
	// Tree is the configured output tree (global checks only): output
	// category ("files" or "folders") -> the names declared under it.
	Tree map[string][]string
}

// Checker reports whether a simulation's output satisfies one integrity
// rule.
type Checker func(in CheckInput) (bool, error)

var (
	fixers   = map[string]Fixer{}
	namers   = map[string]Namer{}
	checkers = map[CheckKind]map[string]Checker{FileCheck: {}, FolderCheck: {}, GlobalCheck: {}}
)

// RegisterFixer adds a fixer under name. Panics on duplicate
// registration, matching database/sql's driver-registration behavior.
func RegisterFixer(name string, f Fixer) {
	if _, dup := fixers[name]; dup {
		panic("registry: RegisterFixer called twice for fixer " + name)
	}
	fixers[name] = f
}

// RegisterNamer adds a namer under name.
func RegisterNamer(name string, n Namer) {
	if _, dup := namers[name]; dup {
		panic("registry: RegisterNamer called twice for namer " + name)
	}
	namers[name] = n
}

// RegisterChecker adds a checker under name within kind.
func RegisterChecker(kind CheckKind, name string, c Checker) {
	if _, dup := checkers[kind][name]; dup {
		panic("registry: RegisterChecker called twice for checker " + name)
	}
	checkers[kind][name] = c
}

// GetFixer looks up a registered fixer by name.
func GetFixer(name string) (Fixer, error) {
	f, ok := fixers[name]
	if !ok {
		return nil, fmt.Errorf("fixer %q not found", name)
	}
	return f, nil
}

// GetNamer looks up a registered namer by name.
func GetNamer(name string) (Namer, error) {
	n, ok := namers[name]
	if !ok {
		return nil, fmt.Errorf("namer %q not found", name)
	}
	return n, nil
}

// GetChecker looks up a registered checker by kind and name.
func GetChecker(kind CheckKind, name string) (Checker, error) {
	c, ok := checkers[kind][name]
	if !ok {
		return nil, fmt.Errorf("checker %q not found for kind %d", name, kind)
	}
	return c, nil
}
