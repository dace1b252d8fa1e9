package registry

import (
	"os"
	"path/filepath"
	"sort"
)

func init() {
	RegisterFixer("intFloats", fixerIntFloats)

	RegisterChecker(FileCheck, "exists", checkFileExists)
	RegisterChecker(FileCheck, "notEmpty", checkFileNotEmpty)
	RegisterChecker(FolderCheck, "exists", checkFolderExists)
	RegisterChecker(FolderCheck, "notEmpty", checkFolderNotEmpty)
	RegisterChecker(GlobalCheck, "noMore", checkGlobalNoMore)
}

// fixerIntFloats converts floats like 2.0 (decoded from JSON as
// float64) into integers, so "2" and "2.0" compare equal.
func fixerIntFloats(value any, _ ...string) (any, error) {
	f, ok := value.(float64)
	if !ok {
		return value, nil
	}
	if i := int64(f); float64(i) == f {
		return i, nil
	}
	return value, nil
}

// checkFileExists reports whether at least one file matching target
// exists in the simulation's folder.
func checkFileExists(in CheckInput) (bool, error) {
	matches, err := filepath.Glob(filepath.Join(in.Folder, in.Target))
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
			return true, nil
		}
	}
	return false, nil
}

// checkFileNotEmpty reports whether at least one file matching target
// exists and is non-empty.
func checkFileNotEmpty(in CheckInput) (bool, error) {
	matches, err := filepath.Glob(filepath.Join(in.Folder, in.Target))
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() && fi.Size() != 0 {
			return true, nil
		}
	}
	return false, nil
}

// checkFolderExists reports whether at least one folder matching target
// exists.
func checkFolderExists(in CheckInput) (bool, error) {
	matches, err := filepath.Glob(filepath.Join(in.Folder, in.Target))
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.IsDir() {
			return true, nil
		}
	}
	return false, nil
}

// checkFolderNotEmpty reports whether the target folder contains at
// least one entry.
func checkFolderNotEmpty(in CheckInput) (bool, error) {
	entries, err := os.ReadDir(filepath.Join(in.Folder, in.Target))
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// checkGlobalNoMore reports whether the simulation folder contains no
// file or directory other than those matched by the configured output
// tree's glob patterns.
func checkGlobalNoMore(in CheckInput) (bool, error) {
	var actualFiles, actualDirs []string
	err := filepath.Walk(in.Folder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == in.Folder {
			return nil
		}
		rel, err := filepath.Rel(in.Folder, path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			actualDirs = append(actualDirs, rel)
		} else {
			actualFiles = append(actualFiles, rel)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	expectFiles := map[string]bool{}
	expectDirs := map[string]bool{}
	for _, patterns := range in.Tree {
		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(in.Folder, pattern))
			if err != nil {
				return false, err
			}
			for _, m := range matches {
				rel, err := filepath.Rel(in.Folder, m)
				if err != nil {
					return false, err
				}
				if fi, err := os.Stat(m); err == nil && fi.IsDir() {
					expectDirs[rel] = true
				} else {
					expectFiles[rel] = true
				}
			}
		}
	}

	return sameSet(actualFiles, expectFiles) && sameSet(actualDirs, expectDirs), nil
}

func sameSet(actual []string, expect map[string]bool) bool {
	if len(actual) != len(expect) {
		return false
	}
	sort.Strings(actual)
	for _, a := range actual {
		if !expect[a] {
			return false
		}
	}
	return true
}
