package main

import (
	"os"
	"testing"
)

func TestRunFailsOutsideRepositoryRoot(t *testing.T) {
	dir := t.TempDir()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() {
		if err := os.Chdir(cwd); err != nil {
			t.Fatalf("restoring cwd: %v", err)
		}
	}()

	if err := run(); err == nil {
		t.Fatal("run() should fail when go.mod is not present in the working directory")
	}
}
