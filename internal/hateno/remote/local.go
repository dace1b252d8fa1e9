package remote

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// Local implements [Folder] by operating directly on the filesystem,
// for the common case where the "remote" host is the machine the Maker
// itself runs on.
type Local struct{}

// NewLocal returns a Local transport.
func NewLocal() *Local { return &Local{} }

func (l *Local) Put(localPath, remotePath string, replace, del bool) error {
	// A path sent onto itself is already in place; copying would truncate it.
	if filepath.Clean(localPath) == filepath.Clean(remotePath) {
		return nil
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		if !replace {
			if remoteInfo, err := os.Stat(remotePath); err == nil {
				if info.ModTime().Before(remoteInfo.ModTime()) || info.ModTime().Equal(remoteInfo.ModTime()) {
					return nil
				}
			}
		}
		if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
			return err
		}
		if err := copyFile(localPath, remotePath); err != nil {
			return err
		}
		if err := os.Chmod(remotePath, info.Mode().Perm()); err != nil {
			return err
		}
		if del {
			return os.Remove(localPath)
		}
		return nil
	}

	entries, err := os.ReadDir(localPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := l.Put(filepath.Join(localPath, e.Name()), filepath.Join(remotePath, e.Name()), replace, del); err != nil {
			return err
		}
	}
	if del {
		return os.Remove(localPath)
	}
	return nil
}

func (l *Local) Get(remotePath, localPath string, del bool) error {
	info, err := os.Stat(remotePath)
	if err != nil {
		return err
	}

	if info.IsDir() {
		entries, err := os.ReadDir(remotePath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := l.Get(filepath.Join(remotePath, e.Name()), filepath.Join(localPath, e.Name()), del); err != nil {
				return err
			}
		}
		if del {
			return os.Remove(remotePath)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	if err := copyFile(remotePath, localPath); err != nil {
		return err
	}
	if err := os.Chmod(localPath, info.Mode().Perm()); err != nil {
		return err
	}
	if del {
		return os.Remove(remotePath)
	}
	return nil
}

func (l *Local) Remove(path string) error {
	return os.RemoveAll(path)
}

func (l *Local) GetFileContents(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (l *Local) PutFileContents(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (l *Local) Execute(command string) ([]byte, error) {
	cmd := exec.Command("sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("remote: local execute %q: %w", command, err)
	}
	return out, nil
}

func (l *Local) Close() error { return nil }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

var _ Folder = (*Local)(nil)
