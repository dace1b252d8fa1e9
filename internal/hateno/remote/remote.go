// Package remote implements RemoteFolder: the transport the Maker uses
// to ship generated scripts to wherever simulations actually run, and
// to bring finished output back. Two backends share the same
// interface: an SSH/SFTP backend for a real remote host, and a local
// backend that simply operates on the filesystem for the common case
// where "remote" is in fact the same machine.
package remote

import "io"

// Folder is the transport contract the Maker depends on.
// Put/Get mirror the original's recursive, mtime-skip-aware semantics;
// Execute runs a command on the remote host (for the local backend,
// simply on this host).
type Folder interface {
	// Put sends localPath (file or directory, recursively) to
	// remotePath. If replace is false, a file is only sent when its
	// local mtime is newer than the remote file's; directories are
	// always recursed into. If delete is true, the local copy is
	// removed once sent.
	Put(localPath, remotePath string, replace, delete bool) error

	// Get downloads remotePath (file or directory, recursively) to
	// localPath. If delete is true, the remote copy is removed once
	// downloaded.
	Get(remotePath, localPath string, delete bool) error

	// Remove deletes a remote file or directory, recursively.
	Remove(remotePath string) error

	// GetFileContents returns the contents of a remote file without
	// creating a local copy. Used by the Maker's WAIT step to poll a
	// job's log file.
	GetFileContents(remotePath string) ([]byte, error)

	// PutFileContents writes data to a remote file, creating parent
	// directories as needed.
	PutFileContents(remotePath string, data []byte) error

	// Execute runs command on the remote host and returns its
	// combined stdout and stderr.
	Execute(command string) ([]byte, error)

	// Close releases any underlying connection.
	Close() error
}

var _ io.Closer = (Folder)(nil)
