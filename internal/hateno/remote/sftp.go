package remote

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPConfig describes how to reach a remote host.
type SFTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey []byte
	HostKey    ssh.PublicKey // nil accepts any host key (see DialSFTP doc)
}

// SFTPFolder implements [Folder] over SSH/SFTP, porting the recursive
// put/get/remove semantics and mtime-skip-if-not-newer behavior of the
// original implementation's SFTP subclass.
type SFTPFolder struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// DialSFTP opens an SSH connection and an SFTP session against cfg. A
// nil HostKey accepts any host key (ssh.InsecureIgnoreHostKey) — callers
// that need strict host-key verification should set it explicitly.
func DialSFTP(cfg SFTPConfig) (*SFTPFolder, error) {
	var auth []ssh.AuthMethod
	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("remote: parsing private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.HostKey != nil {
		hostKeyCallback = ssh.FixedHostKey(cfg.HostKey)
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	sshClient, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", cfg.Host, port), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("remote: dialing %s: %w", cfg.Host, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("remote: opening sftp session: %w", err)
	}

	return &SFTPFolder{sshClient: sshClient, sftpClient: sftpClient}, nil
}

func (f *SFTPFolder) Put(localPath, remotePath string, replace, del bool) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		if !replace {
			if remoteInfo, err := f.sftpClient.Stat(remotePath); err == nil {
				if !info.ModTime().After(remoteInfo.ModTime()) {
					return nil
				}
			}
		}

		if err := f.putFile(localPath, remotePath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if err := f.makedirs(path.Dir(remotePath)); err != nil {
					return err
				}
				if err := f.putFile(localPath, remotePath); err != nil {
					return err
				}
			} else {
				return err
			}
		}

		if err := f.sftpClient.Chmod(remotePath, info.Mode().Perm()); err != nil {
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
		if err := f.Put(path.Join(localPath, e.Name()), path.Join(remotePath, e.Name()), replace, del); err != nil {
			return err
		}
	}
	if del {
		return os.Remove(localPath)
	}
	return nil
}

func (f *SFTPFolder) putFile(localPath, remotePath string) error {
	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := f.sftpClient.Create(remotePath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func (f *SFTPFolder) makedirs(dir string) error {
	if dir == "." || dir == "/" || dir == "" {
		return nil
	}
	if err := f.sftpClient.Mkdir(dir); err != nil {
		if err := f.makedirs(path.Dir(dir)); err != nil {
			return err
		}
		return f.sftpClient.Mkdir(dir)
	}
	return nil
}

func (f *SFTPFolder) Get(remotePath, localPath string, del bool) error {
	info, err := f.sftpClient.Stat(remotePath)
	if err != nil {
		return err
	}

	if info.IsDir() {
		entries, err := f.sftpClient.ReadDir(remotePath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := f.Get(path.Join(remotePath, e.Name()), path.Join(localPath, e.Name()), del); err != nil {
				return err
			}
		}
		if del {
			return f.sftpClient.RemoveDirectory(remotePath)
		}
		return nil
	}

	if err := os.MkdirAll(path.Dir(localPath), 0o755); err != nil {
		return err
	}
	if err := f.getFile(remotePath, localPath); err != nil {
		return err
	}
	if err := os.Chmod(localPath, info.Mode().Perm()); err != nil {
		return err
	}
	if del {
		return f.sftpClient.Remove(remotePath)
	}
	return nil
}

func (f *SFTPFolder) getFile(remotePath, localPath string) error {
	in, err := f.sftpClient.Open(remotePath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Remove deletes a remote file or directory, recursing through
// directory contents first (SFTP has no recursive remove of its own).
func (f *SFTPFolder) Remove(remotePath string) error {
	info, err := f.sftpClient.Stat(remotePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return f.sftpClient.Remove(remotePath)
	}

	entries, err := f.sftpClient.ReadDir(remotePath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := f.Remove(path.Join(remotePath, e.Name())); err != nil {
			return err
		}
	}
	return f.sftpClient.RemoveDirectory(remotePath)
}

func (f *SFTPFolder) GetFileContents(remotePath string) ([]byte, error) {
	file, err := f.sftpClient.Open(remotePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (f *SFTPFolder) PutFileContents(remotePath string, data []byte) error {
	if err := f.makedirs(path.Dir(remotePath)); err != nil {
		return err
	}
	file, err := f.sftpClient.Create(remotePath)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(data)
	return err
}

// Execute runs command on the remote host over a new SSH session.
func (f *SFTPFolder) Execute(command string) ([]byte, error) {
	session, err := f.sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("remote: opening ssh session: %w", err)
	}
	defer session.Close()
	return session.CombinedOutput(command)
}

func (f *SFTPFolder) Close() error {
	sftpErr := f.sftpClient.Close()
	sshErr := f.sshClient.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}

var _ Folder = (*SFTPFolder)(nil)
