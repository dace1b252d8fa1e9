// Package clitransport resolves the remote.Folder a CLI command should
// talk to from a small JSON configuration block, shared by the
// simulations-maker, simulations-send and simulations-receive
// commands so each one accepts the same "remote"
// shape instead of reinventing it.
package clitransport

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/JeremyHeleine/hateno-go/internal/hateno/remote"
)

// Config is the JSON shape a settings file's "remote" key decodes into.
// An absent or empty Host means "operate on the local filesystem";
// everything else is ignored in that case.
type Config struct {
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	User           string `json:"user,omitempty"`
	Password       string `json:"password,omitempty"`
	PrivateKeyFile string `json:"private_key_file,omitempty"`
}

// Dial resolves cfg into a [remote.Folder]: a real [remote.Local] when
// cfg is nil or cfg.Host is empty, or an SFTP connection otherwise.
func Dial(cfg *Config) (remote.Folder, error) {
	if cfg == nil || cfg.Host == "" {
		return remote.NewLocal(), nil
	}

	sftpCfg := remote.SFTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
	}
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("clitransport: reading private key %q: %w", cfg.PrivateKeyFile, err)
		}
		sftpCfg.PrivateKey = key
	}

	folder, err := remote.DialSFTP(sftpCfg)
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// UnmarshalConfig decodes raw (a "remote" JSON object, possibly absent)
// into a *Config, returning nil if raw is empty.
func UnmarshalConfig(raw json.RawMessage) (*Config, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("clitransport: parsing remote config: %w", err)
	}
	return &cfg, nil
}
