package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "cipherchat"
	// DefaultAuthEndpoint is the identity provider REST endpoint.
	DefaultAuthEndpoint = "https://identitytoolkit.googleapis.com/v1"
	// DefaultTypingQuietMS is the typing-signal quiet period in milliseconds.
	DefaultTypingQuietMS = 1000
	// DefaultEncryptionSalt is the key-derivation salt shared by all clients
	// of one deployment. Both conversation parties must derive the same key,
	// so the salt travels with the passphrase, not per device.
	DefaultEncryptionSalt = "cipherchat-static-salt-v1"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// dataDirEnv overrides the data directory location.
	dataDirEnv = "CIPHERCHAT_DATA_DIR"
)

// ClientConfig contains persistent local client settings. The encryption
// passphrase is deployment-shared material the user supplies; nothing in
// the binary embeds key material.
type ClientConfig struct {
	AccountEmail         string `json:"account_email"`
	AuthEndpoint         string `json:"auth_endpoint"`
	AuthAPIKey           string `json:"auth_api_key"`
	FirestoreProjectID   string `json:"firestore_project_id"`
	CredentialsPath      string `json:"credentials_path"`
	EncryptionPassphrase string `json:"encryption_passphrase"`
	EncryptionSalt       string `json:"encryption_salt"`
	TypingQuietMS        int    `json:"typing_quiet_ms"`
	PushToken            string `json:"push_token"`
	Platform             string `json:"platform"`
}

// SaltBytes decodes the configured salt. A salt value that is not valid
// base64 is used as raw bytes.
func (c *ClientConfig) SaltBytes() []byte {
	if decoded, err := base64.StdEncoding.DecodeString(c.EncryptionSalt); err == nil && len(decoded) > 0 {
		return decoded
	}
	return []byte(c.EncryptionSalt)
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CIPHERCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(dataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "cache"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// CacheDir returns the directory holding the local history database.
func CacheDir(dataDir string) string {
	return filepath.Join(dataDir, "cache")
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		AuthEndpoint:   DefaultAuthEndpoint,
		EncryptionSalt: DefaultEncryptionSalt,
		TypingQuietMS:  DefaultTypingQuietMS,
	}
}

func normalizeDefaults(cfg *ClientConfig) bool {
	updated := false

	if cfg.AuthEndpoint == "" {
		cfg.AuthEndpoint = DefaultAuthEndpoint
		updated = true
	}
	if cfg.EncryptionSalt == "" {
		cfg.EncryptionSalt = DefaultEncryptionSalt
		updated = true
	}
	if cfg.TypingQuietMS <= 0 {
		cfg.TypingQuietMS = DefaultTypingQuietMS
		updated = true
	}

	return updated
}
