package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "dischat"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "DISCHAT_DATA_DIR"
	// DefaultListenAddress is where `dischat serve` listens by default.
	DefaultListenAddress = ":54321"
	// DefaultBackendURL is the server the client talks to by default.
	DefaultBackendURL = "http://127.0.0.1:54321"
	// DefaultTokenTTL is the access token lifetime.
	DefaultTokenTTL = 7 * 24 * time.Hour
	// DefaultLogLevel is a zerolog level name.
	DefaultLogLevel = "info"

	configFileName = "config.json"
	secretBytes    = 32
)

// Config contains persistent settings shared by the server and the client.
type Config struct {
	InstanceID    string `json:"instance_id"`
	DisplayName   string `json:"display_name"`
	ListenAddress string `json:"listen_address"`
	BackendURL    string `json:"backend_url"`
	JWTSecret     string `json:"jwt_secret"`
	TokenTTL      string `json:"token_ttl"`
	Advertise     *bool  `json:"advertise,omitempty"`
	LogLevel      string `json:"log_level"`
}

// TokenLifetime parses TokenTTL, falling back to DefaultTokenTTL.
func (c *Config) TokenLifetime() time.Duration {
	ttl, err := time.ParseDuration(c.TokenTTL)
	if err != nil || ttl <= 0 {
		return DefaultTokenTTL
	}
	return ttl
}

// Secret returns the decoded token signing secret.
func (c *Config) Secret() ([]byte, error) {
	secret, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decode jwt secret: %w", err)
	}
	return secret, nil
}

// AdvertiseEnabled reports whether the server announces itself over mDNS.
func (c *Config) AdvertiseEnabled() bool {
	return c.Advertise == nil || *c.Advertise
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If DISCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
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

// Load reads and unmarshals config.json from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk. The file holds the signing
// secret, so it is private to the user.
func Save(path string, cfg *Config) error {
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

// LoadOrCreate ensures dataDir and its config exist, then returns the config,
// its path and the data directory. An empty dataDir is resolved with
// ResolveDataDir.
func LoadOrCreate(dataDir string) (*Config, string, error) {
	if dataDir == "" {
		resolved, err := ResolveDataDir()
		if err != nil {
			return nil, "", err
		}
		dataDir = resolved
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
		cfg = &Config{}
	}

	updated, err := normalizeDefaults(cfg)
	if err != nil {
		return nil, "", err
	}
	if updated {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func normalizeDefaults(cfg *Config) (bool, error) {
	updated := false

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		updated = true
	}

	if cfg.DisplayName == "" {
		name := "DisChat"
		if host, err := os.Hostname(); err == nil && host != "" {
			name = host
		}
		cfg.DisplayName = name
		updated = true
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
		updated = true
	}

	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
		updated = true
	}

	if secret, err := hex.DecodeString(cfg.JWTSecret); err != nil || len(secret) < 16 {
		generated, err := newSecret()
		if err != nil {
			return false, err
		}
		cfg.JWTSecret = generated
		updated = true
	}

	if ttl, err := time.ParseDuration(cfg.TokenTTL); err != nil || ttl <= 0 {
		cfg.TokenTTL = DefaultTokenTTL.String()
		updated = true
	}

	if cfg.Advertise == nil {
		enabled := true
		cfg.Advertise = &enabled
		updated = true
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated, nil
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
