package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tailscale/hujson"

	"github.com/barysiuk/mountplan/internal/core/fsx"
	"github.com/barysiuk/mountplan/internal/core/ref"
)

const (
	configDirName  = ".mountplan"
	configFileName = "config.json"
	homeEnvVar     = "MOUNTPLAN_HOME"
)

// ConfigManager handles reading and writing the mountplan configuration.
type ConfigManager struct {
	configDir string
	mu        sync.RWMutex
}

// NewConfigManager creates a ConfigManager using $MOUNTPLAN_HOME, or
// ~/.mountplan/ when it is unset.
func NewConfigManager() (*ConfigManager, error) {
	if dir := os.Getenv(homeEnvVar); dir != "" {
		return &ConfigManager{configDir: fsx.ExpandHome(dir)}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return &ConfigManager{
		configDir: filepath.Join(home, configDirName),
	}, nil
}

// NewConfigManagerWithDir creates a ConfigManager using a custom config directory.
func NewConfigManagerWithDir(dir string) *ConfigManager {
	return &ConfigManager{configDir: dir}
}

// ConfigDir returns the configuration directory path.
func (cm *ConfigManager) ConfigDir() string {
	return cm.configDir
}

// ConfigPath returns the full path to the config file.
func (cm *ConfigManager) ConfigPath() string {
	return filepath.Join(cm.configDir, configFileName)
}

// Load reads the config from disk. Returns default config if file doesn't exist.
// The file may contain comments and trailing commas.
func (cm *ConfigManager) Load() (*Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	data, err := os.ReadFile(cm.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk, creating the directory if needed.
func (cm *ConfigManager) Save(cfg *Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.MkdirAll(cm.configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := fsx.WriteFileAtomic(cm.ConfigPath(), append(data, '\n')); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

// ShareDir returns where compiled profiles, collections and metadata live.
func (cm *ConfigManager) ShareDir(cfg *Config) string {
	if cfg != nil && cfg.ShareDir != "" {
		return fsx.ExpandHome(cfg.ShareDir)
	}
	return filepath.Join(cm.configDir, "share")
}

// CacheDir returns the shared reference cache directory.
func (cm *ConfigManager) CacheDir(cfg *Config) string {
	if cfg != nil && cfg.CacheDir != "" {
		return fsx.ExpandHome(cfg.CacheDir)
	}
	return filepath.Join(cm.configDir, "cache")
}

// MetadataPath returns the path of the metadata database.
func (cm *ConfigManager) MetadataPath(cfg *Config) string {
	return filepath.Join(cm.ShareDir(cfg), "metadata.db")
}

// Registries returns the built-in registry table overlaid with the
// configured registries.
func (cm *ConfigManager) Registries(cfg *Config) *ref.RegistryTable {
	if cfg == nil {
		return ref.NewRegistryTable(ref.DefaultRegistries)
	}
	return ref.NewRegistryTable(ref.DefaultRegistries, cfg.Registries)
}

func defaultConfig() *Config {
	return &Config{
		Registries: []ref.Registry{},
		Settings: Settings{
			GitRefDefaultHEAD: false,
		},
	}
}
