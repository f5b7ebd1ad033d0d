package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultRemoteURL is the catalogue endpoint used when remote_url is not configured.
const DefaultRemoteURL = "https://raw.githubusercontent.com/hpungsan/rulesync-catalogue/main/rules.json"

// Cache backends.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendBolt   = "bolt"
)

// Config holds application configuration.
type Config struct {
	// RemoteURL is the endpoint returning the catalogue as a JSON array of rules.
	RemoteURL string `json:"remote_url,omitempty"`

	// FreshnessHours is the age after which the cached catalogue is stale.
	FreshnessHours int `json:"freshness_hours,omitempty"`

	// FetchTimeoutSeconds bounds one remote fetch. Negative means no timeout.
	FetchTimeoutSeconds int `json:"fetch_timeout_seconds,omitempty"`

	// FetchMaxBytes caps the size of a remote catalogue response.
	FetchMaxBytes int64 `json:"fetch_max_bytes,omitempty"`

	// SyncRetries is the number of extra remote attempts the implicit load path makes
	// before falling back. 0 keeps a single attempt.
	SyncRetries int `json:"sync_retries,omitempty"`

	// TargetFile is the file name written at the workspace root by apply.
	TargetFile string `json:"target_file,omitempty"`

	// LocalCatalogueDir overrides the catalogue bundled in the binary.
	// Relative paths are ignored.
	LocalCatalogueDir string `json:"local_catalogue_dir,omitempty"`

	// CacheBackend selects the persistent cache: "sqlite" (default) or "bolt".
	CacheBackend string `json:"cache_backend,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogJSON switches stderr logging from console format to JSON lines.
	LogJSON bool `json:"log_json,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RemoteURL:           DefaultRemoteURL,
		FreshnessHours:      24,
		FetchTimeoutSeconds: 30,
		FetchMaxBytes:       10 * 1024 * 1024,
		TargetFile:          ".cursorrules",
		CacheBackend:        CacheBackendSQLite,
		LogLevel:            "warn",
	}
}

// FreshnessWindow returns the staleness threshold as a duration.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessHours) * time.Hour
}

// FetchTimeout returns the remote fetch timeout; zero means none.
func (c *Config) FetchTimeout() time.Duration {
	if c.FetchTimeoutSeconds < 0 {
		return 0
	}
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// BaseDir returns the directory holding config.json and the cache database.
// RULESYNC_HOME overrides the default of ~/.rulesync.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("RULESYNC_HOME")); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".rulesync"), nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.rulesync.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.rulesync) and repo (.rulesync) directories.
// Repo config is found by walking upward from startDir to find the nearest .rulesync/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .rulesync/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".rulesync", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.RemoteURL = firstString(overlay.RemoteURL, base.RemoteURL)
	result.TargetFile = firstString(overlay.TargetFile, base.TargetFile)
	result.CacheBackend = firstString(overlay.CacheBackend, base.CacheBackend)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)

	// Relative catalogue dirs are ignored, like AllowedPaths in the original config.
	result.LocalCatalogueDir = base.LocalCatalogueDir
	if filepath.IsAbs(overlay.LocalCatalogueDir) {
		result.LocalCatalogueDir = overlay.LocalCatalogueDir
	}

	result.FreshnessHours = firstInt(overlay.FreshnessHours, base.FreshnessHours)
	result.FetchTimeoutSeconds = firstInt(overlay.FetchTimeoutSeconds, base.FetchTimeoutSeconds)
	result.SyncRetries = firstInt(overlay.SyncRetries, base.SyncRetries)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.FetchMaxBytes = overlay.FetchMaxBytes
	if result.FetchMaxBytes == 0 {
		result.FetchMaxBytes = base.FetchMaxBytes
	}

	// Booleans: overlay wins if true, else base
	result.LogJSON = base.LogJSON || overlay.LogJSON

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(overlay, base string) string {
	if s := strings.TrimSpace(overlay); s != "" {
		return s
	}
	return base
}

func firstInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
