// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the application configuration.
type Config struct {
	App         AppConfig
	Logger      LoggerConfig
	Library     LibraryConfig
	Backup      BackupConfig
	AutoAdd     AutoAddConfig
	Search      SearchConfig
	Maintenance MaintenanceConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// LibraryConfig holds the location and locale of the library being served.
type LibraryConfig struct {
	Path   string
	Locale string // BCP-47 tag used for collation (default: en)
	// UsePrimaryCollation makes text comparison ignore accents and case.
	UsePrimaryCollation bool
}

// BackupConfig controls the OPF sidecar writer.
type BackupConfig struct {
	Enabled            bool
	Interval           time.Duration // idle wait when nothing is dirty (default: 2s)
	SchedulingInterval time.Duration // pause between steps of one backup (default: 100ms)
}

// AutoAddConfig controls the watched drop folder.
type AutoAddConfig struct {
	Path            string // Optional
	SettleDelay     time.Duration
	AllowDuplicates bool
}

// SearchConfig controls the full-text index.
type SearchConfig struct {
	FullText bool
}

// MaintenanceConfig controls periodic database upkeep in the daemon.
type MaintenanceConfig struct {
	Schedule string // cron spec (default: @daily)
}

// Overrides carries command-line values. Empty fields fall through to the
// environment, the .env file, and finally the defaults.
type Overrides struct {
	EnvFile     string
	Environment string
	LogLevel    string
	LibraryPath string
	Locale      string
	AutoAddPath string
	NoBackup    bool
	NoFullText  bool
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(o Overrides) (*Config, error) {
	envFile := o.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(o.Environment, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(o.LogLevel, "LOG_LEVEL", "info"),
		},
		Library: LibraryConfig{
			Path:                getConfigValue(o.LibraryPath, "LIBRARY_PATH", ""),
			Locale:              getConfigValue(o.Locale, "LIBRARY_LOCALE", "en"),
			UsePrimaryCollation: getBoolConfigValue("", "LIBRARY_PRIMARY_COLLATION", true),
		},
		Backup: BackupConfig{
			Enabled: getBoolConfigValue(disabledFlag(o.NoBackup), "BACKUP_ENABLED", true),
		},
		AutoAdd: AutoAddConfig{
			Path:            getConfigValue(o.AutoAddPath, "AUTO_ADD_PATH", ""),
			AllowDuplicates: getBoolConfigValue("", "AUTO_ADD_ALLOW_DUPLICATES", false),
		},
		Search: SearchConfig{
			FullText: getBoolConfigValue(disabledFlag(o.NoFullText), "FULL_TEXT_ENABLED", true),
		},
		Maintenance: MaintenanceConfig{
			Schedule: getConfigValue("", "MAINTENANCE_SCHEDULE", "@daily"),
		},
	}

	var err error
	if cfg.Backup.Interval, err = getDurationConfigValue("BACKUP_INTERVAL", "2s"); err != nil {
		return nil, err
	}
	if cfg.Backup.SchedulingInterval, err = getDurationConfigValue("BACKUP_SCHEDULING_INTERVAL", "100ms"); err != nil {
		return nil, err
	}
	if cfg.AutoAdd.SettleDelay, err = getDurationConfigValue("AUTO_ADD_SETTLE_DELAY", "1s"); err != nil {
		return nil, err
	}

	if cfg.Library.Path, err = expandPath(cfg.Library.Path, ""); err != nil {
		return nil, fmt.Errorf("invalid library path: %w", err)
	}
	if cfg.AutoAdd.Path, err = expandPath(cfg.AutoAdd.Path, ""); err != nil {
		return nil, fmt.Errorf("invalid auto-add path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
// The library path is checked separately by RequireLibrary because some
// commands (help, version) run without one.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Backup.Interval <= 0 {
		return fmt.Errorf("backup interval must be positive, got %s", c.Backup.Interval)
	}
	if c.Backup.SchedulingInterval <= 0 {
		return fmt.Errorf("backup scheduling interval must be positive, got %s", c.Backup.SchedulingInterval)
	}
	if c.AutoAdd.SettleDelay <= 0 {
		return fmt.Errorf("auto-add settle delay must be positive, got %s", c.AutoAdd.SettleDelay)
	}

	if c.Maintenance.Schedule != "" {
		if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("invalid maintenance schedule %q: %w", c.Maintenance.Schedule, err)
		}
	}

	return nil
}

// RequireLibrary reports an error when no library path is configured.
func (c *Config) RequireLibrary() error {
	if c.Library.Path == "" {
		return errors.New("library path is required (use --library or LIBRARY_PATH)")
	}
	return nil
}

// FullTextPath is where the full-text index lives inside the library.
func (c *Config) FullTextPath() string {
	return filepath.Join(c.Library.Path, ".folio", "fts")
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func disabledFlag(set bool) string {
	if set {
		return "false"
	}
	return ""
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

func getDurationConfigValue(envKey, defaultValue string) (time.Duration, error) {
	s := getConfigValue("", envKey, defaultValue)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, s, err)
	}
	return d, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
