package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AnalysisSettings configuration for the binary-analysis cache and the
// headless analyzer collaborator.
type AnalysisSettings struct {
	BaseDir            string        `mapstructure:"base_dir"`
	HeadlessPath       string        `mapstructure:"headless_path"`
	ScriptDir          string        `mapstructure:"script_dir"`
	SafeDir            string        `mapstructure:"safe_dir"`
	StreamingThreshold int64         `mapstructure:"streaming_threshold"`
	SessionCapacity    int           `mapstructure:"session_capacity"`
	AnalysisTimeout    time.Duration `mapstructure:"analysis_timeout"`
	MaxResults         int           `mapstructure:"max_results"`
}

// CacheDir returns the directory holding persisted records and the cache index.
func (a *AnalysisSettings) CacheDir() string {
	return filepath.Join(a.BaseDir, "cache")
}

// ProjectsDir returns the scratch directory for analyzer projects.
func (a *AnalysisSettings) ProjectsDir() string {
	return filepath.Join(a.BaseDir, "projects")
}

// IndexesDir returns the directory holding full-text search indexes.
func (a *AnalysisSettings) IndexesDir() string {
	return filepath.Join(a.BaseDir, "indexes")
}

// Settings application settings
type Settings struct {
	Transport string           `mapstructure:"transport"`
	Host      string           `mapstructure:"host"`
	Port      int              `mapstructure:"port"`
	Auth      AuthSettings     `mapstructure:"auth"`
	Analysis  AnalysisSettings `mapstructure:"analysis"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	// Analysis defaults
	v.SetDefault("analysis.base_dir", defaultAnalysisBaseDir())
	v.SetDefault("analysis.headless_path", "")
	v.SetDefault("analysis.script_dir", "")
	v.SetDefault("analysis.safe_dir", "")
	v.SetDefault("analysis.streaming_threshold", int64(32*1024*1024)) // 32MB
	v.SetDefault("analysis.session_capacity", 16)
	v.SetDefault("analysis.analysis_timeout", 10*time.Minute)
	v.SetDefault("analysis.max_results", 100)

	// Environment variables
	v.SetEnvPrefix("BINSIGHT_MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	_ = v.BindEnv("auth.type", "BINSIGHT_MCP_AUTH_TYPE")
	_ = v.BindEnv("auth.basic.username", "BINSIGHT_MCP_AUTH_BASIC_USERNAME")
	_ = v.BindEnv("auth.basic.password", "BINSIGHT_MCP_AUTH_BASIC_PASSWORD")
	_ = v.BindEnv("auth.api_keys", "BINSIGHT_MCP_AUTH_API_KEYS")

	// Analysis env var bindings
	_ = v.BindEnv("analysis.base_dir", "BINSIGHT_MCP_ANALYSIS_BASE_DIR")
	_ = v.BindEnv("analysis.headless_path", "BINSIGHT_MCP_ANALYSIS_HEADLESS_PATH")
	_ = v.BindEnv("analysis.script_dir", "BINSIGHT_MCP_ANALYSIS_SCRIPT_DIR")
	_ = v.BindEnv("analysis.safe_dir", "BINSIGHT_MCP_ANALYSIS_SAFE_DIR")
	_ = v.BindEnv("analysis.streaming_threshold", "BINSIGHT_MCP_ANALYSIS_STREAMING_THRESHOLD")
	_ = v.BindEnv("analysis.session_capacity", "BINSIGHT_MCP_ANALYSIS_SESSION_CAPACITY")
	_ = v.BindEnv("analysis.analysis_timeout", "BINSIGHT_MCP_ANALYSIS_TIMEOUT")
	_ = v.BindEnv("analysis.max_results", "BINSIGHT_MCP_ANALYSIS_MAX_RESULTS")

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		_ = v.BindPFlag("transport", flags.Lookup("transport"))
		_ = v.BindPFlag("host", flags.Lookup("host"))
		_ = v.BindPFlag("port", flags.Lookup("port"))
		_ = v.BindPFlag("auth.type", flags.Lookup("auth-type"))
		_ = v.BindPFlag("auth.basic.username", flags.Lookup("auth-basic-username"))
		_ = v.BindPFlag("auth.basic.password", flags.Lookup("auth-basic-password"))
		_ = v.BindPFlag("auth.api_keys", flags.Lookup("auth-api-keys"))

		// Analysis CLI flags
		_ = v.BindPFlag("analysis.base_dir", flags.Lookup("analysis-base-dir"))
		_ = v.BindPFlag("analysis.headless_path", flags.Lookup("analysis-headless-path"))
		_ = v.BindPFlag("analysis.script_dir", flags.Lookup("analysis-script-dir"))
		_ = v.BindPFlag("analysis.safe_dir", flags.Lookup("analysis-safe-dir"))
		_ = v.BindPFlag("analysis.streaming_threshold", flags.Lookup("analysis-streaming-threshold"))
		_ = v.BindPFlag("analysis.session_capacity", flags.Lookup("analysis-session-capacity"))
		_ = v.BindPFlag("analysis.analysis_timeout", flags.Lookup("analysis-timeout"))
		_ = v.BindPFlag("analysis.max_results", flags.Lookup("analysis-max-results"))
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv("BINSIGHT_MCP_AUTH_API_KEYS")
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}

	// Expand home directory in path settings
	settings.Analysis.BaseDir = expandHomeDir(settings.Analysis.BaseDir)
	settings.Analysis.HeadlessPath = expandHomeDir(settings.Analysis.HeadlessPath)
	settings.Analysis.ScriptDir = expandHomeDir(settings.Analysis.ScriptDir)
	settings.Analysis.SafeDir = expandHomeDir(settings.Analysis.SafeDir)

	return &settings, nil
}

// defaultAnalysisBaseDir returns the default base directory for analysis output
func defaultAnalysisBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".binsight-mcp"
	}
	return filepath.Join(home, ".binsight-mcp")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	// Validate analysis settings
	if err := validateAnalysisSettings(&s.Analysis); err != nil {
		return err
	}

	return nil
}

// validateAnalysisSettings validates the analysis configuration
func validateAnalysisSettings(a *AnalysisSettings) error {
	if a.BaseDir == "" {
		return errors.New("analysis-base-dir cannot be empty")
	}

	if a.StreamingThreshold < 0 {
		return errors.New("analysis-streaming-threshold must be non-negative")
	}

	if a.SessionCapacity <= 0 {
		return errors.New("analysis-session-capacity must be positive")
	}

	if a.AnalysisTimeout <= 0 {
		return errors.New("analysis-timeout must be positive")
	}

	if a.MaxResults <= 0 {
		return errors.New("analysis-max-results must be positive")
	}

	return nil
}
