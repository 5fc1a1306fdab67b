// Package config provides layered configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// AppName names the config and state directories.
const AppName = "renewctl"

// Config holds the resolved configuration.
type Config struct {
	// API settings
	BaseURL   string `yaml:"base_url" json:"base_url"`
	LoginPath string `yaml:"login_path" json:"login_path"`
	CSRFToken string `yaml:"-" json:"-"`

	// Profile settings (named API environments)
	Profiles       map[string]*ProfileConfig `yaml:"profiles,omitempty" json:"profiles,omitempty"`
	DefaultProfile string                    `yaml:"default_profile,omitempty" json:"default_profile,omitempty"`
	ActiveProfile  string                    `yaml:"-" json:"active_profile,omitempty"`

	// Session settings
	Storage  string `yaml:"storage" json:"storage"`
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// Request policy
	RetryCount int           `yaml:"retry_count" json:"retry_count"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	RateLimit  float64       `yaml:"rate_limit" json:"rate_limit"` // requests per second, 0 = unlimited

	// Logging
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file,omitempty" json:"log_file,omitempty"`

	// Behavior preferences (overridable by flags)
	Stats   *bool `yaml:"stats,omitempty" json:"stats,omitempty"`
	Verbose *int  `yaml:"verbose,omitempty" json:"verbose,omitempty"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `yaml:"-" json:"sources,omitempty"`
}

// ProfileConfig holds configuration for a named profile.
type ProfileConfig struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	LoginPath string `yaml:"login_path,omitempty" json:"login_path,omitempty"`
	Storage   string `yaml:"storage,omitempty" json:"storage,omitempty"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceRepo    Source = "repo"
	SourceLocal   Source = "local"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
	SourceProfile Source = "profile"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	BaseURL  string
	Profile  string
	Storage  string
	StateDir string
	LogFile  string
}

// configFileNames are tried in order inside each config directory.
var configFileNames = []string{"config.yaml", "config.yml", "config.json"}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BaseURL:    "http://localhost:8000/api",
		LoginPath:  "/login",
		Storage:    "auto",
		StateDir:   defaultStateDir(),
		RetryCount: 2,
		Timeout:    30 * time.Second,
		LogLevel:   "warning",
		Sources:    make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > local > repo > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, findConfigFile(systemConfigDir()), SourceSystem)
	loadFromFile(cfg, findConfigFile(GlobalConfigDir()), SourceGlobal)

	repoPath := repoConfigPath()
	if repoPath != "" {
		loadFromFile(cfg, repoPath, SourceRepo)
	}
	for _, path := range localConfigPaths(repoPath) {
		loadFromFile(cfg, path, SourceLocal)
	}

	LoadFromEnv(cfg)

	profile := overrides.Profile
	if profile == "" {
		profile = os.Getenv("RENEWCTL_PROFILE")
	}
	if profile == "" {
		profile = cfg.DefaultProfile
	}
	if profile != "" {
		if err := cfg.ApplyProfile(profile); err != nil {
			return nil, err
		}
		// Env and flags still win over the profile.
		LoadFromEnv(cfg)
	}

	ApplyOverrides(cfg, overrides)
	return cfg, nil
}

func findConfigFile(dir string) string {
	for _, name := range configFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func loadFromFile(cfg *Config, path string, source Source) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	// YAML is a superset of JSON, so one decoder covers both formats.
	var fileCfg map[string]any
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		log.Warnf("skipping malformed config at %s: %v", path, err)
		return
	}
	if fileCfg == nil {
		return
	}

	// Authority keys decide where the session token is sent. Local/repo
	// config must not set them.
	untrusted := source == SourceLocal || source == SourceRepo
	set := func(key string) { cfg.Sources[key] = string(source) }

	if v := getString(fileCfg, "base_url"); v != "" {
		if untrusted {
			log.Warnf("ignoring base_url %q from %s config at %s (authority keys are not trusted from local/repo config)", v, source, path)
		} else {
			cfg.BaseURL = v
			set("base_url")
		}
	}
	if v := getString(fileCfg, "login_path"); v != "" {
		cfg.LoginPath = v
		set("login_path")
	}
	if v := getString(fileCfg, "storage"); v != "" {
		cfg.Storage = v
		set("storage")
	}
	if v := getString(fileCfg, "state_dir"); v != "" {
		cfg.StateDir = v
		set("state_dir")
	}
	if v, ok := getInt(fileCfg, "retry_count"); ok && v >= 0 {
		cfg.RetryCount = v
		set("retry_count")
	}
	if v, ok := getDuration(fileCfg, "timeout"); ok && v > 0 {
		cfg.Timeout = v
		set("timeout")
	}
	if v, ok := getFloat(fileCfg, "rate_limit"); ok && v >= 0 {
		cfg.RateLimit = v
		set("rate_limit")
	}
	if v := getString(fileCfg, "log_level"); v != "" {
		cfg.LogLevel = v
		set("log_level")
	}
	if v := getString(fileCfg, "log_file"); v != "" {
		cfg.LogFile = v
		set("log_file")
	}
	if v, ok := fileCfg["stats"].(bool); ok {
		cfg.Stats = &v
		set("stats")
	}
	if v, ok := getInt(fileCfg, "verbose"); ok && v >= 0 && v <= 2 {
		cfg.Verbose = &v
		set("verbose")
	}
	if v := getString(fileCfg, "default_profile"); v != "" {
		if untrusted {
			log.Warnf("ignoring default_profile %q from %s config at %s (authority keys are not trusted from local/repo config)", v, source, path)
		} else {
			cfg.DefaultProfile = v
			set("default_profile")
		}
	}
	if v, ok := fileCfg["profiles"].(map[string]any); ok {
		if untrusted {
			log.Warnf("ignoring profiles from %s config at %s (authority keys are not trusted from local/repo config)", source, path)
			return
		}
		if cfg.Profiles == nil {
			cfg.Profiles = make(map[string]*ProfileConfig)
		}
		for name, profileData := range v {
			profileMap, ok := profileData.(map[string]any)
			if !ok {
				continue
			}
			p := &ProfileConfig{
				BaseURL:   getString(profileMap, "base_url"),
				LoginPath: getString(profileMap, "login_path"),
				Storage:   getString(profileMap, "storage"),
			}
			// Skip profiles with empty or missing base_url
			if p.BaseURL == "" {
				continue
			}
			cfg.Profiles[name] = p
		}
		set("profiles")
	}
}

// LoadFromEnv loads configuration from RENEWCTL_* environment variables.
func LoadFromEnv(cfg *Config) {
	env := func(key string) string { return os.Getenv("RENEWCTL_" + key) }

	if v := env("BASE_URL"); v != "" {
		cfg.BaseURL = v
		cfg.Sources["base_url"] = string(SourceEnv)
	}
	if v := env("LOGIN_PATH"); v != "" {
		cfg.LoginPath = v
		cfg.Sources["login_path"] = string(SourceEnv)
	}
	if v := env("CSRF_TOKEN"); v != "" {
		cfg.CSRFToken = v
		cfg.Sources["csrf_token"] = string(SourceEnv)
	}
	if v := env("STORAGE"); v != "" {
		cfg.Storage = v
		cfg.Sources["storage"] = string(SourceEnv)
	}
	if v := env("STATE_DIR"); v != "" {
		cfg.StateDir = v
		cfg.Sources["state_dir"] = string(SourceEnv)
	}
	if v := env("RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetryCount = n
			cfg.Sources["retry_count"] = string(SourceEnv)
		}
	}
	if v := env("TIMEOUT"); v != "" {
		if d, ok := parseDuration(v); ok && d > 0 {
			cfg.Timeout = d
			cfg.Sources["timeout"] = string(SourceEnv)
		}
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
		cfg.Sources["log_level"] = string(SourceEnv)
	}
	if v := env("LOG_FILE"); v != "" {
		cfg.LogFile = v
		cfg.Sources["log_file"] = string(SourceEnv)
	}
	if v := env("STATS"); v != "" {
		if b, ok := parseEnvBool(v); ok {
			cfg.Stats = &b
			cfg.Sources["stats"] = string(SourceEnv)
		}
	}
}

// parseEnvBool parses a boolean environment variable strictly.
// Unrecognized values are ignored to preserve three-state pointer semantics.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// parseDuration accepts Go durations ("45s") and bare seconds ("45").
func parseDuration(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), true
	}
	return 0, false
}

func getString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func getInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

func getFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func getDuration(m map[string]any, key string) (time.Duration, bool) {
	switch v := m[key].(type) {
	case string:
		return parseDuration(v)
	case int:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	}
	return 0, false
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if o.Storage != "" {
		cfg.Storage = o.Storage
		cfg.Sources["storage"] = string(SourceFlag)
	}
	if o.StateDir != "" {
		cfg.StateDir = o.StateDir
		cfg.Sources["state_dir"] = string(SourceFlag)
	}
	if o.LogFile != "" {
		cfg.LogFile = o.LogFile
		cfg.Sources["log_file"] = string(SourceFlag)
	}
}

// ApplyProfile overlays profile values onto the config. Callers re-apply
// env and flags afterwards so they keep precedence over the profile.
func (cfg *Config) ApplyProfile(name string) error {
	if cfg.Profiles == nil {
		return fmt.Errorf("no profiles configured")
	}
	p, ok := cfg.Profiles[name]
	if !ok {
		return fmt.Errorf("profile %q not found", name)
	}

	cfg.ActiveProfile = name
	if p.BaseURL != "" {
		cfg.BaseURL = p.BaseURL
		cfg.Sources["base_url"] = string(SourceProfile)
	}
	if p.LoginPath != "" {
		cfg.LoginPath = p.LoginPath
		cfg.Sources["login_path"] = string(SourceProfile)
	}
	if p.Storage != "" {
		cfg.Storage = p.Storage
		cfg.Sources["storage"] = string(SourceProfile)
	}
	return nil
}

// SessionKey is the storage key for the active profile's session, so
// profiles pointing at different servers never share tokens.
func (cfg *Config) SessionKey() string {
	if cfg.ActiveProfile == "" {
		return "credentials"
	}
	return "credentials:" + cfg.ActiveProfile
}

// Path helpers

func systemConfigDir() string {
	return filepath.Join("/etc", AppName)
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, AppName)
}

func defaultStateDir() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, _ := os.UserHomeDir()
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, AppName)
}

func repoConfigPath() string {
	// Walk up to the enclosing .git, bounded by $HOME. Outside $HOME no
	// repo config is trusted.
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return ""
	}
	dir = resolved
	home, _ := os.UserHomeDir()
	if resolved, err := filepath.EvalSymlinks(home); err == nil {
		home = resolved
	}
	if home != "" && !isInsideDir(dir, home) {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return findConfigFile(filepath.Join(dir, "."+AppName))
		}
		parent := filepath.Dir(dir)
		if parent == dir || (home != "" && dir == home) {
			return ""
		}
		dir = parent
	}
}

// isInsideDir reports whether child is the same as or a subdirectory of parent.
func isInsideDir(child, parent string) bool {
	if child == parent {
		return true
	}
	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(child, prefix)
}

// localConfigPaths returns .renewctl config paths from the trust boundary
// down to the working directory, excluding the repo config. Inside a git
// repo the boundary is the repo root; outside it is the working directory.
func localConfigPaths(repoConfigPath string) []string {
	dir, err := os.Getwd()
	if err != nil {
		return nil
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil
	}
	dir = resolved

	boundary := dir
	if repoConfigPath != "" {
		boundary = filepath.Dir(filepath.Dir(repoConfigPath))
	}
	if resolved, err := filepath.EvalSymlinks(boundary); err == nil {
		boundary = resolved
	}

	var paths []string
	for {
		if p := findConfigFile(filepath.Join(dir, "."+AppName)); p != "" && p != repoConfigPath {
			paths = append(paths, p)
		}
		parent := filepath.Dir(dir)
		if parent == dir || dir == boundary {
			break
		}
		dir = parent
	}

	for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
		paths[i], paths[j] = paths[j], paths[i]
	}
	return paths
}

// NormalizeBaseURL ensures consistent URL format (no trailing slash).
func NormalizeBaseURL(url string) string {
	return strings.TrimSuffix(url, "/")
}
