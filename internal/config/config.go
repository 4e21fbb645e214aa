package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents the abigate configuration.
type Config struct {
	APIURL               string         `json:"apiURL"`
	User                 string         `json:"user,omitempty"`
	Password             string         `json:"password,omitempty"`
	ReviewGroup          string         `json:"reviewGroup,omitempty"`
	MaintenanceAttribute string         `json:"maintenanceAttribute"`
	AcceptIncompatible   bool           `json:"acceptIncompatible"`
	PolicyFile           string         `json:"policyFile,omitempty"`
	Keyring              string         `json:"keyring,omitempty"`
	WorkDir              string         `json:"workDir,omitempty"`
	WebURL               string         `json:"webURL,omitempty"`
	Format               string         `json:"format"`
	Retries              int            `json:"retries"`
	Tools                ToolsConfig    `json:"tools"`
	Cache                CacheConfig    `json:"cache"`
	Database             DatabaseConfig `json:"database"`
	Reports              ReportsConfig  `json:"reports"`
	Log                  LogConfig      `json:"log"`
}

// ToolsConfig names the external ABI tools.
type ToolsConfig struct {
	Dumper   string `json:"dumper"`
	Comparer string `json:"comparer"`
}

// CacheConfig controls the binary download cache.
type CacheConfig struct {
	Dir string `json:"dir,omitempty"`
}

// DatabaseConfig holds the result store connection.
type DatabaseConfig struct {
	URL string `json:"url,omitempty"`
}

// ReportsConfig controls where HTML reports end up.
type ReportsConfig struct {
	Dir         string `json:"dir,omitempty"`
	S3Endpoint  string `json:"s3Endpoint,omitempty"`
	S3Bucket    string `json:"s3Bucket,omitempty"`
	S3AccessKey string `json:"s3AccessKey,omitempty"`
	S3SecretKey string `json:"s3SecretKey,omitempty"`
	S3Region    string `json:"s3Region,omitempty"`
	S3UseSSL    bool   `json:"s3UseSSL"`
}

// LogConfig controls the log handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		APIURL:               "https://api.opensuse.org",
		MaintenanceAttribute: "OBS:MaintenanceProject",
		Format:               "text",
		Retries:              3,
		Tools: ToolsConfig{
			Dumper:   "abi-dumper",
			Comparer: "abi-compliance-checker",
		},
		Reports: ReportsConfig{
			S3Region: "us-east-1",
			S3UseSSL: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the platform-appropriate config directory for abigate.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "abigate"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "abigate"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "abigate"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "abigate"), nil
	default:
		return filepath.Join(home, ".config", "abigate"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadFile loads config from the config file. Returns zero Config and nil error if file doesn't exist.
func LoadFile() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Save writes the config to the config file. The file holds credentials, so
// it is only readable by the owner.
func Save(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// A .env file in the working directory is folded into the environment first.
// The overrides map comes from CLI flags (only non-zero values should be set).
func Load(overrides map[string]string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	fileCfg, err := LoadFile()
	if err != nil {
		return Config{}, err
	}
	mergeFile(&cfg, fileCfg)
	mergeEnv(&cfg)
	mergeOverrides(&cfg, overrides)

	return cfg, nil
}

func mergeFile(dst *Config, src Config) {
	setString(&dst.APIURL, src.APIURL)
	setString(&dst.User, src.User)
	setString(&dst.Password, src.Password)
	setString(&dst.ReviewGroup, src.ReviewGroup)
	setString(&dst.MaintenanceAttribute, src.MaintenanceAttribute)
	setString(&dst.PolicyFile, src.PolicyFile)
	setString(&dst.Keyring, src.Keyring)
	setString(&dst.WorkDir, src.WorkDir)
	setString(&dst.WebURL, src.WebURL)
	setString(&dst.Format, src.Format)
	if src.Retries > 0 {
		dst.Retries = src.Retries
	}
	setString(&dst.Tools.Dumper, src.Tools.Dumper)
	setString(&dst.Tools.Comparer, src.Tools.Comparer)
	setString(&dst.Cache.Dir, src.Cache.Dir)
	setString(&dst.Database.URL, src.Database.URL)
	setString(&dst.Reports.Dir, src.Reports.Dir)
	setString(&dst.Reports.S3Endpoint, src.Reports.S3Endpoint)
	setString(&dst.Reports.S3Bucket, src.Reports.S3Bucket)
	setString(&dst.Reports.S3AccessKey, src.Reports.S3AccessKey)
	setString(&dst.Reports.S3SecretKey, src.Reports.S3SecretKey)
	setString(&dst.Reports.S3Region, src.Reports.S3Region)
	setString(&dst.Log.Level, src.Log.Level)
	setString(&dst.Log.Format, src.Log.Format)
	// JSON cannot tell an unset bool from false; only an explicit true in
	// the file turns these on.
	dst.AcceptIncompatible = src.AcceptIncompatible || dst.AcceptIncompatible
	if src.Reports.S3Endpoint != "" {
		dst.Reports.S3UseSSL = src.Reports.S3UseSSL
	}
}

func mergeEnv(cfg *Config) {
	setString(&cfg.APIURL, os.Getenv("ABIGATE_API_URL"))
	setString(&cfg.User, os.Getenv("ABIGATE_USER"))
	setString(&cfg.Password, os.Getenv("ABIGATE_PASSWORD"))
	setString(&cfg.ReviewGroup, os.Getenv("ABIGATE_REVIEW_GROUP"))
	setString(&cfg.PolicyFile, os.Getenv("ABIGATE_POLICY_FILE"))
	setString(&cfg.Keyring, os.Getenv("ABIGATE_KEYRING"))
	setString(&cfg.WorkDir, os.Getenv("ABIGATE_WORK_DIR"))
	setString(&cfg.Format, os.Getenv("ABIGATE_FORMAT"))
	setString(&cfg.Cache.Dir, os.Getenv("ABIGATE_CACHE_DIR"))
	setString(&cfg.Database.URL, firstNonEmpty(os.Getenv("ABIGATE_DATABASE_URL"), os.Getenv("DATABASE_URL")))
	setString(&cfg.Reports.Dir, os.Getenv("ABIGATE_REPORT_DIR"))
	setString(&cfg.Reports.S3Endpoint, os.Getenv("ABIGATE_S3_ENDPOINT"))
	setString(&cfg.Reports.S3Bucket, os.Getenv("ABIGATE_S3_BUCKET"))
	setString(&cfg.Reports.S3AccessKey, os.Getenv("ABIGATE_S3_ACCESS_KEY"))
	setString(&cfg.Reports.S3SecretKey, os.Getenv("ABIGATE_S3_SECRET_KEY"))
	setString(&cfg.Reports.S3Region, os.Getenv("ABIGATE_S3_REGION"))
	setString(&cfg.Log.Level, os.Getenv("ABIGATE_LOG_LEVEL"))
	setString(&cfg.Log.Format, os.Getenv("ABIGATE_LOG_FORMAT"))
	if v := os.Getenv("ABIGATE_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reports.S3UseSSL = b
		}
	}
	if v := os.Getenv("ABIGATE_ACCEPT_INCOMPATIBLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AcceptIncompatible = b
		}
	}
	if v := os.Getenv("ABIGATE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retries = n
		}
	}
}

func mergeOverrides(cfg *Config, overrides map[string]string) {
	if overrides == nil {
		return
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		// Unknown keys come from flags that are not stored in the config.
		_ = SetField(cfg, key, value)
	}
}

// SetField sets a single config field by key name. Returns error if key is unknown.
func SetField(cfg *Config, key, value string) error {
	switch key {
	case "apiURL":
		cfg.APIURL = strings.TrimRight(value, "/")
	case "user":
		cfg.User = value
	case "password":
		cfg.Password = value
	case "reviewGroup":
		cfg.ReviewGroup = value
	case "maintenanceAttribute":
		cfg.MaintenanceAttribute = value
	case "acceptIncompatible":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("acceptIncompatible must be a boolean: %w", err)
		}
		cfg.AcceptIncompatible = b
	case "policyFile":
		cfg.PolicyFile = value
	case "keyring":
		cfg.Keyring = value
	case "workDir":
		cfg.WorkDir = value
	case "webURL":
		cfg.WebURL = value
	case "format":
		cfg.Format = value
	case "retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("retries must be an integer: %w", err)
		}
		cfg.Retries = n
	case "dumperPath":
		cfg.Tools.Dumper = value
	case "comparerPath":
		cfg.Tools.Comparer = value
	case "cacheDir":
		cfg.Cache.Dir = value
	case "databaseURL":
		cfg.Database.URL = value
	case "reportDir":
		cfg.Reports.Dir = value
	case "s3Endpoint":
		cfg.Reports.S3Endpoint = value
	case "s3Bucket":
		cfg.Reports.S3Bucket = value
	case "s3AccessKey":
		cfg.Reports.S3AccessKey = value
	case "s3SecretKey":
		cfg.Reports.S3SecretKey = value
	case "s3Region":
		cfg.Reports.S3Region = value
	case "s3UseSSL":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("s3UseSSL must be a boolean: %w", err)
		}
		cfg.Reports.S3UseSSL = b
	case "logLevel":
		cfg.Log.Level = value
	case "logFormat":
		cfg.Log.Format = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// StateDir returns the directory for mutable state (work tree, reports)
// when no explicit directory is configured.
func StateDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "abigate"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "abigate"), nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
