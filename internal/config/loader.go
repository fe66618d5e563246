package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping.
	EnvPrefix = "BUILDBUDDY_"
)

// Load loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. BUILDBUDDY_* environment variables (BUILDBUDDY_SERVER_HTTP_PORT, ...)
//  2. Legacy variables (GEMINI_MODEL, GOOGLE_CLOUD_PROJECT_ID, ELEVENLABS_API_KEY, ...)
//  3. YAML config file
//  4. Default()
//
// If configPath is empty, ~/.config/buildbuddy/config.yaml is used when present.
// An explicitly named file that does not exist is an error.
//
// The file must not be group or world writable and must be smaller than 1MB.
//
// Environment variables map onto YAML keys by splitting on the first
// underscore after the prefix:
//
//	BUILDBUDDY_SERVER_HTTP_PORT    -> server.http_port
//	BUILDBUDDY_PIPELINE_MOCK_MODE  -> pipeline.mock_mode
//	BUILDBUDDY_MODEL_API_KEY       -> model.api_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultPath()
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		case err != nil:
			return nil, err
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyEnv(k, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.config/buildbuddy/config.yaml, or "" when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "buildbuddy", "config.yaml")
}

// envKey maps BUILDBUDDY_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor so the checked file is the one that gets read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFileProperties(info fs.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	if perm := info.Mode().Perm(); perm&0022 != 0 {
		return fmt.Errorf("config file has insecure permissions %04o (must not be group or world writable)", perm)
	}
	return nil
}

// legacyVars are the variable names earlier deployments used. They apply
// only when neither the file nor a BUILDBUDDY_ variable set the key.
var legacyVars = []struct {
	key   string
	names []string
	set   func(*Config, string)
}{
	{"model.name", []string{"GEMINI_MODEL"}, func(c *Config, v string) { c.Model.Name = v }},
	{"model.api_key", []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, func(c *Config, v string) { c.Model.APIKey = Secret(v) }},
	{"model.project", []string{"GOOGLE_CLOUD_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"}, func(c *Config, v string) { c.Model.Project = v }},
	{"model.location", []string{"GOOGLE_CLOUD_LOCATION"}, func(c *Config, v string) { c.Model.Location = v }},
	{"speech.api_key", []string{"ELEVENLABS_API_KEY"}, func(c *Config, v string) { c.Speech.APIKey = Secret(v) }},
}

func applyLegacyEnv(k *koanf.Koanf, cfg *Config) {
	for _, lv := range legacyVars {
		if k.Exists(lv.key) {
			continue
		}
		for _, name := range lv.names {
			if v := os.Getenv(name); v != "" {
				lv.set(cfg, v)
				break
			}
		}
	}
}
