package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every fuzagent environment variable.
	EnvPrefix = "FUZAGENT_"
)

// nestedSections lists the sub-structs below a section, whose env names
// split twice: VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host.
var nestedSections = map[string][]string{
	"vectorstore": {"chromem", "qdrant"},
	"memory":      {"reranker"},
}

// legacyEnv maps unprefixed variable names understood by earlier releases.
// They load before FUZAGENT_* variables, which win on conflict.
var legacyEnv = map[string]string{
	"OPENAI_API_KEY":        "llm.api_key",
	"OPENAI_MODEL":          "llm.model",
	"OPENAI_BASE_URL":       "llm.base_url",
	"GITHUB_TOKEN":          "github.token",
	"GITHUB_REPO":           "github.repo",
	"GITHUB_BASE_BRANCH":    "github.base_branch",
	"GITHUB_WEBHOOK_SECRET": "ci.webhook_secret",
	"MAX_ITERATIONS":        "pipeline.max_iterations",
	"ENABLE_AUTO_FIX":       "pipeline.enable_auto_fix",
	"ENABLE_LRM":            "pipeline.enable_lrm",
	"NATS_URL":              "events.nats_url",
}

// DefaultPath returns ~/.config/fuzagent/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fuzagent", "config.yaml"), nil
}

// LoadWithFile loads configuration from defaults, the YAML file at
// configPath (DefaultPath when empty, skipped when missing) and the
// environment, then validates it.
//
// Precedence, highest first:
//  1. FUZAGENT_* environment variables (FUZAGENT_PIPELINE_MAX_ITERATIONS -> pipeline.max_iterations)
//  2. legacy variables (GITHUB_TOKEN, OPENAI_API_KEY, MAX_ITERATIONS, ...)
//  3. YAML file
//  4. Default()
//
// The file must live under ~/.config/fuzagent/ or /etc/fuzagent/, be at
// most 1MB and have 0600 or 0400 permissions.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if content, err := readConfigFile(configPath); err != nil {
		return nil, err
	} else if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", legacyKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment variables: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// legacyKey returns "" for anything outside legacyEnv so koanf skips it.
func legacyKey(s string) string {
	return legacyEnv[s]
}

// envKey maps FUZAGENT_SECTION_FIELD_NAME to section.field_name, splitting
// once more for nested sections.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, field := parts[0], parts[1]
	for _, sub := range nestedSections[section] {
		if rest, ok := strings.CutPrefix(field, sub+"_"); ok {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate the opened descriptor to avoid a stat/open race.
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

func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet.
		resolved = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	for _, dir := range []string{filepath.Join(home, ".config", "fuzagent"), "/etc/fuzagent"} {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			dir = real
		}
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/fuzagent/ or /etc/fuzagent/")
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
