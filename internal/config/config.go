// Package config loads workbench configuration from JSONC files, .env files
// and environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Config is the workbench configuration.
type Config struct {
	// EngineURL is the base URL of the agent execution engine.
	EngineURL string `json:"engineURL"`
	// Port is the HTTP API port.
	Port int `json:"port"`
	// DataDir is where tasks and conversation snapshots are stored.
	DataDir string `json:"dataDir"`
	// ProfilesDir holds user-defined agent profile YAML files.
	ProfilesDir string `json:"profilesDir"`
	LogLevel    string `json:"logLevel"`
	PrettyLogs  bool   `json:"prettyLogs"`
	EnableCORS  bool   `json:"enableCORS"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		EngineURL:  "http://127.0.0.1:7870",
		Port:       7860,
		DataDir:    DataDir(),
		LogLevel:   "INFO",
		EnableCORS: true,
	}
}

// Load loads configuration in priority order: defaults, global config file,
// project config file, .env, environment variables.
func Load(directory string) (*Config, error) {
	cfg := Default()

	loadFile(filepath.Join(ConfigDir(), "taskdeck.jsonc"), cfg)
	loadFile(filepath.Join(ConfigDir(), "taskdeck.json"), cfg)
	if directory != "" {
		loadFile(filepath.Join(directory, "taskdeck.jsonc"), cfg)
		loadFile(filepath.Join(directory, "taskdeck.json"), cfg)
		// .env values become process env before the override pass.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadFile merges one JSONC config file into cfg. Missing files are skipped.
func loadFile(path string, cfg *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	data = jsonc.ToJSON(data)
	data = interpolate(data)
	_ = json.Unmarshal(data, cfg)
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate expands {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASKDECK_ENGINE_URL"); v != "" {
		cfg.EngineURL = v
	}
	if v := os.Getenv("TASKDECK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("TASKDECK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TASKDECK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
