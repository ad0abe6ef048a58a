/*
Package config manages TOML config for TermServe services.
*/
package config

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/idea4rc/termserve/internal/utils"
)

const configFileName = "config.toml"

// Config holds the entire config structure
type Config struct {
	Server ServerConfig `toml:"server"`
	Match  MatchConfig  `toml:"match"`
	Dict   DictConfig   `toml:"dict"`
	CLI    CliConfig    `toml:"cli"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig has HTTP and WebSocket options.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	CacheSize       int      `toml:"cache_size"`
	EnableWebSocket bool     `toml:"enable_websocket"`
}

// MatchConfig holds matching options shared by every entry point.
type MatchConfig struct {
	DefaultThreshold int `toml:"default_threshold"`
	MaxPhraseWords   int `toml:"max_phrase_words"`
	MaxTextLength    int `toml:"max_text_length"`
}

// DictConfig holds dictionary options.
type DictConfig struct {
	Path string `toml:"path"`
}

// CliConfig holds cli interface options.
type CliConfig struct {
	ShowScores bool `toml:"show_scores"`
}

// LogConfig holds logging options.
type LogConfig struct {
	Format string `toml:"format"` // text, json or logfmt
	Caller bool   `toml:"caller"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8000",
			AllowedOrigins:  []string{"http://localhost:3000"},
			CacheSize:       1024,
			EnableWebSocket: true,
		},
		Match: MatchConfig{
			DefaultThreshold: 60,
			MaxPhraseWords:   6,
			MaxTextLength:    20000,
		},
		Dict: DictConfig{
			Path: "code_to_term_variable.json",
		},
		CLI: CliConfig{
			ShowScores: true,
		},
		Log: LogConfig{
			Format: "text",
			Caller: false,
		},
	}
}

// GetDefaultConfigPath returns the default path for config.toml
func GetDefaultConfigPath() (string, error) {
	pr, err := utils.NewPathResolver()
	if err != nil {
		return "", err
	}
	return pr.GetConfigPath(configFileName), nil
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from -config flag
// 2. Default path: [UserConfigDir]/termserve/config.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if utils.FileExists(customConfigPath) {
			config, err := LoadConfig(customConfigPath)
			if err != nil {
				log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
			} else {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
		} else {
			log.Warnf("Custom config file not found at %s. Trying default path...", customConfigPath)
		}
	}

	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}

	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)

	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		log.Warnf("Failed to load config from %s: %v. Using built-in defaults...", configPath, err)
		return DefaultConfig(), nil
	}
	return config, nil
}

// LoadConfig loads from a TOML file. A broken file is salvaged section by
// section, and a config that fails validation falls back to defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		config = tryPartialParse(configPath)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return config, nil
}

// tryPartialParse keeps every value it can read and defaults the rest
func tryPartialParse(configPath string) *Config {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config
	}

	if serverSection, ok := utils.ExtractSection(tempConfig, "server"); ok {
		extractServerConfig(serverSection, &config.Server)
	}
	if matchSection, ok := utils.ExtractSection(tempConfig, "match"); ok {
		extractMatchConfig(matchSection, &config.Match)
	}
	if dictSection, ok := utils.ExtractSection(tempConfig, "dict"); ok {
		if val, ok := utils.ExtractString(dictSection, "path"); ok {
			config.Dict.Path = val
		}
	}
	if cliSection, ok := utils.ExtractSection(tempConfig, "cli"); ok {
		if val, ok := utils.ExtractBool(cliSection, "show_scores"); ok {
			config.CLI.ShowScores = val
		}
	}
	if logSection, ok := utils.ExtractSection(tempConfig, "log"); ok {
		extractLogConfig(logSection, &config.Log)
	}
	return config
}

// extractServerConfig extracts server configuration from a map
func extractServerConfig(data map[string]any, server *ServerConfig) {
	if val, ok := utils.ExtractString(data, "addr"); ok {
		server.Addr = val
	}
	if val, ok := utils.ExtractStrings(data, "allowed_origins"); ok {
		server.AllowedOrigins = val
	}
	if val, ok := utils.ExtractInt64(data, "cache_size"); ok {
		server.CacheSize = val
	}
	if val, ok := utils.ExtractBool(data, "enable_websocket"); ok {
		server.EnableWebSocket = val
	}
}

// extractMatchConfig extracts matching configuration from a map
func extractMatchConfig(data map[string]any, match *MatchConfig) {
	if val, ok := utils.ExtractInt64(data, "default_threshold"); ok {
		match.DefaultThreshold = val
	}
	if val, ok := utils.ExtractInt64(data, "max_phrase_words"); ok {
		match.MaxPhraseWords = val
	}
	if val, ok := utils.ExtractInt64(data, "max_text_length"); ok {
		match.MaxTextLength = val
	}
}

// extractLogConfig extracts logging configuration from a map
func extractLogConfig(data map[string]any, logCfg *LogConfig) {
	if val, ok := utils.ExtractString(data, "format"); ok {
		logCfg.Format = val
	}
	if val, ok := utils.ExtractBool(data, "caller"); ok {
		logCfg.Caller = val
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Match.DefaultThreshold < 0 || c.Match.DefaultThreshold > 100 {
		return fmt.Errorf("match.default_threshold must be between 0 and 100, got %d", c.Match.DefaultThreshold)
	}
	if c.Match.MaxPhraseWords < 1 {
		return fmt.Errorf("match.max_phrase_words must be positive, got %d", c.Match.MaxPhraseWords)
	}
	if c.Match.MaxTextLength < 0 {
		return fmt.Errorf("match.max_text_length must not be negative, got %d", c.Match.MaxTextLength)
	}
	if c.Server.CacheSize < 0 {
		return fmt.Errorf("server.cache_size must not be negative, got %d", c.Server.CacheSize)
	}
	if c.Dict.Path == "" {
		return fmt.Errorf("dict.path must not be empty")
	}
	if !slices.Contains([]string{"text", "json", "logfmt"}, c.Log.Format) {
		return fmt.Errorf("log.format must be text, json or logfmt, got %q", c.Log.Format)
	}
	return nil
}

// RebuildConfigFile force creates a new config.toml at default
func RebuildConfigFile() (string, error) {
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		return "", err
	}
	if err := utils.EnsureDir(filepath.Dir(defaultPath)); err != nil {
		return "", err
	}
	return defaultPath, SaveConfig(DefaultConfig(), defaultPath)
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		return "built-in defaults"
	}
	return utils.GetAbsolutePath(configPath)
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.SaveTOMLFile(config, configPath)
}
