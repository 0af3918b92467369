/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/ssargent/vitalgap/pkg/codec"
	"github.com/ssargent/vitalgap/pkg/report"
	"github.com/ssargent/vitalgap/pkg/tables"
	"gopkg.in/yaml.v3"
)

// Config represents the vitalgap configuration
type Config struct {
	DataDir   string        `yaml:"data_dir"`
	Tables    tables.Tables `yaml:"tables"`
	Codec     Codec         `yaml:"codec"`
	Validator Validator     `yaml:"validator"`
	Pipeline  Pipeline      `yaml:"pipeline"`
	Server    Server        `yaml:"server"`
	Logging   Logging       `yaml:"logging"`
}

// Codec selects the packet layout version and blob compression level
type Codec struct {
	FormatVersion uint8 `yaml:"format_version"`
	CompressLevel int   `yaml:"compress_level"`
}

// Validator contains matching and per-field comparison settings
type Validator struct {
	ToleranceSec float64 `yaml:"tolerance_sec"`
	Last         int     `yaml:"last"`

	report.FieldRules `yaml:",inline"`
}

// Tolerance converts ToleranceSec to a duration.
func (v Validator) Tolerance() time.Duration {
	return time.Duration(v.ToleranceSec * float64(time.Second))
}

// Pipeline contains sender and receiver loop settings
type Pipeline struct {
	CachePath       string        `yaml:"cache_path"`
	ImagePath       string        `yaml:"image_path"`
	CaptureDir      string        `yaml:"capture_dir"`
	DecodedLog      string        `yaml:"decoded_log"`
	Engine          string        `yaml:"engine"`
	SendInterval    time.Duration `yaml:"send_interval"`
	CaptureInterval time.Duration `yaml:"capture_interval"`
	RenderSize      int           `yaml:"render_size"`
	RendererPath    string        `yaml:"renderer_path"`
	DecoderPath     string        `yaml:"decoder_path"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
}

// Server contains status server settings
type Server struct {
	Bind   string `yaml:"bind"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./dataset",
		Tables:  tables.Default(),
		Codec: Codec{
			FormatVersion: codec.DefaultVersion,
			CompressLevel: codec.DefaultCompressLevel,
		},
		Validator: Validator{
			ToleranceSec: 2.0,
			FieldRules:   report.DefaultFieldRules(),
		},
		Pipeline: Pipeline{
			CachePath:       "monitor_cache.json",
			ImagePath:       "dm_latest.png",
			CaptureDir:      "captures",
			DecodedLog:      "decoded.jsonl",
			Engine:          "datamatrix",
			SendInterval:    time.Second,
			CaptureInterval: 10 * time.Second,
			RenderSize:      280,
			RendererPath:    "zint",
			DecoderPath:     "dmtxread",
			CommandTimeout:  3 * time.Second,
		},
		Server: Server{
			Bind: "127.0.0.1",
			Port: 9310,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Tables.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tables: %w", err))
	}
	if !codec.SupportedVersion(c.Codec.FormatVersion) {
		errs = append(errs, fmt.Errorf("codec: unsupported format_version %d", c.Codec.FormatVersion))
	}
	if c.Codec.CompressLevel < zlib.BestSpeed || c.Codec.CompressLevel > zlib.BestCompression {
		errs = append(errs, fmt.Errorf("codec: compress_level must be between %d and %d, got %d",
			zlib.BestSpeed, zlib.BestCompression, c.Codec.CompressLevel))
	}
	if c.Validator.ToleranceSec < 0 {
		errs = append(errs, fmt.Errorf("validator: tolerance_sec must be >= 0, got %v", c.Validator.ToleranceSec))
	}
	if c.Validator.Last < 0 {
		errs = append(errs, fmt.Errorf("validator: last must be >= 0, got %d", c.Validator.Last))
	}
	if err := c.Validator.FieldRules.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("validator: %w", err))
	}
	if c.Pipeline.SendInterval <= 0 || c.Pipeline.CaptureInterval <= 0 {
		errs = append(errs, errors.New("pipeline: send_interval and capture_interval must be positive"))
	}
	if c.Pipeline.Engine != "datamatrix" && c.Pipeline.Engine != "builtin" {
		errs = append(errs, fmt.Errorf("pipeline: unknown engine %q", c.Pipeline.Engine))
	}
	if c.Pipeline.RenderSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: render_size must be positive, got %d", c.Pipeline.RenderSize))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

// Resolve returns p unchanged when absolute, otherwise joined onto DataDir.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// LoadConfig loads configuration from the specified path. Keys missing from
// the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	// Tables are replaced wholesale so a shorter list in the file does not
	// inherit trailing defaults.
	config.Tables = tables.Tables{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(config.Tables.Beds) == 0 && len(config.Tables.Params) == 0 {
		config.Tables = tables.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateSecureKey generates a cryptographically secure random key
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// BootstrapConfig writes a default configuration with a generated status
// server API key.
func BootstrapConfig(configPath string, dataDir string) (*Config, error) {
	config := DefaultConfig()
	if dataDir != "" {
		config.DataDir = dataDir
	}

	apiKey, err := GenerateSecureKey(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}
	config.Server.APIKey = apiKey

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./vitalgap.yaml"
	}
	return filepath.Join(homeDir, ".config", "vitalgap", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
