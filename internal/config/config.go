package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/logger"
	"portfolio-optimizer/internal/media"

	"github.com/spf13/viper"
)

const bytesPerMB = 1024 * 1024

// Config represents the main configuration structure
type Config struct {
	RootDirectory string           `mapstructure:"root_directory"`
	Images        ImageConfig      `mapstructure:"images"`
	Video         VideoConfig      `mapstructure:"video"`
	Processing    ProcessingConfig `mapstructure:"processing"`
	Logging       LoggingConfig    `mapstructure:"logging"`
}

// ImageConfig contains the image size target and encoder settings
type ImageConfig struct {
	Extensions         []string `mapstructure:"extensions"`
	MaxSizeMB          float64  `mapstructure:"max_size_mb"`
	MaxWidth           int      `mapstructure:"max_width"`
	MaxHeight          int      `mapstructure:"max_height"`
	InitialQuality     int      `mapstructure:"initial_quality"`
	QualityStep        int      `mapstructure:"quality_step"`
	QualityFloor       int      `mapstructure:"quality_floor"`
	TransparencyPolicy string   `mapstructure:"transparency_policy"`
	PreserveMetadata   bool     `mapstructure:"preserve_metadata"`
}

// VideoConfig contains the video size target and ffmpeg settings
type VideoConfig struct {
	Extensions             []string      `mapstructure:"extensions"`
	MaxSizeMB              float64       `mapstructure:"max_size_mb"`
	DefaultDurationSeconds float64       `mapstructure:"default_duration_seconds"`
	SafetyMargin           float64       `mapstructure:"safety_margin"`
	MinBitrateKbps         int           `mapstructure:"min_bitrate_kbps"`
	AudioBitrateKbps       int           `mapstructure:"audio_bitrate_kbps"`
	Preset                 string        `mapstructure:"preset"`
	Timeout                time.Duration `mapstructure:"timeout"`
	FFmpegPath             string        `mapstructure:"ffmpeg_path"`
	FFprobePath            string        `mapstructure:"ffprobe_path"`
}

// ProcessingConfig contains batch run settings
type ProcessingConfig struct {
	BackupDirectory string   `mapstructure:"backup_directory"`
	SkipDirectories []string `mapstructure:"skip_directories"`
	DryRun          bool     `mapstructure:"dry_run"`
	MaxFilesPerRun  int      `mapstructure:"max_files_per_run"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	logDefaults := logger.DefaultConfig()
	return &Config{
		RootDirectory: "./public/images",
		Images: ImageConfig{
			Extensions:         append([]string(nil), media.DefaultImageExtensions...),
			MaxSizeMB:          2.5,
			MaxWidth:           1800,
			MaxHeight:          1800,
			InitialQuality:     85,
			QualityStep:        5,
			QualityFloor:       50,
			TransparencyPolicy: string(compressor.TransparencyKeep),
			PreserveMetadata:   true,
		},
		Video: VideoConfig{
			Extensions:             append([]string(nil), media.DefaultVideoExtensions...),
			MaxSizeMB:              10,
			DefaultDurationSeconds: 10,
			SafetyMargin:           0.9,
			MinBitrateKbps:         500,
			AudioBitrateKbps:       128,
			Preset:                 "medium",
			Timeout:                30 * time.Minute,
			FFmpegPath:             "ffmpeg",
			FFprobePath:            "ffprobe",
		},
		Processing: ProcessingConfig{
			BackupDirectory: "", // empty disables backups
			SkipDirectories: []string{"node_modules"},
			DryRun:          false,
			MaxFilesPerRun:  0, // 0 means no limit
		},
		Logging: LoggingConfig{
			Level:      logDefaults.Level,
			Format:     logDefaults.Format,
			FilePath:   logDefaults.FilePath,
			MaxSize:    logDefaults.MaxSize,
			MaxBackups: logDefaults.MaxBackups,
			MaxAge:     logDefaults.MaxAge,
			Compress:   logDefaults.Compress,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	return load(viper.New(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	config := DefaultConfig()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.portfolio-optimizer")
		v.AddConfigPath("/etc/portfolio-optimizer")
	}

	// Enable environment variable support
	v.SetEnvPrefix("PORTFOLIO_OPTIMIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// mapstructure decodes a list element-wise into an existing slice, so
	// defaults would survive past the end of a shorter configured list.
	if v.IsSet("images.extensions") {
		config.Images.Extensions = nil
	}
	if v.IsSet("video.extensions") {
		config.Video.Extensions = nil
	}
	if v.IsSet("processing.skip_directories") {
		config.Processing.SkipDirectories = nil
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers every leaf key so AutomaticEnv also applies to
// keys absent from the config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"root_directory",
		"images.max_size_mb", "images.max_width", "images.max_height",
		"images.initial_quality", "images.quality_step", "images.quality_floor",
		"images.transparency_policy", "images.preserve_metadata",
		"video.max_size_mb", "video.default_duration_seconds", "video.safety_margin",
		"video.min_bitrate_kbps", "video.audio_bitrate_kbps", "video.preset",
		"video.timeout", "video.ffmpeg_path", "video.ffprobe_path",
		"processing.backup_directory", "processing.dry_run", "processing.max_files_per_run",
		"logging.level", "logging.format", "logging.file_path",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration. It does not require the root
// directory to exist; that is checked when a run starts.
func (c *Config) Validate() error {
	if c.RootDirectory == "" {
		return fmt.Errorf("root_directory is required")
	}

	if c.Images.MaxSizeMB <= 0 {
		return fmt.Errorf("images.max_size_mb must be positive, got %v", c.Images.MaxSizeMB)
	}
	if c.Video.MaxSizeMB <= 0 {
		return fmt.Errorf("video.max_size_mb must be positive, got %v", c.Video.MaxSizeMB)
	}
	if c.Images.MaxWidth < 0 || c.Images.MaxHeight < 0 {
		return fmt.Errorf("images.max_width and images.max_height must not be negative")
	}

	if c.Images.InitialQuality < 1 || c.Images.InitialQuality > 100 {
		return fmt.Errorf("images.initial_quality must be in [1,100], got %d", c.Images.InitialQuality)
	}
	if c.Images.QualityFloor < 1 || c.Images.QualityFloor > c.Images.InitialQuality {
		return fmt.Errorf("images.quality_floor must be in [1,%d], got %d",
			c.Images.InitialQuality, c.Images.QualityFloor)
	}
	if c.Images.QualityStep <= 0 {
		c.Images.QualityStep = 5
	}

	policies := map[string]bool{
		string(compressor.TransparencyKeep):               true,
		string(compressor.TransparencyFlattenIfOversized): true,
	}
	if c.Images.TransparencyPolicy == "" {
		c.Images.TransparencyPolicy = string(compressor.TransparencyKeep)
	}
	if !policies[c.Images.TransparencyPolicy] {
		return fmt.Errorf("invalid transparency_policy: %s (valid: keep, flatten-if-oversized)",
			c.Images.TransparencyPolicy)
	}

	if c.Video.SafetyMargin <= 0 || c.Video.SafetyMargin > 1 {
		return fmt.Errorf("video.safety_margin must be in (0,1], got %v", c.Video.SafetyMargin)
	}
	if c.Video.DefaultDurationSeconds <= 0 {
		c.Video.DefaultDurationSeconds = 10
	}
	if c.Video.MinBitrateKbps < 0 || c.Video.AudioBitrateKbps < 0 {
		return fmt.Errorf("video bitrates must not be negative")
	}

	c.Images.Extensions = normalizeExtensions(c.Images.Extensions)
	c.Video.Extensions = normalizeExtensions(c.Video.Extensions)

	if c.Processing.MaxFilesPerRun < 0 {
		c.Processing.MaxFilesPerRun = 0
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// ImageTarget returns the compression target for images.
func (c *Config) ImageTarget() compressor.CompressionTarget {
	return compressor.CompressionTarget{
		MaxBytes:       int64(c.Images.MaxSizeMB * bytesPerMB),
		MaxWidth:       c.Images.MaxWidth,
		MaxHeight:      c.Images.MaxHeight,
		InitialQuality: c.Images.InitialQuality,
		QualityStep:    c.Images.QualityStep,
		QualityFloor:   c.Images.QualityFloor,
		Transparency:   compressor.TransparencyPolicy(c.Images.TransparencyPolicy),
	}
}

// VideoTarget returns the compression target for videos.
func (c *Config) VideoTarget() compressor.VideoTarget {
	return compressor.VideoTarget{
		MaxBytes:         int64(c.Video.MaxSizeMB * bytesPerMB),
		DefaultDuration:  c.Video.DefaultDurationSeconds,
		SafetyMargin:     c.Video.SafetyMargin,
		MinBitrateKbps:   c.Video.MinBitrateKbps,
		AudioBitrateKbps: c.Video.AudioBitrateKbps,
		Preset:           c.Video.Preset,
		Timeout:          c.Video.Timeout,
	}
}

// Classifier returns a media classifier for the configured extensions.
func (c *Config) Classifier() *media.Classifier {
	return media.NewClassifier(c.Images.Extensions, c.Video.Extensions)
}

// GetRootDirectory returns the root directory with env vars and a
// leading ~ expanded.
func (c *Config) GetRootDirectory() string {
	return expandPath(c.RootDirectory)
}

// Helper functions

func expandPath(path string) string {
	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expandedPath
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}
	return expandedPath
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		normalized[i] = media.NormalizeExtension(ext)
	}
	return normalized
}
