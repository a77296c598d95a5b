package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/logger"
	"portfolio-optimizer/internal/media"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	img := cfg.ImageTarget()
	if img.MaxBytes != 2621440 {
		t.Errorf("image MaxBytes = %d, want 2621440", img.MaxBytes)
	}
	if img.MaxWidth != 1800 || img.MaxHeight != 1800 {
		t.Errorf("image limits = %dx%d", img.MaxWidth, img.MaxHeight)
	}
	if img.InitialQuality != 85 || img.QualityStep != 5 || img.QualityFloor != 50 {
		t.Errorf("quality schedule = %d/%d/%d", img.InitialQuality, img.QualityStep, img.QualityFloor)
	}
	if img.Transparency != compressor.TransparencyKeep {
		t.Errorf("transparency = %s", img.Transparency)
	}

	vid := cfg.VideoTarget()
	if vid.MaxBytes != 10*1024*1024 || vid.SafetyMargin != 0.9 || vid.MinBitrateKbps != 500 {
		t.Errorf("unexpected video target %+v", vid)
	}
	if vid.Timeout != 30*time.Minute {
		t.Errorf("timeout = %v", vid.Timeout)
	}

	logDefaults := logger.DefaultConfig()
	if cfg.Logging.Level != logDefaults.Level || cfg.Logging.FilePath != logDefaults.FilePath ||
		cfg.Logging.MaxBackups != logDefaults.MaxBackups {
		t.Errorf("logging defaults %+v differ from logger defaults", cfg.Logging)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
root_directory: /srv/portfolio
images:
  extensions: [JPG, png]
  max_size_mb: 1
  quality_step: 10
  quality_floor: 40
  transparency_policy: flatten-if-oversized
video:
  max_size_mb: 5
  safety_margin: 0.85
  timeout: 90s
processing:
  backup_directory: originals_backup
  max_files_per_run: 20
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RootDirectory != "/srv/portfolio" {
		t.Errorf("root = %s", cfg.RootDirectory)
	}
	if got := strings.Join(cfg.Images.Extensions, ","); got != ".jpg,.png" {
		t.Errorf("extensions not normalized: %s", got)
	}
	img := cfg.ImageTarget()
	if img.MaxBytes != 1024*1024 || img.QualityStep != 10 || img.QualityFloor != 40 {
		t.Errorf("unexpected image target %+v", img)
	}
	if img.InitialQuality != 85 || img.MaxWidth != 1800 {
		t.Error("defaults not kept for keys absent from file")
	}
	if img.Transparency != compressor.TransparencyFlattenIfOversized {
		t.Errorf("transparency = %s", img.Transparency)
	}
	vid := cfg.VideoTarget()
	if vid.SafetyMargin != 0.85 || vid.Timeout != 90*time.Second {
		t.Errorf("unexpected video target %+v", vid)
	}
	if cfg.Processing.BackupDirectory != "originals_backup" || cfg.Processing.MaxFilesPerRun != 20 {
		t.Errorf("unexpected processing %+v", cfg.Processing)
	}
	if got := cfg.Classifier().KindOf("a.JPG"); got != media.KindImage {
		t.Errorf("classifier KindOf = %s", got)
	}
}

func TestLoadConfigListsReplaceDefaults(t *testing.T) {
	path := writeConfig(t, `
root_directory: /srv/portfolio
images:
  extensions: [.jpg]
video:
  extensions: [.mp4]
processing:
  skip_directories: [drafts]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(cfg.Images.Extensions, ","); got != ".jpg" {
		t.Errorf("image extensions = %s, want .jpg", got)
	}
	if got := strings.Join(cfg.Video.Extensions, ","); got != ".mp4" {
		t.Errorf("video extensions = %s, want .mp4", got)
	}
	if got := strings.Join(cfg.Processing.SkipDirectories, ","); got != "drafts" {
		t.Errorf("skip directories = %s, want drafts", got)
	}

	classifier := cfg.Classifier()
	if got := classifier.KindOf("anim.gif"); got != media.KindUnknown {
		t.Errorf("KindOf(anim.gif) = %s, want unknown", got)
	}
	if got := classifier.KindOf("clip.mov"); got != media.KindUnknown {
		t.Errorf("KindOf(clip.mov) = %s, want unknown", got)
	}
}

func TestLoadConfigKeepsDefaultListsWhenAbsent(t *testing.T) {
	path := writeConfig(t, "root_directory: /srv/portfolio\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(cfg.Images.Extensions, ","); got != strings.Join(media.DefaultImageExtensions, ",") {
		t.Errorf("image extensions = %s", got)
	}
	if got := strings.Join(cfg.Video.Extensions, ","); got != strings.Join(media.DefaultVideoExtensions, ",") {
		t.Errorf("video extensions = %s", got)
	}
	if got := strings.Join(cfg.Processing.SkipDirectories, ","); got != "node_modules" {
		t.Errorf("skip directories = %s", got)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "root_directory: /srv/portfolio\n")
	t.Setenv("PORTFOLIO_OPTIMIZER_IMAGES_MAX_SIZE_MB", "0.5")
	t.Setenv("PORTFOLIO_OPTIMIZER_VIDEO_PRESET", "slow")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Images.MaxSizeMB != 0.5 {
		t.Errorf("max_size_mb = %v, want 0.5", cfg.Images.MaxSizeMB)
	}
	if cfg.Video.Preset != "slow" {
		t.Errorf("preset = %s", cfg.Video.Preset)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for explicit missing config file")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.RootDirectory = "" }},
		{"zero image size", func(c *Config) { c.Images.MaxSizeMB = 0 }},
		{"zero video size", func(c *Config) { c.Video.MaxSizeMB = -1 }},
		{"quality above 100", func(c *Config) { c.Images.InitialQuality = 101 }},
		{"floor above initial", func(c *Config) { c.Images.QualityFloor = 90 }},
		{"unknown policy", func(c *Config) { c.Images.TransparencyPolicy = "drop" }},
		{"margin above one", func(c *Config) { c.Video.SafetyMargin = 1.5 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGetRootDirectoryExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg := DefaultConfig()
	cfg.RootDirectory = "~/portfolio"
	if got, want := cfg.GetRootDirectory(), filepath.Join(home, "portfolio"); got != want {
		t.Errorf("GetRootDirectory = %s, want %s", got, want)
	}
}
