package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"motion-timeline/internal/models"
)

// DefaultPath is read when no path is given.
const DefaultPath = "motion-timeline.yaml"

type Config struct {
	Timeline struct {
		Buffers          models.AlignmentBuffers `yaml:"buffers"`
		DefaultLanguage  string                  `yaml:"defaultLanguage"`
		BaselineLanguage string                  `yaml:"baselineLanguage"`
		WordsPerSecond   float64                 `yaml:"wordsPerSecond"`
	} `yaml:"timeline"`

	Playback struct {
		FrameRate      int     `yaml:"frameRate"`
		DriftThreshold float64 `yaml:"driftThreshold"`
	} `yaml:"playback"`

	Editing struct {
		PixelsPerSecond float64       `yaml:"pixelsPerSecond"`
		MinDuration     float64       `yaml:"minDuration"`
		Snap            bool          `yaml:"snap"`
		SnapThreshold   float64       `yaml:"snapThreshold"`
		CommitDelay     time.Duration `yaml:"commitDelay"`
		ClearDelay      time.Duration `yaml:"clearDelay"`
	} `yaml:"editing"`

	// Render is written into exported render manifests.
	Render struct {
		FPS int `yaml:"fps"`
	} `yaml:"render"`

	Server struct {
		Addr        string `yaml:"addr"`
		FrontendDir string `yaml:"frontendDir"`
	} `yaml:"server"`

	Storage struct {
		Root string `yaml:"root"`
	} `yaml:"storage"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console | json
	} `yaml:"log"`
}

func Default() *Config {
	c := &Config{}

	c.Timeline.Buffers = models.DefaultBuffers()
	c.Timeline.DefaultLanguage = "en"
	c.Timeline.BaselineLanguage = "en"
	c.Timeline.WordsPerSecond = 2.5

	c.Playback.FrameRate = 60
	c.Playback.DriftThreshold = 0.2

	c.Editing.PixelsPerSecond = 50
	c.Editing.MinDuration = 0.5
	c.Editing.Snap = true
	c.Editing.SnapThreshold = 0.15
	c.Editing.CommitDelay = 400 * time.Millisecond
	c.Editing.ClearDelay = 1500 * time.Millisecond

	c.Render.FPS = 24

	c.Server.Addr = ":3456"

	homeDir, _ := os.UserHomeDir()
	c.Storage.Root = filepath.Join(homeDir, "Documents", "MotionStudio")

	c.Log.Level = "info"
	c.Log.Format = "console"
	return c
}

// Load reads the YAML file over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrapf(err, "read config %s", path)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadEnv reads a .env file when present and applies MOTION_* overrides.
func (c *Config) LoadEnv(files ...string) {
	_ = godotenv.Load(files...)

	if v := os.Getenv("MOTION_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MOTION_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("MOTION_DATA_DIR"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("MOTION_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MOTION_BASELINE_LANGUAGE"); v != "" {
		c.Timeline.BaselineLanguage = v
	}
	c.normalize()
}

// normalize clamps values into usable ranges.
func (c *Config) normalize() {
	def := Default()

	b := &c.Timeline.Buffers
	b.Narration = max(b.Narration, 0)
	b.InterClip = max(b.InterClip, 0)
	b.MusicEnd = max(b.MusicEnd, 0)
	if b.MinSceneDuration <= 0 {
		b.MinSceneDuration = def.Timeline.Buffers.MinSceneDuration
	}

	c.Timeline.DefaultLanguage = strings.TrimSpace(c.Timeline.DefaultLanguage)
	if c.Timeline.DefaultLanguage == "" {
		c.Timeline.DefaultLanguage = def.Timeline.DefaultLanguage
	}
	c.Timeline.BaselineLanguage = strings.TrimSpace(c.Timeline.BaselineLanguage)
	if c.Timeline.BaselineLanguage == "" {
		c.Timeline.BaselineLanguage = c.Timeline.DefaultLanguage
	}
	if c.Timeline.WordsPerSecond <= 0 {
		c.Timeline.WordsPerSecond = def.Timeline.WordsPerSecond
	}

	if c.Playback.FrameRate <= 0 || c.Playback.FrameRate > 240 {
		c.Playback.FrameRate = def.Playback.FrameRate
	}
	if c.Playback.DriftThreshold <= 0 {
		c.Playback.DriftThreshold = def.Playback.DriftThreshold
	}

	if c.Editing.PixelsPerSecond <= 0 {
		c.Editing.PixelsPerSecond = def.Editing.PixelsPerSecond
	}
	if c.Editing.MinDuration <= 0 {
		c.Editing.MinDuration = def.Editing.MinDuration
	}
	if c.Editing.SnapThreshold <= 0 {
		c.Editing.SnapThreshold = def.Editing.SnapThreshold
	}
	if c.Editing.CommitDelay <= 0 {
		c.Editing.CommitDelay = def.Editing.CommitDelay
	}
	// the overlay must outlive the commit round-trip
	if c.Editing.ClearDelay <= c.Editing.CommitDelay {
		c.Editing.ClearDelay = c.Editing.CommitDelay * 3
	}

	if c.Render.FPS <= 0 || c.Render.FPS > 120 {
		c.Render.FPS = def.Render.FPS
	}

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Storage.Root == "" {
		c.Storage.Root = def.Storage.Root
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format != "json" {
		c.Log.Format = "console"
	}
}
