package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// DataPath holds the job database and rendered outputs
	DataPath string `yaml:"data_path" validate:"required"`

	// TempPath is the parent of per-render scratch directories.
	// If empty, the OS temp directory is used
	TempPath string `yaml:"temp_path"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json"
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// PollInterval is how often the orchestrator looks for queued jobs
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`

	// ItemDelay spaces out consecutive collaborator calls inside a step
	ItemDelay time.Duration `yaml:"item_delay" validate:"gte=0"`

	// MaxConcurrentRenders bounds simultaneous encoder processes
	MaxConcurrentRenders int `yaml:"max_concurrent_renders" validate:"min=1,max=16"`

	Fonts    FontsConfig    `yaml:"fonts"`
	Render   RenderConfig   `yaml:"render"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Images   ImagesConfig   `yaml:"images"`
	TTS      TTSConfig      `yaml:"tts"`
	Research ResearchConfig `yaml:"research"`
}

type FontsConfig struct {
	// Serif is used for titles and date overlays
	Serif string `yaml:"serif"`
	// Sans is used for every other caption
	Sans string `yaml:"sans"`
}

type RenderConfig struct {
	Width        int    `yaml:"width" validate:"min=16,max=7680"`
	Height       int    `yaml:"height" validate:"min=16,max=4320"`
	FPS          int    `yaml:"fps" validate:"min=1,max=120"`
	CRF          int    `yaml:"crf" validate:"min=0,max=51"`
	Preset       string `yaml:"preset"`
	AudioBitrate string `yaml:"audio_bitrate"`
	// ColorGrade is applied to every clip the timeline builder emits
	ColorGrade string `yaml:"color_grade"`
	// MusicURL is an optional background bed laid under narration
	MusicURL string `yaml:"music_url"`
}

type StorageConfig struct {
	// Backend is "local" or "s3"
	Backend         string `yaml:"backend" validate:"oneof=local s3"`
	LocalRoot       string `yaml:"local_root"`
	Bucket          string `yaml:"bucket" validate:"required_if=Backend s3"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// PublicURL prefixes object keys to form the URLs handed to clients
	PublicURL string `yaml:"public_url"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type ImagesConfig struct {
	GeneratorURL string `yaml:"generator_url" validate:"omitempty,url"`
	StockURL     string `yaml:"stock_url" validate:"omitempty,url"`
	StockAPIKey  string `yaml:"stock_api_key"`
}

type TTSConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type ResearchConfig struct {
	// Queries is how many search queries the research step plans
	Queries int `yaml:"queries" validate:"min=1,max=20"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataPath:             "data",
		LogLevel:             "info",
		LogFormat:            "text",
		FFmpegPath:           "ffmpeg",
		FFprobePath:          "ffprobe",
		PollInterval:         5 * time.Second,
		ItemDelay:            time.Second,
		MaxConcurrentRenders: 1,
		Fonts: FontsConfig{
			Serif: "/usr/share/fonts/truetype/dejavu/DejaVuSerif-Bold.ttf",
			Sans:  "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		},
		Render: RenderConfig{
			Width:        1920,
			Height:       1080,
			FPS:          30,
			CRF:          20,
			Preset:       "medium",
			AudioBitrate: "192k",
			ColorGrade:   DefaultColorGrade,
		},
		Storage: StorageConfig{
			Backend: "local",
			Region:  "auto",
		},
		LLM: LLMConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.3-70b-versatile",
		},
		Images: ImagesConfig{
			GeneratorURL: "https://image.pollinations.ai",
			StockURL:     "https://api.pexels.com/v1",
		},
		TTS: TTSConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "tts-1",
		},
		Research: ResearchConfig{Queries: 5},
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.fillDefaults()

	return cfg, nil
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.DataPath == "" {
		c.DataPath = def.DataPath
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = def.FFmpegPath
	}
	if c.FFprobePath == "" {
		c.FFprobePath = def.FFprobePath
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxConcurrentRenders < 1 {
		c.MaxConcurrentRenders = 1
	}
	if c.Render.Width == 0 || c.Render.Height == 0 {
		c.Render.Width, c.Render.Height = def.Render.Width, def.Render.Height
	}
	if c.Render.FPS == 0 {
		c.Render.FPS = def.Render.FPS
	}
	if c.Render.CRF == 0 {
		c.Render.CRF = def.Render.CRF
	}
	if c.Render.Preset == "" {
		c.Render.Preset = def.Render.Preset
	}
	if c.Render.AudioBitrate == "" {
		c.Render.AudioBitrate = def.Render.AudioBitrate
	}
	c.Render.ColorGrade = ValidateColorGrade(c.Render.ColorGrade)
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if c.Storage.Region == "" {
		c.Storage.Region = def.Storage.Region
	}
	if c.Fonts.Serif == "" {
		c.Fonts.Serif = def.Fonts.Serif
	}
	if c.Fonts.Sans == "" {
		c.Fonts.Sans = def.Fonts.Sans
	}
	if c.Research.Queries == 0 {
		c.Research.Queries = def.Research.Queries
	}
}

// LoadEnv reads .env style files (missing files are ignored) into the process
// environment and then applies the overrides.
func (c *Config) LoadEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return fmt.Errorf("load env files: %w", err)
		}
	}
	c.ApplyEnv()
	return nil
}

// ApplyEnv overrides file values with REELSMITH_* and provider key variables.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&c.DataPath, "REELSMITH_DATA_PATH", "DATA_PATH")
	setString(&c.TempPath, "REELSMITH_TEMP_PATH", "TEMP_PATH")
	setString(&c.LogLevel, "REELSMITH_LOG_LEVEL", "LOG_LEVEL")
	setString(&c.LogFormat, "REELSMITH_LOG_FORMAT")
	setString(&c.FFmpegPath, "FFMPEG_PATH")
	setString(&c.FFprobePath, "FFPROBE_PATH")
	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.Bucket, "R2_BUCKET_NAME", "S3_BUCKET")
	setString(&c.Storage.Endpoint, "R2_ENDPOINT", "S3_ENDPOINT")
	setString(&c.Storage.AccessKeyID, "R2_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	setString(&c.Storage.SecretAccessKey, "R2_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	setString(&c.Storage.PublicURL, "R2_PUBLIC_URL", "STORAGE_PUBLIC_URL")
	setString(&c.LLM.APIKey, "GROQ_API_KEY", "LLM_API_KEY")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.Images.StockAPIKey, "PEXELS_API_KEY", "STOCK_API_KEY")
	setString(&c.TTS.APIKey, "TTS_API_KEY", "OPENAI_API_KEY")
	setString(&c.TTS.BaseURL, "TTS_BASE_URL")

	if v := os.Getenv("REELSMITH_MAX_RENDERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrentRenders = n
		}
	}
}

// Validate checks field constraints after defaults and overrides are applied.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DBPath is the job database location under DataPath.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataPath, "reelsmith.db")
}

// OutputDir is where finished renders are kept.
func (c *Config) OutputDir() string {
	return filepath.Join(c.DataPath, "renders")
}

// GetTempDir returns the parent directory for render scratch space.
func (c *Config) GetTempDir() string {
	if c.TempPath != "" {
		return c.TempPath
	}
	return os.TempDir()
}

// LocalStorageRoot is where the local backend keeps objects.
func (c *Config) LocalStorageRoot() string {
	if c.Storage.LocalRoot != "" {
		return c.Storage.LocalRoot
	}
	return filepath.Join(c.DataPath, "media")
}
