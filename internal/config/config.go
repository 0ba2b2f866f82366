// Package config loads lecturekit settings from YAML and credentials from the
// environment (optionally seeded from .env files).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const appName = "lecturekit"

// ErrMissingCredential is returned when a command needs a credential that is
// not set.
var ErrMissingCredential = errors.New("missing required credential")

// Config is the full on-disk configuration.
type Config struct {
	Language  string          `yaml:"language"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	ASR       ASRConfig       `yaml:"asr"`
	Media     MediaConfig     `yaml:"media"`
	Output    OutputConfig    `yaml:"output"`
	Watch     WatchConfig     `yaml:"watch"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// AnalysisConfig configures multimodal video analysis.
type AnalysisConfig struct {
	Model          string `yaml:"model"`
	InlineLimitMB  int    `yaml:"inline_limit_mb"` // larger videos go through the file upload API
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ASRConfig selects and configures speech-to-text backends.
type ASRConfig struct {
	Backend         string           `yaml:"backend"` // local_whisper | assemblyai | google_stt
	FallbackBackend string           `yaml:"fallback_backend,omitempty"`
	OutputFormats   []string         `yaml:"output_formats"`
	Normalize       bool             `yaml:"normalize"` // run the disfluency normalizer over each segment
	Local           LocalWhisperConf `yaml:"local"`
	AssemblyAI      AssemblyAIConf   `yaml:"assemblyai"`
	Google          GoogleSTTConf    `yaml:"google"`
}

type LocalWhisperConf struct {
	BinaryPath     string `yaml:"binary_path"`
	ModelPath      string `yaml:"model_path"`
	Model          string `yaml:"model"`
	Threads        int    `yaml:"threads"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AssemblyAIConf struct {
	BaseURL             string `yaml:"base_url"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	Retries             int    `yaml:"retries"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

type GoogleSTTConf struct {
	LanguageCode string `yaml:"language_code"`
	Model        string `yaml:"model"`
}

// MediaConfig configures audio extraction.
type MediaConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	SampleRate int    `yaml:"sample_rate"`
}

// OutputConfig controls where results land.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// WatchConfig configures the inbox watcher.
type WatchConfig struct {
	InboxDir       string   `yaml:"inbox_dir"`
	Mode           string   `yaml:"mode"` // analyze | transcribe
	DebounceMillis int      `yaml:"debounce_ms"`
	Extensions     []string `yaml:"extensions"`
}

// DashboardConfig configures the evaluation dashboard.
type DashboardConfig struct {
	Addr         string `yaml:"addr"`
	DatabasePath string `yaml:"database_path"`
	PageSize     int    `yaml:"page_size"`
	ChatModel    string `yaml:"chat_model"` // answers /api/chat when GOOGLE_API_KEY is set
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Language: "ja",
		Analysis: AnalysisConfig{
			Model:          "gemini-2.0-flash",
			InlineLimitMB:  20,
			TimeoutSeconds: 600,
		},
		ASR: ASRConfig{
			Backend:       "local_whisper",
			OutputFormats: []string{"txt"},
			Local: LocalWhisperConf{
				BinaryPath:     "whisper",
				Model:          "base",
				TimeoutSeconds: 1800,
			},
			AssemblyAI: AssemblyAIConf{
				BaseURL:             "https://api.assemblyai.com",
				TimeoutSeconds:      120,
				Retries:             3,
				PollIntervalSeconds: 3,
			},
			Google: GoogleSTTConf{
				LanguageCode: "ja-JP",
			},
		},
		Media: MediaConfig{
			FFmpegPath: "ffmpeg",
			SampleRate: 16000,
		},
		Output: OutputConfig{
			Dir: filepath.Join("data", "output"),
		},
		Watch: WatchConfig{
			InboxDir:       filepath.Join("data", "video"),
			Mode:           "analyze",
			DebounceMillis: 2000,
			Extensions:     []string{".mp4", ".mov", ".mkv", ".webm", ".avi"},
		},
		Dashboard: DashboardConfig{
			Addr:         "127.0.0.1:8501",
			DatabasePath: filepath.Join("data", "chat_feedback.db"),
			PageSize:     5,
			ChatModel:    "gemini-2.0-flash",
		},
	}
}

// Dir returns ~/.config/lecturekit.
func Dir() string {
	return filepath.Join(os.Getenv("HOME"), ".config", appName)
}

// CacheDir returns ~/.cache/lecturekit, used for PID and status files.
func CacheDir() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", appName)
}

// DefaultPath returns the user config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads path over the defaults. An empty path means DefaultPath, and a
// missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates cfg and writes it to path, creating the directory.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var (
	validBackends = map[string]bool{"local_whisper": true, "assemblyai": true, "google_stt": true}
	validFormats  = map[string]bool{"txt": true, "srt": true, "vtt": true}
)

// Validate checks Config for validity.
func (c *Config) Validate() error {
	if !validBackends[c.ASR.Backend] {
		return fmt.Errorf("asr.backend must be one of local_whisper, assemblyai, google_stt, got %q", c.ASR.Backend)
	}
	if c.ASR.FallbackBackend != "" {
		if !validBackends[c.ASR.FallbackBackend] {
			return fmt.Errorf("asr.fallback_backend %q is not a known backend", c.ASR.FallbackBackend)
		}
		if c.ASR.FallbackBackend == c.ASR.Backend {
			return fmt.Errorf("asr.fallback_backend must differ from asr.backend")
		}
	}
	for _, f := range c.ASR.OutputFormats {
		if !validFormats[f] {
			return fmt.Errorf("asr.output_formats: unknown format %q", f)
		}
	}
	if c.Analysis.InlineLimitMB < 1 || c.Analysis.InlineLimitMB > 20 {
		return fmt.Errorf("analysis.inline_limit_mb must be between 1 and 20, got %d", c.Analysis.InlineLimitMB)
	}
	if c.Media.SampleRate <= 0 {
		return fmt.Errorf("media.sample_rate must be positive, got %d", c.Media.SampleRate)
	}
	if c.Watch.Mode != "analyze" && c.Watch.Mode != "transcribe" {
		return fmt.Errorf("watch.mode must be analyze or transcribe, got %q", c.Watch.Mode)
	}
	if c.Watch.DebounceMillis < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative")
	}
	if c.Dashboard.PageSize < 1 || c.Dashboard.PageSize > 100 {
		return fmt.Errorf("dashboard.page_size must be between 1 and 100, got %d", c.Dashboard.PageSize)
	}
	return nil
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped and variables already set win. Returns the files loaded.
func LoadEnvFiles(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{".env", filepath.Join(Dir(), ".env")}
	}
	var loaded []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if fi, err := os.Stat(p); err != nil || fi.IsDir() {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("load env file %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// Credentials holds secrets read from the environment.
type Credentials struct {
	GoogleAPIKey          string // GOOGLE_API_KEY, generative model access
	AssemblyAIKey         string // ASSEMBLYAI_API_KEY
	GoogleCredentialsFile string // GOOGLE_APPLICATION_CREDENTIALS, Cloud Speech
}

// CredentialsFromEnv reads credentials from the process environment.
func CredentialsFromEnv() Credentials {
	return Credentials{
		GoogleAPIKey:          strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		AssemblyAIKey:         strings.TrimSpace(os.Getenv("ASSEMBLYAI_API_KEY")),
		GoogleCredentialsFile: strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
	}
}

// RequireGoogleAPIKey fails with ErrMissingCredential when the key is unset.
func (c Credentials) RequireGoogleAPIKey() (string, error) {
	if c.GoogleAPIKey == "" {
		return "", fmt.Errorf("%w: GOOGLE_API_KEY is not set (check your .env file)", ErrMissingCredential)
	}
	return c.GoogleAPIKey, nil
}

// RequireAssemblyAIKey fails with ErrMissingCredential when the key is unset.
func (c Credentials) RequireAssemblyAIKey() (string, error) {
	if c.AssemblyAIKey == "" {
		return "", fmt.Errorf("%w: ASSEMBLYAI_API_KEY is not set (check your .env file)", ErrMissingCredential)
	}
	return c.AssemblyAIKey, nil
}
