package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	TransportWebsocket = "websocket"
	TransportSDK       = "sdk"

	CaptureFFMPEG    = "ffmpeg"
	CapturePortAudio = "portaudio"

	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice     = "Zephyr"
)

// Config stores runtime configuration for the live voice session.
type Config struct {
	Gemini   GeminiConfig
	Audio    AudioConfig
	Playback PlaybackConfig
	Session  SessionConfig
	Rules    RulesConfig
	Persona  PersonaConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

type GeminiConfig struct {
	APIKey     string
	APIBaseURL string
	Model      string
	Voice      string
	Transport  string
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
}

type PlaybackConfig struct {
	PlayerCommand string
	SampleRate    int
}

type SessionConfig struct {
	FrameSize     int
	SendQueueSize int
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type PersonaConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Addr string
}

// Load resolves configuration from an optional dotenv file, environment
// variables and defaults. Variables already set in the environment win over
// the dotenv file.
func Load() (Config, error) {
	envFile := envOrDefault("MITRA_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "mitra")

	cfg := Config{
		Gemini: GeminiConfig{
			APIKey:     firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY")),
			APIBaseURL: strings.TrimSpace(os.Getenv("GEMINI_API_BASE")),
			Model:      envOrDefault("GEMINI_LIVE_MODEL", DefaultLiveModel),
			Voice:      envOrDefault("GEMINI_VOICE", DefaultVoice),
			Transport:  strings.ToLower(envOrDefault("MITRA_LIVE_TRANSPORT", TransportWebsocket)),
		},
		Audio: AudioConfig{
			Backend:         strings.ToLower(envOrDefault("MITRA_CAPTURE_BACKEND", CaptureFFMPEG)),
			RecorderCommand: envOrDefault("MITRA_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("MITRA_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("MITRA_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("MITRA_CAPTURE_SAMPLE_RATE", 16000),
		},
		Playback: PlaybackConfig{
			PlayerCommand: envOrDefault("MITRA_FFPLAY_COMMAND", "ffplay"),
			SampleRate:    envOrDefaultInt("MITRA_PLAYBACK_SAMPLE_RATE", 24000),
		},
		Session: SessionConfig{
			FrameSize:     envOrDefaultInt("MITRA_FRAME_SIZE", 4096),
			SendQueueSize: envOrDefaultInt("MITRA_SEND_QUEUE_SIZE", 64),
		},
		Rules: RulesConfig{
			Path:           envOrDefault("MITRA_RULES_FILE", filepath.Join(configDir, "substitutions.rules")),
			IterationLimit: envOrDefaultInt("MITRA_RULE_ITERATION_LIMIT", 30),
		},
		Persona: PersonaConfig{
			Path: envOrDefault("MITRA_PERSONA_FILE", filepath.Join(configDir, "persona.yaml")),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(envOrDefault("MITRA_LOG_LEVEL", "info")),
			Format: strings.ToLower(envOrDefault("MITRA_LOG_FORMAT", "text")),
		},
		Metrics: MetricsConfig{
			Addr: strings.TrimSpace(os.Getenv("MITRA_METRICS_ADDR")),
		},
	}

	if cfg.Gemini.Transport != TransportWebsocket && cfg.Gemini.Transport != TransportSDK {
		return Config{}, fmt.Errorf("unsupported MITRA_LIVE_TRANSPORT %q", cfg.Gemini.Transport)
	}
	if cfg.Audio.Backend != CaptureFFMPEG && cfg.Audio.Backend != CapturePortAudio {
		return Config{}, fmt.Errorf("unsupported MITRA_CAPTURE_BACKEND %q", cfg.Audio.Backend)
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Playback.SampleRate <= 0 {
		cfg.Playback.SampleRate = 24000
	}
	if cfg.Session.FrameSize < 256 {
		cfg.Session.FrameSize = 4096
	}
	if cfg.Session.SendQueueSize <= 0 {
		cfg.Session.SendQueueSize = 64
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
