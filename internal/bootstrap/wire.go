package bootstrap

import (
	"fmt"
	"log/slog"
	"os"

	"mitra/internal/audio"
	"mitra/internal/config"
	"mitra/internal/logging"
	"mitra/internal/metrics"
	"mitra/internal/ports"
	"mitra/internal/providers/gemini"
	"mitra/internal/providers/genailive"
	"mitra/internal/rules"
	"mitra/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Persona    config.Persona
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	persona, err := config.LoadPersona(cfg.Persona.Path)
	if err != nil {
		return Services{}, err
	}

	rulesEngine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	capture, err := newCapture(cfg.Audio)
	if err != nil {
		return Services{}, err
	}

	m := metrics.New()
	controller := usecase.NewSessionController(
		capture,
		audio.NewFFPlayOutput(cfg.Playback.PlayerCommand),
		newProvider(cfg, logger),
		rulesEngine,
		eventSink,
		usecase.Config{
			Capture: ports.CaptureConfig{
				SampleRate:  cfg.Audio.SampleRate,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
				FrameSize:   cfg.Session.FrameSize,
			},
			Playback: ports.OutputConfig{
				SampleRate: cfg.Playback.SampleRate,
				Channels:   1,
			},
			Live: ports.LiveConfig{
				Model:               cfg.Gemini.Model,
				Voice:               cfg.Gemini.Voice,
				SystemInstruction:   persona.SystemInstruction(),
				ResponseModality:    usecase.ResponseModalityAudio,
				OutputTranscription: true,
			},
			Logger:  logger,
			Metrics: m,
		},
	)

	logger.Info("backend ready",
		"transport", cfg.Gemini.Transport,
		"capture", cfg.Audio.Backend,
		"model", cfg.Gemini.Model,
		"rules", rulesEngine.Len(),
	)

	return Services{
		Controller: controller,
		Config:     cfg,
		Persona:    persona,
		Metrics:    m,
		Logger:     logger,
	}, nil
}

func newCapture(cfg config.AudioConfig) (ports.AudioCapture, error) {
	if cfg.Backend == config.CapturePortAudio {
		if !audio.PortAudioAvailable {
			return nil, fmt.Errorf("capture backend %q: %w", cfg.Backend, audio.ErrPortAudioUnavailable)
		}
		return audio.NewPortAudioCapture(), nil
	}
	return audio.NewFFMPEGCapture(cfg.RecorderCommand), nil
}

func newProvider(cfg config.Config, logger *slog.Logger) ports.LiveProvider {
	if cfg.Gemini.Transport == config.TransportSDK {
		return genailive.NewProvider(genailive.Config{
			APIKey:        cfg.Gemini.APIKey,
			APIBaseURL:    cfg.Gemini.APIBaseURL,
			SendQueueSize: cfg.Session.SendQueueSize,
			Logger:        logger.With("provider", "genai"),
		})
	}
	return gemini.NewProvider(gemini.Config{
		APIKey:        cfg.Gemini.APIKey,
		APIBaseURL:    cfg.Gemini.APIBaseURL,
		SendQueueSize: cfg.Session.SendQueueSize,
		Logger:        logger.With("provider", "websocket"),
	})
}
