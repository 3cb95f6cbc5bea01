// Package genailive implements the live model port on top of the Google Gen AI
// SDK session API.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"mitra/internal/domain"
	"mitra/internal/pcm"
	"mitra/internal/ports"
	"mitra/internal/providers/liveconn"
)

const defaultSendQueueSize = 64

// Config controls the SDK client.
type Config struct {
	APIKey        string
	APIBaseURL    string
	APIVersion    string
	SendQueueSize int
	Logger        *slog.Logger
}

// stream is the subset of *genai.Session the connection drives.
type stream interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type dialFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (stream, error)

// Provider implements ports.LiveProvider with genai.Client.Live.
type Provider struct {
	cfg  Config
	dial dialFunc
}

func NewProvider(cfg Config) *Provider {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Provider{cfg: cfg}
	p.dial = p.dialSDK
	return p
}

func (p *Provider) dialSDK(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (stream, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    p.cfg.APIBaseURL,
			APIVersion: p.cfg.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	session, err := client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (p *Provider) Connect(ctx context.Context, cfg ports.LiveConfig) (ports.LiveConnection, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: errors.New("GEMINI_API_KEY is not configured")}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: errors.New("live model is not configured")}
	}

	s, err := p.dial(ctx, cfg.Model, buildConnectConfig(cfg))
	if err != nil {
		return nil, &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: err}
	}

	return newConnection(ctx, s, p.cfg.SendQueueSize, p.cfg.Logger.With("component", "genai_live")), nil
}

func buildConnectConfig(cfg ports.LiveConfig) *genai.LiveConnectConfig {
	modality := genai.ModalityAudio
	if cfg.ResponseModality != "" {
		modality = genai.Modality(strings.ToUpper(cfg.ResponseModality))
	}
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{modality},
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

// translateServerMessage maps one SDK message onto live events.
func translateServerMessage(msg *genai.LiveServerMessage) []domain.LiveEvent {
	if msg == nil {
		return nil
	}

	var events []domain.LiveEvent
	if msg.SetupComplete != nil {
		events = append(events, domain.LiveEvent{Kind: domain.LiveEventOpened})
	}

	sc := msg.ServerContent
	if sc == nil {
		return events
	}

	var inbound domain.InboundMessage
	if sc.OutputTranscription != nil {
		inbound.Transcription = sc.OutputTranscription.Text
		inbound.HasTranscription = true
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				inbound.AudioPayload = pcm.Encode(part.InlineData.Data)
				break
			}
		}
	}
	inbound.Interrupted = sc.Interrupted
	inbound.TurnComplete = sc.TurnComplete

	if inbound.HasTranscription || inbound.AudioPayload != "" || inbound.Interrupted || inbound.TurnComplete {
		events = append(events, domain.LiveEvent{Kind: domain.LiveEventMessage, Message: inbound})
	}
	return events
}

// streamTransport adapts an SDK session to liveconn.Transport.
type streamTransport struct {
	stream stream
	logger *slog.Logger
}

func newConnection(ctx context.Context, s stream, queueSize int, logger *slog.Logger) *liveconn.Conn {
	return liveconn.Open(ctx, &streamTransport{stream: s, logger: logger}, queueSize, logger)
}

func (t *streamTransport) Receive() ([]domain.LiveEvent, error) {
	msg, err := t.stream.Receive()
	if err != nil {
		return nil, err
	}
	if msg != nil && msg.GoAway != nil {
		t.logger.Warn("live service is going away")
	}
	return translateServerMessage(msg), nil
}

func (t *streamTransport) Send(chunk domain.EncodedBlob) error {
	data, err := pcm.Decode(chunk.Data)
	if err != nil {
		return err
	}
	return t.stream.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: chunk.MIMEType},
	})
}

func (t *streamTransport) Close() error {
	return t.stream.Close()
}
