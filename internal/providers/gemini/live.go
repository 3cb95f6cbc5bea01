package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"mitra/internal/domain"
	"mitra/internal/ports"
	"mitra/internal/providers/liveconn"
)

const (
	defaultAPIBaseURL    = "wss://generativelanguage.googleapis.com"
	defaultAPIVersion    = "v1beta"
	defaultSendQueueSize = 64
	writeTimeout         = 5 * time.Second
)

// Config controls Gemini Live websocket settings.
type Config struct {
	APIKey        string
	APIBaseURL    string
	APIVersion    string
	SendQueueSize int
	Logger        *slog.Logger
}

// Provider implements ports.LiveProvider over the raw BidiGenerateContent
// websocket.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *Provider) Connect(ctx context.Context, cfg ports.LiveConfig) (ports.LiveConnection, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: errors.New("GEMINI_API_KEY is not configured")}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: errors.New("live model is not configured")}
	}

	wsURL, err := buildLiveURL(p.cfg)
	if err != nil {
		return nil, &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: err}
	}

	conn, _, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: fmt.Errorf("dial gemini live websocket: %w", err)}
	}

	setup := newSetupMessage(cfg.Model, cfg.Voice, cfg.SystemInstruction, cfg.ResponseModality, cfg.OutputTranscription)
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, &domain.ConnectionError{Op: domain.ConnectionOpOpen, Err: fmt.Errorf("send setup: %w", err)}
	}

	logger := p.cfg.Logger.With("component", "gemini_live")
	return liveconn.Open(ctx, &wsTransport{conn: conn, logger: logger}, p.cfg.SendQueueSize, logger), nil
}

// wsTransport speaks the BidiGenerateContent JSON protocol over one
// websocket. Only the connection's write loop calls Send.
type wsTransport struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// Receive reads one server message. A malformed message is reported as a
// protocol error event and the stream continues; a server error ends it.
func (t *wsTransport) Receive() ([]domain.LiveEvent, error) {
	_, payload, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return []domain.LiveEvent{{
			Kind: domain.LiveEventError,
			Err:  &domain.ConnectionError{Op: domain.ConnectionOpProtocol, Err: err},
		}}, nil
	}
	if msg.Error != nil {
		return nil, &domain.ConnectionError{
			Op:  domain.ConnectionOpProtocol,
			Err: fmt.Errorf("server error %d %s: %s", msg.Error.Code, msg.Error.Status, msg.Error.Message),
		}
	}
	if msg.GoAway != nil {
		t.logger.Warn("live service is going away", "time_left", msg.GoAway.TimeLeft)
	}

	var events []domain.LiveEvent
	if msg.SetupComplete != nil {
		events = append(events, domain.LiveEvent{Kind: domain.LiveEventOpened})
	}
	if inbound, ok := toInbound(msg.ServerContent); ok {
		events = append(events, domain.LiveEvent{Kind: domain.LiveEventMessage, Message: inbound})
	}
	return events, nil
}

func (t *wsTransport) Send(chunk domain.EncodedBlob) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(newRealtimeInput(chunk))
}

// Close sends a close frame and drops the socket. WriteControl is safe to
// call alongside the write loop.
func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	return t.conn.Close()
}

func buildLiveURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultAPIBaseURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}

	liveURL, err := url.Parse(base + "/ws/google.ai.generativelanguage." + version + ".GenerativeService.BidiGenerateContent")
	if err != nil {
		return "", fmt.Errorf("invalid Gemini API base URL: %w", err)
	}
	if liveURL.Scheme != "ws" && liveURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid Gemini API base URL scheme %q", liveURL.Scheme)
	}

	query := liveURL.Query()
	query.Set("key", cfg.APIKey)
	liveURL.RawQuery = query.Encode()
	return liveURL.String(), nil
}
