package domain

import "time"

// SessionState models the live voice session lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateActive     SessionState = "active"
	SessionStateClosed     SessionState = "closed"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady             SessionStateReason = "ready"
	SessionReasonConnecting        SessionStateReason = "connecting"
	SessionReasonRestarting        SessionStateReason = "restarting"
	SessionReasonConnected         SessionStateReason = "connected"
	SessionReasonMicrophoneDenied  SessionStateReason = "microphone_denied"
	SessionReasonOutputUnavailable SessionStateReason = "output_unavailable"
	SessionReasonConnectFailed     SessionStateReason = "connect_failed"
	SessionReasonRemoteClosed      SessionStateReason = "remote_closed"
	SessionReasonUserStopped       SessionStateReason = "user_stopped"
	SessionReasonShutdown          SessionStateReason = "shutdown"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeMicrophone  ErrorCode = "microphone"
	ErrorCodeConnection  ErrorCode = "connection"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
	ErrorCodeAudioDecode ErrorCode = "audio_decode"
	ErrorCodePlayback    ErrorCode = "playback"
	ErrorCodeRules       ErrorCode = "rules"
)

// EncodedBlob is the transport unit for one captured audio chunk.
type EncodedBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// InboundMessage is the provider-agnostic view of one server message.
// Fields are independent: a single message may carry several signals.
type InboundMessage struct {
	Transcription    string
	HasTranscription bool
	AudioPayload     string
	Interrupted      bool
	TurnComplete     bool
}

// LiveEventKind tags a LiveEvent.
type LiveEventKind string

const (
	LiveEventOpened  LiveEventKind = "opened"
	LiveEventMessage LiveEventKind = "message"
	LiveEventError   LiveEventKind = "error"
	LiveEventClosed  LiveEventKind = "closed"
)

// LiveEvent is emitted by a live connection, in order, on a single channel.
type LiveEvent struct {
	Kind    LiveEventKind
	Message InboundMessage
	Err     error
}

// TurnRecord is one completed model turn as shown to the user.
type TurnRecord struct {
	ID          string    `json:"id"`
	Raw         string    `json:"raw"`
	Text        string    `json:"text"`
	CompletedAt time.Time `json:"completedAt"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Message   string       `json:"message,omitempty"`
}
