package gemini

import (
	"strings"

	"mitra/internal/domain"
)

type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	MediaChunks []blob `json:"mediaChunks"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func modelResource(model string) string {
	model = strings.TrimSpace(model)
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func newSetupMessage(model, voice, instruction, modality string, transcribe bool) clientMessage {
	if modality == "" {
		modality = "AUDIO"
	}
	setup := &setupMessage{
		Model: modelResource(model),
		GenerationConfig: generationConfig{
			ResponseModalities: []string{strings.ToUpper(modality)},
		},
	}
	if voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
		}
	}
	if instruction != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: instruction}}}
	}
	if transcribe {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: setup}
}

func newRealtimeInput(chunk domain.EncodedBlob) clientMessage {
	return clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []blob{{MIMEType: chunk.MIMEType, Data: chunk.Data}},
	}}
}

// toInbound flattens server content into the signals the session consumes.
// It reports false when the content carries none of them.
func toInbound(sc *serverContent) (domain.InboundMessage, bool) {
	if sc == nil {
		return domain.InboundMessage{}, false
	}

	var msg domain.InboundMessage
	if sc.OutputTranscription != nil {
		msg.Transcription = sc.OutputTranscription.Text
		msg.HasTranscription = true
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				msg.AudioPayload = p.InlineData.Data
				break
			}
		}
	}
	msg.Interrupted = sc.Interrupted
	msg.TurnComplete = sc.TurnComplete

	ok := msg.HasTranscription || msg.AudioPayload != "" || msg.Interrupted || msg.TurnComplete
	return msg, ok
}
