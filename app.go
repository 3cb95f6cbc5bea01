package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"mitra/internal/bootstrap"
	"mitra/internal/config"
	"mitra/internal/domain"
	"mitra/internal/usecase"
)

const (
	eventSession    = "mitra:session"
	eventTranscript = "mitra:transcript"
	eventTurn       = "mitra:turn"
	eventError      = "mitra:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.SessionController
	cfg        config.Config
	logger     *slog.Logger
	metricsSrv *http.Server
	bootErr    error

	// emit is runtime.EventsEmit outside tests.
	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.logger = services.Logger

	if addr := a.cfg.Metrics.Addr; addr != "" {
		a.metricsSrv = &http.Server{
			Addr:              addr,
			Handler:           services.Metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", "addr", addr, "error", err)
			}
		}()
		a.logger.Info("serving metrics", "addr", addr)
	}

	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller != nil {
		a.controller.Shutdown()
	}
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
}

// StartLive opens a live voice session, replacing any running one.
func (a *App) StartLive() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	// Failures are already reported through SessionError.
	if err := a.controller.Start(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopLive ends the live session. Calling it without a session is a no-op.
func (a *App) StopLive() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Stop()
}

// InterruptLive silences the assistant mid-answer and returns how many
// queued buffers were dropped.
func (a *App) InterruptLive() (int, error) {
	if err := a.requireReady(); err != nil {
		return 0, err
	}
	stopped, err := a.controller.Interrupt()
	if errors.Is(err, usecase.ErrNoActiveSession) {
		return 0, nil
	}
	return stopped, err
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateClosed, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetTranscript returns the assistant transcript of the turn in progress.
func (a *App) GetTranscript() string {
	if a.controller == nil {
		return ""
	}
	return a.controller.Transcript()
}

// GetHistory returns completed assistant turns, oldest first.
func (a *App) GetHistory() []domain.TurnRecord {
	if a.controller == nil {
		return nil
	}
	return a.controller.History()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"provider":           "Gemini Live",
		"transport":          a.cfg.Gemini.Transport,
		"model":              a.cfg.Gemini.Model,
		"voice":              a.cfg.Gemini.Voice,
		"apiKeyConfigured":   strconv.FormatBool(a.cfg.Gemini.APIKey != ""),
		"captureBackend":     a.cfg.Audio.Backend,
		"audioInput":         a.cfg.Audio.InputDevice,
		"audioInputFormat":   a.cfg.Audio.InputFormat,
		"captureSampleRate":  strconv.Itoa(a.cfg.Audio.SampleRate),
		"playbackSampleRate": strconv.Itoa(a.cfg.Playback.SampleRate),
		"personaFile":        a.cfg.Persona.Path,
		"rulesFile":          a.cfg.Rules.Path,
		"metricsAddr":        a.cfg.Metrics.Addr,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) send(name string, payload any) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TranscriptUpdated emits the running transcript of the current turn.
func (a *App) TranscriptUpdated(text string) {
	a.send(eventTranscript, map[string]string{"text": text})
}

// TurnCompleted emits a finished assistant turn.
func (a *App) TurnCompleted(turn domain.TurnRecord) {
	a.send(eventTurn, turn)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonConnecting:
		return "Connecting to Mitra..."
	case domain.SessionReasonRestarting:
		return "Restarting session"
	case domain.SessionReasonConnected:
		return "Listening"
	case domain.SessionReasonMicrophoneDenied:
		return "Microphone access denied"
	case domain.SessionReasonOutputUnavailable:
		return "Speaker unavailable"
	case domain.SessionReasonConnectFailed:
		return "Could not connect"
	case domain.SessionReasonRemoteClosed:
		return "Connection closed"
	case domain.SessionReasonUserStopped:
		return "Session ended"
	case domain.SessionReasonShutdown:
		return "Shutting down"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeMicrophone:
		return "Microphone unavailable"
	case domain.ErrorCodeConnection:
		return "Connection error"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeAudioDecode:
		return "Could not decode model audio"
	case domain.ErrorCodePlayback:
		return "Playback failed"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
