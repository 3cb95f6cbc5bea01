package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"mitra/internal/domain"
	"mitra/internal/pcm"
	"mitra/internal/ports"
)

const defaultFrameSize = 4096

// runCapturePipeline reads fixed-size frames from the microphone, encodes
// each one and hands it to sink in capture order. sink must not block.
func runCapturePipeline(
	ctx context.Context,
	capture ports.AudioSession,
	frameSize int,
	sampleRate int,
	sink func(domain.EncodedBlob),
	logger *slog.Logger,
	done chan struct{},
) {
	defer close(done)

	if frameSize <= 0 {
		frameSize = defaultFrameSize
	}
	mimeType := pcm.MIMEType(sampleRate)

	frame := make([]float32, frameSize)
	for {
		n, err := capture.ReadFrame(frame)
		if n > 0 && ctx.Err() == nil {
			sink(encodeFrame(frame[:n], mimeType))
		}
		if err != nil {
			if ctx.Err() == nil && !isCaptureEnd(err) {
				logger.Error("audio capture error", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func encodeFrame(samples []float32, mimeType string) domain.EncodedBlob {
	return domain.EncodedBlob{
		Data:     pcm.Encode(pcm.FloatToPCM16(samples)),
		MIMEType: mimeType,
	}
}

func isCaptureEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed)
}
