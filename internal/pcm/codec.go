// Package pcm converts between raw PCM16 sample buffers, their transport
// encoding and playable float buffers.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// DecodeError reports malformed transport-encoded input.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode audio payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FormatError reports PCM bytes that cannot be interpreted as 16-bit samples.
type FormatError struct {
	Length int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("pcm16 payload length %d is not a multiple of 2", e.Length)
}

// AudioBuffer holds de-interleaved normalized samples.
type AudioBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// NumberOfChannels returns the channel count.
func (b *AudioBuffer) NumberOfChannels() int {
	return len(b.Channels)
}

// Frames returns the number of sample frames per channel.
func (b *AudioBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b *AudioBuffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// PCM16 re-interleaves the buffer into little-endian 16-bit samples.
func (b *AudioBuffer) PCM16() []byte {
	channels := b.NumberOfChannels()
	frames := b.Frames()
	interleaved := make([]float32, 0, channels*frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			interleaved = append(interleaved, b.Channels[ch][i])
		}
	}
	return FloatToPCM16(interleaved)
}

// Encode returns the padded standard base64 form of b.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode is the inverse of Encode.
func Decode(s string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return out, nil
}

// DecodeAudioData interprets data as interleaved little-endian PCM16 and
// normalizes each sample by 32768. Trailing samples that do not fill a whole
// frame are discarded.
func DecodeAudioData(data []byte, sampleRate int, channels int) (*AudioBuffer, error) {
	if len(data)%2 != 0 {
		return nil, &FormatError{Length: len(data)}
	}
	if channels <= 0 {
		channels = 1
	}

	samples := len(data) / 2
	frames := samples / channels
	buffer := &AudioBuffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buffer.Channels {
		buffer.Channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			offset := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(data[offset:]))
			buffer.Channels[ch][i] = float32(sample) / 32768.0
		}
	}
	return buffer, nil
}

// FloatToPCM16 scales samples by 32768 and packs them as little-endian
// int16. Values are truncated toward zero and wrap rather than clamp, so an
// exact +1.0 becomes -32768.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// MIMEType tags raw PCM16 audio at the given sample rate.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}
