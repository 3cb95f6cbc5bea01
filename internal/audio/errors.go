package audio

import "errors"

var (
	ErrOutputClosed         = errors.New("audio output is closed")
	ErrPortAudioUnavailable = errors.New("built without portaudio support (rebuild with -tags portaudio)")
)
