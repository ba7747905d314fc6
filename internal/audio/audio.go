package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable is returned when no audio device can be opened.
	ErrUnavailable = errors.New("audio output unavailable")

	// ErrClosed is returned by Play after Close.
	ErrClosed = errors.New("player is closed")

	// ErrEmpty is returned by Play for empty buffers.
	ErrEmpty = errors.New("audio data is empty")
)

// Format describes a PCM stream. Samples are always signed 16-bit LE.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat matches Piper's medium voices.
func DefaultFormat() Format {
	return Format{SampleRate: 22050, Channels: 1}
}

// Validate checks the format is playable.
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("sample rate out of range: %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// Duration returns how long n bytes of PCM in format f play for.
func (f Format) Duration(n int) time.Duration {
	frame := 2 * f.Channels
	if frame == 0 || f.SampleRate == 0 {
		return 0
	}
	return time.Duration(n/frame) * time.Second / time.Duration(f.SampleRate)
}

// Player plays one buffer at a time. Play replaces whatever is playing.
type Player interface {
	Play(pcm []byte) error
	Stop() error
	IsPlaying() bool
	Close() error
}
