//go:build linux && !cgo

package audio

import "fmt"

// OtoPlayer is unavailable without cgo on Linux.
type OtoPlayer struct{}

// NewOtoPlayer always fails in this build.
func NewOtoPlayer(Format) (*OtoPlayer, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrUnavailable)
}

func (*OtoPlayer) Play([]byte) error { return ErrUnavailable }
func (*OtoPlayer) Stop() error       { return nil }
func (*OtoPlayer) IsPlaying() bool   { return false }
func (*OtoPlayer) Close() error      { return nil }
