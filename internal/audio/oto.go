//go:build !linux || cgo

package audio

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// oto allows one context per process, so every OtoPlayer shares it.
var (
	ctxOnce   sync.Once
	ctxShared *oto.Context
	ctxFormat Format
	ctxErr    error
)

func sharedContext(f Format) (*oto.Context, error) {
	ctxOnce.Do(func() {
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   f.SampleRate,
			ChannelCount: f.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			ctxErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		<-ready
		ctxShared, ctxFormat = c, f
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	if ctxFormat != f {
		return nil, fmt.Errorf("audio device already opened at %d Hz/%d ch", ctxFormat.SampleRate, ctxFormat.Channels)
	}
	return ctxShared, nil
}

// OtoPlayer plays PCM on the default output device.
type OtoPlayer struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	data   []byte // kept alive for the duration of playback
	closed bool
}

// NewOtoPlayer opens the audio device for format f.
func NewOtoPlayer(f Format) (*OtoPlayer, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	ctx, err := sharedContext(f)
	if err != nil {
		return nil, err
	}
	return &OtoPlayer{ctx: ctx}, nil
}

// Play implements Player.
func (p *OtoPlayer) Play(pcm []byte) error {
	if len(pcm) == 0 {
		return ErrEmpty
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.stopLocked()

	p.data = append([]byte(nil), pcm...)
	p.player = p.ctx.NewPlayer(bytes.NewReader(p.data))
	p.player.Play()
	return nil
}

// Stop implements Player.
func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	return nil
}

// IsPlaying implements Player.
func (p *OtoPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.player != nil && p.player.IsPlaying()
}

// Close implements Player. The shared device stays open.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.closed = true
	return nil
}

func (p *OtoPlayer) stopLocked() {
	if p.player == nil {
		return
	}
	p.player.Pause()
	_ = p.player.Close()
	p.player = nil
	p.data = nil
}
