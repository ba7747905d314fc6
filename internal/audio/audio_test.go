package audio

import (
	"errors"
	"testing"
	"time"
)

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name      string
		format    Format
		expectErr bool
	}{
		{"piper mono", Format{SampleRate: 22050, Channels: 1}, false},
		{"cd stereo", Format{SampleRate: 44100, Channels: 2}, false},
		{"too slow", Format{SampleRate: 4000, Channels: 1}, true},
		{"surround", Format{SampleRate: 48000, Channels: 6}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.expectErr {
				t.Errorf("Validate() error = %v, expectErr %v", err, tt.expectErr)
			}
		})
	}
}

func TestFormat_Duration(t *testing.T) {
	f := Format{SampleRate: 22050, Channels: 1}
	if d := f.Duration(44100); d != time.Second {
		t.Errorf("Duration = %v, want 1s", d)
	}
	if d := (Format{}).Duration(100); d != 0 {
		t.Errorf("zero format should yield zero duration, got %v", d)
	}
}

func TestMemoryPlayer_Lifecycle(t *testing.T) {
	p := NewMemoryPlayer(Format{SampleRate: 8000, Channels: 1})

	if err := p.Play(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}

	// 16000 bytes at 8kHz mono = 1s.
	if err := p.Play(make([]byte, 16000)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !p.IsPlaying() {
		t.Fatal("expected playing")
	}

	_ = p.Stop()
	if p.IsPlaying() {
		t.Error("expected stopped")
	}
	if p.Stops() != 1 {
		t.Errorf("Stops = %d, want 1", p.Stops())
	}

	_ = p.Close()
	if err := p.Play([]byte{1, 2}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if len(p.Played()) != 1 {
		t.Errorf("Played = %d buffers, want 1", len(p.Played()))
	}
}

func TestMemoryPlayer_FinishesNaturally(t *testing.T) {
	p := NewMemoryPlayer(Format{SampleRate: 8000, Channels: 1})
	p.Speed = 100

	_ = p.Play(make([]byte, 1600)) // 100ms real, 1ms simulated
	time.Sleep(20 * time.Millisecond)

	if p.IsPlaying() {
		t.Error("playback should have finished")
	}
	_ = p.Stop()
	if p.Stops() != 0 {
		t.Error("stopping a finished buffer is not an interruption")
	}
}

func TestMemoryPlayer_FailWith(t *testing.T) {
	p := NewMemoryPlayer(DefaultFormat())
	boom := errors.New("device lost")

	p.FailWith(boom)
	if err := p.Play([]byte{0, 0}); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	p.FailWith(nil)
	if err := p.Play([]byte{0, 0}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
