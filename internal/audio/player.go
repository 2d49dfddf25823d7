package audio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// Common errors for audio playback.
var (
	// ErrNoAudioData is returned when a handle has no payload to play.
	ErrNoAudioData = errors.New("no audio data to play")
	// ErrPlayerClosed is returned when playing through a closed player.
	ErrPlayerClosed = errors.New("audio player is closed")
)

// Events carries the playback notifications a player emits for one
// handle. Started fires once the audio is audibly playing, Ended fires on
// natural completion only (never on Stop), Error fires when playback
// aborts after starting.
type Events struct {
	Started func()
	Ended   func()
	Error   func(err error)
}

// Player plays one audio handle at a time.
type Player interface {
	// Play starts playback of the handle and reports progress through ev.
	// Starting while another handle is playing stops the previous one.
	Play(h *Handle, ev Events) error

	// Stop halts the current playback, if any. No Ended event is emitted.
	Stop() error

	// IsPlaying reports whether audio is currently playing.
	IsPlaying() bool

	// Close stops playback and releases the audio device.
	Close() error
}

const watchInterval = 50 * time.Millisecond

// OtoPlayer plays MP3 payloads through the system audio device using oto.
// The oto context is created lazily on first play, using the sample rate
// of the first decoded stream; later streams are expected to match.
type OtoPlayer struct {
	mu      sync.Mutex
	context *oto.Context
	current *playback
	closed  bool
}

// playback tracks one active oto player and its completion watcher.
type playback struct {
	player  *oto.Player
	ev      Events
	mu      sync.Mutex
	stopped bool
}

// NewOtoPlayer creates a player. The audio device is not opened until the
// first Play call.
func NewOtoPlayer() *OtoPlayer {
	return &OtoPlayer{}
}

// Play decodes the handle's MP3 payload and starts playback.
func (p *OtoPlayer) Play(h *Handle, ev Events) error {
	if h == nil || h.Len() == 0 {
		return ErrNoAudioData
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(h.Bytes()))
	if err != nil {
		return fmt.Errorf("decode audio: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlayerClosed
	}

	if p.current != nil {
		p.current.halt()
		p.current = nil
	}

	if p.context == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   decoder.SampleRate(),
			ChannelCount: 2, // go-mp3 always decodes to stereo
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("open audio device: %w", err)
		}
		<-ready
		p.context = ctx
	}

	pb := &playback{
		player: p.context.NewPlayer(decoder),
		ev:     ev,
	}
	p.current = pb
	p.mu.Unlock()

	pb.player.Play()
	if ev.Started != nil {
		ev.Started()
	}

	go p.watch(pb)
	return nil
}

// watch polls the oto player until the stream drains, then reports the
// natural end. A halted playback reports nothing.
func (p *OtoPlayer) watch(pb *playback) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for range ticker.C {
		pb.mu.Lock()
		if pb.stopped {
			pb.mu.Unlock()
			return
		}
		done := !pb.player.IsPlaying()
		pb.mu.Unlock()

		if done {
			break
		}
	}

	p.mu.Lock()
	if p.current == pb {
		p.current = nil
	}
	p.mu.Unlock()

	pb.mu.Lock()
	ended := !pb.stopped
	pb.stopped = true
	_ = pb.player.Close()
	pb.mu.Unlock()

	if ended && pb.ev.Ended != nil {
		pb.ev.Ended()
	}
}

// Stop halts the current playback without emitting Ended.
func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.halt()
		p.current = nil
	}
	return nil
}

// IsPlaying reports whether a handle is currently playing.
func (p *OtoPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return false
	}
	p.current.mu.Lock()
	defer p.current.mu.Unlock()
	return !p.current.stopped && p.current.player.IsPlaying()
}

// Close stops playback and suspends the audio device. The player cannot
// be reused afterwards.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.current != nil {
		p.current.halt()
		p.current = nil
	}
	if p.context != nil {
		return p.context.Suspend()
	}
	return nil
}

// halt marks the playback stopped and closes the oto player. The watcher
// sees the stopped flag and stays silent.
func (pb *playback) halt() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if pb.stopped {
		return
	}
	pb.stopped = true
	pb.player.Pause()
	_ = pb.player.Close()
}
