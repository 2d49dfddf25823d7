package audio

import (
	"sync"
	"time"
)

// MockPlayer implements Player for testing. It never touches an audio
// device; tests drive completion and failure by hand through
// FinishCurrent and FailCurrent, and can inspect the recorded event
// history afterwards.
type MockPlayer struct {
	mu      sync.Mutex
	current *Handle
	events  Events
	playing bool
	closed  bool

	playCount int
	stopCount int
	history   []PlaybackEvent

	// Error injection
	playErr error
}

// PlaybackEvent records one player action for test verification.
type PlaybackEvent struct {
	Type      string // "play", "stop", "ended", "error"
	HandleID  string
	Timestamp time.Time
}

// NewMockPlayer creates a mock player.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// Play records the handle as playing and emits Started synchronously.
func (p *MockPlayer) Play(h *Handle, ev Events) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlayerClosed
	}
	if p.playErr != nil {
		err := p.playErr
		p.mu.Unlock()
		return err
	}
	if h == nil || h.Len() == 0 {
		p.mu.Unlock()
		return ErrNoAudioData
	}

	p.current = h
	p.events = ev
	p.playing = true
	p.playCount++
	p.record("play", h.ID())
	p.mu.Unlock()

	if ev.Started != nil {
		ev.Started()
	}
	return nil
}

// Stop halts the simulated playback without emitting Ended.
func (p *MockPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.record("stop", p.current.ID())
	}
	p.current = nil
	p.events = Events{}
	p.playing = false
	p.stopCount++
	return nil
}

// IsPlaying reports whether a handle is currently "playing".
func (p *MockPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close marks the player closed.
func (p *MockPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.current = nil
	p.events = Events{}
	p.playing = false
	return nil
}

// FinishCurrent simulates natural completion of the current playback,
// emitting Ended. It is a no-op when nothing is playing.
func (p *MockPlayer) FinishCurrent() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	ev := p.events
	p.record("ended", p.current.ID())
	p.current = nil
	p.events = Events{}
	p.playing = false
	p.mu.Unlock()

	if ev.Ended != nil {
		ev.Ended()
	}
}

// FailCurrent simulates a mid-playback failure, emitting Error.
func (p *MockPlayer) FailCurrent(err error) {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	ev := p.events
	p.record("error", p.current.ID())
	p.current = nil
	p.events = Events{}
	p.playing = false
	p.mu.Unlock()

	if ev.Error != nil {
		ev.Error(err)
	}
}

// SetPlayError injects an error returned by the next Play calls.
func (p *MockPlayer) SetPlayError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playErr = err
}

// Current returns the handle currently playing, or nil.
func (p *MockPlayer) Current() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// PlayCount returns how many times Play succeeded.
func (p *MockPlayer) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playCount
}

// StopCount returns how many times Stop was called.
func (p *MockPlayer) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCount
}

// History returns a copy of the recorded playback events.
func (p *MockPlayer) History() []PlaybackEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PlaybackEvent, len(p.history))
	copy(out, p.history)
	return out
}

// record appends an event. Callers must hold p.mu.
func (p *MockPlayer) record(typ, handleID string) {
	p.history = append(p.history, PlaybackEvent{
		Type:      typ,
		HandleID:  handleID,
		Timestamp: time.Now(),
	})
}
