// Package speech coordinates narration audio for comic panels: it
// normalizes panel text, synthesizes speech through the platform
// backend, caches results by fingerprint, and guarantees that at most
// one slot plays at a time.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/okabe15/panelvoice/internal/audio"
	"github.com/okabe15/panelvoice/internal/cache"
)

// Coordinator orchestrates audio generation and playback across slots.
// A slot is one logical audio-producing location, e.g. "panel3-dialogue".
// Construct one Coordinator per application scope and share it by
// reference; it replaces the module-level cache and playback globals of
// earlier clients with injected configuration and collaborators.
type Coordinator struct {
	cfg    Config
	synth  Synthesizer
	player audio.Player
	store  *audio.Store
	cache  *cache.FIFO
	group  singleflight.Group
	logger *log.Logger

	mu     sync.Mutex
	slots  map[string]*slot
	active *slot // slot currently loading or playing, nil otherwise
	closed bool

	onStateChange func(slotID string, state SlotState)
	onError       func(slotID string, err error)
}

// slot tracks the playback state of one logical audio location. The
// generation counter invalidates in-flight resolutions: synthesis is not
// cancellable mid-flight, so a resolution arriving after the slot moved
// on is detected by a generation mismatch and discarded.
type slot struct {
	id      string
	machine *StateMachine
	gen     uint64
	handle  *audio.Handle
	owned   bool // one-off generation: the slot must release the handle
	lastErr error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for slot and cache traces.
func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a Coordinator with the given collaborators. The
// configuration is validated; the cache capacity and ownership rules
// come from it.
func New(cfg Config, synth Synthesizer, player audio.Player, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:    cfg,
		synth:  synth,
		player: player,
		store:  audio.NewStore(),
		slots:  make(map[string]*slot),
		logger: log.Default(),
	}
	// Cache-owned handles are released on eviction, overwrite, and clear.
	c.cache = cache.New(cfg.MaxCacheSize, c.store.Release)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnStateChange registers a callback for slot state changes. The
// callback is invoked outside the coordinator lock.
func (c *Coordinator) OnStateChange(fn func(slotID string, state SlotState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// OnError registers a callback for slot errors.
func (c *Coordinator) OnError(fn func(slotID string, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Play speaks rawText on the given slot. Empty text (after
// normalization) and the literal "none" are silent no-ops. Calling Play
// on a slot that is already playing stops it instead (toggle). Starting
// a slot stops whichever other slot is active first: at most one slot
// plays at any time, across all slots.
//
// An empty voiceType uses the configured default. Play returns quickly;
// synthesis and playback progress are reported through the state
// callbacks.
func (c *Coordinator) Play(slotID, rawText, voiceType string) error {
	text := Normalize(rawText)
	if text == "" || strings.EqualFold(text, "none") {
		c.logger.Debug("nothing to speak", "slot", slotID)
		return nil
	}
	if voiceType == "" {
		voiceType = c.cfg.VoiceType
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}

	s := c.slot(slotID)
	switch s.machine.Current() {
	case StatePlaying:
		// Toggle: a second play on a playing slot stops it.
		c.mu.Unlock()
		return c.Stop(slotID)
	case StateLoading:
		// Overlapping play on a loading slot is ignored.
		c.mu.Unlock()
		c.logger.Debug("slot already loading, play ignored", "slot", slotID)
		return nil
	}

	// Global exclusivity: whatever other slot is active goes idle before
	// this slot starts.
	var stopped string
	if c.active != nil && c.active != s {
		stopped = c.active.id
		c.stopLocked(c.active)
	}

	if !s.machine.Transition(StateLoading) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrStateTransition, s.machine.Current(), StateLoading)
	}
	s.gen++
	gen := s.gen
	s.lastErr = nil
	c.active = s
	c.mu.Unlock()

	if stopped != "" {
		c.notifyState(stopped, StateIdle)
	}
	c.notifyState(slotID, StateLoading)

	go c.resolveAndPlay(s, gen, text, voiceType)
	return nil
}

// Stop halts playback or loading on the slot and returns it to idle.
// Cache-owned audio stays cached; one-off audio is released.
func (c *Coordinator) Stop(slotID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}

	s, ok := c.slots[slotID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	changed := c.stopLocked(s)
	c.mu.Unlock()

	if changed {
		c.notifyState(slotID, StateIdle)
	}
	return nil
}

// GetState returns the current state of the slot. Slots that have never
// played report idle.
func (c *Coordinator) GetState(slotID string) SlotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.slots[slotID]; ok {
		return s.machine.Current()
	}
	return StateIdle
}

// Err returns the last error of the slot, or nil.
func (c *Coordinator) Err(slotID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.slots[slotID]; ok {
		return s.lastErr
	}
	return nil
}

// ClearCache releases every cached audio handle and empties the cache.
func (c *Coordinator) ClearCache() {
	c.cache.Clear()
}

// CacheStats returns a snapshot of the cache counters.
func (c *Coordinator) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// LiveHandles returns the number of audio handles not yet released.
func (c *Coordinator) LiveHandles() int {
	return c.store.Live()
}

// Close stops every slot, releases all one-off handles, clears the cache
// (releasing cache-owned handles), and closes the player. Close is
// idempotent and runs the same release discipline on every exit path.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for _, s := range c.slots {
		c.stopLocked(s)
	}
	c.active = nil
	c.mu.Unlock()

	c.cache.Clear()
	return c.player.Close()
}

// slot returns the slot for id, creating it on first use. Callers must
// hold c.mu.
func (c *Coordinator) slot(id string) *slot {
	s, ok := c.slots[id]
	if !ok {
		s = &slot{id: id, machine: NewStateMachine()}
		c.slots[id] = s
	}
	return s
}

// stopLocked transitions an active slot to idle, halting the player and
// detaching its handle. Returns false when the slot was not active.
// Callers must hold c.mu.
func (c *Coordinator) stopLocked(s *slot) bool {
	cur := s.machine.Current()
	if cur != StateLoading && cur != StatePlaying {
		return false
	}

	s.gen++ // invalidate any in-flight resolution
	if c.active == s {
		if err := c.player.Stop(); err != nil {
			c.logger.Warn("player stop failed", "slot", s.id, "error", err)
		}
		c.active = nil
	}

	c.detachLocked(s)
	s.machine.Transition(StateIdle)
	return true
}

// detachLocked removes the slot's handle, releasing it only when the
// slot owns it outright. Callers must hold c.mu.
func (c *Coordinator) detachLocked(s *slot) {
	if s.handle != nil && s.owned {
		c.store.Release(s.handle)
	}
	s.handle = nil
	s.owned = false
}

// resolveAndPlay runs off the caller's goroutine: it resolves audio for
// the slot (cache or synthesis), then attaches and starts playback. A
// generation mismatch at any point means the slot moved on while we were
// suspended; the resolved handle is discarded rather than resurrected.
func (c *Coordinator) resolveAndPlay(s *slot, gen uint64, text, voiceType string) {
	handle, cached, err := c.resolve(text, voiceType)

	c.mu.Lock()
	if c.closed || s.gen != gen || s.machine.Current() != StateLoading {
		c.mu.Unlock()
		if handle != nil && !cached {
			c.store.Release(handle)
		}
		c.logger.Debug("discarding stale resolution", "slot", s.id)
		return
	}

	if err != nil {
		c.failLocked(s, gen, err)
		c.mu.Unlock()
		c.notifyState(s.id, StateError)
		c.notifyError(s.id, err)
		return
	}

	s.handle = handle
	s.owned = !cached
	c.mu.Unlock()

	playErr := c.player.Play(handle, audio.Events{
		Started: func() { c.handleStarted(s, gen) },
		Ended:   func() { c.handleEnded(s, gen) },
		Error:   func(err error) { c.handleFailure(s, gen, err) },
	})
	if playErr != nil {
		c.handleFailure(s, gen, playErr)
	}
}

// resolve produces an audio handle for the normalized text. With caching
// enabled, concurrent requests for the same fingerprint are collapsed to
// a single synthesis call and the result is cache-owned; otherwise each
// call produces a one-off handle owned by its slot.
func (c *Coordinator) resolve(text, voiceType string) (*audio.Handle, bool, error) {
	key := Fingerprint(text, voiceType, c.cfg.Rate, c.cfg.Pitch)

	if !c.cfg.CacheEnabled {
		h, err := c.synthesize(text, voiceType)
		return h, false, err
	}

	if h, ok := c.cache.Get(key); ok {
		c.logger.Debug("cache hit", "key", key[:16])
		return h, true, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Double-check under the flight: another caller may have
		// populated the cache between our miss and this call.
		if h, ok := c.cache.Get(key); ok {
			return h, nil
		}
		h, err := c.synthesize(text, voiceType)
		if err != nil {
			return nil, err
		}
		c.cache.Put(key, h)
		return h, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*audio.Handle), true, nil
}

// synthesize calls the backend and wraps the payload in a fresh handle.
// A zero-byte payload is a failure, same as a transport error.
func (c *Coordinator) synthesize(text, voiceType string) (*audio.Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SynthesisTimeout)
	defer cancel()

	data, err := c.synth.Synthesize(ctx, Request{
		Text:      text,
		VoiceType: voiceType,
		Rate:      c.cfg.Rate,
		Pitch:     c.cfg.Pitch,
		UseSSML:   c.cfg.UseSSML,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	c.logger.Debug("synthesized audio", "voice", voiceType, "bytes", len(data))
	return c.store.Create(data), nil
}

// handleStarted moves the slot from loading to playing once the player
// signals that audio is audible.
func (c *Coordinator) handleStarted(s *slot, gen uint64) {
	c.mu.Lock()
	if c.closed || s.gen != gen || s.machine.Current() != StateLoading {
		c.mu.Unlock()
		return
	}
	s.machine.Transition(StatePlaying)
	c.mu.Unlock()

	c.notifyState(s.id, StatePlaying)
}

// handleEnded handles natural completion: the slot becomes ready for
// replay, the handle is detached, and one-off audio is released.
func (c *Coordinator) handleEnded(s *slot, gen uint64) {
	c.mu.Lock()
	if c.closed || s.gen != gen || s.machine.Current() != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.detachLocked(s)
	s.machine.Transition(StateReady)
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()

	c.notifyState(s.id, StateReady)
}

// handleFailure handles playback-start and mid-playback failures.
func (c *Coordinator) handleFailure(s *slot, gen uint64, err error) {
	c.mu.Lock()
	if c.closed || s.gen != gen || !s.machine.Current().IsActive() {
		c.mu.Unlock()
		return
	}
	c.failLocked(s, gen, err)
	c.mu.Unlock()

	c.notifyState(s.id, StateError)
	c.notifyError(s.id, err)
}

// failLocked transitions the slot to error and schedules the automatic
// revert to idle so the slot can never stick in loading or error.
// Callers must hold c.mu and notify after unlocking.
func (c *Coordinator) failLocked(s *slot, gen uint64, err error) {
	c.detachLocked(s)
	s.machine.Transition(StateError)
	s.lastErr = err
	if c.active == s {
		c.active = nil
	}
	c.logger.Error("slot failed", "slot", s.id, "error", err)

	time.AfterFunc(c.cfg.ErrorRecoveryDelay, func() {
		c.recoverSlot(s, gen)
	})
}

// recoverSlot reverts an errored slot to idle after the recovery delay,
// unless the slot has been reused in the meantime.
func (c *Coordinator) recoverSlot(s *slot, gen uint64) {
	c.mu.Lock()
	if c.closed || s.gen != gen || s.machine.Current() != StateError {
		c.mu.Unlock()
		return
	}
	s.machine.Transition(StateIdle)
	c.mu.Unlock()

	c.notifyState(s.id, StateIdle)
}

// notifyState invokes the state callback outside the coordinator lock.
func (c *Coordinator) notifyState(slotID string, state SlotState) {
	c.mu.Lock()
	fn := c.onStateChange
	c.mu.Unlock()

	if fn != nil {
		fn(slotID, state)
	}
}

// notifyError invokes the error callback outside the coordinator lock.
func (c *Coordinator) notifyError(slotID string, err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()

	if fn != nil {
		fn(slotID, err)
	}
}
