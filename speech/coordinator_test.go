package speech_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okabe15/panelvoice/internal/audio"
	"github.com/okabe15/panelvoice/speech"
	"github.com/okabe15/panelvoice/speech/engines/mock"
)

// testRig bundles a coordinator with its mock collaborators.
type testRig struct {
	coordinator *speech.Coordinator
	engine      *mock.Engine
	player      *audio.MockPlayer

	mu     sync.Mutex
	states map[string][]speech.SlotState
	errs   map[string][]error
}

func newTestRig(t *testing.T, mutate func(*speech.Config)) *testRig {
	t.Helper()

	cfg := speech.DefaultConfig()
	cfg.ErrorRecoveryDelay = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	engine := mock.New()
	player := audio.NewMockPlayer()

	coordinator, err := speech.New(cfg, engine, player)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = coordinator.Close() })

	rig := &testRig{
		coordinator: coordinator,
		engine:      engine,
		player:      player,
		states:      make(map[string][]speech.SlotState),
		errs:        make(map[string][]error),
	}

	coordinator.OnStateChange(func(slotID string, state speech.SlotState) {
		rig.mu.Lock()
		defer rig.mu.Unlock()
		rig.states[slotID] = append(rig.states[slotID], state)
	})
	coordinator.OnError(func(slotID string, err error) {
		rig.mu.Lock()
		defer rig.mu.Unlock()
		rig.errs[slotID] = append(rig.errs[slotID], err)
	})

	return rig
}

// waitForState polls until the slot reaches the wanted state.
func (r *testRig) waitForState(t *testing.T, slotID string, want speech.SlotState) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.coordinator.GetState(slotID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("slot %q never reached %v (currently %v)", slotID, want, r.coordinator.GetState(slotID))
}

func (r *testRig) stateHistory(slotID string) []speech.SlotState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]speech.SlotState, len(r.states[slotID]))
	copy(out, r.states[slotID])
	return out
}

// TestPlayNormalPath verifies idle -> loading -> playing with a single
// synthesis call and normalized text.
func TestPlayNormalPath(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.coordinator.Play("panel1-dialogue", "**Bob:** *Hi!*", "modern"); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)

	if calls := rig.engine.Calls(); calls != 1 {
		t.Errorf("synthesis calls = %d, want 1", calls)
	}
	if got := rig.engine.LastRequest().Text; got != "Bob: Hi!" {
		t.Errorf("synthesized text = %q, want %q", got, "Bob: Hi!")
	}

	history := rig.stateHistory("panel1-dialogue")
	want := []speech.SlotState{speech.StateLoading, speech.StatePlaying}
	if len(history) != len(want) {
		t.Fatalf("state history = %v, want %v", history, want)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("state history = %v, want %v", history, want)
		}
	}
}

// TestPlayNothingSpeakable verifies empty and "none" text are silent
// no-ops that never reach the synthesizer.
func TestPlayNothingSpeakable(t *testing.T) {
	rig := newTestRig(t, nil)

	for _, input := range []string{"", "   ", "None", "NONE", "**none**"} {
		if err := rig.coordinator.Play("panel1-dialogue", input, "modern"); err != nil {
			t.Errorf("Play(%q) error = %v", input, err)
		}
	}

	if calls := rig.engine.Calls(); calls != 0 {
		t.Errorf("synthesis calls = %d, want 0", calls)
	}
	if state := rig.coordinator.GetState("panel1-dialogue"); state != speech.StateIdle {
		t.Errorf("state = %v, want idle", state)
	}
	if history := rig.stateHistory("panel1-dialogue"); len(history) != 0 {
		t.Errorf("unexpected state changes: %v", history)
	}
}

// TestPlayToggleStopsPlayingSlot verifies play on a playing slot stops it
// instead of restarting.
func TestPlayToggleStopsPlayingSlot(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello there", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello there", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StateIdle)

	// The toggle must not trigger a second synthesis.
	if calls := rig.engine.Calls(); calls != 1 {
		t.Errorf("synthesis calls = %d, want 1", calls)
	}
}

// TestGlobalExclusivity verifies starting slot B stops slot A: never two
// slots playing at once.
func TestGlobalExclusivity(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.coordinator.Play("panelA", "First panel text", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panelA", speech.StatePlaying)

	if err := rig.coordinator.Play("panelB", "Second panel text", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panelB", speech.StatePlaying)

	if state := rig.coordinator.GetState("panelA"); state != speech.StateIdle {
		t.Errorf("panelA state = %v, want idle", state)
	}
}

// TestCacheHitSkipsSynthesis verifies replaying identical text is served
// from the cache: the synthesizer is invoked exactly once.
func TestCacheHitSkipsSynthesis(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.coordinator.Play("panel1-dialogue", "The game is afoot", "classic"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)
	rig.player.FinishCurrent()
	rig.waitForState(t, "panel1-dialogue", speech.StateReady)

	if err := rig.coordinator.Play("panel1-dialogue", "The game is afoot", "classic"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)

	if calls := rig.engine.Calls(); calls != 1 {
		t.Errorf("synthesis calls = %d, want 1 (second play should hit the cache)", calls)
	}

	stats := rig.coordinator.CacheStats()
	if stats.Hits < 1 {
		t.Errorf("cache hits = %d, want at least 1", stats.Hits)
	}
	if stats.Items != 1 {
		t.Errorf("cache items = %d, want 1", stats.Items)
	}
}

// TestNaturalEndReachesReady verifies the ended signal detaches the
// handle and leaves the slot replayable.
func TestNaturalEndReachesReady(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.coordinator.Play("panel1-dialogue", "Some narration", "narrator"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)
	rig.player.FinishCurrent()
	rig.waitForState(t, "panel1-dialogue", speech.StateReady)

	// Cache-owned audio survives the detach.
	if live := rig.coordinator.LiveHandles(); live != 1 {
		t.Errorf("live handles = %d, want 1 (cache-owned)", live)
	}
}

// TestOneOffReleaseOnEnd verifies one-off audio (caching disabled) is
// released by the slot when playback ends.
func TestOneOffReleaseOnEnd(t *testing.T) {
	rig := newTestRig(t, func(c *speech.Config) { c.CacheEnabled = false })

	if err := rig.coordinator.Play("panel1-dialogue", "Some narration", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)

	if live := rig.coordinator.LiveHandles(); live != 1 {
		t.Fatalf("live handles = %d, want 1", live)
	}

	rig.player.FinishCurrent()
	rig.waitForState(t, "panel1-dialogue", speech.StateReady)

	if live := rig.coordinator.LiveHandles(); live != 0 {
		t.Errorf("live handles = %d, want 0 after one-off release", live)
	}
}

// TestSynthesisFailure verifies the error state, the surfaced error, and
// the automatic revert to idle.
func TestSynthesisFailure(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.engine.SetFailure(errors.New("backend unreachable"))

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StateError)

	if err := rig.coordinator.Err("panel1-dialogue"); !errors.Is(err, speech.ErrSynthesisFailed) {
		t.Errorf("Err() = %v, want ErrSynthesisFailed", err)
	}

	rig.mu.Lock()
	surfaced := len(rig.errs["panel1-dialogue"])
	rig.mu.Unlock()
	if surfaced != 1 {
		t.Errorf("surfaced errors = %d, want 1", surfaced)
	}

	// Auto-recovery: the slot must not stick in error.
	rig.waitForState(t, "panel1-dialogue", speech.StateIdle)
}

// TestEmptyPayloadIsFailure verifies a zero-byte payload is treated the
// same as a synthesis error.
func TestEmptyPayloadIsFailure(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.engine.SetPayload(nil)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StateError)

	if err := rig.coordinator.Err("panel1-dialogue"); !errors.Is(err, speech.ErrEmptyAudio) {
		t.Errorf("Err() = %v, want ErrEmptyAudio", err)
	}
	if live := rig.coordinator.LiveHandles(); live != 0 {
		t.Errorf("live handles = %d, want 0", live)
	}
}

// TestPlaybackStartFailure verifies a player rejection surfaces as the
// error state.
func TestPlaybackStartFailure(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.player.SetPlayError(errors.New("device busy"))

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StateError)
	rig.waitForState(t, "panel1-dialogue", speech.StateIdle)
}

// TestMidPlaybackFailure verifies a player error event during playback
// moves the slot to error.
func TestMidPlaybackFailure(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)

	rig.player.FailCurrent(errors.New("decoder underrun"))
	rig.waitForState(t, "panel1-dialogue", speech.StateError)
}

// TestStaleResolutionDiscarded verifies a resolution that lands after
// the slot was stopped is released instead of resurrected.
func TestStaleResolutionDiscarded(t *testing.T) {
	rig := newTestRig(t, func(c *speech.Config) { c.CacheEnabled = false })
	rig.engine.SetDelay(80 * time.Millisecond)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StateLoading)

	if err := rig.coordinator.Stop("panel1-dialogue"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StateIdle)

	// Let the delayed synthesis resolve, then verify it was discarded.
	time.Sleep(150 * time.Millisecond)
	if count := rig.player.PlayCount(); count != 0 {
		t.Errorf("player started %d times, want 0", count)
	}
	if live := rig.coordinator.LiveHandles(); live != 0 {
		t.Errorf("live handles = %d, want 0 (stale handle leaked)", live)
	}
	if state := rig.coordinator.GetState("panel1-dialogue"); state != speech.StateIdle {
		t.Errorf("state = %v, want idle", state)
	}
}

// TestPlayWhileLoadingIgnored verifies overlapping play calls on a
// loading slot are debounced.
func TestPlayWhileLoadingIgnored(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.engine.SetDelay(80 * time.Millisecond)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StateLoading)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)

	if calls := rig.engine.Calls(); calls != 1 {
		t.Errorf("synthesis calls = %d, want 1", calls)
	}
}

// TestStopDetachesWithoutReleasingCached verifies stop keeps cache-owned
// audio resident.
func TestStopDetachesWithoutReleasingCached(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)

	if err := rig.coordinator.Stop("panel1-dialogue"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StateIdle)

	if stats := rig.coordinator.CacheStats(); stats.Items != 1 {
		t.Errorf("cache items = %d, want 1 (stop must not evict)", stats.Items)
	}
	if live := rig.coordinator.LiveHandles(); live != 1 {
		t.Errorf("live handles = %d, want 1", live)
	}
}

// TestClearCacheReleasesHandles verifies ClearCache releases every
// cached handle.
func TestClearCacheReleasesHandles(t *testing.T) {
	rig := newTestRig(t, nil)

	for _, text := range []string{"First line", "Second line", "Third line"} {
		if err := rig.coordinator.Play("panel1-dialogue", text, "modern"); err != nil {
			t.Fatal(err)
		}
		rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)
		rig.player.FinishCurrent()
		rig.waitForState(t, "panel1-dialogue", speech.StateReady)
	}

	if stats := rig.coordinator.CacheStats(); stats.Items != 3 {
		t.Fatalf("cache items = %d, want 3", stats.Items)
	}

	rig.coordinator.ClearCache()

	if stats := rig.coordinator.CacheStats(); stats.Items != 0 {
		t.Errorf("cache items = %d, want 0", stats.Items)
	}
	if live := rig.coordinator.LiveHandles(); live != 0 {
		t.Errorf("live handles = %d, want 0", live)
	}
}

// TestCloseReleasesEverything verifies teardown stops playback and
// releases all handles on every path.
func TestCloseReleasesEverything(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); err != nil {
		t.Fatal(err)
	}
	rig.waitForState(t, "panel1-dialogue", speech.StatePlaying)

	if err := rig.coordinator.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if live := rig.coordinator.LiveHandles(); live != 0 {
		t.Errorf("live handles = %d, want 0 after close", live)
	}
	if err := rig.coordinator.Play("panel1-dialogue", "Hello", "modern"); !errors.Is(err, speech.ErrCoordinatorClosed) {
		t.Errorf("Play() after close = %v, want ErrCoordinatorClosed", err)
	}

	// Close is idempotent.
	if err := rig.coordinator.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// TestGetStateUnknownSlot verifies never-played slots report idle.
func TestGetStateUnknownSlot(t *testing.T) {
	rig := newTestRig(t, nil)

	if state := rig.coordinator.GetState("never-used"); state != speech.StateIdle {
		t.Errorf("state = %v, want idle", state)
	}
}
