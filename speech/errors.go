package speech

import "errors"

// Common errors for the speech coordinator.
var (
	// Synthesis errors
	ErrEmptyAudio      = errors.New("synthesizer returned an empty audio payload")
	ErrSynthesisFailed = errors.New("audio synthesis failed")

	// Coordinator errors
	ErrCoordinatorClosed = errors.New("speech coordinator has been closed")
	ErrStateTransition   = errors.New("invalid slot state transition")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid speech configuration")
)
