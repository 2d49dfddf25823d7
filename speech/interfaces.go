package speech

import "context"

// Request describes one synthesis call to the platform backend. Text is
// already normalized; the backend resolves VoiceType to a concrete neural
// voice and applies rate/pitch (as SSML prosody when UseSSML is set).
type Request struct {
	Text      string `json:"text"`
	VoiceType string `json:"voice_type"`
	Rate      string `json:"rate"`
	Pitch     string `json:"pitch"`
	UseSSML   bool   `json:"use_ssml"`
}

// Synthesizer converts text to a binary audio payload. A zero-byte
// payload is treated by the coordinator as a failure equivalent to a
// returned error.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
