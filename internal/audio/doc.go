// Package audio provides playback of synthesized speech using the oto/v3
// library, plus the revocable handle registry that pairs every audio
// payload with exactly one release.
package audio
