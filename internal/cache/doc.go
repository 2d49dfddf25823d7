// Package cache provides a bounded in-memory cache of synthesized audio
// handles. Eviction is FIFO by first insertion, and every evicted handle
// is released through the configured release callback.
package cache
