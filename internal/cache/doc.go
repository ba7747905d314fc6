// Package cache stores synthesized speech so repeated utterances skip the
// synthesizer. A small in-memory LRU sits in front of a zstd-compressed
// on-disk store that survives restarts.
package cache
