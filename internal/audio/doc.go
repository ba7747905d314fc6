// Package audio plays raw 16-bit little-endian PCM through the system audio
// device using oto/v3. Builds without cgo on Linux get a stub that reports
// the device as unavailable.
package audio
