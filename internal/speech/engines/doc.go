// Package engines documents the speech engine implementations:
//
//   - mock: a silent engine that simulates utterance timing, for tests and
//     machines without audio.
//   - command: runs a speech CLI such as espeak-ng, spd-say or say once
//     per utterance.
//   - piper: synthesizes PCM with the Piper CLI, caches it, and plays it
//     through the audio package.
package engines
