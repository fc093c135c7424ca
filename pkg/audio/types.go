// Package audio holds the shared constants for the voicelink streaming
// pipelines. The wire format is fixed: 8 kHz mono little-endian int16 PCM,
// carried in 80-sample (10 ms) frames.
package audio

import "time"

const (
	// WireRate is the sample rate of every frame on the wire, in Hz.
	WireRate = 8000

	// FrameSamples is the number of PCM samples per frame (10 ms at WireRate).
	FrameSamples = 80

	// FrameBytes is the size of one frame before transport encoding.
	FrameBytes = FrameSamples * 2

	// FrameDuration is the playback duration of one frame.
	FrameDuration = 10 * time.Millisecond
)
