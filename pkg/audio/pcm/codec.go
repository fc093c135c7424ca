// Package pcm implements the wire codec for voicelink audio frames.
//
// A frame is exactly 80 linear PCM samples (10 ms of 8 kHz mono audio), each
// a signed 16-bit little-endian integer (160 bytes), wrapped in standard
// base64 for the text transport. Encoding and decoding are pure and
// deterministic; all functions are safe for concurrent use.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/voicelink/voicelink/pkg/audio"
)

// ErrMalformedFrame indicates an inbound payload that is not valid base64 or
// whose decoded byte length is not a positive multiple of 2. Callers should
// drop the single frame and continue; a malformed frame never terminates a
// session.
var ErrMalformedFrame = errors.New("malformed audio frame")

// EncodeInt16 serialises exactly one frame of int16 samples to its base64
// wire form. Returns an error if the sample count is not [audio.FrameSamples].
func EncodeInt16(samples []int16) (string, error) {
	if len(samples) != audio.FrameSamples {
		return "", fmt.Errorf("pcm: encode: got %d samples, want %d", len(samples), audio.FrameSamples)
	}
	buf := make([]byte, audio.FrameBytes)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// EncodeFloat serialises one frame of float samples in [-1, 1] to its base64
// wire form. Out-of-range values saturate to the int16 bounds; they never
// wrap and never cause an error.
func EncodeFloat(samples []float32) (string, error) {
	if len(samples) != audio.FrameSamples {
		return "", fmt.Errorf("pcm: encode: got %d samples, want %d", len(samples), audio.FrameSamples)
	}
	ints := make([]int16, len(samples))
	for i, s := range samples {
		ints[i] = Saturate(s)
	}
	return EncodeInt16(ints)
}

// Saturate converts a float sample in [-1, 1] to int16 by scaling by 32768
// and clamping to the int16 range.
func Saturate(s float32) int16 {
	v := int32(float64(s) * 32768)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// Decode parses a base64 wire payload back into int16 samples. Payloads that
// are not valid base64, are empty, or decode to an odd byte count fail with
// [ErrMalformedFrame]. Decode does not require the frame length to be exactly
// [audio.FrameSamples]: inbound synthesized audio may carry larger blocks.
func Decode(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("pcm: decode: %w: invalid base64", ErrMalformedFrame)
	}
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("pcm: decode: %w: %d bytes", ErrMalformedFrame, len(raw))
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, nil
}

// ToFloat converts int16 samples to float samples in [-1, 1) by dividing
// by 32768. It is the inverse of [Saturate] up to quantization error.
func ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}
