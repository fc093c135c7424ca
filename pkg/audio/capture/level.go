package capture

import "math"

// levelWindowBlocks is how many recent block RMS values the meter averages.
// At typical 10-20 ms block sizes this is a 100-200 ms window.
const levelWindowBlocks = 10

// levelMeter tracks the normalized RMS level of recent sample blocks in a
// small ring buffer. Callers hold the pipeline lock; the meter itself is not
// synchronized.
type levelMeter struct {
	window []float64
	pos    int
	full   bool
}

func newLevelMeter(size int) levelMeter {
	return levelMeter{window: make([]float64, size)}
}

func (m *levelMeter) observe(block []float32) {
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(block)))
	if rms > 1 {
		rms = 1
	}
	m.window[m.pos] = rms
	m.pos++
	if m.pos >= len(m.window) {
		m.pos = 0
		m.full = true
	}
}

func (m *levelMeter) value() float64 {
	n := m.pos
	if m.full {
		n = len(m.window)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		sum += m.window[i]
	}
	return sum / float64(n)
}
