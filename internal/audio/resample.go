package audio

import (
	"fmt"
	"math"
)

// Frame is a chunk of mono PCM audio (16-bit signed integers, little-endian).
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Resampler converts a stream of PCM16 mono audio from one sample rate to
// another using linear interpolation. It is streaming: Push may be called
// repeatedly with consecutive chunks and interpolation stays continuous
// across chunk boundaries. Flush drains the trailing carry sample.
type Resampler struct {
	inputRate  int
	outputRate int
	ratio      float64

	// Carry state across Push calls
	last    int16   // last input sample of the previous chunk
	hasLast bool    // whether last is valid
	srcPos  float64 // fractional read position relative to the carry sample
}

// NewResampler creates a streaming resampler. Input and output rates must be
// positive; equal rates yield a pass-through resampler.
func NewResampler(inputRate, outputRate int) (*Resampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", inputRate, outputRate)
	}
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		ratio:      float64(outputRate) / float64(inputRate),
	}, nil
}

// Push resamples one chunk of PCM16LE audio and returns the resampled bytes.
// The returned slice may be empty when the chunk is too small to produce a
// full output sample at the current read position.
func (r *Resampler) Push(data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}
	if len(data) == 0 {
		return nil, nil
	}

	samples := BytesToSamples(data)

	if r.inputRate == r.outputRate {
		return data, nil
	}

	// Build the working window: carry sample (if any) + new samples.
	window := samples
	if r.hasLast {
		window = make([]int16, 0, len(samples)+1)
		window = append(window, r.last)
		window = append(window, samples...)
	}

	step := 1.0 / r.ratio
	out := make([]int16, 0, int(float64(len(samples))*r.ratio)+1)

	pos := r.srcPos
	for {
		idx0 := int(pos)
		idx1 := idx0 + 1
		if idx1 >= len(window) {
			break
		}
		fraction := pos - float64(idx0)
		out = append(out, int16(float64(window[idx0])*(1.0-fraction)+float64(window[idx1])*fraction))
		pos += step
	}

	// Keep the last input sample as carry and rebase the read position on it.
	r.last = window[len(window)-1]
	r.hasLast = true
	r.srcPos = pos - float64(len(window)-1)

	return SamplesToBytes(out), nil
}

// Flush emits any trailing output derived from the carry sample and resets
// the resampler for the next speech segment.
func (r *Resampler) Flush() []byte {
	if !r.hasLast || r.inputRate == r.outputRate {
		r.reset()
		return nil
	}

	// Hold the carry sample so the tail of the segment is not cut short.
	out := make([]int16, 0, 2)
	pos := r.srcPos
	step := 1.0 / r.ratio
	for pos < 1.0 {
		out = append(out, r.last)
		pos += step
	}

	r.reset()
	if len(out) == 0 {
		return nil
	}
	return SamplesToBytes(out)
}

func (r *Resampler) reset() {
	r.hasLast = false
	r.last = 0
	r.srcPos = 0
}

// BytesToSamples converts little-endian PCM16 bytes to int16 samples.
// Odd trailing bytes are ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}

// CalculateRMS calculates the root mean square of audio samples.
// Useful for detecting audio levels and silence.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
