// Package dsp provides the sample frame type and the block transforms the
// demo pipeline runs: rectification, gain and power.
package dsp

import (
	"math"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// Frame is one block of samples travelling through a pipeline.
type Frame struct {
	Seq     uint64
	Created time.Time
	Samples []float64
}

// NewFrameFunc returns a constructor for frames of size samples.
func NewFrameFunc(size int) func() Frame {
	return func() Frame {
		return Frame{Samples: make([]float64, size)}
	}
}

// ResetFrame zeroes a frame so it can be reused.
func ResetFrame(f *Frame) {
	f.Seq = 0
	f.Created = time.Time{}
	clear(f.Samples)
}

// Sine fills samples with a unit sine of freq Hz at sampleRate, continuing
// the phase of a stream whose first sample index is offset.
func Sine(samples []float64, offset uint64, freq, sampleRate float64) {
	step := 2 * math.Pi * freq / sampleRate
	for i := range samples {
		samples[i] = math.Sin(step * float64(offset+uint64(i)))
	}
}

// DBToLinear converts a gain in decibels to a linear amplitude factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// Mean returns the arithmetic mean of samples.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// RMS returns the root mean square of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Rectifier replaces every sample with its absolute value. A Rectifier
// keeps scratch space and must be owned by a single stage.
type Rectifier struct {
	zeros []float64
}

// Apply rectifies samples in place.
func (r *Rectifier) Apply(samples []float64) {
	vecmath.Magnitude(samples, samples, r.scratch(len(samples)))
}

func (r *Rectifier) scratch(n int) []float64 {
	if cap(r.zeros) < n {
		r.zeros = make([]float64, n)
	}
	return r.zeros[:n]
}

// Gain scales samples in place by factor.
func Gain(samples []float64, factor float64) {
	vecmath.ScaleBlock(samples, samples, factor)
}

// Squarer replaces every sample with its power. Like Rectifier it keeps
// scratch space and must be owned by a single stage.
type Squarer struct {
	zeros []float64
}

// Apply squares samples in place.
func (s *Squarer) Apply(samples []float64) {
	if cap(s.zeros) < len(samples) {
		s.zeros = make([]float64, len(samples))
	}
	vecmath.Power(samples, samples, s.zeros[:len(samples)])
}
