package analysis

import (
	"errors"
	"math"
	"math/cmplx"
)

var ErrLength = errors.New("analysis: fft length is not a power of two")

// FFT is a recursive radix-2 transform of real samples.
func FFT(data []float64) ([]complex128, error) {
	n := len(data)
	if n&(n-1) != 0 {
		return nil, ErrLength
	}
	out := make([]complex128, n)
	for i, v := range data {
		out[i] = complex(v, 0)
	}
	fft(out, make([]complex128, n))
	return out, nil
}

// fft transforms x in place using tmp, of the same length, as scratch.
func fft(x, tmp []complex128) {
	n := len(x)
	if n <= 1 {
		return
	}
	half := n / 2
	even, odd := tmp[:half], tmp[half:]
	for i := 0; i < half; i++ {
		even[i] = x[2*i]
		odd[i] = x[2*i+1]
	}
	fft(even, x[:half])
	fft(odd, x[half:])

	for k := 0; k < half; k++ {
		w := cmplx.Exp(complex(0, -2*math.Pi*float64(k)/float64(n))) * odd[k]
		x[k] = even[k] + w
		x[k+half] = even[k] - w
	}
}

// Magnitudes returns |X[k]| for the lower half of the spectrum.
func Magnitudes(data []float64) ([]float64, error) {
	x, err := FFT(data)
	if err != nil {
		return nil, err
	}
	mags := make([]float64, len(x)/2)
	for i := range mags {
		mags[i] = cmplx.Abs(x[i])
	}
	return mags, nil
}

// SpectrumResult pairs bin frequencies in Hz with amplitudes.
type SpectrumResult struct {
	Freqs []float64
	Amps  []float64
}

// Spectrum removes the mean, zero-pads to a power of two and returns the
// one-sided amplitude spectrum of samples taken at rate Hz.
func Spectrum(samples []float64, rate float64) *SpectrumResult {
	if len(samples) < 2 || rate <= 0 {
		return &SpectrumResult{}
	}

	mean := 0.0
	for _, v := range samples {
		mean += v
	}
	mean /= float64(len(samples))

	n := 1
	for n < len(samples) {
		n <<= 1
	}
	padded := make([]float64, n)
	for i, v := range samples {
		padded[i] = v - mean
	}

	ps, err := Magnitudes(padded)
	if err != nil {
		return &SpectrumResult{}
	}
	res := &SpectrumResult{
		Freqs: make([]float64, len(ps)),
		Amps:  make([]float64, len(ps)),
	}
	for i, a := range ps {
		res.Freqs[i] = float64(i) * rate / float64(n)
		res.Amps[i] = 2 * a / float64(len(samples))
	}
	return res
}

// Peak returns the frequency and amplitude of the largest non-DC bin.
func (s *SpectrumResult) Peak() (float64, float64) {
	best := 0
	for i := 1; i < len(s.Amps); i++ {
		if best == 0 || s.Amps[i] > s.Amps[best] {
			best = i
		}
	}
	if best == 0 {
		return 0, 0
	}
	return s.Freqs[best], s.Amps[best]
}
