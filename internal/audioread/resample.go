package audioread

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// resampleBlockSize is the fixed input block size for the spectral
// resampler below.
const resampleBlockSize = 1024

// resample converts a mono signal from sampleRateIn to sampleRateOut using
// per-block spectral interpolation: each fixed-size input block's real DFT
// is zero-padded or truncated to the output block's bin count and inverse
// transformed, band-limiting the signal to the lower of the two Nyquist
// frequencies in the same step. The final partial block (shorter than
// resampleBlockSize) is resampled directly at its own length, mirroring how
// the original resampler drains a trailing short chunk.
func resample(input []float32, sampleRateIn, sampleRateOut int) []float32 {
	if sampleRateIn == sampleRateOut || len(input) == 0 {
		return input
	}

	ratio := float64(sampleRateOut) / float64(sampleRateIn)
	out := make([]float64, 0, int(float64(len(input))*ratio)+resampleBlockSize)

	pos := 0
	for pos+resampleBlockSize <= len(input) {
		block := toFloat64(input[pos : pos+resampleBlockSize])
		nOut := int(float64(resampleBlockSize)*ratio + 0.5)
		out = append(out, resampleBlock(block, nOut)...)
		pos += resampleBlockSize
	}

	if pos < len(input) {
		remaining := toFloat64(input[pos:])
		nOut := int(float64(len(remaining))*ratio + 0.5)
		if nOut > 0 {
			out = append(out, resampleBlock(remaining, nOut)...)
		}
	}

	return toFloat32(out)
}

// resampleBlock resamples a single block via zero-padded/truncated
// spectral interpolation. The forward/inverse transform pair is
// unnormalized, so the result is scaled by 1/nIn to preserve the
// time-domain magnitude across the change in transform length.
func resampleBlock(block []float64, nOut int) []float64 {
	nIn := len(block)
	if nIn == 0 || nOut == 0 {
		return nil
	}

	fftIn := fourier.NewFFT(nIn)
	coeffs := fftIn.Coefficients(nil, block)

	outBins := nOut/2 + 1
	resized := make([]complex128, outBins)
	n := min(len(coeffs), outBins)
	copy(resized, coeffs[:n])

	fftOut := fourier.NewFFT(nOut)
	seq := fftOut.Sequence(nil, resized)

	scale := 1 / float64(nIn)
	for i := range seq {
		seq[i] *= scale
	}
	return seq
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
