// Package melspec replicates the mel-spectrogram front-end of a
// classifier whose first layers compute mel spectrograms via STFT and a
// triangular mel filterbank before the convertible part of the network
// begins. Those ops don't survive conversion to a portable graph format,
// so the front-end runs here in Go and feeds its output directly into the
// preprocessed-tensor inference path.
package melspec

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Params configures one mel-spectrogram channel.
type Params struct {
	FrameLength int     // FFT window length in samples
	FrameStep   int     // hop size between frames
	NMels       int     // mel filterbank bin count
	FMin        float64 // lower filterbank edge, Hz
	FMax        float64 // upper filterbank edge, Hz
	SampleRate  float64
	MagScale    float64 // trained nonlinear-scaling parameter
}

// Channel0 and Channel1 are the two preset channel configurations this
// classifier's mel front-end was trained with: a low-frequency channel
// (0-3kHz) and a high-frequency channel (500Hz-15kHz), sharing the same
// audio but differing STFT/filterbank parameters.
var (
	Channel0 = Params{FrameLength: 2048, FrameStep: 278, NMels: 96, FMin: 0, FMax: 3000, SampleRate: 48000, MagScale: 1.2110004}
	Channel1 = Params{FrameLength: 1024, FrameStep: 280, NMels: 96, FMin: 500, FMax: 15000, SampleRate: 48000, MagScale: 1.4465874}
)

// Layer holds a Params configuration's precomputed Hann window and mel
// filterbank, reused across every chunk processed with it.
type Layer struct {
	params     Params
	filterbank []float64 // [nFFTBins, nMels] row-major
	nFFTBins   int
	hann       []float64
}

// NewLayer precomputes the Hann window and mel filterbank for params.
func NewLayer(params Params) *Layer {
	nFFTBins := params.FrameLength/2 + 1
	return &Layer{
		params:     params,
		filterbank: melFilterbank(params.NMels, nFFTBins, params.SampleRate, params.FMin, params.FMax),
		nFFTBins:   nFFTBins,
		hann:       hannWindow(params.FrameLength),
	}
}

// Compute runs the 8-step mel-spectrogram pipeline against a single
// chunk of audio, returning a flat [nMels, nFrames] buffer in row-major
// order plus its dimensions.
func (l *Layer) Compute(audio []float32) (data []float64, nMels, nFrames int) {
	p := l.params

	norm := normalize(audio)

	nFrames = frameCount(len(norm), p.FrameLength, p.FrameStep)
	nBins := l.nFFTBins

	stftReal := make([]float64, nFrames*nBins)
	fft := fourier.NewFFT(p.FrameLength)
	frame := make([]float64, p.FrameLength)

	for f := 0; f < nFrames; f++ {
		start := f * p.FrameStep
		for i := 0; i < p.FrameLength; i++ {
			frame[i] = norm[start+i] * l.hann[i]
		}
		coeffs := fft.Coefficients(nil, frame)
		row := stftReal[f*nBins : (f+1)*nBins]
		for b := 0; b < nBins; b++ {
			row[b] = real(coeffs[b])
		}
	}

	nMels = p.NMels
	mel := make([]float64, nFrames*nMels)
	for f := 0; f < nFrames; f++ {
		stftRow := stftReal[f*nBins : (f+1)*nBins]
		melRow := mel[f*nMels : (f+1)*nMels]
		for m := 0; m < nMels; m++ {
			var acc float64
			for b := 0; b < nBins; b++ {
				acc += stftRow[b] * l.filterbank[b*nMels+m]
			}
			melRow[m] = acc
		}
	}

	for i, v := range mel {
		mel[i] = v * v
	}

	exponent := 1.0 / (1.0 + math.Exp(p.MagScale))
	for i, v := range mel {
		mel[i] = math.Pow(v, exponent)
	}

	for f := 0; f < nFrames; f++ {
		row := mel[f*nMels : (f+1)*nMels]
		reverse(row)
	}

	transposed := make([]float64, nMels*nFrames)
	for f := 0; f < nFrames; f++ {
		for m := 0; m < nMels; m++ {
			transposed[m*nFrames+f] = mel[f*nMels+m]
		}
	}

	return transposed, nMels, nFrames
}

// ClassifierTensor computes both channels for audio and interleaves them
// into the [1, nMels, nFrames, 2] NHWC tensor the classifier expects.
func ClassifierTensor(audio []float32) []float32 {
	l0 := NewLayer(Channel0)
	l1 := NewLayer(Channel1)

	ch0, nMels, nFrames := l0.Compute(audio)
	ch1, _, _ := l1.Compute(audio)

	out := make([]float32, nMels*nFrames*2)
	for m := 0; m < nMels; m++ {
		for f := 0; f < nFrames; f++ {
			idx := (m*nFrames + f) * 2
			out[idx] = float32(ch0[m*nFrames+f])
			out[idx+1] = float32(ch1[m*nFrames+f])
		}
	}
	return out
}

func normalize(audio []float32) []float64 {
	minVal, maxVal := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range audio {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	rng := float64(maxVal-minVal) + 1e-6

	out := make([]float64, len(audio))
	for i, v := range audio {
		out[i] = ((float64(v)-float64(minVal))/rng - 0.5) * 2.0
	}
	return out
}

func frameCount(sigLen, frameLength, frameStep int) int {
	if sigLen < frameLength {
		return 0
	}
	return (sigLen-frameLength)/frameStep + 1
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// hannWindow returns the periodic Hann window TensorFlow's
// tf.signal.hann_window uses: w[i] = 0.5 - 0.5*cos(2*pi*i/n), using n
// (not n-1) as the period so the window doesn't repeat its endpoint.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = 0.5 * (1 - math.Cos(x))
	}
	return w
}

// melFilterbank computes a TensorFlow-compatible linear-to-mel weight
// matrix of shape [nFFTBins, nMels] using the HTK mel scale, zeroing the
// DC bin to match tf.signal.linear_to_mel_weight_matrix's bands_to_zero=1.
func melFilterbank(nMels, nFFTBins int, sampleRate, fmin, fmax float64) []float64 {
	hzToMel := func(f float64) float64 { return 1127.0 * math.Log(1+f/700.0) }

	melMin := hzToMel(fmin)
	melMax := hzToMel(fmax)

	nEdges := nMels + 2
	melEdges := make([]float64, nEdges)
	for i := 0; i < nEdges; i++ {
		melEdges[i] = melMin + (melMax-melMin)*float64(i)/float64(nEdges-1)
	}

	nyquist := sampleRate / 2.0
	fftMels := make([]float64, nFFTBins)
	for i := 0; i < nFFTBins; i++ {
		hz := float64(i) * nyquist / float64(nFFTBins-1)
		fftMels[i] = hzToMel(hz)
	}

	weights := make([]float64, nFFTBins*nMels)
	for m := 0; m < nMels; m++ {
		lower := melEdges[m]
		center := melEdges[m+1]
		upper := melEdges[m+2]

		for b := 1; b < nFFTBins; b++ {
			melF := fftMels[b]
			var lowerSlope, upperSlope float64
			if math.Abs(center-lower) > 1e-12 {
				lowerSlope = (melF - lower) / (center - lower)
			}
			if math.Abs(upper-center) > 1e-12 {
				upperSlope = (upper - melF) / (upper - center)
			}
			w := math.Min(lowerSlope, upperSlope)
			if w < 0 {
				w = 0
			}
			weights[b*nMels+m] = w
		}
	}
	return weights
}
