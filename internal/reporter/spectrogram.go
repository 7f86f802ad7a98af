package reporter

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/gaia-project/gaia-processing/internal/audioread"
	"github.com/gaia-project/gaia-processing/internal/errors"
)

const (
	spectrogramFFTSize = 1024
	spectrogramHop     = 512
	spectrogramMaxFreq = 12000.0
	spectrogramWidth   = 800
	spectrogramHeight  = 256
)

// renderSpectrogram reads the clip at wavPath and writes a PNG to
// outPath: STFT magnitudes in decibels, normalized to [0,1] and mapped
// through a fixed blue-green-red colour ramp, frequency axis clipped at
// 12 kHz when the sample rate allows it.
func renderSpectrogram(wavPath, outPath string) error {
	samples, sampleRate, err := decodeMonoForDisplay(wavPath)
	if err != nil {
		return err
	}

	fftSize := spectrogramFFTSize
	hop := spectrogramHop
	nBins := fftSize/2 + 1

	maxBin := nBins
	if spectrogramMaxFreq > 0 {
		b := int(math.Ceil(spectrogramMaxFreq/float64(sampleRate)*float64(fftSize))) + 1
		if b < maxBin {
			maxBin = b
		}
	}

	nFrames := 1
	if len(samples) > fftSize {
		nFrames = (len(samples)-fftSize)/hop + 1
	}

	window := hannWindow(fftSize)
	fft := fourier.NewFFT(fftSize)

	magnitude := make([][]float64, nFrames)
	for i := range magnitude {
		magnitude[i] = make([]float64, maxBin)
	}

	frame := make([]float64, fftSize)
	frameIdx := 0
	for start := 0; start+fftSize <= len(samples) && frameIdx < nFrames; start += hop {
		for i := 0; i < fftSize; i++ {
			frame[i] = float64(samples[start+i]) * window[i]
		}
		spectrum := fft.Coefficients(nil, frame)
		for bin := 0; bin < maxBin && bin < len(spectrum); bin++ {
			mag := math.Hypot(real(spectrum[bin]), imag(spectrum[bin]))
			magnitude[frameIdx][bin] = 20 * math.Log10(mag+1e-10)
		}
		frameIdx++
	}

	normalize(magnitude)
	return writeSpectrogramPNG(magnitude, maxBin, nFrames, outPath)
}

// decodeMonoForDisplay reads a WAV at native rate without the
// inference front-end's resampling, since spectrogram rendering wants
// the clip's own rate for its frequency axis.
func decodeMonoForDisplay(path string) ([]float32, int, error) {
	return audioread.ReadMono(path)
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func normalize(magnitude [][]float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, row := range magnitude {
		for _, v := range row {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	rng := max - min
	if rng < 1e-6 {
		rng = 1e-6
	}
	for _, row := range magnitude {
		for i, v := range row {
			row[i] = (v - min) / rng
		}
	}
}

func writeSpectrogramPNG(magnitude [][]float64, maxBin, nFrames int, outPath string) error {
	img := image.NewRGBA(image.Rect(0, 0, spectrogramWidth, spectrogramHeight))

	for x := 0; x < spectrogramWidth; x++ {
		srcFrame := int(float64(x) / spectrogramWidth * float64(nFrames))
		if srcFrame >= nFrames {
			srcFrame = nFrames - 1
		}
		for y := 0; y < spectrogramHeight; y++ {
			bin := int(float64(spectrogramHeight-1-y) / spectrogramHeight * float64(maxBin))
			if bin >= maxBin {
				bin = maxBin - 1
			}
			img.Set(x, y, colormap(magnitude[srcFrame][bin]))
		}
	}

	f, err := os.Create(outPath)
	if err != nil {
		return errors.New(err).
			Component("reporter").
			Category(errors.CategoryFileIO).
			Context("path", outPath).
			Build()
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return errors.New(err).
			Component("reporter").
			Category(errors.CategoryFileIO).
			Context("path", outPath).
			Build()
	}
	return nil
}

// colormap maps a normalized [0,1] magnitude to a blue-green-red ramp.
func colormap(v float64) color.RGBA {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	r := clamp255(3*v - 1)
	g := clamp255(math.Min(3*v, 3-3*v))
	b := clamp255(2 - 3*v)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func clamp255(v float64) uint8 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return uint8(255 * v)
}
