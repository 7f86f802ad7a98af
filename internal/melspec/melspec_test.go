package melspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHannWindowPeriodic(t *testing.T) {
	w := hannWindow(4)
	require.Len(t, w, 4)
	assert.InDelta(t, 0.0, w[0], 1e-6)
	assert.InDelta(t, 0.5, w[1], 1e-6)
	assert.InDelta(t, 1.0, w[2], 1e-6)
	assert.InDelta(t, 0.5, w[3], 1e-6)
}

func TestMelFilterbankShape(t *testing.T) {
	fb := melFilterbank(96, 1025, 48000, 0, 3000)
	require.Len(t, fb, 1025*96)

	nonzero := 0
	for _, v := range fb {
		if v > 0 {
			nonzero++
		}
	}
	assert.Greater(t, nonzero, 0, "filterbank should not be all zero")
}

func TestMelFilterbankZeroesDCBin(t *testing.T) {
	nMels := 96
	fb := melFilterbank(nMels, 1025, 48000, 0, 3000)
	for m := 0; m < nMels; m++ {
		assert.Equal(t, 0.0, fb[0*nMels+m], "DC bin should be zeroed for every mel filter")
	}
}

func TestLayerComputeOutputShape(t *testing.T) {
	audio := make([]float32, 144000) // 3s @ 48kHz
	layer := NewLayer(Channel0)
	data, nMels, nFrames := layer.Compute(audio)
	assert.Equal(t, 96, nMels)
	assert.Equal(t, 511, nFrames)
	assert.Len(t, data, 96*511)
}

func TestClassifierTensorShape(t *testing.T) {
	audio := make([]float32, 144000)
	out := ClassifierTensor(audio)
	assert.Len(t, out, 96*511*2)
}

func TestClassifierTensorInterleavesChannels(t *testing.T) {
	audio := make([]float32, 144000)
	for i := range audio {
		audio[i] = float32(i%100) / 100.0
	}
	out := ClassifierTensor(audio)

	l0 := NewLayer(Channel0)
	l1 := NewLayer(Channel1)
	ch0, nMels, nFrames := l0.Compute(audio)
	ch1, _, _ := l1.Compute(audio)

	for m := 0; m < nMels; m++ {
		for f := 0; f < nFrames; f++ {
			idx := (m*nFrames + f) * 2
			assert.InDelta(t, ch0[m*nFrames+f], float64(out[idx]), 1e-4)
			assert.InDelta(t, ch1[m*nFrames+f], float64(out[idx+1]), 1e-4)
		}
	}
}

func TestFrameCountMatchesExpectedFrameCount(t *testing.T) {
	// 3s @ 48kHz = 144000 samples, frame_length=2048, frame_step=278
	assert.Equal(t, 511, frameCount(144000, 2048, 278))
}
