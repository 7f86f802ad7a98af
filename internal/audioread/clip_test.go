package audioread

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractClipSlicesByNativeRate(t *testing.T) {
	sampleRate := 1000
	samples := make([]int16, sampleRate*3) // 3 seconds, mono
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	src := writeTestWAV(t, samples, 1, sampleRate)
	dst := filepath.Join(t.TempDir(), "clip.wav")

	err := ExtractClip(src, dst, 1.0, 2.0)
	require.NoError(t, err)

	d, err := decodeWAV(dst)
	require.NoError(t, err)
	assert.Equal(t, sampleRate, d.sampleRate)
	assert.Equal(t, 1, d.channels)
	assert.Len(t, d.samples, sampleRate)
}

func TestExtractClipClampsToFileLength(t *testing.T) {
	sampleRate := 1000
	samples := make([]int16, sampleRate) // 1 second
	src := writeTestWAV(t, samples, 1, sampleRate)
	dst := filepath.Join(t.TempDir(), "clip.wav")

	err := ExtractClip(src, dst, 0.5, 5.0)
	require.NoError(t, err)

	d, err := decodeWAV(dst)
	require.NoError(t, err)
	assert.Len(t, d.samples, sampleRate/2)
}

func TestReadMonoDownmixesWithoutResampling(t *testing.T) {
	sampleRate := 3000
	samples := make([]int16, sampleRate*2*2) // 2 seconds stereo
	path := writeTestWAV(t, samples, 2, sampleRate)

	mono, rate, err := ReadMono(path)
	require.NoError(t, err)
	assert.Equal(t, sampleRate, rate)
	assert.Len(t, mono, sampleRate*2)
}

func TestDurationComputesSecondsFromFrameCount(t *testing.T) {
	sampleRate := 2000
	samples := make([]int16, sampleRate*4) // 4 seconds mono
	path := writeTestWAV(t, samples, 1, sampleRate)

	secs, err := Duration(path)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, secs, 1e-9)
}

func TestExtractClipPreservesChannels(t *testing.T) {
	sampleRate := 1000
	samples := make([]int16, sampleRate*2*2) // 2 seconds, stereo
	src := writeTestWAV(t, samples, 2, sampleRate)
	dst := filepath.Join(t.TempDir(), "clip.wav")

	err := ExtractClip(src, dst, 0, 1.0)
	require.NoError(t, err)

	d, err := decodeWAV(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, d.channels)
	assert.Len(t, d.samples, sampleRate*2)
}
