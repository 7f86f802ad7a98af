package audioread

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV builds a minimal 16-bit PCM WAV file from int16 samples.
func writeTestWAV(t *testing.T, samples []int16, channels int, sampleRate int) string {
	t.Helper()

	var data bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&data, binary.LittleEndian, s)
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	byteRate := sampleRate * channels * 2
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	blockAlign := channels * 2
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())

	path := filepath.Join(t.TempDir(), "test.wav")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestDecodeWAVMono16Bit(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}
	path := writeTestWAV(t, samples, 1, 48000)

	d, err := decodeWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 1, d.channels)
	assert.Equal(t, 48000, d.sampleRate)
	require.Len(t, d.samples, len(samples))
	assert.InDelta(t, 0, d.samples[0], 1e-9)
	assert.InDelta(t, 1.0, d.samples[3], 1e-4)
	assert.InDelta(t, -1.0, d.samples[4], 1e-4)
}

func TestDownmixStereoToMono(t *testing.T) {
	// Two channels, interleaved: L=1, R=-1, L=0.5, R=0.5
	samples := []float32{1, -1, 0.5, 0.5}
	mono := downmix(samples, 2)
	require.Len(t, mono, 2)
	assert.InDelta(t, 0, mono[0], 1e-6)
	assert.InDelta(t, 0.5, mono[1], 1e-6)
}

func TestSplitSignalNoOverlap(t *testing.T) {
	sig := make([]float32, 48000*7)
	for i := range sig {
		sig[i] = 1.0
	}
	chunks := splitSignal(sig, 48000, 3.0, 0.0, 1.5)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 48000*3)
}

func TestSplitSignalWithOverlap(t *testing.T) {
	sig := make([]float32, 48000*6)
	chunks := splitSignal(sig, 48000, 3.0, 1.0, 1.5)
	assert.Len(t, chunks, 3)
}

func TestSplitSignalDiscardsShortTrailingChunk(t *testing.T) {
	// 3.2s of signal: one full 3s chunk, then 0.2s left over (below the
	// 1.5s floor) which must be discarded, not padded.
	sig := make([]float32, int(48000*3.2))
	chunks := splitSignal(sig, 48000, 3.0, 0.0, 1.5)
	require.Len(t, chunks, 1)
}

func TestSplitSignalDiscardsTrailingChunkBelowCustomFloor(t *testing.T) {
	// 2s of signal, 1.5s chunks, no overlap: first chunk is a full 1.5s,
	// leaving 0.5s which is below a 1.0s floor and must be discarded.
	sig := make([]float32, int(48000*2.0))
	chunks := splitSignal(sig, 48000, 1.5, 0.0, 1.0)
	require.Len(t, chunks, 1)
}

func TestResampleNoOpWhenRatesMatch(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := resample(in, 48000, 48000)
	assert.Equal(t, in, out)
}

func TestResamplePreservesConstantSignal(t *testing.T) {
	in := make([]float32, 2048)
	for i := range in {
		in[i] = 0.5
	}
	out := resample(in, 48000, 44100)
	require.NotEmpty(t, out)
	for _, v := range out[10 : len(out)-10] {
		assert.InDelta(t, 0.5, v, 0.05)
	}
}

func TestReadAndChunkEndToEnd(t *testing.T) {
	samples := make([]int16, 48000*4)
	for i := range samples {
		samples[i] = 1000
	}
	path := writeTestWAV(t, samples, 1, 48000)

	chunks, err := ReadAndChunk(path, 48000, 3.0, 0.0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 48000*3)
}

func TestReadAndChunkRejectsTooShortAudio(t *testing.T) {
	samples := make([]int16, 48000/2) // 0.5s, below the 1.5s floor
	path := writeTestWAV(t, samples, 1, 48000)

	_, err := ReadAndChunk(path, 48000, 3.0, 0.0)
	require.Error(t, err)
}
