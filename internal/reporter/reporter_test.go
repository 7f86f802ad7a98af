package reporter

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-project/gaia-processing/internal/detectpipe"
)

func writeMonoWAV(t *testing.T, path string, seconds, sampleRate int) {
	t.Helper()
	n := seconds * sampleRate

	var data bytes.Buffer
	for i := 0; i < n; i++ {
		_ = binary.Write(&data, binary.LittleEndian, int16(i%1000))
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestExtractClipExpandsSymmetrically(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "2024-02-24-birdnet-16:19:37.wav")
	writeMonoWAV(t, srcPath, 10, 1000)

	file, err := detectpipe.ParseFileName(srcPath)
	require.NoError(t, err)

	det := detectpipe.NewDetection("birds", file.FileDate, 3, 6, "Turdus merula", "Eurasian Blackbird", 0.9)

	r := New(Config{ExtractedDir: dir, ExtractionLength: 9})
	extractedPath, err := r.extractClip(file, det, 10)
	require.NoError(t, err)
	assert.FileExists(t, extractedPath)
	assert.Contains(t, extractedPath, "Eurasian_Blackbird")
}

func TestExtractClipClampsToRecordingLength(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "2024-02-24-birdnet-16:19:37.wav")
	writeMonoWAV(t, srcPath, 5, 1000)

	file, err := detectpipe.ParseFileName(srcPath)
	require.NoError(t, err)

	det := detectpipe.NewDetection("birds", file.FileDate, 0, 3, "Turdus merula", "Eurasian Blackbird", 0.9)

	r := New(Config{ExtractedDir: dir, ExtractionLength: 60})
	_, err = r.extractClip(file, det, 5)
	require.NoError(t, err, "an oversized extraction window should clamp rather than fail")
}

func TestExtractClipSkipsExistingOutput(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "2024-02-24-birdnet-16:19:37.wav")
	writeMonoWAV(t, srcPath, 5, 1000)

	file, err := detectpipe.ParseFileName(srcPath)
	require.NoError(t, err)
	det := detectpipe.NewDetection("birds", file.FileDate, 0, 3, "Turdus merula", "Eurasian Blackbird", 0.9)

	r := New(Config{ExtractedDir: dir, ExtractionLength: 3})
	first, err := r.extractClip(file, det, 5)
	require.NoError(t, err)

	info1, err := os.Stat(first)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	second, err := r.extractClip(file, det, 5)
	require.NoError(t, err)
	info2, err := os.Stat(second)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime(), "existing extraction should not be rewritten")
}

func TestFormatSummaryIsSemicolonDelimited(t *testing.T) {
	r := New(Config{Latitude: 1.5, Longitude: 2.5, Confidence: 0.8, Sensitivity: 1.0, Overlap: 0})
	det := detectpipe.NewDetection("birds", time.Now(), 0, 3, "Turdus merula", "Eurasian Blackbird", 0.9123)

	summary := r.formatSummary(det)
	assert.Contains(t, summary, "birds")
	assert.Contains(t, summary, "Turdus merula")
	assert.Contains(t, summary, "Eurasian Blackbird")
	assert.Contains(t, summary, "0.9123")
}
