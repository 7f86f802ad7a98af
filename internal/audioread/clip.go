package audioread

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/gaia-project/gaia-processing/internal/errors"
)

// ReadMono decodes path at its native sample rate and downmixes to
// mono, without the resampling ReadAndChunk applies for a model's
// target rate. Used by spectrogram rendering, which wants the clip's
// own frequency axis.
func ReadMono(path string) ([]float32, int, error) {
	d, err := decodeWAV(path)
	if err != nil {
		return nil, 0, err
	}
	return downmix(d.samples, d.channels), d.sampleRate, nil
}

// Duration returns a WAV file's length in seconds.
func Duration(path string) (float64, error) {
	d, err := decodeWAV(path)
	if err != nil {
		return 0, err
	}
	if d.channels == 0 || d.sampleRate == 0 {
		return 0, nil
	}
	frames := len(d.samples) / d.channels
	return float64(frames) / float64(d.sampleRate), nil
}

// ExtractClip reads srcPath, slices the interleaved samples spanning
// [startSec, stopSec) at the file's native sample rate and channel
// count, and writes the result as 16-bit PCM WAV to dstPath. Both
// bounds are clamped to the file's actual length. The native rate and
// channel layout are preserved rather than the mono/resampled form
// ReadAndChunk produces for inference.
func ExtractClip(srcPath, dstPath string, startSec, stopSec float64) error {
	d, err := decodeWAV(srcPath)
	if err != nil {
		return err
	}

	startSample := int(startSec*float64(d.sampleRate)) * d.channels
	stopSample := int(stopSec*float64(d.sampleRate)) * d.channels
	if startSample < 0 {
		startSample = 0
	}
	if stopSample > len(d.samples) {
		stopSample = len(d.samples)
	}
	if startSample > stopSample {
		startSample = stopSample
	}
	clip := d.samples[startSample:stopSample]

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return errors.New(err).
			Component("audioread").
			Category(errors.CategoryFileIO).
			Context("path", dstPath).
			Build()
	}

	if err := writeWAVInt16(dstPath, clip, d.channels, d.sampleRate); err != nil {
		return errors.New(err).
			Component("audioread").
			Category(errors.CategoryFileIO).
			Context("path", dstPath).
			Build()
	}
	return nil
}

// writeWAVInt16 writes a minimal 44-byte-header PCM WAV file.
func writeWAVInt16(path string, samples []float32, channels, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(samples) * bitsPerSample / 8

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataSize))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataSize))

	if _, err := f.Write(hdr[:]); err != nil {
		return err
	}

	buf := make([]byte, 2)
	for _, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf, uint16(int16(s*math.MaxInt16)))
		if _, err := f.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
