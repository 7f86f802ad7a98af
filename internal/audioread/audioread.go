package audioread

import (
	"github.com/gaia-project/gaia-processing/internal/errors"
	"github.com/gaia-project/gaia-processing/internal/logging"
)

var log = logging.ForService("audioread")

// minChunkSeconds is the floor a trailing short chunk's length must clear
// before it's zero-padded and kept rather than discarded.
const minChunkSeconds = 1.5

// ReadAndChunk decodes the WAV file at path, down-mixes to mono, resamples
// to targetSampleRate if the file's native rate differs, and slices the
// result into overlapping chunks of chunkSeconds stepping by
// chunkSeconds-overlap. Decode failure on a single file is the caller's to
// treat as non-fatal: logged and skipped.
func ReadAndChunk(path string, targetSampleRate int, chunkSeconds, overlap float64) ([][]float32, error) {
	d, err := decodeWAV(path)
	if err != nil {
		return nil, err
	}

	mono := downmix(d.samples, d.channels)
	log.Debug("decoded audio", "path", path, "samples", len(mono), "native_rate", d.sampleRate)

	if d.sampleRate != targetSampleRate {
		mono = resample(mono, d.sampleRate, targetSampleRate)
	}

	chunks := splitSignal(mono, targetSampleRate, chunkSeconds, overlap, minChunkSeconds)
	if len(chunks) == 0 {
		return nil, errors.Newf("audio shorter than the minimum chunk floor").
			Component("audioread").
			Category(errors.CategoryAudioDecode).
			Context("path", path).
			Build()
	}
	return chunks, nil
}

// splitSignal slices sig into chunkSamples-length windows stepping by
// (seconds-overlap)*rate, zero-padding a trailing short window iff it
// reaches minSeconds worth of samples; shorter trailing windows are
// discarded.
func splitSignal(sig []float32, rate int, seconds, overlap, minSeconds float64) [][]float32 {
	chunkSamples := int(seconds * float64(rate))
	step := int((seconds - overlap) * float64(rate))
	minSamples := int(minSeconds * float64(rate))
	if chunkSamples <= 0 || step <= 0 {
		return nil
	}

	var chunks [][]float32
	for i := 0; i < len(sig); i += step {
		end := i + chunkSamples
		if end > len(sig) {
			end = len(sig)
		}
		window := sig[i:end]

		if len(window) < minSamples {
			break
		}

		if len(window) < chunkSamples {
			padded := make([]float32, chunkSamples)
			copy(padded, window)
			chunks = append(chunks, padded)
		} else {
			chunk := make([]float32, chunkSamples)
			copy(chunk, window)
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
