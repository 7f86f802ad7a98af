// Package audioread decodes WAV recordings, down-mixes to mono, resamples
// to a model's target rate, and slices the result into overlapping chunks
// ready for the mel front-end.
package audioread

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/gaia-project/gaia-processing/internal/errors"
)

const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// decoded holds a WAV file's samples normalized to f32 in [-1, 1],
// interleaved by channel, along with its native format.
type decoded struct {
	samples    []float32
	channels   int
	sampleRate int
}

func decodeWAV(path string) (*decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("audioread").
			Category(errors.CategoryAudioDecode).
			Context("path", path).
			Build()
	}
	defer f.Close()

	d, err := decodeWAVReader(f)
	if err != nil {
		return nil, errors.New(err).
			Component("audioread").
			Category(errors.CategoryAudioDecode).
			Context("path", path).
			Build()
	}
	return d, nil
}

func decodeWAVReader(r io.Reader) (*decoded, error) {
	var riffHeader [12]byte
	if _, err := io.ReadFull(r, riffHeader[:]); err != nil {
		return nil, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		formatTag     uint16
		channels      uint16
		sampleRate    uint32
		bitsPerSample uint16
		sawFormat     bool
	)

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", len(body))
			}
			formatTag = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			if formatTag == formatExtensible && len(body) >= 40 {
				// The real sample type lives in the sub-format GUID's
				// first two bytes, following the same tag values as the
				// plain fmt chunk.
				formatTag = binary.LittleEndian.Uint16(body[24:26])
			}
			sawFormat = true
			if chunkSize%2 == 1 {
				var pad [1]byte
				_, _ = io.ReadFull(r, pad[:])
			}

		case "data":
			if !sawFormat {
				return nil, fmt.Errorf("data chunk seen before fmt chunk")
			}
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("reading data chunk: %w", err)
			}
			samples, err := decodeSamples(body, formatTag, bitsPerSample)
			if err != nil {
				return nil, err
			}
			if chunkSize%2 == 1 {
				var pad [1]byte
				_, _ = io.ReadFull(r, pad[:])
			}
			return &decoded{samples: samples, channels: int(channels), sampleRate: int(sampleRate)}, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return nil, fmt.Errorf("skipping chunk %q: %w", chunkID, err)
			}
			if chunkSize%2 == 1 {
				var pad [1]byte
				_, _ = io.ReadFull(r, pad[:])
			}
		}
	}

	return nil, fmt.Errorf("no data chunk found")
}

// decodeSamples converts raw PCM bytes to f32 in [-1, 1], normalizing
// integer samples by their format's full-scale divisor.
func decodeSamples(data []byte, formatTag, bitsPerSample uint16) ([]float32, error) {
	switch formatTag {
	case formatPCM:
		return decodeIntSamples(data, bitsPerSample)
	case formatIEEEFloat:
		return decodeFloatSamples(data, bitsPerSample)
	default:
		return nil, fmt.Errorf("unsupported WAV format tag %d", formatTag)
	}
}

func decodeIntSamples(data []byte, bitsPerSample uint16) ([]float32, error) {
	switch bitsPerSample {
	case 8:
		// 8-bit PCM is conventionally unsigned with a 128 bias.
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil

	case 16:
		n := len(data) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
			out[i] = float32(v) / float32(math.MaxInt16)
		}
		return out, nil

	case 24:
		n := len(data) / 3
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			b0, b1, b2 := data[i*3], data[i*3+1], data[i*3+2]
			v := int32(b0) | int32(b1)<<8 | int32(b2)<<16
			if v&0x800000 != 0 {
				v |= -(1 << 24) // sign-extend
			}
			out[i] = float32(v) / float32(1<<23)
		}
		return out, nil

	case 32:
		n := len(data) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
			out[i] = float32(v) / float32(math.MaxInt32)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported PCM bit depth %d", bitsPerSample)
	}
}

func decodeFloatSamples(data []byte, bitsPerSample uint16) ([]float32, error) {
	switch bitsPerSample {
	case 32:
		n := len(data) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
			out[i] = math.Float32frombits(bits)
		}
		return out, nil

	case 64:
		n := len(data) / 8
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
			out[i] = float32(math.Float64frombits(bits))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported float bit depth %d", bitsPerSample)
	}
}

// downmix averages interleaved multi-channel samples down to mono.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
