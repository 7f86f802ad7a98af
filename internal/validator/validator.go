// Package validator sanity-checks a model artifact before it is handed to
// the inference runtime. TensorFlow Lite's interpreter can crash the
// process outright on a truncated or misidentified file rather than
// returning a clean error, so every artifact is checked cheaply up front.
package validator

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/gaia-project/gaia-processing/internal/errors"
)

const (
	// minFileSize is the floor below which a file cannot plausibly be a
	// real TFLite model; it exists to catch empty or near-empty files
	// left behind by an interrupted download.
	minFileSize = 1024

	// zipMagic is the four-byte signature of a zip archive. Seeing it at
	// the start of a ".tflite" path means extraction put the wrong file
	// in place.
	zipMagic = "PK\x03\x04"

	// flatbuffers file_identifier offset and length: bytes [4:8) carry a
	// 4-byte identifier string when the schema declares one.
	identifierOffset = 4
	identifierLength = 4

	// tfliteIdentifier is the identifier TFLite's schema.fbs declares.
	tfliteIdentifier = "TFL3"
)

// Check performs every sanity check against the file at path and returns a
// structured error naming the first check that failed, or nil if the file
// looks like a plausible TFLite model.
func Check(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.New(err).
			Component("validator").
			Category(errors.CategoryModelValidation).
			Context("check", "existence").
			Context("path", path).
			Build()
	}

	if info.Size() == 0 {
		return failf(path, "empty_file", "model file is empty")
	}

	if info.Size() < minFileSize {
		return failf(path, "floor_size", "model file is %d bytes, below the %d byte floor", info.Size(), minFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err).
			Component("validator").
			Category(errors.CategoryModelValidation).
			Context("check", "read").
			Context("path", path).
			Build()
	}

	if err := checkBuffer(path, data); err != nil {
		return err
	}
	return nil
}

// checkBuffer runs the magic/offset checks against an in-memory buffer, so
// tests can exercise them without touching the filesystem.
func checkBuffer(path string, data []byte) error {
	if bytes.HasPrefix(data, []byte(zipMagic)) {
		return failf(path, "zip_magic", "model file begins with a zip archive signature, not a TFLite model")
	}

	if hasHTMLErrorPrefix(data) {
		return failf(path, "html_prefix", "model file begins with an HTML tag, likely an error page served in place of the artifact")
	}

	if len(data) < identifierOffset+identifierLength {
		return failf(path, "schema_identifier", "model file too short to carry a schema identifier")
	}
	identifier := string(data[identifierOffset : identifierOffset+identifierLength])
	if identifier != tfliteIdentifier {
		return failf(path, "schema_identifier", "model file identifier is %q, expected %q", identifier, tfliteIdentifier)
	}

	if len(data) < 4 {
		return failf(path, "root_table_offset", "model file too short to carry a root-table offset")
	}
	rootOffset := binary.LittleEndian.Uint32(data[0:4])
	if uint64(rootOffset) >= uint64(len(data)) {
		return failf(path, "root_table_offset", "root-table offset %d points past end-of-file (%d bytes)", rootOffset, len(data))
	}

	return nil
}

func hasHTMLErrorPrefix(data []byte) bool {
	for _, prefix := range []string{"<!", "<h", "<H"} {
		if bytes.HasPrefix(data, []byte(prefix)) {
			return true
		}
	}
	return false
}

func failf(path, check, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("validator").
		Category(errors.CategoryModelValidation).
		Context("check", check).
		Context("path", path).
		Build()
}
