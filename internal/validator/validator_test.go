package validator

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validTFLiteBuffer builds a minimal buffer that passes every check: a
// root-table offset pointing within bounds, the "TFL3" identifier at byte
// 4, and enough padding to clear the floor-size check.
func validTFLiteBuffer(size int) []byte {
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], 8)
	copy(buf[identifierOffset:identifierOffset+identifierLength], tfliteIdentifier)
	return buf
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.tflite")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCheckPassesValidModel(t *testing.T) {
	path := writeFile(t, validTFLiteBuffer(minFileSize+64))
	assert.NoError(t, Check(path))
}

func TestCheckMissingFile(t *testing.T) {
	err := Check(filepath.Join(t.TempDir(), "does-not-exist.tflite"))
	require.Error(t, err)
}

func TestCheckEmptyFile(t *testing.T) {
	path := writeFile(t, []byte{})
	err := Check(path)
	require.Error(t, err)
}

func TestCheckBelowFloorSize(t *testing.T) {
	path := writeFile(t, validTFLiteBuffer(100))
	err := Check(path)
	require.Error(t, err)
}

func TestCheckZipMagicRejected(t *testing.T) {
	data := validTFLiteBuffer(minFileSize + 64)
	copy(data, zipMagic)
	path := writeFile(t, data)
	err := Check(path)
	require.Error(t, err)
}

func TestCheckHTMLErrorPagePrefixRejected(t *testing.T) {
	for _, prefix := range []string{"<!", "<h", "<H"} {
		data := validTFLiteBuffer(minFileSize + 64)
		copy(data, prefix)
		path := writeFile(t, data)
		err := Check(path)
		require.Error(t, err, "prefix %q should be rejected", prefix)
	}
}

func TestCheckWrongSchemaIdentifierRejected(t *testing.T) {
	data := validTFLiteBuffer(minFileSize + 64)
	copy(data[identifierOffset:identifierOffset+identifierLength], "XXXX")
	path := writeFile(t, data)
	err := Check(path)
	require.Error(t, err)
}

func TestCheckRootTableOffsetPastEOFRejected(t *testing.T) {
	data := validTFLiteBuffer(minFileSize + 64)
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(data)+1000))
	path := writeFile(t, data)
	err := Check(path)
	require.Error(t, err)
}
