package detectpipe

import (
	"testing"
	"time"

	"github.com/gaia-project/gaia-processing/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFile(t *testing.T) *ParsedFileName {
	t.Helper()
	f, err := ParseFileName("2024-02-24-birdnet-RTSP_1-16:19:37.wav")
	require.NoError(t, err)
	return f
}

func TestParseFileNamePlain(t *testing.T) {
	f, err := ParseFileName("2024-02-24-birdnet-16:19:37.wav")
	require.NoError(t, err)
	assert.Equal(t, "", f.StreamID)
	assert.Equal(t, 2024, f.FileDate.Year())
	assert.Equal(t, 16, f.FileDate.Hour())
}

func TestParseFileNameRTSP(t *testing.T) {
	f := testFile(t)
	assert.Equal(t, "RTSP_1-", f.StreamID)
	assert.Equal(t, time.February, f.FileDate.Month())
	assert.Equal(t, 37, f.FileDate.Second())
}

func TestParseFileNameTooShort(t *testing.T) {
	_, err := ParseFileName("x.wav")
	assert.Error(t, err)
}

func TestDetectionConfidenceRounding(t *testing.T) {
	d := NewDetection("birds", time.Now(), 0, 3, "Turdus merula", "Eurasian Blackbird", 0.123456)
	assert.Equal(t, 0.1235, d.Confidence)
	assert.Equal(t, 12, d.ConfidencePercent())
}

func TestDetectionComNameSafe(t *testing.T) {
	d := NewDetection("birds", time.Now(), 0, 3, "Sp", "Swainson's Thrush", 0.9)
	assert.Equal(t, "Swainsons_Thrush", d.ComNameSafe)
}

func TestFilterHumansRedactsMatchingChunk(t *testing.T) {
	predictions := [][]inference.Prediction{
		{{Label: "Turdus merula", Confidence: 0.9}},
		{{Label: "Human_Talking", Confidence: 0.8}},
		{{Label: "Turdus merula", Confidence: 0.9}},
		{{Label: "Turdus merula", Confidence: 0.9}},
	}

	out := filterHumans(predictions, 1.0)
	require.Len(t, out, 4)
	assert.Equal(t, humanLabel, out[0][0].Label, "chunk before human chunk should be dilated")
	assert.Equal(t, humanLabel, out[1][0].Label)
	assert.Equal(t, humanLabel, out[2][0].Label, "chunk after human chunk should be dilated")
	assert.Equal(t, "Turdus merula", out[3][0].Label, "chunk not adjacent to human chunk survives")
}

func TestFilterHumansTruncatesToTop10(t *testing.T) {
	var preds []inference.Prediction
	for i := 0; i < 15; i++ {
		preds = append(preds, inference.Prediction{Label: "Species", Confidence: 0.5})
	}
	out := filterHumans([][]inference.Prediction{preds}, 1.0)
	assert.Len(t, out[0], 10)
}

func TestRunAppliesThresholdAndLists(t *testing.T) {
	file := testFile(t)
	predictions := [][]inference.Prediction{
		{
			{Label: "Turdus merula", Confidence: 0.9},
			{Label: "Passer domesticus", Confidence: 0.2},
			{Label: "Corvus corax", Confidence: 0.95},
		},
	}

	opts := Options{
		Domain:              "birds",
		ChunkDuration:       3,
		Overlap:             0,
		ConfidenceThreshold: 0.5,
		PrivacyThreshold:    0,
		Exclude:             map[string]bool{"Corvus corax": true},
		Names:               map[string]string{"Turdus merula": "Eurasian Blackbird"},
	}

	detections := Run(file, predictions, opts)
	require.Len(t, detections, 1)
	assert.Equal(t, "Turdus merula", detections[0].SciName)
	assert.Equal(t, "Eurasian Blackbird", detections[0].ComName)
}

func TestRunIncludeListRestrictsResults(t *testing.T) {
	file := testFile(t)
	predictions := [][]inference.Prediction{
		{
			{Label: "Turdus merula", Confidence: 0.9},
			{Label: "Corvus corax", Confidence: 0.95},
		},
	}

	opts := Options{
		Domain:              "birds",
		ChunkDuration:       3,
		ConfidenceThreshold: 0.1,
		Include:             map[string]bool{"Corvus corax": true},
	}

	detections := Run(file, predictions, opts)
	require.Len(t, detections, 1)
	assert.Equal(t, "Corvus corax", detections[0].SciName)
}

func TestRunOccurrenceGateAllowsWhitelisted(t *testing.T) {
	file := testFile(t)
	predictions := [][]inference.Prediction{
		{{Label: "Rare species", Confidence: 0.8}},
	}

	opts := Options{
		Domain:              "birds",
		ChunkDuration:       3,
		ConfidenceThreshold: 0.1,
		OccurrenceGate:      []string{"Common species"},
		Whitelist:           map[string]bool{"Rare species": true},
	}

	detections := Run(file, predictions, opts)
	require.Len(t, detections, 1, "whitelisted species should bypass the occurrence gate")
}

func TestRunOccurrenceGateExcludesUngated(t *testing.T) {
	file := testFile(t)
	predictions := [][]inference.Prediction{
		{{Label: "Rare species", Confidence: 0.8}},
	}

	opts := Options{
		Domain:              "birds",
		ChunkDuration:       3,
		ConfidenceThreshold: 0.1,
		OccurrenceGate:      []string{"Common species"},
	}

	detections := Run(file, predictions, opts)
	assert.Len(t, detections, 0)
}

func TestRunNonBirdDomainSkipsPrivacyFilter(t *testing.T) {
	file := testFile(t)
	predictions := [][]inference.Prediction{
		{{Label: "Human_Talking", Confidence: 0.9}},
	}

	opts := Options{
		Domain:              "frogs",
		ChunkDuration:       3,
		ConfidenceThreshold: 0.1,
	}

	detections := Run(file, predictions, opts)
	require.Len(t, detections, 1)
	assert.Equal(t, "Human_Talking", detections[0].SciName)
}
