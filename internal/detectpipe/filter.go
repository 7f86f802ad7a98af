// Package detectpipe filters raw per-chunk model predictions down to
// confident, time-labeled, privacy-respecting detections.
package detectpipe

import (
	"math"
	"strings"

	"github.com/gaia-project/gaia-processing/internal/inference"
	"github.com/gaia-project/gaia-processing/internal/logging"
)

var log = logging.ForService("detectpipe")

// humanLabel is the synthetic prediction substituted for a chunk the
// privacy filter redacts.
const humanLabel = "Human_Human"

// Options configures one Run call's filtering.
type Options struct {
	Domain              string
	ChunkDuration       float64 // L, seconds
	Overlap             float64 // seconds of overlap between consecutive chunks
	ConfidenceThreshold float64

	PrivacyThreshold float64 // percent, 0-100; only applied when Domain == "birds"

	Include, Exclude, Whitelist map[string]bool // scientific-name sets; nil/empty = unset
	OccurrenceGate              []string        // labels the occurrence gate admits; nil/empty = gate not in effect

	Names map[string]string // scientific name -> common name, may be nil
}

// Run filters one file's per-chunk predictions into confident,
// time-labeled Detection records.
func Run(file *ParsedFileName, predictions [][]inference.Prediction, opts Options) []Detection {
	working := predictions
	if opts.Domain == "birds" {
		working = filterHumans(predictions, opts.PrivacyThreshold)
	}

	var detections []Detection
	start := 0.0
	for _, preds := range working {
		end := start + opts.ChunkDuration

		for _, p := range preds {
			if p.Confidence < opts.ConfidenceThreshold {
				continue
			}
			if len(opts.Include) > 0 && !opts.Include[p.Label] {
				log.Debug("excluded: not in include list", "domain", opts.Domain, "label", p.Label)
				continue
			}
			if opts.Exclude[p.Label] {
				log.Debug("excluded: in exclude list", "domain", opts.Domain, "label", p.Label)
				continue
			}
			if len(opts.OccurrenceGate) > 0 && !containsString(opts.OccurrenceGate, p.Label) && !opts.Whitelist[p.Label] {
				log.Debug("excluded: below occurrence threshold", "domain", opts.Domain, "label", p.Label)
				continue
			}

			comName := p.Label
			if opts.Names != nil {
				if n, ok := opts.Names[p.Label]; ok {
					comName = n
				}
			}

			detections = append(detections, NewDetection(
				opts.Domain, file.FileDate, start, end, p.Label, comName, p.Confidence))
		}

		start = end - opts.Overlap
	}

	log.Info("filtered detections", "file", file.String(), "domain", opts.Domain, "count", len(detections))
	return detections
}

// filterHumans redacts chunks (and their immediate neighbours) whose
// top-R predictions mention "Human", replacing them with a single
// synthetic zero-confidence entry; surviving chunks are truncated to
// their top 10 predictions.
func filterHumans(predictions [][]inference.Prediction, privacyThreshold float64) [][]inference.Prediction {
	cutoff := int(math.Round(60 * privacyThreshold))
	if cutoff < 10 {
		cutoff = 10
	}

	humanMask := make([]bool, len(predictions))
	for i, preds := range predictions {
		limit := cutoff
		if limit > len(preds) {
			limit = len(preds)
		}
		for _, p := range preds[:limit] {
			if strings.Contains(p.Label, "Human") {
				humanMask[i] = true
				break
			}
		}
	}

	out := make([][]inference.Prediction, len(predictions))
	for i, preds := range predictions {
		redacted := humanMask[i] ||
			(i > 0 && humanMask[i-1]) ||
			(i+1 < len(humanMask) && humanMask[i+1])

		if redacted {
			out[i] = []inference.Prediction{{Label: humanLabel, Confidence: 0.0}}
			continue
		}

		limit := 10
		if limit > len(preds) {
			limit = len(preds)
		}
		chunk := make([]inference.Prediction, limit)
		copy(chunk, preds[:limit])
		out[i] = chunk
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
