// Package reporter drains processed-segment batches, extracting clips,
// rendering spectrograms, persisting detections, and notifying peers
// that a source recording can be deleted.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gaia-project/gaia-processing/internal/audioread"
	"github.com/gaia-project/gaia-processing/internal/datastore"
	"github.com/gaia-project/gaia-processing/internal/detectpipe"
	"github.com/gaia-project/gaia-processing/internal/dispatch"
	"github.com/gaia-project/gaia-processing/internal/httpclient"
	"github.com/gaia-project/gaia-processing/internal/logging"
)

var log = logging.ForService("reporter")

// defaultQueueCapacity matches the bounded handoff size between the
// dispatch loop and the reporting thread: enough to absorb a short
// burst without buffering an unbounded backlog in memory.
const defaultQueueCapacity = 16

// minFreeBytesForWrite is the free-space floor checked before clip and
// spectrogram writes. Below it we skip straight to the disk-full branch
// of extraction/spectrogram failure instead of letting the write fail
// mid-stream.
const minFreeBytesForWrite = 50 * 1024 * 1024

// Config configures a Reporter.
type Config struct {
	Store        *datastore.Store
	Client       *httpclient.Client
	ExtractedDir string
	DataDir      string

	ExtractionLength int // seconds, symmetric clip window
	Latitude         float64
	Longitude        float64
	Confidence       float64 // configured detection threshold, stored as Cutoff
	Sensitivity      float64
	Overlap          float64

	HeartbeatURL  string
	QueueCapacity int
}

// Reporter drains a bounded queue of dispatch.Batch values on its own
// goroutine, one batch at a time.
type Reporter struct {
	cfg   Config
	queue chan dispatch.Batch
}

// New builds a Reporter from cfg.
func New(cfg Config) *Reporter {
	cap := cfg.QueueCapacity
	if cap <= 0 {
		cap = defaultQueueCapacity
	}
	return &Reporter{
		cfg:   cfg,
		queue: make(chan dispatch.Batch, cap),
	}
}

// Submit enqueues batch, blocking until a slot is free or ctx is done.
// This is how a slow reporting stage backpressures the dispatch loop.
func (r *Reporter) Submit(ctx context.Context, batch dispatch.Batch) error {
	select {
	case r.queue <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled, processing one batch at
// a time on the calling goroutine.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info("reporting thread finished")
			return
		case batch := <-r.queue:
			r.process(ctx, batch)
		}
	}
}

func (r *Reporter) process(ctx context.Context, batch dispatch.Batch) {
	defer r.cleanup(ctx, batch)

	if err := r.writeSidecarJSON(batch); err != nil {
		log.Warn("sidecar json failed", "file", batch.File.String(), "error", err)
	}

	recordingLength, err := audioread.Duration(batch.LocalPath)
	if err != nil {
		log.Error("cannot read recording duration, persisting without clips", "file", batch.File.String(), "error", err)
		for _, det := range batch.Detections {
			if err := r.persist(ctx, det, "", batch.SourceNode); err != nil {
				log.Error("detection insert failed", "detection", det.ComName, "error", err)
			}
		}
		return
	}

	for _, det := range batch.Detections {
		if free, err := diskFreeBytes(r.cfg.ExtractedDir); err == nil && free < minFreeBytesForWrite {
			log.Error("extraction disk low, skipping clip and spectrogram",
				"detection", det.ComName, "free_bytes", free)
			if err := r.persist(ctx, det, "", batch.SourceNode); err != nil {
				log.Error("detection insert failed", "detection", det.ComName, "error", err)
			}
			continue
		}

		extractedPath, err := r.extractClip(batch.File, det, recordingLength)
		if err != nil {
			log.Error("clip extraction failed", "detection", det.ComName, "error", err)
			if err := r.persist(ctx, det, "", batch.SourceNode); err != nil {
				log.Error("detection insert failed", "detection", det.ComName, "error", err)
			}
			continue
		}

		specPath := extractedPath + ".png"
		if err := renderSpectrogram(extractedPath, specPath); err != nil {
			log.Warn("spectrogram rendering failed", "clip", extractedPath, "error", err)
		}

		summary := r.formatSummary(det)
		log.Info(summary, "file", filepath.Base(extractedPath))
		r.appendSummaryLine(summary)

		if err := r.persist(ctx, det, filepath.Base(extractedPath), batch.SourceNode); err != nil {
			log.Error("detection insert failed", "detection", det.ComName, "error", err)
		}
	}

	r.pingHeartbeat()
}

// extractClip expands the detection's window symmetrically to the
// configured extraction length, clamped to the recording's own
// duration, and writes the slice at the recording's native format.
func (r *Reporter) extractClip(file *detectpipe.ParsedFileName, det detectpipe.Detection, recordingLength float64) (string, error) {
	baseLen := det.End - det.Start
	spacer := 0.0
	if extra := float64(r.cfg.ExtractionLength) - baseLen; extra > 0 {
		spacer = extra / 2
	}

	safeStart := det.Start - spacer
	if safeStart < 0 {
		safeStart = 0
	}
	safeStop := det.End + spacer
	if safeStop > recordingLength {
		safeStop = recordingLength
	}

	newName := fmt.Sprintf("%s-%s-%d-%s-birdnet-%s%s.wav",
		det.Domain, det.ComNameSafe, det.ConfidencePercent(), det.Date, file.StreamID, det.Time)
	newDir := filepath.Join(r.cfg.ExtractedDir, "By_Date", det.Date, det.ComNameSafe)
	newPath := filepath.Join(newDir, newName)

	if _, err := os.Stat(newPath); err == nil {
		log.Debug("extraction already exists, skipping", "path", newPath)
		return newPath, nil
	}

	if err := audioread.ExtractClip(file.FilePath, newPath, safeStart, safeStop); err != nil {
		return "", err
	}
	return newPath, nil
}

func (r *Reporter) formatSummary(d detectpipe.Detection) string {
	return strings.Join([]string{
		d.Domain,
		d.Date,
		d.Time,
		d.SciName,
		d.ComName,
		fmt.Sprintf("%.4f", d.Confidence),
		fmt.Sprintf("%.4f", r.cfg.Latitude),
		fmt.Sprintf("%.4f", r.cfg.Longitude),
		fmt.Sprintf("%.4f", r.cfg.Confidence),
		fmt.Sprintf("%d", d.Week),
		fmt.Sprintf("%.4f", r.cfg.Sensitivity),
		fmt.Sprintf("%.4f", r.cfg.Overlap),
	}, ";")
}

func (r *Reporter) appendSummaryLine(summary string) {
	path := filepath.Join(r.cfg.DataDir, "GaiaDB.txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn("cannot open summary log", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, summary); err != nil {
		log.Warn("cannot write summary log", "path", path, "error", err)
	}
}

func (r *Reporter) persist(ctx context.Context, d detectpipe.Detection, fileName, sourceNode string) error {
	row := &datastore.Detection{
		Date:       d.Date,
		Time:       d.Time,
		Domain:     d.Domain,
		SciName:    d.SciName,
		ComName:    d.ComName,
		Confidence: d.Confidence,
		Lat:        r.cfg.Latitude,
		Lon:        r.cfg.Longitude,
		Cutoff:     r.cfg.Confidence,
		Week:       d.Week,
		Sens:       r.cfg.Sensitivity,
		Overlap:    r.cfg.Overlap,
		FileName:   fileName,
		SourceNode: sourceNode,
	}
	return r.cfg.Store.Insert(ctx, row)
}

// sidecarDetection is the trimmed per-detection payload the JSON
// sidecar exposes, matching the original schema.
type sidecarDetection struct {
	Domain         string  `json:"domain"`
	Start          float64 `json:"start"`
	CommonName     string  `json:"common_name"`
	ScientificName string  `json:"scientific_name"`
	Confidence     float64 `json:"confidence"`
}

func (r *Reporter) writeSidecarJSON(batch dispatch.Batch) error {
	dir := filepath.Dir(batch.File.FilePath)
	base := filepath.Base(batch.File.FilePath)

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			name := e.Name()
			if strings.HasSuffix(name, ".json") &&
				(batch.File.StreamID == "" || strings.Contains(name, batch.File.StreamID)) {
				os.Remove(filepath.Join(dir, name))
			}
		}
	}

	dets := make([]sidecarDetection, len(batch.Detections))
	for i, d := range batch.Detections {
		dets[i] = sidecarDetection{
			Domain:         d.Domain,
			Start:          d.Start,
			CommonName:     d.ComName,
			ScientificName: d.SciName,
			Confidence:     d.Confidence,
		}
	}

	payload := struct {
		FileName   string             `json:"file_name"`
		Timestamp  string             `json:"timestamp"`
		Detections []sidecarDetection `json:"detections"`
	}{
		FileName:   base + ".json",
		Timestamp:  batch.File.ISO8601(),
		Detections: dets,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, base+".json"), data, 0o644)
}

func (r *Reporter) pingHeartbeat() {
	if r.cfg.HeartbeatURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := r.cfg.Client.Get(ctx, r.cfg.HeartbeatURL)
	if err != nil {
		log.Warn("heartbeat failed", "error", err)
		return
	}
	resp.Body.Close()
	log.Debug("heartbeat sent", "status", resp.StatusCode)
}

// cleanup removes the downloaded source recording locally and asks the
// originating peer to delete its copy. Unlike the single-node case
// this architecture evolved from, the dispatch loop always downloads a
// temp copy over HTTP, so both deletes always apply rather than being
// mutually exclusive.
func (r *Reporter) cleanup(ctx context.Context, batch dispatch.Batch) {
	if err := os.Remove(batch.LocalPath); err != nil && !os.IsNotExist(err) {
		log.Warn("cannot remove local temp recording", "path", batch.LocalPath, "error", err)
	}

	name := filepath.Base(batch.LocalPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, batch.BaseURL+"/api/recordings/"+name, nil)
	if err != nil {
		log.Warn("cannot build remote delete request", "recording", name, "error", err)
		return
	}
	resp, err := r.cfg.Client.Do(ctx, req)
	if err != nil {
		log.Warn("remote delete failed", "recording", name, "error", err)
		return
	}
	resp.Body.Close()
}
