// Package dispatch polls capture peers for newly recorded segments and
// runs them through the audio decode, inference, and detection filter
// stages.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gaia-project/gaia-processing/internal/audioread"
	"github.com/gaia-project/gaia-processing/internal/detectpipe"
	"github.com/gaia-project/gaia-processing/internal/discovery"
	"github.com/gaia-project/gaia-processing/internal/errors"
	"github.com/gaia-project/gaia-processing/internal/httpclient"
	"github.com/gaia-project/gaia-processing/internal/inference"
	"github.com/gaia-project/gaia-processing/internal/logging"
	"github.com/gaia-project/gaia-processing/internal/melspec"
	"github.com/gaia-project/gaia-processing/internal/observability/metrics"
)

var log = logging.ForService("dispatch")

// maxProcessed bounds the per-peer processed-name memory; hitting it
// clears the whole set rather than evicting individual entries, since a
// capture node recycling filenames across days is expected to be rare
// enough that an occasional re-process is cheaper than LRU bookkeeping.
const maxProcessed = 10000

// maxConcurrentPeers bounds how many peers are polled at once.
const maxConcurrentPeers = 4

// LoadedModel pairs an inference model with the metadata dispatch needs
// to group it with others sharing the same audio preparation.
type LoadedModel struct {
	Model         *inference.Model
	Domain        string
	SampleRate    int
	ChunkDuration float64
	Overlap       float64
	Preprocessed  bool
}

// Batch is one processed segment's results, handed off to the reporting
// stage. The reporter owns the downloaded file from here on: it reads
// it for clip extraction and deletes both the local copy and, via
// BaseURL, the peer's copy once done.
type Batch struct {
	Peer       discovery.Peer
	BaseURL    string
	LocalPath  string
	File       *detectpipe.ParsedFileName
	Detections []detectpipe.Detection
	SourceNode string
}

// Reporter is the downstream sink for a processed segment's detections.
// Implementations own clip extraction, spectrogram rendering, database
// persistence, and heartbeat notification. Submit may block — a
// bounded internal queue is expected to backpressure the dispatch loop
// when reporting falls behind.
type Reporter interface {
	Submit(ctx context.Context, batch Batch) error
}

// FilterOptions carries the detection-filter configuration shared by
// every processed segment, keyed by domain since include/exclude/
// whitelist lists and the occurrence gate are per taxonomic group.
type FilterOptions struct {
	ConfidenceThreshold float64
	Overlap             float64
	PrivacyThreshold    float64
	Include             map[string]bool
	Exclude             map[string]bool
	Whitelist           map[string]bool
	Names               map[string]string
	OccurrenceGateFunc  func(lat, lon float64, week int) ([]string, error)
}

// Config configures a Dispatcher.
type Config struct {
	Client               *httpclient.Client
	Discovery            *discovery.Handle
	PeerRole             discovery.Role
	FallbackPeerURLs     []string
	PollInterval         time.Duration
	PeerRefreshInterval  time.Duration
	BrowseTimeout        time.Duration
	TempDir              string
	Models               []LoadedModel
	Filters              map[string]FilterOptions // keyed by domain
	Latitude, Longitude  float64
	SourceNode           string
	Reporter             Reporter
	Metrics              *metrics.PipelineMetrics // optional
}

// Dispatcher polls every known peer on an interval, downloading and
// processing any segment not already seen.
type Dispatcher struct {
	cfg Config

	mu        sync.Mutex
	peers     []discovery.Peer
	processed map[string]map[string]bool // peer instance name -> recording name -> seen
}

// New builds a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		processed: make(map[string]map[string]bool),
	}
}

// Run polls peers until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.refreshPeers(ctx); err != nil {
		log.Warn("initial peer discovery failed", "error", err)
	}

	pollTicker := time.NewTicker(d.cfg.PollInterval)
	defer pollTicker.Stop()

	refreshTicker := time.NewTicker(d.cfg.PeerRefreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refreshTicker.C:
			if err := d.refreshPeers(ctx); err != nil {
				log.Warn("peer discovery refresh failed", "error", err)
			}
		case <-pollTicker.C:
			if err := d.pollOnce(ctx); err != nil {
				log.Error("poll cycle failed", "error", err)
			}
		}
	}
}

// refreshPeers rebuilds the peer list from discovery, falling back to
// statically configured URLs when discovery finds nothing.
func (d *Dispatcher) refreshPeers(ctx context.Context) error {
	var peers []discovery.Peer
	if d.cfg.Discovery != nil {
		found, err := d.cfg.Discovery.DiscoverPeers(d.cfg.PeerRole, d.cfg.BrowseTimeout)
		if err != nil {
			return err
		}
		peers = found
	}

	if len(peers) == 0 {
		for _, u := range d.cfg.FallbackPeerURLs {
			peers = append(peers, discovery.Peer{InstanceName: u})
		}
	}

	d.mu.Lock()
	d.peers = peers
	d.mu.Unlock()

	log.Info("peer set refreshed", "count", len(peers))
	return nil
}

func (d *Dispatcher) currentPeers() []discovery.Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]discovery.Peer, len(d.peers))
	copy(out, d.peers)
	return out
}

// pollOnce fans out across every known peer, bounded to
// maxConcurrentPeers concurrent peers; within one peer, recordings are
// processed strictly in listing order.
func (d *Dispatcher) pollOnce(ctx context.Context) error {
	peers := d.currentPeers()
	if len(peers) == 0 {
		return nil
	}

	cycleID := uuid.NewString()
	log.Debug("poll cycle starting", "cycle_id", cycleID, "peers", len(peers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPeers)

	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			if err := d.pollPeer(gctx, peer, cycleID); err != nil {
				log.Error("peer poll failed", "cycle_id", cycleID, "peer", peer.InstanceName, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// recordingInfo mirrors one entry of a peer's GET /api/recordings body.
type recordingInfo struct {
	Filename string `json:"filename"`
	Size     uint64 `json:"size"`
	Created  string `json:"created"`
}

func (d *Dispatcher) pollPeer(ctx context.Context, peer discovery.Peer, cycleID string) error {
	base, ok := peer.HTTPURL()
	if !ok {
		base = peer.InstanceName
	}

	names, err := d.listRecordings(ctx, base)
	if err != nil {
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.RecordPollError(peer.InstanceName, "list")
		}
		return errors.New(err).Component("dispatch").Category(errors.CategoryNetwork).
			Context("peer", peer.InstanceName).Context("cycle_id", cycleID).Build()
	}

	seen := d.seenSet(peer.InstanceName)

	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if seen[name] {
			continue
		}
		if err := d.processRecording(ctx, peer, base, name); err != nil {
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.RecordPollError(peer.InstanceName, "process")
			}
			log.Error("failed to process recording", "cycle_id", cycleID, "peer", peer.InstanceName, "recording", name, "error", err)
			continue
		}
		d.markSeen(peer.InstanceName, name)
	}
	return nil
}

func (d *Dispatcher) seenSet(peerName string) map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.processed[peerName]
	if !ok {
		s = make(map[string]bool)
		d.processed[peerName] = s
	}
	return s
}

func (d *Dispatcher) markSeen(peerName, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.processed[peerName]
	if len(s) >= maxProcessed {
		s = make(map[string]bool)
		d.processed[peerName] = s
	}
	s[name] = true
}

func (d *Dispatcher) listRecordings(ctx context.Context, base string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/recordings", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.cfg.Client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d listing recordings", resp.StatusCode)
	}

	var list []recordingInfo
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}

	names := make([]string, len(list))
	for i, r := range list {
		names[i] = r.Filename
	}
	return names, nil
}

func (d *Dispatcher) processRecording(ctx context.Context, peer discovery.Peer, base, name string) error {
	localPath, err := d.downloadRecording(ctx, base, name)
	if err != nil {
		return err
	}

	file, err := detectpipe.ParseFileName(localPath)
	if err != nil {
		os.Remove(localPath)
		return err
	}

	detections, err := d.runModels(file)
	if err != nil {
		os.Remove(localPath)
		return err
	}

	if d.cfg.Reporter == nil {
		os.Remove(localPath)
		return nil
	}

	return d.cfg.Reporter.Submit(ctx, Batch{
		Peer:       peer,
		BaseURL:    base,
		LocalPath:  localPath,
		File:       file,
		Detections: detections,
		SourceNode: d.cfg.SourceNode,
	})
}

func (d *Dispatcher) downloadRecording(ctx context.Context, base, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/recordings/"+name, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.cfg.Client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d fetching recording %q", resp.StatusCode, name)
	}

	localPath := filepath.Join(d.cfg.TempDir, name)
	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(localPath)
		return "", err
	}
	return localPath, nil
}

// runModels groups the loaded models by shared audio preparation
// (sample rate, chunk duration, overlap, and whether they need the
// mel-tensor preprocessed input), decodes the file once per group, and
// merges every model's filtered detections.
func (d *Dispatcher) runModels(file *detectpipe.ParsedFileName) ([]detectpipe.Detection, error) {
	groups := groupModels(d.cfg.Models)

	var all []detectpipe.Detection
	for _, group := range groups {
		first := group[0]
		chunks, err := audioread.ReadAndChunk(file.FilePath, first.SampleRate, first.ChunkDuration, first.Overlap)
		if err != nil {
			return nil, err
		}

		for _, lm := range group {
			filt, ok := d.cfg.Filters[lm.Domain]
			if !ok {
				filt = FilterOptions{}
			}

			var occurrenceGate []string
			if filt.OccurrenceGateFunc != nil {
				gate, err := filt.OccurrenceGateFunc(d.cfg.Latitude, d.cfg.Longitude, file.Week())
				if err != nil {
					log.Warn("occurrence gate query failed", "model", lm.Model.Name(), "error", err)
				} else {
					occurrenceGate = gate
				}
			}

			predictions := make([][]inference.Prediction, len(chunks))
			for i, chunk := range chunks {
				input := chunk
				if lm.Preprocessed {
					input = melspec.ClassifierTensor(chunk)
				}
				preds, err := lm.Model.Predict(input, d.cfg.Latitude, d.cfg.Longitude, file.Week())
				if err != nil {
					return nil, err
				}
				predictions[i] = preds
			}

			opts := detectpipe.Options{
				Domain:              lm.Domain,
				ChunkDuration:       lm.ChunkDuration,
				Overlap:             filt.Overlap,
				ConfidenceThreshold: filt.ConfidenceThreshold,
				PrivacyThreshold:    filt.PrivacyThreshold,
				Include:             filt.Include,
				Exclude:             filt.Exclude,
				Whitelist:           filt.Whitelist,
				OccurrenceGate:      occurrenceGate,
				Names:               filt.Names,
			}
			dets := detectpipe.Run(file, predictions, opts)
			if d.cfg.Metrics != nil {
				for range dets {
					d.cfg.Metrics.RecordDetection(lm.Domain)
				}
			}
			all = append(all, dets...)
		}
	}
	return all, nil
}

func groupModels(models []LoadedModel) [][]LoadedModel {
	type key struct {
		sampleRate    int
		chunkDuration float64
		overlap       float64
		preprocessed  bool
	}
	groups := make(map[key][]LoadedModel)
	var order []key
	for _, m := range models {
		k := key{m.SampleRate, m.ChunkDuration, m.Overlap, m.Preprocessed}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m)
	}

	out := make([][]LoadedModel, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}
