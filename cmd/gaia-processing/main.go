// Command gaia-processing runs the processing node: it loads classifier
// models, polls capture peers for newly recorded segments, runs them
// through inference and the detection filter, and hands the results to
// the reporting stage for clip extraction and persistence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"

	"github.com/gaia-project/gaia-processing/internal/conf"
	"github.com/gaia-project/gaia-processing/internal/datastore"
	"github.com/gaia-project/gaia-processing/internal/detectpipe"
	"github.com/gaia-project/gaia-processing/internal/discovery"
	"github.com/gaia-project/gaia-processing/internal/dispatch"
	"github.com/gaia-project/gaia-processing/internal/fetcher"
	"github.com/gaia-project/gaia-processing/internal/httpclient"
	"github.com/gaia-project/gaia-processing/internal/inference"
	"github.com/gaia-project/gaia-processing/internal/logging"
	"github.com/gaia-project/gaia-processing/internal/manifest"
	"github.com/gaia-project/gaia-processing/internal/observability/metrics"
	"github.com/gaia-project/gaia-processing/internal/reporter"
)

// shutdownGrace bounds how long the processing loop gets to finish an
// in-flight poll cycle after a shutdown signal before the process exits
// anyway.
const shutdownGrace = 30 * time.Second

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gaia-processing [config-file]",
		Short: "Gaia processing node: inference, detection filtering, reporting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if len(args) == 1 {
				configPath = args[0]
			}
			return run(configPath)
		},
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}

func run(configPath string) error {
	settings, err := loadSettings(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logging.Init()
	log := logging.ForService("main")

	logHostInfo(log)
	log.Info("gaia processing node starting", "model_dir", settings.Model.Dir, "node", settings.Main.Name)

	pipelineMetrics, err := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	if err != nil {
		log.Warn("pipeline metrics registration failed, continuing without them", "error", err)
		pipelineMetrics = nil
	}

	store := datastore.New(settings, nil)
	if err := store.Open(); err != nil {
		return fmt.Errorf("database open failed: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("error closing database", "error", err)
		}
	}()

	models, filters, err := loadModels(settings, log, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("model loading failed: %w", err)
	}
	if len(models) == 0 {
		log.Warn("no models loaded, process will run but cannot analyse audio")
	}

	disc := registerDiscovery(settings, log)
	defer func() {
		if disc != nil {
			disc.Shutdown()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitorSignals(ctx, cancel, log)

	client := httpclient.New(nil)
	defer client.Close()

	rep := reporter.New(reporter.Config{
		Store:            store,
		Client:           client,
		ExtractedDir:     settings.Output.ExtractedDir,
		DataDir:          settings.Output.DataDir,
		ExtractionLength: settings.Privacy.ExtractionLength,
		Latitude:         settings.Location.Latitude,
		Longitude:        settings.Location.Longitude,
		Confidence:       settings.Analysis.Confidence,
		Sensitivity:      settings.Analysis.Sensitivity,
		Overlap:          settings.Analysis.Overlap,
		HeartbeatURL:     settings.HeartbeatURL,
	})
	go rep.Run(ctx)

	disp := dispatch.New(dispatch.Config{
		Client:              client,
		Discovery:           disc,
		PeerRole:            discovery.RoleCapture,
		FallbackPeerURLs:    settings.Discovery.FallbackPeerURLs,
		PollInterval:        settings.Dispatch.PollInterval,
		PeerRefreshInterval: settings.Discovery.PeerRefreshInterval,
		BrowseTimeout:       settings.Discovery.BrowseTimeout,
		TempDir:             settings.Dispatch.TempDir,
		Models:              models,
		Filters:             filters,
		Latitude:            settings.Location.Latitude,
		Longitude:           settings.Location.Longitude,
		SourceNode:          settings.Main.Name,
		Reporter:            rep,
		Metrics:             pipelineMetrics,
	})

	if runErr := disp.Run(ctx); runErr != nil && ctx.Err() == nil {
		log.Error("dispatch loop exited with error", "error", runErr)
	}

	waitForReportingDrain()
	log.Info("gaia processing node stopped")
	return nil
}

func loadSettings(configPath string) (*conf.Settings, error) {
	if configPath != "" {
		return conf.LoadFrom(configPath)
	}
	return conf.Load()
}

// logHostInfo prints platform/OS details once at startup, the way the
// teacher's realtime mode reports the machine it's running on before
// analysis begins.
func logHostInfo(log *slog.Logger) {
	info, err := host.Info()
	if err != nil {
		log.Info("host info unavailable", "error", err)
		return
	}
	log.Info("host details", "os", info.OS, "platform", info.Platform,
		"platform_version", info.PlatformVersion, "kernel_version", info.KernelVersion)
}

// loadModels discovers every model manifest under settings.Model.Dir,
// ensures its artifacts are present locally (downloading if necessary),
// and loads each into an inference.Model. A model that fails validation
// or load is logged and skipped rather than aborting the whole process.
func loadModels(settings *conf.Settings, log *slog.Logger, pipelineMetrics *metrics.PipelineMetrics) ([]dispatch.LoadedModel, map[string]dispatch.FilterOptions, error) {
	resolved, err := manifest.Discover(settings.Model.Dir)
	if err != nil {
		return nil, nil, err
	}

	f := fetcher.New()
	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Second)
	defer cancel()

	include := detectpipe.LoadSpeciesList(settings.SpeciesLists.IncludePath)
	exclude := detectpipe.LoadSpeciesList(settings.SpeciesLists.ExcludePath)
	whitelist := detectpipe.LoadSpeciesList(settings.SpeciesLists.WhitelistPath)

	var models []dispatch.LoadedModel
	filters := make(map[string]dispatch.FilterOptions)

	for _, r := range resolved {
		variant, _ := r.EffectiveVariant(settings.Model.Variant)
		if variant != "" {
			if err := f.EnsureModelFiles(ctx, r, variant); err != nil {
				log.Warn("model artifact fetch failed, skipping", "model", r.Descriptor.Model.Name, "error", err)
				if pipelineMetrics != nil {
					pipelineMetrics.RecordModelLoadFailure(r.Descriptor.Model.Name)
				}
				continue
			}
		}

		m, err := inference.Load(r, settings.Analysis.Sensitivity, settings.Analysis.OccurrenceGate.Threshold)
		if err != nil {
			log.Warn("model load failed, skipping", "model", r.Descriptor.Model.Name, "error", err)
			if pipelineMetrics != nil {
				pipelineMetrics.RecordModelLoadFailure(r.Descriptor.Model.Name)
			}
			continue
		}

		domain := r.Domain()
		models = append(models, dispatch.LoadedModel{
			Model:         m,
			Domain:        domain,
			SampleRate:    m.SampleRate(),
			ChunkDuration: r.Descriptor.Model.ChunkDuration,
			Overlap:       settings.Analysis.Overlap,
			Preprocessed:  m.Preprocessed(),
		})

		if _, ok := filters[domain]; !ok {
			names, err := detectpipe.LoadLanguageMap(r.LanguageDir(), settings.Analysis.Locale)
			if err != nil {
				log.Warn("language map load failed, falling back to scientific names", "domain", domain, "error", err)
				names = map[string]string{}
			}
			filters[domain] = dispatch.FilterOptions{
				ConfidenceThreshold: settings.Analysis.Confidence,
				Overlap:             settings.Analysis.Overlap,
				PrivacyThreshold:    settings.Privacy.Threshold,
				Include:             include,
				Exclude:             exclude,
				Whitelist:           whitelist,
				Names:               names,
				OccurrenceGateFunc:  m.QueryOccurrenceGate,
			}
		}

		log.Info("model ready", "model", r.Descriptor.Model.Name, "domain", domain,
			"sample_rate", m.SampleRate(), "chunk_duration", r.Descriptor.Model.ChunkDuration)
	}

	return models, filters, nil
}

// registerDiscovery advertises this node on mDNS. Registration failure is
// non-fatal: the node falls back to the statically-configured peer list.
func registerDiscovery(settings *conf.Settings, log *slog.Logger) *discovery.Handle {
	if !settings.Discovery.Enabled {
		log.Info("discovery disabled, using fallback peer urls only")
		return nil
	}

	h, err := discovery.Register(discovery.RoleProcessing, 0)
	if err != nil {
		log.Warn("mdns registration failed, continuing without it", "error", err)
		return nil
	}
	log.Info("registered on mdns", "instance_name", h.InstanceName())
	return h
}

// monitorSignals cancels ctx on SIGINT/SIGTERM. A second signal exits
// immediately; otherwise the process is force-exited if it hasn't wound
// down within shutdownGrace of the first signal.
func monitorSignals(ctx context.Context, cancel context.CancelFunc, log *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()

		select {
		case <-sigChan:
			log.Info("second shutdown signal received, exiting immediately")
			os.Exit(1)
		case <-time.After(shutdownGrace):
			log.Warn("shutdown grace period elapsed, exiting")
			os.Exit(1)
		}
	}()
}

// waitForReportingDrain gives the reporting stage a short window to finish
// any in-flight batch after the dispatch loop stops, since Run returning
// only means polling has stopped, not that every submitted batch has been
// processed.
func waitForReportingDrain() {
	time.Sleep(2 * time.Second)
}
