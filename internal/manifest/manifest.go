// Package manifest discovers and parses per-model descriptor files.
//
// Each model lives in its own directory alongside a manifest.yaml:
//
//	model:
//	  name: BirdNET V2.4
//	  domain: birds
//	  sampleRate: 48000
//	  chunkDuration: 3.0
//	  tfliteFile: audio-model-fp16.tflite
//	  labelsFile: en_us.txt
//	  v1Metadata: false
//	  applySoftmax: false
//	metadataModel:
//	  enabled: true
//	  tfliteFile: meta-model.tflite
//	language:
//	  dir: l18n
//	download:
//	  recordID: "15050749"
//	  defaultVariant: fp16
//	  variants:
//	    fp32:
//	      file: BirdNET_v2.4_tflite.zip
//	      md5: c13f7fd28a5f7a3b092cd993087f93f7
//	      tfliteFile: audio-model.tflite
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gaia-project/gaia-processing/internal/errors"
	"github.com/gaia-project/gaia-processing/internal/logging"
)

const fileName = "manifest.yaml"

var log = logging.ForService("manifest")

// Model is the [model] section: the fields every descriptor must carry.
type Model struct {
	Name          string  `yaml:"name"`
	Domain        string  `yaml:"domain"`
	SampleRate    int     `yaml:"sampleRate"`
	ChunkDuration float64 `yaml:"chunkDuration"`
	TFLiteFile    string  `yaml:"tfliteFile"`
	LabelsFile    string  `yaml:"labelsFile"`
	V1Metadata    bool    `yaml:"v1Metadata"`
	ApplySoftmax  bool    `yaml:"applySoftmax"`

	// PreprocessedFile names an alternate artifact, relative to the
	// model's directory, whose input is the 4-D mel tensor C5 produces
	// instead of raw audio. When set and the file exists on disk, C6
	// prefers it over TFLiteFile.
	PreprocessedFile string `yaml:"preprocessedFile,omitempty"`
}

// MetadataModel is the optional secondary occurrence-gate model.
type MetadataModel struct {
	Enabled    bool   `yaml:"enabled"`
	TFLiteFile string `yaml:"tfliteFile"`
}

// Language names the directory holding per-language label maps.
type Language struct {
	Dir string `yaml:"dir"`
}

// Variant carries one remote-source variant's archive coordinates and any
// filename overrides it applies once selected.
type Variant struct {
	File               string `yaml:"file"`
	MD5                string `yaml:"md5,omitempty"`
	TFLiteFile         string `yaml:"tfliteFile,omitempty"`
	LabelsFile         string `yaml:"labelsFile,omitempty"`
	MetadataTFLiteFile string `yaml:"metadataTfliteFile,omitempty"`
	PreprocessedFile   string `yaml:"preprocessedFile,omitempty"`
}

// Download is the [download] section describing the remote archive and
// its available variants.
type Download struct {
	RecordID       string             `yaml:"recordID"`
	DefaultVariant string             `yaml:"defaultVariant"`
	Variants       map[string]Variant `yaml:"variants"`
}

// Descriptor is the raw, as-parsed manifest document.
type Descriptor struct {
	Model         Model          `yaml:"model"`
	MetadataModel *MetadataModel `yaml:"metadataModel,omitempty"`
	Language      *Language      `yaml:"language,omitempty"`
	Download      *Download      `yaml:"download,omitempty"`
}

// Resolved binds a Descriptor to the directory it was loaded from. All
// path accessors are relative to BaseDir.
type Resolved struct {
	Descriptor Descriptor
	BaseDir    string
}

// TFLitePath returns the absolute path of the primary classifier artifact.
func (r *Resolved) TFLitePath() string {
	return filepath.Join(r.BaseDir, r.Descriptor.Model.TFLiteFile)
}

// LabelsPath returns the absolute path of the label list file.
func (r *Resolved) LabelsPath() string {
	return filepath.Join(r.BaseDir, r.Descriptor.Model.LabelsFile)
}

// PreprocessedPath returns the absolute path of the alternate
// mel-tensor-input artifact, or "" if the descriptor declares none.
func (r *Resolved) PreprocessedPath() string {
	if r.Descriptor.Model.PreprocessedFile == "" {
		return ""
	}
	return filepath.Join(r.BaseDir, r.Descriptor.Model.PreprocessedFile)
}

// MetadataTFLitePath returns the occurrence-gate artifact path, or "" if
// the descriptor declares none or declares it disabled.
func (r *Resolved) MetadataTFLitePath() string {
	m := r.Descriptor.MetadataModel
	if m == nil || !m.Enabled {
		return ""
	}
	return filepath.Join(r.BaseDir, m.TFLiteFile)
}

// LanguageDir returns the directory holding per-language label maps,
// defaulting to "l18n" under BaseDir when the descriptor is silent.
func (r *Resolved) LanguageDir() string {
	sub := "l18n"
	if l := r.Descriptor.Language; l != nil && l.Dir != "" {
		sub = l.Dir
	}
	return filepath.Join(r.BaseDir, sub)
}

// Domain returns the descriptor's coarse taxonomic tag.
func (r *Resolved) Domain() string {
	return r.Descriptor.Model.Domain
}

// ApplyVariant overlays the named variant's filename overrides onto the
// descriptor. A no-op if the descriptor has no [download] section.
// Idempotent: applying the same variant twice yields the same descriptor
// as applying it once, since each application always starts from the
// variant's own override fields rather than accumulating onto the prior
// state.
func (r *Resolved) ApplyVariant(name string) error {
	dl := r.Descriptor.Download
	if dl == nil {
		return nil
	}

	variant, ok := dl.Variants[name]
	if !ok {
		known := make([]string, 0, len(dl.Variants))
		for k := range dl.Variants {
			known = append(known, k)
		}
		return errors.Newf("unknown model variant %q", name).
			Component("manifest").
			Category(errors.CategoryManifest).
			Context("model", r.Descriptor.Model.Name).
			Context("known_variants", fmt.Sprintf("%v", known)).
			Build()
	}

	if variant.TFLiteFile != "" {
		r.Descriptor.Model.TFLiteFile = variant.TFLiteFile
	}
	if variant.LabelsFile != "" {
		r.Descriptor.Model.LabelsFile = variant.LabelsFile
	}
	if variant.MetadataTFLiteFile != "" && r.Descriptor.MetadataModel != nil {
		r.Descriptor.MetadataModel.TFLiteFile = variant.MetadataTFLiteFile
	}
	if variant.PreprocessedFile != "" {
		r.Descriptor.Model.PreprocessedFile = variant.PreprocessedFile
	}
	return nil
}

// EffectiveVariant resolves the variant name to use: userChoice if
// non-empty, otherwise the descriptor's declared default. Returns "",
// false when the descriptor carries no [download] section at all.
func (r *Resolved) EffectiveVariant(userChoice string) (string, bool) {
	dl := r.Descriptor.Download
	if dl == nil {
		return "", false
	}
	if userChoice != "" {
		return userChoice, true
	}
	return dl.DefaultVariant, true
}

// Load reads and parses a single manifest.yaml from dir.
func Load(dir string) (*Resolved, error) {
	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("manifest").
			Category(errors.CategoryManifest).
			Context("path", path).
			Build()
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, errors.New(err).
			Component("manifest").
			Category(errors.CategoryManifest).
			Context("path", path).
			Build()
	}

	log.Info("loaded model manifest",
		"name", d.Model.Name, "domain", d.Model.Domain,
		"sample_rate", d.Model.SampleRate, "chunk_duration", d.Model.ChunkDuration)

	return &Resolved{Descriptor: d, BaseDir: dir}, nil
}

// Discover auto-discovers all model manifests under root. If root itself
// holds a manifest.yaml it is treated as a single-model directory;
// otherwise every immediate subdirectory carrying one is loaded.
// Subdirectories that fail to parse are skipped with a warning. A root
// directory that doesn't exist, or that contains no manifests, is not an
// error — the system degrades to "no inference available".
func Discover(root string) ([]*Resolved, error) {
	var resolved []*Resolved

	if _, err := os.Stat(root); os.IsNotExist(err) {
		log.Warn("model directory does not exist, no models will be loaded", "root", root)
		return resolved, nil
	}

	if _, err := os.Stat(filepath.Join(root, fileName)); err == nil {
		r, err := Load(root)
		if err != nil {
			return nil, err
		}
		return []*Resolved{r}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.New(err).
			Component("manifest").
			Category(errors.CategoryManifest).
			Context("root", root).
			Build()
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, fileName)); err != nil {
			continue
		}
		r, err := Load(dir)
		if err != nil {
			log.Warn("skipping model directory with invalid manifest", "dir", dir, "error", err)
			continue
		}
		resolved = append(resolved, r)
	}

	if len(resolved) == 0 {
		log.Warn("no model manifests found, processing will start but cannot analyse audio", "root", root)
	} else {
		log.Info("discovered models", "count", len(resolved))
	}
	return resolved, nil
}
