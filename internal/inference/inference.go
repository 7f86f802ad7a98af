// Package inference loads classifier artifacts and runs them against
// audio, either in raw-audio or preprocessed mel-tensor form, producing
// sorted label/confidence predictions.
package inference

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"
	"golang.org/x/sync/singleflight"

	"github.com/gaia-project/gaia-processing/internal/errors"
	"github.com/gaia-project/gaia-processing/internal/logging"
	"github.com/gaia-project/gaia-processing/internal/manifest"
	"github.com/gaia-project/gaia-processing/internal/validator"
)

var log = logging.ForService("inference")

var logSIMDOnce sync.Once

// Prediction pairs a label with its post-processed confidence.
type Prediction struct {
	Label      string
	Confidence float64
}

// Model wraps a loaded classifier artifact and its optional occurrence-gate
// companion model.
type Model struct {
	name         string
	interpreter  *tflite.Interpreter
	preprocessed bool
	v1Metadata   bool
	applySoftmax bool
	sampleRate   int
	labels       []string

	// adjustedSensitivity is the inverted, clamped sensitivity actually
	// fed to the sigmoid: a higher user-facing sensitivity loosens the
	// curve, which in (1-x) terms means a lower internal slope.
	adjustedSensitivity float64

	mu sync.Mutex

	metaInterpreter *tflite.Interpreter
	metaLabels      []string
	sfThreshold     float64

	cacheMu    sync.Mutex
	cachedKey  [3]float64
	cachedList []string
	haveCache  bool
	sfGroup    singleflight.Group
}

// Name is the descriptor's declared model name, used for log correlation.
func (m *Model) Name() string { return m.name }

// Preprocessed reports whether this model expects a C5 mel tensor rather
// than raw audio samples.
func (m *Model) Preprocessed() bool { return m.preprocessed }

// SampleRate is the sample rate the model's raw-audio input was trained
// against; meaningless for preprocessed models.
func (m *Model) SampleRate() int { return m.sampleRate }

// Load runs C3 validation on the selected artifact, builds a tflite
// interpreter for it (and, if declared, the occurrence-gate companion
// model), and loads labels. A panic during the underlying tflite calls
// (the runtime can panic on unsupported tensor dtypes such as
// half-precision) is recovered here and turned into a plain error so one
// bad model doesn't take the process down with it.
func Load(r *manifest.Resolved, sensitivity, occurrenceThreshold float64) (m *Model, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("model load panicked, recovered",
				"model", r.Descriptor.Model.Name, "panic", p)
			err = errors.Newf("panic while loading model: %v", p).
				Component("inference").
				Category(errors.CategoryInference).
				ModelContext(r.BaseDir, r.Descriptor.Model.Name).
				Context("hint", "check the model's variant-switch configuration; a declared variant "+
					"may reference an artifact with an unsupported tensor dtype").
				Build()
		}
	}()

	logSIMDOnce.Do(func() {
		log.Info("cpu feature detection",
			"brand", cpuid.CPU.BrandName,
			"avx2", cpuid.CPU.Supports(cpuid.AVX2),
			"neon", cpuid.CPU.Supports(cpuid.ASIMD))
	})

	artifactPath := r.TFLitePath()
	preprocessed := false
	if alt := r.PreprocessedPath(); alt != "" {
		if _, statErr := os.Stat(alt); statErr == nil {
			artifactPath = alt
			preprocessed = true
		}
	}

	if err := validator.Check(artifactPath); err != nil {
		return nil, err
	}

	labels, err := loadLabels(r.LabelsPath())
	if err != nil {
		return nil, err
	}

	interpreter, err := buildInterpreter(artifactPath, r.Descriptor.Model.Name)
	if err != nil {
		return nil, err
	}

	clampedUser := clamp(sensitivity, 0.5, 1.5)
	adjusted := clamp(1.0-(clampedUser-1.0), 0.5, 1.5)

	m = &Model{
		name:                r.Descriptor.Model.Name,
		interpreter:         interpreter,
		preprocessed:        preprocessed,
		v1Metadata:          r.Descriptor.Model.V1Metadata,
		applySoftmax:        r.Descriptor.Model.ApplySoftmax,
		sampleRate:          r.Descriptor.Model.SampleRate,
		labels:              labels,
		adjustedSensitivity: adjusted,
		sfThreshold:         occurrenceThreshold,
	}

	if metaPath := r.MetadataTFLitePath(); metaPath != "" {
		if err := validator.Check(metaPath); err != nil {
			log.Warn("occurrence-gate model failed validation, disabling it", "model", m.name, "error", err)
		} else {
			metaInterpreter, err := buildInterpreter(metaPath, r.Descriptor.Model.Name+" (occurrence gate)")
			if err != nil {
				log.Warn("occurrence-gate model failed to load, disabling it", "model", m.name, "error", err)
			} else {
				metaLabels, err := loadLabels(r.LabelsPath())
				if err != nil {
					log.Warn("occurrence-gate label load failed, disabling it", "model", m.name, "error", err)
				} else {
					m.metaInterpreter = metaInterpreter
					m.metaLabels = metaLabels
				}
			}
		}
	}

	log.Info("model loaded", "model", m.name, "preprocessed", preprocessed,
		"v1_metadata", m.v1Metadata, "apply_softmax", m.applySoftmax,
		"occurrence_gate", m.metaInterpreter != nil)
	return m, nil
}

func buildInterpreter(path, modelName string) (*tflite.Interpreter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryInference).
			ModelContext(path, modelName).
			Build()
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.Newf("cannot parse tflite model").
			Component("inference").
			Category(errors.CategoryInference).
			ModelContext(path, modelName).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: 1})
	if delegate != nil {
		options.AddDelegate(delegate)
		options.SetNumThread(1)
	} else {
		options.SetNumThread(1)
	}
	options.SetErrorReporter(func(msg string, _ interface{}) {
		log.Warn("tflite runtime message", "model", modelName, "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, errors.Newf("cannot create interpreter").
			Component("inference").
			Category(errors.CategoryInference).
			ModelContext(path, modelName).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		return nil, errors.Newf("tensor allocation failed").
			Component("inference").
			Category(errors.CategoryInference).
			ModelContext(path, modelName).
			Build()
	}
	return interpreter, nil
}

// loadLabels reads a newline-delimited label file, splitting any
// "SciName_CommonName" entry on its single underscore down to "SciName".
func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryInference).
			Context("path", path).
			Build()
	}

	var labels []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if parts := strings.Split(line, "_"); len(parts) == 2 {
			line = parts[0]
		}
		labels = append(labels, line)
	}
	return labels, nil
}

// Predict runs one chunk of audio (or, for a preprocessed model, a C5 mel
// tensor) through the model and returns labels sorted by descending
// confidence. lat, lon, and week are only consulted when the model
// declares V1 metadata; pass lat=lon=-1, week=0 otherwise.
func (m *Model) Predict(input []float32, lat, lon float64, week int) ([]Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, errors.Newf("model has no input tensor").
			Component("inference").
			Category(errors.CategoryInference).
			Context("model", m.name).
			Build()
	}
	dst := inputTensor.Float32s()
	if len(dst) != len(input) {
		return nil, errors.Newf("input length mismatch: tensor wants %d, got %d", len(dst), len(input)).
			Component("inference").
			Category(errors.CategoryInference).
			Context("model", m.name).
			Build()
	}
	copy(dst, input)

	if m.v1Metadata {
		metaTensor := m.interpreter.GetInputTensor(1)
		if metaTensor == nil {
			return nil, errors.Newf("v1 metadata model has no second input tensor").
				Component("inference").
				Category(errors.CategoryInference).
				Context("model", m.name).
				Build()
		}
		copy(metaTensor.Float32s(), convertV1Metadata(lat, lon, week))
	}

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("inference invocation failed").
			Component("inference").
			Category(errors.CategoryInference).
			Context("model", m.name).
			Build()
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	raw := make([]float32, len(outputTensor.Float32s()))
	copy(raw, outputTensor.Float32s())

	var scores []float64
	if m.applySoftmax {
		scores = softmax(raw)
	} else {
		scores = scaleLogits(raw, m.adjustedSensitivity)
	}

	n := len(m.labels)
	if n > len(scores) {
		n = len(scores)
	}
	preds := make([]Prediction, n)
	for i := 0; i < n; i++ {
		preds[i] = Prediction{Label: m.labels[i], Confidence: scores[i]}
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].Confidence > preds[j].Confidence })
	return preds, nil
}

// convertV1Metadata builds the [lat, lon, w, m0, m1, m2] tensor a
// V1-metadata model expects alongside its raw-audio input.
func convertV1Metadata(lat, lon float64, week int) []float32 {
	w := -1.0
	if week >= 1 && week <= 48 {
		w = math.Cos(float64(week)*7.5*math.Pi/180.0) + 1
	}

	m0, m1 := 0.0, 0.0
	if lat != -1.0 && lon != -1.0 {
		m0, m1 = 1.0, 1.0
	}
	m2 := 1.0
	if w == -1.0 {
		m2 = 0.0
	}

	return []float32{float32(lat), float32(lon), float32(w), float32(m0), float32(m1), float32(m2)}
}

// softmax applies the numerically-stable, max-subtracted softmax.
func softmax(logits []float32) []float64 {
	maxV := float64(logits[0])
	for _, v := range logits {
		if float64(v) > maxV {
			maxV = float64(v)
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v) - maxV)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// scaleLogits applies sigmoid with sensitivity: score = 1/(1+exp(-s*x)).
func scaleLogits(logits []float32, sensitivity float64) []float64 {
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = 1.0 / (1.0 + math.Exp(-sensitivity*float64(v)))
	}
	return out
}

// QueryOccurrenceGate runs the optional occurrence-gate model for
// (lat, lon, week), returning the scientific names of labels it admits. A
// model without a declared occurrence-gate companion always returns
// (nil, nil). Identical queries are cached by exact input-triple equality
// and concurrent identical queries are collapsed to a single invocation.
func (m *Model) QueryOccurrenceGate(lat, lon float64, week int) ([]string, error) {
	if m.metaInterpreter == nil {
		return nil, nil
	}

	key := [3]float64{lat, lon, float64(week)}

	m.cacheMu.Lock()
	if m.haveCache && m.cachedKey == key {
		list := m.cachedList
		m.cacheMu.Unlock()
		return list, nil
	}
	m.cacheMu.Unlock()

	sfKey := fmt.Sprintf("%g:%g:%d", lat, lon, week)
	v, err, _ := m.sfGroup.Do(sfKey, func() (interface{}, error) {
		list, err := m.computeOccurrenceGate(lat, lon, week)
		if err != nil {
			return nil, err
		}
		m.cacheMu.Lock()
		m.cachedKey = key
		m.cachedList = list
		m.haveCache = true
		m.cacheMu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (m *Model) computeOccurrenceGate(lat, lon float64, week int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inputTensor := m.metaInterpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, errors.Newf("occurrence-gate model has no input tensor").
			Component("inference").
			Category(errors.CategoryInference).
			Context("model", m.name).
			Build()
	}
	copy(inputTensor.Float32s(), convertV1Metadata(lat, lon, week))

	if status := m.metaInterpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("occurrence-gate invocation failed").
			Component("inference").
			Category(errors.CategoryInference).
			Context("model", m.name).
			Build()
	}

	outputTensor := m.metaInterpreter.GetOutputTensor(0)
	raw := outputTensor.Float32s()

	n := len(m.metaLabels)
	if n > len(raw) {
		n = len(raw)
	}
	type scored struct {
		label string
		score float64
	}
	pairs := make([]scored, n)
	for i := 0; i < n; i++ {
		pairs[i] = scored{label: m.metaLabels[i], score: float64(raw[i])}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	var admitted []string
	for _, p := range pairs {
		if p.score < m.sfThreshold {
			continue
		}
		label := p.label
		if idx := strings.IndexByte(label, '_'); idx >= 0 {
			label = label[:idx]
		}
		admitted = append(admitted, label)
	}
	return admitted, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
