// Package gate decides whether the bot should respond to a message at all.
//
// The gate is a standard scaler followed by a logistic regression. Until a
// model has been fit it always returns probability 0, and any failure while
// scoring also yields 0, so a broken gate keeps the bot silent.
package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/kalambet/ocky/internal/features"
)

// Blob names used when persisting a Model.
const (
	BlobClassifier = "classifier"
	BlobScaler     = "scaler"
)

// DefaultThreshold is the probability above which the bot responds.
const DefaultThreshold = 0.5

// ErrNotTrained is returned when scoring or decoding without a fitted model.
var ErrNotTrained = errors.New("gate has not been trained")

// Model pairs a scaler with the classifier trained on its output. A Model
// is immutable once published to a Gate.
type Model struct {
	Scaler     *Scaler
	Classifier *Classifier
}

// Example is one labelled feature vector.
type Example struct {
	Features features.Vector
	Label    int
}

// Fit refits both scaler and classifier on examples.
func Fit(examples []Example) (*Model, error) {
	if len(examples) < 2 {
		return nil, fmt.Errorf("fitting gate: need at least 2 examples, have %d", len(examples))
	}
	X := make([][]float64, len(examples))
	y := make([]float64, len(examples))
	for i, ex := range examples {
		X[i] = ex.Features.Slice()
		y[i] = float64(ex.Label)
	}

	scaler, err := FitScaler(X)
	if err != nil {
		return nil, err
	}
	scaled := make([][]float64, len(X))
	for i, row := range X {
		if scaled[i], err = scaler.Transform(row); err != nil {
			return nil, err
		}
	}
	clf, err := FitClassifier(scaled, y)
	if err != nil {
		return nil, err
	}
	return &Model{Scaler: scaler, Classifier: clf}, nil
}

// Probability scores fv against the model.
func (m *Model) Probability(fv features.Vector) (float64, error) {
	if m == nil || m.Scaler == nil || m.Classifier == nil {
		return 0, ErrNotTrained
	}
	x, err := m.Scaler.Transform(fv.Slice())
	if err != nil {
		return 0, err
	}
	p, err := m.Classifier.Probability(x)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("classifier produced invalid probability %v", p)
	}
	return p, nil
}

// Blobs serializes the model as the named classifier and scaler blobs.
func (m *Model) Blobs() (map[string][]byte, error) {
	clf, err := json.Marshal(m.Classifier)
	if err != nil {
		return nil, fmt.Errorf("encoding classifier: %w", err)
	}
	sc, err := json.Marshal(m.Scaler)
	if err != nil {
		return nil, fmt.Errorf("encoding scaler: %w", err)
	}
	return map[string][]byte{BlobClassifier: clf, BlobScaler: sc}, nil
}

// ModelFromBlobs rebuilds a Model from blobs written by Blobs.
// Returns ErrNotTrained when either blob is missing.
func ModelFromBlobs(classifier, scaler []byte) (*Model, error) {
	if len(classifier) == 0 || len(scaler) == 0 {
		return nil, ErrNotTrained
	}
	m := &Model{Scaler: &Scaler{}, Classifier: &Classifier{}}
	if err := json.Unmarshal(classifier, m.Classifier); err != nil {
		return nil, fmt.Errorf("decoding classifier: %w", err)
	}
	if err := json.Unmarshal(scaler, m.Scaler); err != nil {
		return nil, fmt.Errorf("decoding scaler: %w", err)
	}
	if len(m.Classifier.Coef) != features.Count || len(m.Scaler.Mean) != features.Count {
		return nil, fmt.Errorf("persisted gate has %d coefficients, want %d", len(m.Classifier.Coef), features.Count)
	}
	return m, nil
}

// Decision is the outcome of scoring one message.
type Decision struct {
	// Probability is the computed positive-class probability.
	Probability float64
	// Effective is the probability the caller must act on. It is 0 in
	// observation mode and whenever the gate is untrained or failed.
	Effective float64
	Respond   bool
	Trained   bool
}

// Gate holds the current Model behind an atomic pointer so scoring always
// sees a consistent scaler/classifier pair.
type Gate struct {
	model       atomic.Pointer[Model]
	threshold   float64
	observation atomic.Bool
	logger      *slog.Logger
}

// Options configures a Gate.
type Options struct {
	Threshold float64
	// Observation computes and logs probabilities but never responds.
	Observation bool
	Logger      *slog.Logger
}

// New creates an untrained Gate.
func New(opts Options) *Gate {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := &Gate{threshold: opts.Threshold, logger: opts.Logger}
	g.observation.Store(opts.Observation)
	return g
}

// Decide scores fv against the current model snapshot.
func (g *Gate) Decide(fv features.Vector) Decision {
	m := g.model.Load()
	if m == nil {
		return Decision{}
	}

	p, err := m.Probability(fv)
	if err != nil {
		g.logger.Warn("gate scoring failed, not responding", "error", err)
		return Decision{Trained: true}
	}

	d := Decision{Probability: p, Effective: p, Trained: true}
	if g.observation.Load() {
		g.logger.Info("respond probability (observation mode)", "probability", p)
		d.Effective = 0
	}
	d.Respond = d.Effective > g.threshold
	return d
}

// Model returns the current snapshot, or nil when untrained.
func (g *Gate) Model() *Model {
	return g.model.Load()
}

// Swap publishes m as the current model. A nil m resets the gate to untrained.
func (g *Gate) Swap(m *Model) {
	g.model.Store(m)
}

// Trained reports whether a model has been published.
func (g *Gate) Trained() bool {
	return g.model.Load() != nil
}

// SetObservation toggles observation mode.
func (g *Gate) SetObservation(on bool) {
	g.observation.Store(on)
}

// Observation reports whether observation mode is on.
func (g *Gate) Observation() bool {
	return g.observation.Load()
}

// Threshold returns the respond threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}
