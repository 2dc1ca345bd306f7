// Package training retrains the response gate and nudges catalog embeddings
// from the feedback log, persisting the result as one checkpoint.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/embedding"
	"github.com/kalambet/ocky/internal/feedback"
	"github.com/kalambet/ocky/internal/gate"
	"github.com/kalambet/ocky/internal/metrics"
	"github.com/kalambet/ocky/internal/vector"
)

// Defaults for Config.
const (
	DefaultMinExamples  = 10
	DefaultLearningRate = 0.1
)

// ErrInsufficientData is the reason recorded when a pass is skipped for lack
// of examples.
var ErrInsufficientData = errors.New("insufficient training data")

// LogSource provides the examples to train from.
type LogSource interface {
	Snapshot(ctx context.Context) (feedback.Snapshot, error)
}

// BlobStore persists named blobs atomically.
type BlobStore interface {
	SaveBlobs(ctx context.Context, blobs map[string][]byte) error
}

// Session scopes use of the embedding model.
type Session interface {
	Session(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config tunes a training pass.
type Config struct {
	MinExamples  int
	LearningRate float64
}

// Report describes the outcome of one pass.
type Report struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`

	RespondExamples  int `json:"respond_examples"`
	FeedbackExamples int `json:"feedback_examples"`

	GateRefit bool   `json:"gate_refit"`
	GateNote  string `json:"gate_note,omitempty"`
	Nudged    int    `json:"nudged"`

	Positive int `json:"positive"`
	Negative int `json:"negative"`
	// Ratio is Positive/Negative, or 0 when there are no negatives.
	Ratio float64 `json:"ratio"`
	// Drift is the mean cosine distance between each learned embedding and
	// the embedding of the response's own text.
	Drift        float64 `json:"drift"`
	DriftSamples int     `json:"drift_samples"`

	Duration time.Duration `json:"duration"`
}

// Orchestrator runs training passes. A pass is an exclusive section over the
// gate and catalog: Exclusive callers and other passes wait for it.
type Orchestrator struct {
	gate    *gate.Gate
	catalog *catalog.Catalog
	log     LogSource
	store   BlobStore
	encoder embedding.Encoder
	session Session
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu sync.Mutex
	sf singleflight.Group

	lastMu sync.Mutex
	last   *Report
}

// Deps are the collaborators of an Orchestrator. Session and Metrics are optional.
type Deps struct {
	Gate    *gate.Gate
	Catalog *catalog.Catalog
	Log     LogSource
	Store   BlobStore
	Encoder embedding.Encoder
	Session Session
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New creates an Orchestrator.
func New(d Deps, cfg Config) *Orchestrator {
	if cfg.MinExamples <= 0 {
		cfg.MinExamples = DefaultMinExamples
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{
		gate:    d.Gate,
		catalog: d.Catalog,
		log:     d.Log,
		store:   d.Store,
		encoder: d.Encoder,
		session: d.Session,
		cfg:     cfg,
		metrics: d.Metrics,
		logger:  d.Logger,
	}
}

// Exclusive runs fn while no training pass is in flight.
func (o *Orchestrator) Exclusive(fn func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fn()
}

// Trigger runs a pass, sharing the result with concurrent Trigger callers
// instead of starting a second pass.
func (o *Orchestrator) Trigger(ctx context.Context) (Report, error) {
	v, err, _ := o.sf.Do("train", func() (any, error) {
		return o.RunPass(context.WithoutCancel(ctx))
	})
	r, _ := v.(Report)
	return r, err
}

// LastReport returns the report of the most recent pass, if any.
func (o *Orchestrator) LastReport() (Report, bool) {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

func (o *Orchestrator) setLast(r Report) {
	o.lastMu.Lock()
	o.last = &r
	o.lastMu.Unlock()
}

// RunPass performs one training pass. On a persistence failure the error is
// returned and the in-memory gate and catalog are left unchanged.
func (o *Orchestrator) RunPass(ctx context.Context) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	r, err := o.runPass(ctx)
	r.Duration = time.Since(start)

	switch {
	case err != nil:
		o.metrics.TrainingPass(metrics.TrainFailed, r.Duration, 0, 0)
		o.logger.Error("training pass failed", "error", err)
	case r.Skipped:
		o.metrics.TrainingPass(metrics.TrainSkipped, r.Duration, 0, 0)
		o.logger.Info("training skipped", "reason", r.Reason,
			"respond", r.RespondExamples, "feedback", r.FeedbackExamples, "min", o.cfg.MinExamples)
	default:
		o.metrics.TrainingPass(metrics.TrainCompleted, r.Duration, r.Ratio, r.Drift)
		o.logger.Info("training pass complete",
			"respond", r.RespondExamples, "feedback", r.FeedbackExamples,
			"gate_refit", r.GateRefit, "nudged", r.Nudged,
			"positive", r.Positive, "negative", r.Negative, "ratio", r.Ratio,
			"drift", r.Drift, "duration", r.Duration)
		if r.GateNote != "" {
			o.logger.Warn("gate kept previous model", "note", r.GateNote)
		}
	}
	o.setLast(r)
	return r, err
}

func (o *Orchestrator) runPass(ctx context.Context) (Report, error) {
	snap, err := o.log.Snapshot(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading training log: %w", err)
	}

	r := Report{RespondExamples: len(snap.Respond), FeedbackExamples: len(snap.Feedback)}
	if r.RespondExamples < o.cfg.MinExamples || r.FeedbackExamples < o.cfg.MinExamples {
		r.Skipped = true
		r.Reason = fmt.Sprintf("%v: respond %d, feedback %d, need %d each",
			ErrInsufficientData, r.RespondExamples, r.FeedbackExamples, o.cfg.MinExamples)
		return r, nil
	}

	model := o.gate.Model()
	if fitted, err := gate.Fit(snap.Respond); err != nil {
		r.GateNote = err.Error()
	} else {
		model = fitted
		r.GateRefit = true
	}

	cat := o.catalog.Snapshot()
	emb := cat.Embeddings()
	r.Nudged = Nudge(emb, snap.Feedback, o.cfg.LearningRate)

	blobs := map[string][]byte{}
	if model != nil {
		gb, err := model.Blobs()
		if err != nil {
			return r, err
		}
		for k, v := range gb {
			blobs[k] = v
		}
	}
	eb, err := catalog.EncodeEmbeddings(emb)
	if err != nil {
		return r, err
	}
	blobs[catalog.BlobEmbeddings] = eb

	if err := o.store.SaveBlobs(ctx, blobs); err != nil {
		return r, fmt.Errorf("saving checkpoint: %w", err)
	}

	o.gate.Swap(model)
	updated := cat.WithEmbeddings(emb)
	o.catalog.Replace(updated)

	for _, ex := range snap.Respond {
		if ex.Label == 1 {
			r.Positive++
		} else {
			r.Negative++
		}
	}
	if r.Negative > 0 {
		r.Ratio = float64(r.Positive) / float64(r.Negative)
	}

	r.Drift, r.DriftSamples = o.drift(ctx, updated)
	return r, nil
}

// drift measures how far learned embeddings have moved from the meaning of
// their literal text. Encoding failures are logged and excluded.
func (o *Orchestrator) drift(ctx context.Context, snap *catalog.Snapshot) (float64, int) {
	if o.encoder == nil || snap.Len() == 0 {
		return 0, 0
	}

	var total float64
	var n int
	measure := func(ctx context.Context) error {
		entries := snap.Entries()
		texts := make([]string, len(entries))
		for i, e := range entries {
			texts[i] = e.Text
		}
		literal, err := embedding.EncodeAll(ctx, o.encoder, texts)
		if err != nil {
			return err
		}
		for i, e := range entries {
			sim, ok := vector.Cosine(e.Embedding, literal[i])
			if !ok {
				continue
			}
			total += 1 - sim
			n++
		}
		return nil
	}

	var err error
	if o.session != nil {
		err = o.session.Session(ctx, measure)
	} else {
		err = measure(ctx)
	}
	if err != nil {
		o.logger.Warn("measuring embedding drift failed", "error", err)
		return 0, 0
	}
	if n == 0 {
		return 0, 0
	}
	return total / float64(n), n
}
