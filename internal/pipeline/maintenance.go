package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/gate"
	"github.com/kalambet/ocky/internal/storage"
	"github.com/kalambet/ocky/internal/training"
	"github.com/kalambet/ocky/internal/vector"
)

// Reloadable components.
const (
	ComponentCatalog = "catalog"
	ComponentGate    = "gate"
	ComponentAll     = "all"
)

// ErrUnknownComponent is returned by Reload for an unrecognized name.
var ErrUnknownComponent = errors.New("unknown component")

// Stats summarizes the bot's learning state.
type Stats struct {
	Examples    storage.ExampleCounts `json:"examples"`
	Responses   int                   `json:"responses"`
	Categories  int                   `json:"categories"`
	GateTrained bool                  `json:"gate_trained"`
	Threshold   float64               `json:"threshold"`
	Observation bool                  `json:"observation_mode"`
	LastTrain   *training.Report      `json:"last_training,omitempty"`
}

// AddResponse appends text to category and persists the new embedding. It
// waits for any training pass in flight and holds it off until the
// embeddings are saved.
func (r *Responder) AddResponse(ctx context.Context, category, text, example string) (catalog.Entry, error) {
	var entry catalog.Entry
	err := r.exclusive(func() error {
		err := r.session(ctx, func(ctx context.Context) error {
			var err error
			entry, err = r.catalog.Add(ctx, r.encoder, category, text, example)
			return err
		})
		if err != nil {
			return err
		}
		if err := r.saveEmbeddings(ctx); err != nil {
			// The catalog file already holds the response; the next training
			// pass persists its embedding.
			r.logger.Warn("persisting embeddings after add failed", "error", err)
		}
		return nil
	})
	if err != nil {
		return catalog.Entry{}, err
	}

	r.logger.Info("response added", "category", category, "id", entry.ID)
	return entry, nil
}

// Categories lists the catalog categories.
func (r *Responder) Categories() []catalog.CategoryInfo {
	return r.catalog.Snapshot().Categories()
}

// Train runs a training pass now, sharing it with any concurrent request.
func (r *Responder) Train(ctx context.Context) (training.Report, error) {
	if r.trainer == nil {
		return training.Report{}, fmt.Errorf("training is not configured")
	}
	return r.trainer.Trigger(ctx)
}

// Stats reports example counts and model state.
func (r *Responder) Stats(ctx context.Context) (Stats, error) {
	counts, err := r.log.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	snap := r.catalog.Snapshot()
	s := Stats{
		Examples:    counts,
		Responses:   snap.Len(),
		Categories:  len(snap.Categories()),
		GateTrained: r.gate.Trained(),
		Threshold:   r.gate.Threshold(),
		Observation: r.gate.Observation(),
	}
	if r.trainer != nil {
		if last, ok := r.trainer.LastReport(); ok {
			s.LastTrain = &last
		}
	}
	return s, nil
}

// Reload rebuilds a component from its file and persisted blobs, replacing
// the running instance. It waits for any training pass in flight.
func (r *Responder) Reload(ctx context.Context, component string) error {
	switch component {
	case ComponentCatalog, ComponentGate, ComponentAll:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownComponent, component)
	}

	return r.exclusive(func() error {
		if component == ComponentGate || component == ComponentAll {
			r.reloadGate(ctx)
		}
		if component == ComponentCatalog || component == ComponentAll {
			return r.reloadCatalog(ctx)
		}
		return nil
	})
}

// reloadGate loads the persisted model. A missing or unreadable checkpoint
// leaves the gate untrained.
func (r *Responder) reloadGate(ctx context.Context) {
	m, err := r.loadModel(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.logger.Info("no saved gate model, starting untrained")
	case err != nil:
		r.logger.Error("loading gate model failed, starting untrained", "error", err)
	default:
		r.logger.Info("gate model loaded")
	}
	r.gate.Swap(m)
}

func (r *Responder) loadModel(ctx context.Context) (*gate.Model, error) {
	clf, err := r.store.LoadBlob(ctx, gate.BlobClassifier)
	if err != nil {
		return nil, err
	}
	sc, err := r.store.LoadBlob(ctx, gate.BlobScaler)
	if err != nil {
		return nil, err
	}
	return gate.ModelFromBlobs(clf, sc)
}

// reloadCatalog rebuilds the catalog from its file. Unreadable persisted
// embeddings fall back to fresh ones; an unreadable catalog file keeps the
// current catalog.
func (r *Responder) reloadCatalog(ctx context.Context) error {
	persisted, err := r.loadEmbeddings(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		r.logger.Error("loading saved embeddings failed, using fresh embeddings", "error", err)
	}

	err = r.session(ctx, func(ctx context.Context) error {
		return r.catalog.Load(ctx, r.encoder, persisted)
	})
	if err != nil {
		return fmt.Errorf("reloading catalog: %w", err)
	}
	snap := r.catalog.Snapshot()
	r.logger.Info("catalog loaded", "responses", snap.Len(), "categories", len(snap.Categories()), "persisted", len(persisted))
	return nil
}

func (r *Responder) loadEmbeddings(ctx context.Context) (map[catalog.ResponseID]vector.Vector, error) {
	data, err := r.store.LoadBlob(ctx, catalog.BlobEmbeddings)
	if err != nil {
		return nil, err
	}
	return catalog.DecodeEmbeddings(data)
}

func (r *Responder) saveEmbeddings(ctx context.Context) error {
	data, err := catalog.EncodeEmbeddings(r.catalog.Snapshot().Embeddings())
	if err != nil {
		return err
	}
	return r.store.SaveBlobs(ctx, map[string][]byte{catalog.BlobEmbeddings: data})
}

func (r *Responder) exclusive(fn func() error) error {
	if r.trainer == nil {
		return fn()
	}
	return r.trainer.Exclusive(fn)
}
