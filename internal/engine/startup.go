package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// probeText is embedded once at startup to learn the model's dimension.
const probeText = "ocky"

// EnsureReady checks that e is reachable and embedModel is available, pulling
// it with progress written to w when missing. It returns the model's
// embedding dimension, probed with keep_alive 0 so the model is not left
// resident.
func EnsureReady(ctx context.Context, e Engine, embedModel string, w io.Writer) (int, error) {
	if !e.IsRunning(ctx) {
		return 0, errors.New("embedding backend is not running; start it with: ollama serve")
	}
	if embedModel == "" {
		return 0, errors.New("no embedding model configured")
	}

	if !e.HasModel(ctx, embedModel) {
		fmt.Fprintf(w, "model %s: pulling...\n", embedModel)
		err := e.PullModel(ctx, embedModel, func(p PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
				return
			}
			fmt.Fprintf(w, "  %s\n", p.Status)
		})
		if err != nil {
			return 0, fmt.Errorf("pulling model %s: %w", embedModel, err)
		}
	}

	v, err := e.Embed(ctx, embedModel, probeText, "0")
	if err != nil {
		return 0, fmt.Errorf("probing model %s: %w", embedModel, err)
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("probing model %s: empty embedding", embedModel)
	}
	fmt.Fprintf(w, "model %s: ready (%d dimensions)\n", embedModel, len(v))
	return len(v), nil
}
