package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/features"
	"github.com/kalambet/ocky/internal/gate"
	"github.com/kalambet/ocky/internal/storage"
	"github.com/kalambet/ocky/internal/vector"
)

// Store is the persistence the log needs.
type Store interface {
	SaveRespondExample(ctx context.Context, e storage.RespondExample) error
	PromoteRespondExample(ctx context.Context, messageRef string) error
	SaveFeedbackExample(ctx context.Context, e storage.FeedbackExample) error
	UpdateFeedbackScore(ctx context.Context, botMessageRef string, update func(float64) float64) (storage.FeedbackExample, error)
	ListRespondExamples(ctx context.Context) ([]storage.RespondExample, error)
	ListFeedbackExamples(ctx context.Context) ([]storage.FeedbackExample, error)
	Counts(ctx context.Context) (storage.ExampleCounts, error)
}

// Log records messages and responses and applies reactions to them.
type Log struct {
	store  Store
	logger *slog.Logger
}

// NewLog creates a Log over store.
func NewLog(store Store) *Log {
	return &Log{store: store, logger: slog.Default()}
}

// RecordMessage logs msg as a respond example with label 0.
func (l *Log) RecordMessage(ctx context.Context, msg features.Message, fv features.Vector) error {
	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return l.store.SaveRespondExample(ctx, storage.RespondExample{
		ID:         uuid.New().String(),
		MessageRef: msg.ID,
		ChannelID:  msg.ChannelID,
		AuthorID:   msg.AuthorID,
		Text:       msg.Text,
		Features:   fv.Slice(),
		Label:      0,
		CreatedAt:  at,
	})
}

// Response describes one emitted bot response.
type Response struct {
	ID            catalog.ResponseID
	Input         vector.Vector
	BotMessageRef string
	ChannelID     string
	OriginalText  string
	At            time.Time
}

// RecordResponse logs r as a feedback example with the neutral score.
func (l *Log) RecordResponse(ctx context.Context, r Response) error {
	if r.BotMessageRef == "" {
		return fmt.Errorf("recording response %s: empty bot message reference", r.ID)
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	return l.store.SaveFeedbackExample(ctx, storage.FeedbackExample{
		ID:             uuid.New().String(),
		Category:       r.ID.Category,
		ResponseHash:   r.ID.Hash,
		InputEmbedding: r.Input,
		Score:          NeutralScore,
		BotMessageRef:  r.BotMessageRef,
		ChannelID:      r.ChannelID,
		OriginalText:   r.OriginalText,
		CreatedAt:      at,
	})
}

// Promote marks the respond example of messageRef as one the bot should
// have answered. It reports false when no such example exists.
func (l *Log) Promote(ctx context.Context, messageRef string) (bool, error) {
	err := l.store.PromoteRespondExample(ctx, messageRef)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("promoting %s: %w", messageRef, err)
	}
	return true, nil
}

// ApplyReaction folds a reaction on the bot message botMessageRef into its
// feedback example. applied is false when emoji carries no feedback value or
// the message is not a logged response.
func (l *Log) ApplyReaction(ctx context.Context, botMessageRef, emoji string, add bool) (score float64, applied bool, err error) {
	v, ok := Value(emoji)
	if !ok {
		return 0, false, nil
	}
	e, err := l.store.UpdateFeedbackScore(ctx, botMessageRef, func(old float64) float64 {
		return Combine(old, v, add)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("applying reaction to %s: %w", botMessageRef, err)
	}
	l.logger.Debug("feedback incorporated", "bot_message", botMessageRef, "emoji", emoji, "add", add, "score", e.Score)
	return e.Score, true, nil
}

// Item is one feedback example as consumed by training.
type Item struct {
	ResponseID catalog.ResponseID
	Input      vector.Vector
	Score      float64
	CreatedAt  time.Time
}

// Snapshot is a point-in-time copy of the log.
type Snapshot struct {
	Respond  []gate.Example
	Feedback []Item
}

// Snapshot reads every example, oldest first.
func (l *Log) Snapshot(ctx context.Context) (Snapshot, error) {
	resp, err := l.store.ListRespondExamples(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing respond examples: %w", err)
	}
	fb, err := l.store.ListFeedbackExamples(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing feedback examples: %w", err)
	}

	var snap Snapshot
	for _, r := range resp {
		if len(r.Features) != features.Count {
			l.logger.Warn("skipping respond example with wrong feature count", "id", r.ID, "features", len(r.Features))
			continue
		}
		var fv features.Vector
		copy(fv[:], r.Features)
		snap.Respond = append(snap.Respond, gate.Example{Features: fv, Label: r.Label})
	}
	for _, f := range fb {
		snap.Feedback = append(snap.Feedback, Item{
			ResponseID: catalog.ResponseID{Category: f.Category, Hash: f.ResponseHash},
			Input:      vector.Vector(f.InputEmbedding),
			Score:      f.Score,
			CreatedAt:  f.CreatedAt,
		})
	}
	return snap, nil
}

// Counts summarizes the log.
func (l *Log) Counts(ctx context.Context) (storage.ExampleCounts, error) {
	return l.store.Counts(ctx)
}
