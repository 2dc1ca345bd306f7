// Package pipeline wires the gate, choice engine and feedback log into the
// per-message and per-reaction control flow of the bot.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/choice"
	"github.com/kalambet/ocky/internal/embedding"
	"github.com/kalambet/ocky/internal/features"
	"github.com/kalambet/ocky/internal/feedback"
	"github.com/kalambet/ocky/internal/gate"
	"github.com/kalambet/ocky/internal/metrics"
	"github.com/kalambet/ocky/internal/training"
)

// Reasons a message did not get a response.
const (
	SkipBotAuthor    = "bot_author"
	SkipGate         = "gate"
	SkipChannel      = "channel"
	SkipEmptyCatalog = "empty_catalog"
)

// Default reaction emoji.
const (
	DefaultRequestEmoji  = "🗣️"
	DefaultForcefulEmoji = "📣"
)

// Inbound is one message delivered by the chat layer.
type Inbound struct {
	features.Message
	AuthorIsBot bool `json:"author_is_bot"`
}

// Reaction is one reaction add or remove event.
type Reaction struct {
	Emoji     string `json:"emoji"`
	Add       bool   `json:"add"`
	UserID    string `json:"user_id"`
	UserIsBot bool   `json:"user_is_bot"`
	// Message is the message that was reacted to.
	Message features.Message `json:"message"`
}

// Response describes an emitted response.
type Response struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Text       string  `json:"text"`
	Ref        string  `json:"ref"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// Outcome is the result of handling one inbound message.
type Outcome struct {
	Skipped           string    `json:"skipped,omitempty"`
	Probability       float64   `json:"probability"`
	Effective         float64   `json:"effective"`
	Threshold         float64   `json:"threshold"`
	Trained           bool      `json:"trained"`
	TrainingRequested bool      `json:"training_requested,omitempty"`
	Response          *Response `json:"response,omitempty"`
}

// ReactionOutcome is the result of handling one reaction.
type ReactionOutcome struct {
	Kind     string    `json:"kind"`
	Promoted bool      `json:"promoted,omitempty"`
	Applied  bool      `json:"applied,omitempty"`
	Score    float64   `json:"score,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// Sessioner scopes use of the embedding model so that it is released once
// the work that needed it is done.
type Sessioner interface {
	Session(ctx context.Context, fn func(ctx context.Context) error) error
}

// TrainRequester queues a training pass without waiting for it.
type TrainRequester interface {
	Request()
}

// BlobStore loads and saves model checkpoint blobs.
type BlobStore interface {
	LoadBlob(ctx context.Context, name string) ([]byte, error)
	SaveBlobs(ctx context.Context, blobs map[string][]byte) error
}

// Deps are the collaborators of a Responder. Session, Requests, Metrics and
// Logger are optional.
type Deps struct {
	Gate     *gate.Gate
	Catalog  *catalog.Catalog
	Choice   *choice.Engine
	Log      *feedback.Log
	Tracker  *features.Tracker
	Encoder  embedding.Encoder
	Session  Sessioner
	Trainer  *training.Orchestrator
	Requests TrainRequester
	Store    BlobStore
	Emitter  Emitter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Options configures a Responder.
type Options struct {
	// BotID is the bot's own user id, used for the mention feature.
	BotID string
	// Channel restricts responses to one channel. Examples are still recorded
	// for every channel.
	Channel       string
	RequestEmoji  string
	ForcefulEmoji string
}

// Responder handles inbound messages and reactions.
type Responder struct {
	gate     *gate.Gate
	catalog  *catalog.Catalog
	choice   *choice.Engine
	log      *feedback.Log
	tracker  *features.Tracker
	encoder  embedding.Encoder
	sessions Sessioner
	trainer  *training.Orchestrator
	requests TrainRequester
	store    BlobStore
	emitter  Emitter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
}

// New creates a Responder.
func New(d Deps, opts Options) *Responder {
	if opts.RequestEmoji == "" {
		opts.RequestEmoji = DefaultRequestEmoji
	}
	if opts.ForcefulEmoji == "" {
		opts.ForcefulEmoji = DefaultForcefulEmoji
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracker == nil {
		d.Tracker = features.NewTracker()
	}
	if d.Emitter == nil {
		d.Emitter = LogEmitter{Logger: d.Logger}
	}
	return &Responder{
		gate:     d.Gate,
		catalog:  d.Catalog,
		choice:   d.Choice,
		log:      d.Log,
		tracker:  d.Tracker,
		encoder:  d.Encoder,
		sessions: d.Session,
		trainer:  d.Trainer,
		requests: d.Requests,
		store:    d.Store,
		emitter:  d.Emitter,
		metrics:  d.Metrics,
		logger:   d.Logger,
		opts:     opts,
	}
}

// HandleMessage runs one inbound message through the gate and, when the gate
// allows it, responds. Every non-bot message is logged as a respond example.
func (r *Responder) HandleMessage(ctx context.Context, in Inbound) (Outcome, error) {
	if in.AuthorIsBot {
		return Outcome{Skipped: SkipBotAuthor}, nil
	}
	r.metrics.MessageHandled()
	msg := in.Message
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.tracker.Now()
	}

	var out Outcome
	if isTrainCommand(msg.Text) {
		r.logger.Info("manual training requested", "channel", msg.ChannelID, "author", msg.AuthorID)
		r.requestTraining(ctx)
		out.TrainingRequested = true
	}

	r.tracker.Observe(msg.ChannelID)
	fv := features.Extract(msg, r.tracker.Context(msg.ChannelID), r.opts.BotID)
	if err := r.log.RecordMessage(ctx, msg, fv); err != nil {
		r.logger.Error("recording respond example failed", "message", msg.ID, "error", err)
	}

	d := r.gate.Decide(fv)
	out.Probability, out.Effective, out.Trained = d.Probability, d.Effective, d.Trained
	out.Threshold = r.gate.Threshold()
	r.metrics.GateDecision(r.gateOutcome(d), d.Probability, d.Trained)

	if r.opts.Channel != "" && msg.ChannelID != r.opts.Channel {
		out.Skipped = SkipChannel
		return out, nil
	}
	if !d.Respond {
		out.Skipped = SkipGate
		return out, nil
	}

	resp, err := r.respond(ctx, msg)
	if err != nil {
		return out, err
	}
	if resp == nil {
		out.Skipped = SkipEmptyCatalog
		return out, nil
	}
	out.Response = resp
	return out, nil
}

// HandleReaction applies a reaction: the forceful emoji forces a response
// to the reacted message, the request emoji marks a user message as one the
// bot should have answered, and feedback emoji on bot messages adjust the
// score of that response.
func (r *Responder) HandleReaction(ctx context.Context, re Reaction) (ReactionOutcome, error) {
	if re.UserIsBot {
		return ReactionOutcome{Kind: metrics.ReactionIgnored}, nil
	}

	fromBot := r.opts.BotID != "" && re.Message.AuthorID == r.opts.BotID

	switch {
	case re.Add && re.Emoji == r.opts.ForcefulEmoji:
		r.metrics.Reaction(metrics.ReactionForceful)
		r.logger.Info("forceful reaction received", "message", re.Message.ID)
		resp, err := r.respond(ctx, re.Message)
		if err != nil {
			return ReactionOutcome{Kind: metrics.ReactionForceful}, err
		}
		return ReactionOutcome{Kind: metrics.ReactionForceful, Response: resp}, nil

	case re.Add && re.Emoji == r.opts.RequestEmoji && !fromBot:
		r.metrics.Reaction(metrics.ReactionRequest)
		ok, err := r.log.Promote(ctx, re.Message.ID)
		if err != nil {
			return ReactionOutcome{Kind: metrics.ReactionRequest}, err
		}
		return ReactionOutcome{Kind: metrics.ReactionRequest, Promoted: ok}, nil

	case isFeedbackEmoji(re.Emoji):
		score, applied, err := r.log.ApplyReaction(ctx, re.Message.ID, re.Emoji, re.Add)
		if err != nil {
			return ReactionOutcome{Kind: metrics.ReactionFeedback}, err
		}
		if !applied {
			r.metrics.Reaction(metrics.ReactionIgnored)
			return ReactionOutcome{Kind: metrics.ReactionIgnored}, nil
		}
		r.metrics.Reaction(metrics.ReactionFeedback)
		r.logger.Info("feedback incorporated", "message", re.Message.ID, "emoji", re.Emoji, "add", re.Add, "score", score)
		return ReactionOutcome{Kind: metrics.ReactionFeedback, Applied: true, Score: score}, nil
	}

	r.metrics.Reaction(metrics.ReactionIgnored)
	return ReactionOutcome{Kind: metrics.ReactionIgnored}, nil
}

// respond selects, emits and logs a response to msg. It returns nil when the
// catalog is empty.
func (r *Responder) respond(ctx context.Context, msg features.Message) (*Response, error) {
	var ch *choice.Choice
	err := r.session(ctx, func(ctx context.Context) error {
		var err error
		ch, err = r.choice.Select(ctx, msg.Text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("selecting response: %w", err)
	}
	if ch == nil {
		r.logger.Warn("catalog is empty, nothing to respond with")
		return nil, nil
	}

	ref, err := r.emitter.Emit(ctx, msg.ChannelID, ch.Text)
	if err != nil {
		return nil, err
	}
	r.tracker.RecordResponse(msg.ChannelID)
	r.metrics.ResponseEmitted(ch.ID.Category)

	if err := r.log.RecordResponse(ctx, feedback.Response{
		ID:            ch.ID,
		Input:         ch.Input,
		BotMessageRef: ref,
		ChannelID:     msg.ChannelID,
		OriginalText:  msg.Text,
	}); err != nil {
		r.logger.Error("recording feedback example failed", "ref", ref, "error", err)
	}

	r.logger.Debug("responded", "channel", msg.ChannelID, "response", ch.ID, "similarity", ch.Similarity, "score", ch.Score)
	return &Response{
		ID:         ch.ID.String(),
		Category:   ch.ID.Category,
		Text:       ch.Text,
		Ref:        ref,
		Similarity: ch.Similarity,
		Score:      ch.Score,
	}, nil
}

func (r *Responder) session(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.sessions == nil {
		return fn(ctx)
	}
	return r.sessions.Session(ctx, fn)
}

func (r *Responder) requestTraining(ctx context.Context) {
	if r.requests != nil {
		r.requests.Request()
		return
	}
	if r.trainer == nil {
		return
	}
	go func() {
		if _, err := r.trainer.Trigger(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("manual training failed", "error", err)
		}
	}()
}

func (r *Responder) gateOutcome(d gate.Decision) string {
	switch {
	case !d.Trained:
		return metrics.GateUntrained
	case r.gate.Observation():
		return metrics.GateObservation
	case d.Respond:
		return metrics.GateRespond
	default:
		return metrics.GateSilent
	}
}

func isFeedbackEmoji(emoji string) bool {
	_, ok := feedback.Value(emoji)
	return ok
}

// isTrainCommand reports whether text asks for a manual retrain.
func isTrainCommand(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "retrain") && strings.Contains(t, "models")
}
