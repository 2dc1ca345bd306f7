package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/pipeline"
	"github.com/kalambet/ocky/internal/training"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Bot is the part of the responder the API exposes.
type Bot interface {
	HandleMessage(ctx context.Context, in pipeline.Inbound) (pipeline.Outcome, error)
	HandleReaction(ctx context.Context, re pipeline.Reaction) (pipeline.ReactionOutcome, error)
	AddResponse(ctx context.Context, category, text, example string) (catalog.Entry, error)
	Categories() []catalog.CategoryInfo
	Train(ctx context.Context) (training.Report, error)
	Stats(ctx context.Context) (pipeline.Stats, error)
	Reload(ctx context.Context, component string) error
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Bot   Bot
	Token string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// AddResponseRequest is the body of POST /responses.
type AddResponseRequest struct {
	Category     string `json:"category"`
	Text         string `json:"text"`
	ExampleInput string `json:"example_input"`
}

// AddResponseResult is returned by POST /responses.
type AddResponseResult struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

// NewHandler returns the bot's HTTP API. /health and /metrics are always
// public; every other route requires the API token when one is set.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(TokenAuth(deps.Token))
		}
		r.Post("/messages", handleMessage(deps))
		r.Post("/reactions", handleReaction(deps))
		r.Post("/train", handleTrain(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/categories", handleCategories(deps))
		r.Post("/responses", handleAddResponse(deps))
		r.Post("/reload/{component}", handleReload(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in pipeline.Inbound
		if !decodeBody(w, r, &in) {
			return
		}
		if in.ID == "" || in.ChannelID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id and channel_id are required")
			return
		}

		out, err := deps.Bot.HandleMessage(r.Context(), in)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "handling message: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleReaction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var re pipeline.Reaction
		if !decodeBody(w, r, &re) {
			return
		}
		if re.Emoji == "" || re.Message.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "emoji and message.id are required")
			return
		}

		out, err := deps.Bot.HandleReaction(r.Context(), re)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "handling reaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleTrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Bot.Train(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "training failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Bot.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleCategories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats := deps.Bot.Categories()
		if cats == nil {
			cats = []catalog.CategoryInfo{}
		}
		writeJSON(w, http.StatusOK, cats)
	}
}

func handleAddResponse(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddResponseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Category == "" || req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "category and text are required")
			return
		}

		entry, err := deps.Bot.AddResponse(r.Context(), req.Category, req.Text, req.ExampleInput)
		switch {
		case errors.Is(err, catalog.ErrUnknownCategory):
			httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			return
		case errors.Is(err, catalog.ErrDuplicateResponse):
			httpError(w, http.StatusConflict, "conflict_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "adding response: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, AddResponseResult{
			ID:       entry.ID.String(),
			Category: entry.ID.Category,
			Text:     entry.Text,
		})
	}
}

func handleReload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		component := chi.URLParam(r, "component")
		err := deps.Bot.Reload(r.Context(), component)
		switch {
		case errors.Is(err, pipeline.ErrUnknownComponent):
			httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "reload failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "component": component})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
