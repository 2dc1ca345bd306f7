package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/metrics"
	"github.com/kalambet/ocky/internal/pipeline"
	"github.com/kalambet/ocky/internal/training"
)

const testToken = "test-token-12345"

// --- fake bot ---

type fakeBot struct {
	messages  []pipeline.Inbound
	reactions []pipeline.Reaction
	added     []AddResponseRequest
	reloaded  []string

	messageErr error
	addErr     error
	trainErr   error
	reloadErr  error
	categories []catalog.CategoryInfo
	report     training.Report
}

func (b *fakeBot) HandleMessage(_ context.Context, in pipeline.Inbound) (pipeline.Outcome, error) {
	b.messages = append(b.messages, in)
	if b.messageErr != nil {
		return pipeline.Outcome{}, b.messageErr
	}
	return pipeline.Outcome{Trained: true, Probability: 0.9, Effective: 0.9, Response: &pipeline.Response{Text: "hi there", Ref: "bot-1"}}, nil
}

func (b *fakeBot) HandleReaction(_ context.Context, re pipeline.Reaction) (pipeline.ReactionOutcome, error) {
	b.reactions = append(b.reactions, re)
	return pipeline.ReactionOutcome{Kind: metrics.ReactionFeedback, Applied: true, Score: 0.5}, nil
}

func (b *fakeBot) AddResponse(_ context.Context, category, text, example string) (catalog.Entry, error) {
	b.added = append(b.added, AddResponseRequest{Category: category, Text: text, ExampleInput: example})
	if b.addErr != nil {
		return catalog.Entry{}, b.addErr
	}
	return catalog.Entry{ID: catalog.NewResponseID(category, text), Text: text}, nil
}

func (b *fakeBot) Categories() []catalog.CategoryInfo { return b.categories }

func (b *fakeBot) Train(context.Context) (training.Report, error) { return b.report, b.trainErr }

func (b *fakeBot) Stats(context.Context) (pipeline.Stats, error) {
	return pipeline.Stats{Responses: 3, Categories: 2, GateTrained: true}, nil
}

func (b *fakeBot) Reload(_ context.Context, component string) error {
	b.reloaded = append(b.reloaded, component)
	if b.reloadErr != nil {
		return b.reloadErr
	}
	switch component {
	case pipeline.ComponentCatalog, pipeline.ComponentGate, pipeline.ComponentAll:
		return nil
	}
	return fmt.Errorf("%w: %q", pipeline.ErrUnknownComponent, component)
}

// --- helpers ---

func setupHandler(t *testing.T, token string) (http.Handler, *fakeBot) {
	t.Helper()
	bot := &fakeBot{}
	return NewHandler(Deps{Bot: bot, Token: token}), bot
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.MessageHandled()

	h := NewHandler(Deps{Bot: &fakeBot{}, Token: testToken, Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ocky_messages_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", rr.Body.String())
	}
}

func TestAuth(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodGet, "/stats", "", tt.token))
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	h, _ := setupHandler(t, "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/categories", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rr.Body.String())
	}
}

func TestPostMessage(t *testing.T) {
	h, bot := setupHandler(t, testToken)
	body := `{"id":"m1","text":"hello?","author_id":"alice","channel_id":"general","mentions":["ocky"],"timestamp":"2024-03-06T12:00:00Z"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/messages", body, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(bot.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(bot.messages))
	}
	got := bot.messages[0]
	if got.Text != "hello?" || got.ChannelID != "general" || len(got.Mentions) != 1 || got.Timestamp.IsZero() {
		t.Fatalf("message not decoded: %+v", got)
	}

	var out pipeline.Outcome
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decoding outcome: %v", err)
	}
	if out.Response == nil || out.Response.Ref != "bot-1" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestPostMessage_Invalid(t *testing.T) {
	h, bot := setupHandler(t, testToken)

	for _, body := range []string{`not json`, `{"text":"hi"}`} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/messages", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
	if len(bot.messages) != 0 {
		t.Fatalf("invalid messages reached the bot")
	}
}

func TestPostMessage_BotError(t *testing.T) {
	h, bot := setupHandler(t, testToken)
	bot.messageErr = errors.New("emit failed")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/messages", `{"id":"m1","channel_id":"c"}`, testToken))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestPostReaction(t *testing.T) {
	h, bot := setupHandler(t, testToken)
	body := `{"emoji":"👍","add":true,"user_id":"bob","message":{"id":"bot-1","author_id":"ocky"}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/reactions", body, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(bot.reactions) != 1 || !bot.reactions[0].Add || bot.reactions[0].Message.ID != "bot-1" {
		t.Fatalf("reaction not decoded: %+v", bot.reactions)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/reactions", `{"emoji":"👍"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without message id, got %d", rr.Code)
	}
}

func TestPostTrain(t *testing.T) {
	h, bot := setupHandler(t, testToken)
	bot.report = training.Report{Skipped: true, Reason: "insufficient training data"}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/train", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var r training.Report
	if err := json.NewDecoder(rr.Body).Decode(&r); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if !r.Skipped {
		t.Fatalf("expected skipped report, got %+v", r)
	}

	bot.trainErr = errors.New("disk full")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/train", "", testToken))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestAddResponse(t *testing.T) {
	h, bot := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/responses", `{"category":"greet","text":"yo","example_input":"hey"}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var res AddResponseResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if res.ID != catalog.NewResponseID("greet", "yo").String() {
		t.Fatalf("unexpected id %q", res.ID)
	}
	if bot.added[0].ExampleInput != "hey" {
		t.Fatalf("example input not passed: %+v", bot.added[0])
	}
}

func TestAddResponse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantType string
	}{
		{"missing text", `{"category":"greet"}`, nil, http.StatusBadRequest, "invalid_request_error"},
		{"unknown category", `{"category":"x","text":"y"}`, catalog.ErrUnknownCategory, http.StatusNotFound, "not_found_error"},
		{"duplicate", `{"category":"greet","text":"y"}`, catalog.ErrDuplicateResponse, http.StatusConflict, "conflict_error"},
		{"other", `{"category":"greet","text":"y"}`, errors.New("disk"), http.StatusInternalServerError, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, bot := setupHandler(t, testToken)
			bot.addErr = tt.err
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodPost, "/responses", tt.body, testToken))
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			if got := errorType(t, rr); got != tt.wantType {
				t.Fatalf("expected error type %q, got %q", tt.wantType, got)
			}
		})
	}
}

func TestReload(t *testing.T) {
	h, bot := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/reload/catalog", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(bot.reloaded) != 1 || bot.reloaded[0] != "catalog" {
		t.Fatalf("unexpected reloads: %v", bot.reloaded)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/reload/everything", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	bot.reloadErr = errors.New("catalog file missing")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/reload/all", "", testToken))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestStatsAndCategories(t *testing.T) {
	h, bot := setupHandler(t, testToken)
	bot.categories = []catalog.CategoryInfo{{Name: "greet", Count: 2, ExampleInput: "hello"}}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/categories", "", testToken))
	var cats []catalog.CategoryInfo
	if err := json.NewDecoder(rr.Body).Decode(&cats); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(cats) != 1 || cats[0].Count != 2 {
		t.Fatalf("unexpected categories: %+v", cats)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/stats", "", testToken))
	var s pipeline.Stats
	if err := json.NewDecoder(rr.Body).Decode(&s); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if s.Responses != 3 || !s.GateTrained {
		t.Fatalf("unexpected stats: %+v", s)
	}
}
