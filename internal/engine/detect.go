package engine

import (
	"fmt"
	"net/url"
)

// DetectConfig holds parameters for backend detection.
type DetectConfig struct {
	OllamaBaseURL string
}

// Detect returns the embedding backend to use. Ollama is the only backend
// with a keep_alive control over model residency, so it is always chosen;
// the base URL must be an absolute http(s) URL.
func Detect(cfg DetectConfig) (Engine, error) {
	u, err := url.Parse(cfg.OllamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", cfg.OllamaBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama base url %q: want http(s)://host[:port]", cfg.OllamaBaseURL)
	}
	return NewOllamaEngine(cfg.OllamaBaseURL), nil
}
