package engine

import "testing"

func TestDetect_ReturnsOllama(t *testing.T) {
	e, err := Detect(DetectConfig{OllamaBaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect returned %T, want *OllamaEngine", e)
	}
}

func TestDetect_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:11434", "ftp://host", "http://", "http://%zz"} {
		if _, err := Detect(DetectConfig{OllamaBaseURL: raw}); err == nil {
			t.Errorf("Detect(%q) succeeded, want error", raw)
		}
	}
}
