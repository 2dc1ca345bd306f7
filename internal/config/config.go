package config

import (
	"fmt"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Catalog  CatalogConfig
	Bot      BotConfig
	Choice   ChoiceConfig
	Training TrainingConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	// APIToken guards the HTTP API. Secret: environment only.
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	// KeepAlive is passed to Ollama with every embed request.
	KeepAlive string
}

type StorageConfig struct {
	DataDir string
}

type CatalogConfig struct {
	// Path of the response catalog file. Empty means responses.yaml in the data dir.
	Path string
}

type BotConfig struct {
	// ID is the bot's own user id on the chat platform.
	ID              string
	ObservationMode bool
	Threshold       float64
	// Channel restricts responses to one channel; empty allows all.
	Channel       string
	RequestEmoji  string
	ForcefulEmoji string
	// WebhookURL receives emitted responses; empty only logs them.
	WebhookURL string
}

type ChoiceConfig struct {
	Randomness float64
	// Seed for the exploration noise; 0 seeds from the clock.
	Seed int
}

type TrainingConfig struct {
	LearningRate float64
	MinExamples  int
	Interval     string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "paraphrase-multilingual",
			KeepAlive:  "5m",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Bot: BotConfig{
			Threshold:     0.5,
			RequestEmoji:  "🗣️",
			ForcefulEmoji: "📣",
		},
		Choice: ChoiceConfig{
			Randomness: 0.05,
		},
		Training: TrainingConfig{
			LearningRate: 0.1,
			MinExamples:  10,
			Interval:     "1h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// CatalogPath returns the response catalog file location.
func (c Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.Storage.DataDir, "responses.yaml")
}

// TrainingInterval parses Training.Interval.
func (c Config) TrainingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Training.Interval)
	return d
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.ocky.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/ocky/config.json.
//
// Environment variables (OCKY_*) override backend values on all platforms.
// Secrets such as the API token are read from the environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Bot.Threshold <= 0 || cfg.Bot.Threshold >= 1 {
		return fmt.Errorf("invalid config: bot.threshold %v must be between 0 and 1", cfg.Bot.Threshold)
	}
	if cfg.Choice.Randomness < 0 {
		return fmt.Errorf("invalid config: choice.randomness %v must not be negative", cfg.Choice.Randomness)
	}
	if cfg.Training.LearningRate <= 0 {
		return fmt.Errorf("invalid config: training.learning_rate %v must be positive", cfg.Training.LearningRate)
	}
	if cfg.Training.MinExamples < 1 {
		return fmt.Errorf("invalid config: training.min_examples %d must be at least 1", cfg.Training.MinExamples)
	}
	if d, err := time.ParseDuration(cfg.Training.Interval); err != nil || d <= 0 {
		return fmt.Errorf("invalid config: training.interval %q is not a positive duration", cfg.Training.Interval)
	}
	return nil
}
