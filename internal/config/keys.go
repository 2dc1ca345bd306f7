package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "OCKY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "OCKY_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.api_token", typ: kString, env: "OCKY_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "OCKY_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "OCKY_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.keep_alive", typ: kString, env: "OCKY_OLLAMA_KEEP_ALIVE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.KeepAlive = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.KeepAlive },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OCKY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "catalog.path", typ: kString, env: "OCKY_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Path },
	},
	{
		key: "bot.id", typ: kString, env: "OCKY_BOT_ID",
		apply:   func(cfg *Config, v any) { cfg.Bot.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.ID },
	},
	{
		key: "bot.observation_mode", typ: kBool, env: "OCKY_BOT_OBSERVATION_MODE",
		apply:   func(cfg *Config, v any) { cfg.Bot.ObservationMode = v.(bool) },
		extract: func(cfg Config) any { return cfg.Bot.ObservationMode },
	},
	{
		key: "bot.threshold", typ: kFloat, env: "OCKY_BOT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Bot.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Bot.Threshold },
	},
	{
		key: "bot.channel", typ: kString, env: "OCKY_BOT_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Bot.Channel = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.Channel },
	},
	{
		key: "bot.request_emoji", typ: kString, env: "OCKY_BOT_REQUEST_EMOJI",
		apply:   func(cfg *Config, v any) { cfg.Bot.RequestEmoji = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.RequestEmoji },
	},
	{
		key: "bot.forceful_emoji", typ: kString, env: "OCKY_BOT_FORCEFUL_EMOJI",
		apply:   func(cfg *Config, v any) { cfg.Bot.ForcefulEmoji = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.ForcefulEmoji },
	},
	{
		key: "bot.webhook_url", typ: kString, env: "OCKY_BOT_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Bot.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.WebhookURL },
	},
	{
		key: "choice.randomness", typ: kFloat, env: "OCKY_CHOICE_RANDOMNESS",
		apply:   func(cfg *Config, v any) { cfg.Choice.Randomness = v.(float64) },
		extract: func(cfg Config) any { return cfg.Choice.Randomness },
	},
	{
		key: "choice.seed", typ: kInt, env: "OCKY_CHOICE_SEED",
		apply:   func(cfg *Config, v any) { cfg.Choice.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Choice.Seed },
	},
	{
		key: "training.learning_rate", typ: kFloat, env: "OCKY_TRAINING_LEARNING_RATE",
		apply:   func(cfg *Config, v any) { cfg.Training.LearningRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Training.LearningRate },
	},
	{
		key: "training.min_examples", typ: kInt, env: "OCKY_TRAINING_MIN_EXAMPLES",
		apply:   func(cfg *Config, v any) { cfg.Training.MinExamples = v.(int) },
		extract: func(cfg Config) any { return cfg.Training.MinExamples },
	},
	{
		key: "training.interval", typ: kString, env: "OCKY_TRAINING_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Training.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Training.Interval },
	},
	{
		key: "log.level", typ: kString, env: "OCKY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetBool(s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] config key %s: %v. Using default value.\n", s.key, err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] config key %s: %v. Using default value.\n", s.key, err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
