package config

import (
	"fmt"
	"strconv"
)

// KeyInfo describes one settable key as `ocky config show` prints it.
type KeyInfo struct {
	Key     string
	EnvVar  string
	Value   string
	Default string
}

// Changed reports whether the effective value differs from the built-in default.
func (k KeyInfo) Changed() bool { return k.Value != k.Default }

// ShowAll lists every non-secret key with its effective and default value.
func ShowAll(cfg Config) []KeyInfo {
	def := defaults()
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   fmt.Sprint(s.extract(cfg)),
			Default: fmt.Sprint(s.extract(def)),
		})
	}
	return result
}

// SetKey validates value for key and persists it in the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

// UnsetKey removes a persisted value so key falls back to its default.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}

	// Apply to a scratch config so range checks run before anything is written.
	cfg := defaults()
	var write func() error
	switch s.typ {
	case kString:
		s.apply(&cfg, value)
		write = func() error { return b.SetString(key, value) }
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		s.apply(&cfg, i)
		write = func() error { return b.SetInt(key, i) }
	case kBool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value for %s: %w", key, err)
		}
		s.apply(&cfg, v)
		write = func() error { return b.SetBool(key, v) }
	case kFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", key, err)
		}
		s.apply(&cfg, f)
		write = func() error { return b.SetFloat(key, f) }
	}
	if err := validate(cfg); err != nil {
		return err
	}
	return write()
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the names of all keys `ocky config set` accepts.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
