package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// LoadScheduler reads scheduler options from a YAML file on top of the defaults.
// An empty path yields the defaults.
func LoadScheduler(path string) (domain.SchedulerConfig, error) {
	cfg := domain.DefaultSchedulerConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read scheduler config: %w", err)
	}
	return ParseScheduler(b)
}

// ParseScheduler decodes YAML over the defaults, rejecting unknown keys.
func ParseScheduler(data []byte) (domain.SchedulerConfig, error) {
	cfg := domain.DefaultSchedulerConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode scheduler config: %w", err)
	}

	if err := ValidateScheduler(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ValidateScheduler(cfg domain.SchedulerConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	return nil
}
