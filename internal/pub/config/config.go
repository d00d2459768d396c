// Package config loads producer options from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"pulsarpub/internal/pub"
	"pulsarpub/internal/pub/compression"
)

// Options configures a producer.
type Options struct {
	Topic       string `env:"PULSAR_TOPIC" envDefault:"persistent://public/default/orders" yaml:"topic"`
	Partitions  int    `env:"PULSAR_PARTITIONS" envDefault:"1" yaml:"partitions"`
	Compression string `env:"PULSAR_COMPRESSION" envDefault:"none" yaml:"compression"`
	// AckTimeout bounds how long Wait blocks for a pending acknowledgment.
	// Zero waits indefinitely.
	AckTimeout        time.Duration `env:"PULSAR_ACK_TIMEOUT" envDefault:"0s" yaml:"ackTimeout"`
	InitialSequenceID uint64        `env:"PULSAR_INITIAL_SEQUENCE_ID" envDefault:"0" yaml:"initialSequenceID"`
}

// Load reads the defaults and PULSAR_* environment variables, then overlays
// the YAML file at path when path is not empty.
func Load(path string) (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if path == "" {
		return opts, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &opts); err != nil {
		return Options{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return opts, nil
}

// Validate reports the first invalid option as a *pub.ConfigurationError.
func (o Options) Validate() error {
	switch {
	case strings.TrimSpace(o.Topic) == "":
		return &pub.ConfigurationError{Field: "topic", Err: errors.New("must not be empty")}
	case o.Partitions < 1:
		return &pub.ConfigurationError{Field: "partitions", Err: fmt.Errorf("must be at least 1, got %d", o.Partitions)}
	case o.AckTimeout < 0:
		return &pub.ConfigurationError{Field: "ackTimeout", Err: fmt.Errorf("must not be negative, got %s", o.AckTimeout)}
	}

	if _, err := compression.New(o.Compression); err != nil {
		return &pub.ConfigurationError{Field: "compression", Err: err}
	}

	return nil
}
