// Package config holds the benchmark run configuration and its YAML loader.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5s" decode cleanly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config describes a benchmark session: which producer counts to sweep,
// the queue capacity, how long each run lasts and where results go.
type Config struct {
	// ProducerCounts is the sweep of concurrent producer counts. The
	// consumer side is always a single goroutine.
	ProducerCounts []int `yaml:"producer_counts"`

	// QueueCapacity is the requested capacity passed to the queue
	// constructors. Implementations may round it up.
	QueueCapacity uint64 `yaml:"queue_capacity"`

	// RunDuration is how long each timed run lasts.
	RunDuration Duration `yaml:"run_duration"`

	// Iterations is how many times each producer-count setting is repeated.
	Iterations int `yaml:"iterations"`

	// ResultsFile is where JSON sessions are appended.
	ResultsFile string `yaml:"results_file"`
}

// Default returns the built-in sweep used when no config file is given.
func Default() Config {
	return Config{
		ProducerCounts: []int{1, 2, 4, 8, 16, 32},
		QueueCapacity:  1024,
		RunDuration:    Duration(5 * time.Second),
		Iterations:     5,
		ResultsFile:    "test-results.json",
	}
}

// Load reads a YAML file and overlays it on the defaults, so a config file
// only needs to mention the fields it changes.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config file %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config file %q", path)
	}
	if err := cfg.validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config file %q", path)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.ProducerCounts) == 0 {
		return errors.New("producer_counts must not be empty")
	}
	for _, n := range c.ProducerCounts {
		if n < 1 {
			return errors.Errorf("producer_counts entries must be >= 1, got %d", n)
		}
	}
	if c.RunDuration <= 0 {
		return errors.Errorf("run_duration must be positive, got %v", time.Duration(c.RunDuration))
	}
	if c.Iterations < 1 {
		return errors.Errorf("iterations must be >= 1, got %d", c.Iterations)
	}
	if c.ResultsFile == "" {
		return errors.New("results_file must not be empty")
	}
	return nil
}
