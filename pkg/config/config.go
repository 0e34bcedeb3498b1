// Package config loads training settings for mkmerges.
//
// Values are layered: built-in defaults, then an optional YAML file, then the
// environment (BPE_* variables, including any found in a .env file).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of one training run.
type Config struct {
	VocabSize     int      `yaml:"vocab_size"`
	SpecialTokens []string `yaml:"special_tokens"`
	Workers       int      `yaml:"workers"`
	ProgressEvery int      `yaml:"progress_every"`
	InputFormat   string   `yaml:"input_format"`
	OutputFormat  string   `yaml:"output_format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		VocabSize:     512,
		ProgressEvery: 100,
		InputFormat:   "b64",
		OutputFormat:  "text",
	}
}

// NumSpecial is the number of vocabulary slots reserved for special tokens.
func (c *Config) NumSpecial() int {
	return len(c.SpecialTokens)
}

// Validate rejects settings the trainer cannot use.
func (c *Config) Validate() error {
	if c.VocabSize < 0 {
		return errors.Errorf("vocab_size must not be negative, got %d", c.VocabSize)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.ProgressEvery < 0 {
		return errors.Errorf("progress_every must not be negative, got %d", c.ProgressEvery)
	}
	switch c.InputFormat {
	case "b64", "quoted":
	default:
		return errors.Errorf("unknown input_format %q", c.InputFormat)
	}
	switch c.OutputFormat {
	case "text", "go":
	default:
		return errors.Errorf("unknown output_format %q", c.OutputFormat)
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	if dir, err := os.Getwd(); err == nil {
		if err := loadEnvFile(dir); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"BPE_VOCAB_SIZE", &c.VocabSize},
		{"BPE_WORKERS", &c.Workers},
		{"BPE_PROGRESS_EVERY", &c.ProgressEvery},
	}
	for _, v := range ints {
		s := os.Getenv(v.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.Errorf("%s: invalid integer %q", v.name, s)
		}
		*v.dst = n
	}

	if s := os.Getenv("BPE_SPECIAL_TOKENS"); s != "" {
		c.SpecialTokens = strings.Split(s, ",")
	}
	if s := os.Getenv("BPE_INPUT_FORMAT"); s != "" {
		c.InputFormat = s
	}
	if s := os.Getenv("BPE_OUTPUT_FORMAT"); s != "" {
		c.OutputFormat = s
	}
	return nil
}

// loadEnvFile looks for a .env file in dir and up to four of its parents.
// Variables already set in the environment win over the file. Finding no file
// is not an error; a file godotenv cannot parse is.
func loadEnvFile(dir string) error {
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return errors.Wrapf(godotenv.Load(envPath), "loading %s", envPath)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil
}
