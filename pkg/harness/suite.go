package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Suite is a YAML file selecting scenarios and overriding run settings:
//
//	image: sftpbox:ci
//	engine: podman
//	ready_timeout: 90s
//	run: "Users.*"
//	skip_privileged: true
//	scenarios:
//	  - MinimalContainerStart
type Suite struct {
	Image          string        `yaml:"image"`
	Engine         string        `yaml:"engine"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	Run            string        `yaml:"run"`
	SkipPrivileged bool          `yaml:"skip_privileged"`
	KeepFailed     bool          `yaml:"keep_failed"`
	Scenarios      []string      `yaml:"scenarios"`
}

// ParseSuite decodes a suite, rejecting unknown fields.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	return &s, nil
}

func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	return ParseSuite(data)
}

// Apply overrides settings with the suite's non-empty values.
func (s *Suite) Apply(settings Settings) Settings {
	if s.Image != "" {
		settings.Image = s.Image
	}
	if s.ReadyTimeout > 0 {
		settings.ReadyTimeout = s.ReadyTimeout
	}
	return settings
}

// Select picks the suite's scenarios from the catalog.
func (s *Suite) Select(catalog []Scenario) ([]Scenario, error) {
	return Select(catalog, s.Run, s.Scenarios...)
}
