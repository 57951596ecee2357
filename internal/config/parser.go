package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xroad-catalogue/collector/internal/xroad"
	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

const (
	defaultTimeoutSeconds = 5.0
	defaultThreadCount    = 1
)

// ParseConfig loads a configuration file from disk, applies defaults,
// validates it, and returns the resulting model. JSON files parse too,
// being a YAML subset.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewValidationError("config", "cannot read configuration file "+path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.NewParseError(path, err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeoutSeconds
	}
	if cfg.ThreadCount < 1 {
		cfg.ThreadCount = defaultThreadCount
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ClientID returns the caller identity assembled from the client parts.
func (c *Config) ClientID() xroad.ClientID {
	id := xroad.ClientID{
		Instance:    c.Client[0],
		MemberClass: c.Client[1],
		MemberCode:  c.Client[2],
	}
	if len(c.Client) == 4 {
		id.SubsystemCode = c.Client[3]
	}
	return id
}

// TimeoutDuration returns the per-call deadline as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout * float64(time.Second))
}

// ReplacePairs returns the normalization rules as raw pairs.
func (c *Config) ReplacePairs() [][2]string {
	pairs := make([][2]string, 0, len(c.WSDLReplaces))
	for _, rule := range c.WSDLReplaces {
		pairs = append(pairs, [2]string{rule.Pattern, rule.Replacement})
	}
	return pairs
}
