// Package config loads the enforcer configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Duration parses YAML values like "30s" or "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the top level configuration.
type Config struct {
	Enforcer  Enforcer  `yaml:"enforcer"`
	Auth      Auth      `yaml:"auth"`
	Publisher Publisher `yaml:"publisher"`
}

// Enforcer configures the listeners and response behavior.
type Enforcer struct {
	ListenAddress  string `yaml:"listenAddress"`
	MetricsAddress string `yaml:"metricsAddress"`
	// SOAPErrorsEnabled renders denials as SOAP faults for SOAP callers.
	SOAPErrorsEnabled bool `yaml:"soapErrorsEnabled"`
}

// Issuer is one trusted token issuer.
type Issuer struct {
	Issuer          string   `yaml:"issuer"`
	JWKSURL         string   `yaml:"jwksURL"`
	RefreshInterval Duration `yaml:"refreshInterval"`
}

// Auth configures token validation.
type Auth struct {
	Issuers   []Issuer `yaml:"issuers"`
	CacheSize int      `yaml:"cacheSize"`
	CacheTTL  Duration `yaml:"cacheTTL"`
	ClockSkew Duration `yaml:"clockSkew"`
}

// Publisher configures usage event delivery.
type Publisher struct {
	Enabled            bool     `yaml:"enabled"`
	ReceiverURLs       []string `yaml:"receiverURLs"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	MaxConcurrency     int      `yaml:"maxConcurrency"`
	QueueSize          int      `yaml:"queueSize"`
	QueueTimeout       Duration `yaml:"queueTimeout"`
	SecurePoolCapacity int      `yaml:"securePoolCapacity"`
	IdleTimeout        Duration `yaml:"idleTimeout"`
}

// EnvConfigPath overrides the configuration file location.
const EnvConfigPath = "ENFORCER_CONFIG"

// Load reads the configuration file. The ENFORCER_CONFIG environment
// variable wins over the path argument.
func Load(path string) (*Config, error) {
	if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}
	c := defaults()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(b, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

func defaults() *Config {
	return &Config{
		Enforcer: Enforcer{
			ListenAddress:  ":8081",
			MetricsAddress: ":9095",
		},
		Auth: Auth{
			CacheSize: 10000,
			CacheTTL:  Duration(15 * time.Minute),
			ClockSkew: Duration(5 * time.Second),
		},
		Publisher: Publisher{
			MaxConcurrency:     10,
			QueueSize:          1000,
			QueueTimeout:       Duration(10 * time.Second),
			SecurePoolCapacity: 10,
			IdleTimeout:        Duration(5 * time.Minute),
		},
	}
}
