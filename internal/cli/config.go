package cli

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host         string        `yaml:"host"`
	Port         uint16        `yaml:"port"`
	MaxBodySize  uint32        `yaml:"max_body_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	DialAttempts int           `yaml:"dial_attempts"`
	Echo         bool          `yaml:"echo"`
	Quiet        bool          `yaml:"quiet"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         60000,
		DialTimeout:  5 * time.Second,
		DialAttempts: 3,
	}
}

// LoadConfig reads the YAML file at path over the defaults. An empty path or
// a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
