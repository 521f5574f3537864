// Package config loads resolver configuration from a YAML file, with
// CLI flags layered on top to override individual fields. Grounded on
// the teacher's own flags-over-YAML config loader.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables the resolver needs at startup.
type Config struct {
	Listen struct {
		UDP string `yaml:"udp"`
		TCP string `yaml:"tcp"`
	} `yaml:"listen"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Resolver struct {
		RootHint      string        `yaml:"root_hint"`
		MaxIterations int           `yaml:"max_iterations"`
		MaxRecursion  int           `yaml:"max_recursion"`
		UseTCP        bool          `yaml:"use_tcp_upstream"`
		QueryTimeout  time.Duration `yaml:"query_timeout"`
	} `yaml:"resolver"`

	Server struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"server"`
}

// Default returns a Config populated with the resolver's documented
// defaults, suitable as a base before overlaying a file and flags.
func Default() Config {
	var c Config
	c.Listen.UDP = ":2053"
	c.Listen.TCP = ":2053"
	c.Metrics.Enabled = true
	c.Metrics.Addr = ":9153"
	c.Resolver.MaxIterations = 16
	c.Resolver.MaxRecursion = 8
	c.Resolver.QueryTimeout = 5 * time.Second
	c.Server.Workers = 64
	c.Server.QueueSize = 640
	return c
}

// Load reads path (if non-empty) and unmarshals it over a Default
// config, so a file only needs to specify the fields it overrides.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// Overlay applies non-zero-value flag overrides onto c. Called after
// Load so CLI flags win over the file.
func (c *Config) Overlay(udpAddr, tcpAddr, rootHint string, workers int) {
	if udpAddr != "" {
		c.Listen.UDP = udpAddr
	}
	if tcpAddr != "" {
		c.Listen.TCP = tcpAddr
	}
	if rootHint != "" {
		c.Resolver.RootHint = rootHint
	}
	if workers > 0 {
		c.Server.Workers = workers
	}
}
