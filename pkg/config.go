package pkg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrConfigPath    = errors.New("watched paths must be absolute")
	ErrConfigAddress = errors.New("address is required")
	ErrConfigTLS     = errors.New("tls needs both key and cert")
)

type JournalConfig struct {
	Size      int           `yaml:"size"`
	Retain    time.Duration `yaml:"retain"`
	BatchSize int32         `yaml:"batch"`
}

type ServerTLSConfig struct {
	Key  string `yaml:"key"`
	Cert string `yaml:"cert"`
}

type ServerConfig struct {
	Address     string          `yaml:"address"`
	TLS         ServerTLSConfig `yaml:"tls"`
	PwFile      string          `yaml:"pw_file"`
	QueueLength int             `yaml:"queue"`
}

type ClientConfig struct {
	Address  string `yaml:"address"`
	TLS      bool   `yaml:"tls"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Color  bool   `yaml:"color"`
	Prefix string `yaml:"prefix"`
}

type Config struct {
	Paths           []string      `yaml:"paths"`
	Ignore          []string      `yaml:"ignore"`
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`
	Journal         JournalConfig `yaml:"journal"`
	Log             LogConfig     `yaml:"log"`
	Client          ClientConfig  `yaml:"client"`
	Server          ServerConfig  `yaml:"server"`
}

// DefaultConfig is used when no configuration file exists.
func DefaultConfig() *Config {
	c := Config{Log: LogConfig{Color: true}}
	c.setDefaults()
	return &c
}

func ReadConfig(file string) (*Config, error) {
	yfile, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	c := Config{Log: LogConfig{Color: true}}
	err = yaml.Unmarshal(yfile, &c)
	if err != nil {
		return nil, err
	}

	c.setDefaults()
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = 5 * time.Second
	}
	if c.Journal.Size <= 0 {
		c.Journal.Size = 4096
	}
	if c.Journal.Retain <= 0 {
		c.Journal.Retain = time.Second
	}
	if c.Journal.BatchSize <= 0 {
		c.Journal.BatchSize = 256
	}
	if c.Server.Address == "" {
		c.Server.Address = "localhost:12001"
	}
	if c.Server.QueueLength <= 0 {
		c.Server.QueueLength = 256
	}
	if c.Client.Address == "" {
		c.Client.Address = c.Server.Address
	}
	if c.Log.Prefix == "" {
		c.Log.Prefix = "fsmonitor --> "
	}
}

// Validate checks the parts every command relies on.
func (c *Config) Validate() error {
	for _, p := range c.Paths {
		if !filepath.IsAbs(p) {
			return errors.Join(ErrConfigPath, fmt.Errorf("%q", p))
		}
	}
	if (c.Server.TLS.Key == "") != (c.Server.TLS.Cert == "") {
		return ErrConfigTLS
	}
	if c.Server.Address == "" || c.Client.Address == "" {
		return ErrConfigAddress
	}
	return nil
}
