package typesense

import (
	"fmt"
	"strings"
	"time"

	"github.com/typesense/typesense-go/typesense"
)

// Config holds Typesense configuration
type Config struct {
	ServerURL         string        `yaml:"server_url" mapstructure:"server_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	Collection        string        `yaml:"collection" mapstructure:"collection"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" mapstructure:"connection_timeout"`
}

// DefaultConfig returns default Typesense configuration
func DefaultConfig() *Config {
	return &Config{
		Collection:        "data_assets",
		ConnectionTimeout: 5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.Collection == "" {
		c.Collection = "data_assets"
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	return nil
}

// NewClient creates a new Typesense client with the given configuration
func NewClient(config *Config) (*typesense.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := typesense.NewClient(
		typesense.WithServer(config.ServerURL),
		typesense.WithAPIKey(config.APIKey),
		typesense.WithConnectionTimeout(config.ConnectionTimeout),
	)

	return client, nil
}

// Typesense reports HTTP failures only through the error text.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}

func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "409")
}
