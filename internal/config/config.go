// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail bridge.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/shineum/mailbridge/internal/provider/graph"
)

// Provider names accepted by the provider key.
const (
	ProviderGraph  = "msgraph"
	ProviderSES    = "ses"
	ProviderStdout = "stdout"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery service. Empty picks the first
	// fully configured one, falling back to stdout.
	Provider  string          `yaml:"provider"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Graph     GraphConfig     `yaml:"graph"`
	SES       SESConfig       `yaml:"ses"`
	Transport TransportConfig `yaml:"transport"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string        `yaml:"tenant_id"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Sender       string        `yaml:"sender"`
	HeaderMerge  string        `yaml:"header_merge"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SESConfig holds AWS SES configuration. Empty keys fall back to the
// default AWS credential chain.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// TransportConfig holds send behaviour shared by all providers.
type TransportConfig struct {
	// SaveCopy stores sent messages in the sender's Sent Items folder.
	SaveCopy bool `yaml:"save_copy"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := defaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file layered over the
// defaults, then overrides with environment variables. Returns an error if
// the specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", ProviderGraph, ProviderSES, ProviderStdout:
	default:
		return fmt.Errorf("unknown provider %q (want %s, %s or %s)", c.Provider, ProviderGraph, ProviderSES, ProviderStdout)
	}

	if _, err := graph.ParseHeaderMerge(c.Graph.HeaderMerge); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "json", "logfmt", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.SMTP.MaxMessageSize <= 0 {
		return fmt.Errorf("smtp.max_message_size must be positive, got %d", c.SMTP.MaxMessageSize)
	}

	switch c.ResolvedProvider() {
	case ProviderGraph:
		if !c.GraphConfigured() {
			return fmt.Errorf("provider %s requires graph.tenant_id, client_id, client_secret and sender", ProviderGraph)
		}
	case ProviderSES:
		if !c.SESConfigured() {
			return fmt.Errorf("provider %s requires ses.region and ses.sender", ProviderSES)
		}
	}

	return nil
}

// ResolvedProvider returns the provider to use. An explicit choice wins;
// otherwise Graph, then SES, is used when fully configured, and stdout
// when neither is.
func (c *Config) ResolvedProvider() string {
	switch {
	case c.Provider != "":
		return c.Provider
	case c.GraphConfigured():
		return ProviderGraph
	case c.SESConfigured():
		return ProviderSES
	default:
		return ProviderStdout
	}
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

func defaults() *Config {
	return &Config{
		SMTP: SMTPConfig{
			Listen:         ":2525",
			Hostname:       "localhost",
			MaxMessageSize: defaultMaxMessageSize,
		},
		Graph: GraphConfig{
			HeaderMerge: string(graph.HeaderMergeJoin),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString(&c.Provider, "PROVIDER", strings.ToLower)

	setString(&c.SMTP.Listen, "SMTP_LISTEN", nil)
	setString(&c.SMTP.Hostname, "SMTP_HOSTNAME", nil)
	setString(&c.SMTP.Username, "SMTP_USERNAME", nil)
	setString(&c.SMTP.Password, "SMTP_PASSWORD", nil)
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SMTP_MAX_MESSAGE_SIZE %q: %w", v, err)
		}
		c.SMTP.MaxMessageSize = size
	}

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID", nil)
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID", nil)
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET", nil)
	setString(&c.Graph.Sender, "GRAPH_SENDER", nil)
	setString(&c.Graph.HeaderMerge, "GRAPH_HEADER_MERGE", strings.ToLower)
	if v := os.Getenv("GRAPH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GRAPH_TIMEOUT %q: %w", v, err)
		}
		c.Graph.Timeout = d
	}

	setString(&c.SES.Region, "SES_REGION", nil)
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID", nil)
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY", nil)
	setString(&c.SES.Sender, "SES_SENDER", nil)

	if v := os.Getenv("SEND_AND_SAVE_COPY"); v != "" {
		saveCopy, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SEND_AND_SAVE_COPY %q: %w", v, err)
		}
		c.Transport.SaveCopy = saveCopy
	}

	setString(&c.TLS.CertFile, "TLS_CERT_FILE", nil)
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE", nil)

	setString(&c.Logging.Level, "LOG_LEVEL", strings.ToLower)
	setString(&c.Logging.Format, "LOG_FORMAT", strings.ToLower)

	return nil
}

func setString(dst *string, env string, normalize func(string) string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if normalize != nil {
		v = normalize(v)
	}
	*dst = v
}
