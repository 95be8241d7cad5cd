// Package config provides environment-variable-first configuration loading
// with an optional YAML or legacy JSON file as the base layer.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-mailer-lite/internal/email"
	"github.com/shineum/smtp-mailer-lite/internal/smtp"
	mailtls "github.com/shineum/smtp-mailer-lite/internal/tls"
)

const (
	defaultPort       = 587
	defaultEncryption = "tls"
	defaultLogLevel   = "info"
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the transport: smtp, ses or stdout. Empty means
	// smtp when a host is configured, ses when a region is, stdout otherwise.
	Provider string         `yaml:"provider"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Defaults DefaultsConfig `yaml:"defaults"`
	SES      SESConfig      `yaml:"ses"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SMTPConfig holds the SMTP server connection settings.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Encryption         string        `yaml:"encryption"`
	LocalName          string        `yaml:"local_name"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
}

// DefaultsConfig holds values applied to messages that leave them empty.
// Recipients and attachments are used by the command-line runner.
type DefaultsConfig struct {
	From        string      `yaml:"from"`
	FromName    string      `yaml:"from_name"`
	To          AddressList `yaml:"to"`
	Cc          AddressList `yaml:"cc"`
	Bcc         AddressList `yaml:"bcc"`
	Subject     string      `yaml:"subject"`
	Body        string      `yaml:"body"`
	Attachments []string    `yaml:"attachments"`
}

// SESConfig holds AWS SES v2 settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AddressList is a list of addresses written either as a YAML sequence or as
// one comma-separated string. Empty entries are dropped.
type AddressList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *AddressList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = splitList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = nil
		for _, item := range items {
			*l = append(*l, splitList(item)...)
		}
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of addresses", node.Line)
	}
}

// legacyConfig is the flat smtp_config.json record.
type legacyConfig struct {
	Host        string      `yaml:"host"`
	Port        int         `yaml:"port"`
	Username    string      `yaml:"username"`
	Password    string      `yaml:"password"`
	Encryption  *string     `yaml:"encryption"`
	FromEmail   string      `yaml:"from_email"`
	FromName    string      `yaml:"from_name"`
	To          AddressList `yaml:"to"`
	Cc          AddressList `yaml:"cc"`
	Bcc         AddressList `yaml:"bcc"`
	Subject     string      `yaml:"subject"`
	Body        string      `yaml:"body"`
	Attachments []string    `yaml:"attachments"`
}

// Load loads configuration from the environment with sensible defaults.
// A .env file in the working directory is read first when present; it never
// replaces variables that are already set.
func Load() (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer, then
// overrides with environment variables. Both the nested layout and the flat
// legacy JSON layout are accepted. Returns an error if the file does not
// exist.
func LoadFromFile(path string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var legacy legacyConfig
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyLegacy(&legacy)

	// Environment variables always override file values
	cfg.applyEnvVars()

	return cfg, nil
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate rejects values that would only fail later at send time.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", "smtp", "ses", "stdout":
	default:
		return fmt.Errorf("unknown provider %q (want smtp, ses or stdout)", c.Provider)
	}

	if _, err := smtp.ParseEncryption(c.SMTP.Encryption); err != nil {
		return err
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid SMTP port %d", c.SMTP.Port)
	}
	if c.SMTP.ConnectTimeout < 0 || c.SMTP.CommandTimeout < 0 {
		return fmt.Errorf("SMTP timeouts must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Provider == "smtp" && !c.SMTPConfigured() {
		return fmt.Errorf("provider smtp requires SMTP_HOST")
	}
	if c.Provider == "ses" && !c.SESConfigured() {
		return fmt.Errorf("provider ses requires SES_REGION")
	}
	return nil
}

// SMTPConfigured returns true if an SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// SMTPClientConfig converts the SMTP settings for the client session.
func (c *Config) SMTPClientConfig() (smtp.Config, error) {
	enc, err := smtp.ParseEncryption(c.SMTP.Encryption)
	if err != nil {
		return smtp.Config{}, err
	}
	return smtp.Config{
		Host:           c.SMTP.Host,
		Port:           c.SMTP.Port,
		Username:       c.SMTP.Username,
		Password:       c.SMTP.Password,
		Encryption:     enc,
		LocalName:      c.SMTP.LocalName,
		TLSConfig:      mailtls.ClientConfig(c.SMTP.Host, c.SMTP.InsecureSkipVerify, nil),
		ConnectTimeout: c.SMTP.ConnectTimeout,
		CommandTimeout: c.SMTP.CommandTimeout,
	}, nil
}

// MailDefaults returns the sender, subject and body defaults for the mailer.
func (c *Config) MailDefaults() email.Defaults {
	return email.Defaults{
		From:     c.Defaults.From,
		FromName: c.Defaults.FromName,
		Subject:  c.Defaults.Subject,
		Body:     c.Defaults.Body,
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = defaultPort
	c.SMTP.Encryption = defaultEncryption
	c.SMTP.ConnectTimeout = smtp.DefaultConnectTimeout
	c.Logging.Level = defaultLogLevel
}

// applyLegacy copies the set fields of a flat legacy record.
func (c *Config) applyLegacy(l *legacyConfig) {
	setString(&c.SMTP.Host, l.Host)
	if l.Port != 0 {
		c.SMTP.Port = l.Port
	}
	setString(&c.SMTP.Username, l.Username)
	setString(&c.SMTP.Password, l.Password)
	if l.Encryption != nil {
		c.SMTP.Encryption = *l.Encryption
	}
	setString(&c.Defaults.From, l.FromEmail)
	setString(&c.Defaults.FromName, l.FromName)
	setList(&c.Defaults.To, l.To)
	setList(&c.Defaults.Cc, l.Cc)
	setList(&c.Defaults.Bcc, l.Bcc)
	setString(&c.Defaults.Subject, l.Subject)
	setString(&c.Defaults.Body, l.Body)
	if len(l.Attachments) > 0 {
		c.Defaults.Attachments = l.Attachments
	}
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SMTP.Host, os.Getenv("SMTP_HOST"))
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	setString(&c.SMTP.Username, os.Getenv("SMTP_USERNAME"))
	setString(&c.SMTP.Password, os.Getenv("SMTP_PASSWORD"))
	setString(&c.SMTP.Encryption, os.Getenv("SMTP_ENCRYPTION"))
	setString(&c.SMTP.LocalName, os.Getenv("SMTP_LOCAL_NAME"))
	if v := os.Getenv("SMTP_INSECURE_SKIP_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SMTP.InsecureSkipVerify = b
		}
	}
	setDuration(&c.SMTP.ConnectTimeout, os.Getenv("SMTP_CONNECT_TIMEOUT"))
	setDuration(&c.SMTP.CommandTimeout, os.Getenv("SMTP_COMMAND_TIMEOUT"))

	setString(&c.Defaults.From, os.Getenv("MAIL_FROM"))
	setString(&c.Defaults.FromName, os.Getenv("MAIL_FROM_NAME"))
	setList(&c.Defaults.To, splitList(os.Getenv("MAIL_TO")))
	setList(&c.Defaults.Cc, splitList(os.Getenv("MAIL_CC")))
	setList(&c.Defaults.Bcc, splitList(os.Getenv("MAIL_BCC")))
	setString(&c.Defaults.Subject, os.Getenv("MAIL_SUBJECT"))
	setString(&c.Defaults.Body, os.Getenv("MAIL_BODY"))

	setString(&c.SES.Region, os.Getenv("SES_REGION"))
	setString(&c.SES.AccessKeyID, os.Getenv("SES_ACCESS_KEY_ID"))
	setString(&c.SES.SecretAccessKey, os.Getenv("SES_SECRET_ACCESS_KEY"))
	setString(&c.SES.Sender, os.Getenv("SES_SENDER"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setList(dst *AddressList, v []string) {
	if len(v) > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
