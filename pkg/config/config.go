// Package config loads textrelay configuration from a YAML file with
// environment variable fallbacks for secrets and deployment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default inactivity gaps. The mail gap is reserved; the email strategy is
// equality-based and does not enforce it.
const (
	DefaultChatGapMillis = 86_400_000
	DefaultMailGapMillis = 604_800_000
)

// Config represents the application configuration
type Config struct {
	// HTTP
	Port int `yaml:"port"`

	// Session continuity
	Session SessionConfig `yaml:"session"`

	// Downstream query API
	Query QueryConfig `yaml:"query"`

	// Channels
	Twilio TwilioConfig `yaml:"twilio"`
	Gmail  GmailConfig  `yaml:"gmail"`
}

// SessionConfig holds session store and strategy configuration.
type SessionConfig struct {
	// Store specifies the storage backend type.
	// Options: "memory", "redis", "dynamodb", "firestore"
	// Default: "memory"
	Store string `yaml:"store"`

	// ChatGapMillis is the SMS/WhatsApp inactivity gap in milliseconds.
	// Default: 86400000 (24h).
	ChatGapMillis int64 `yaml:"chat_gap_ms"`

	// MailGapMillis is reserved for time-based email expiry.
	// Default: 604800000 (7d). Not enforced by the email strategy.
	MailGapMillis int64 `yaml:"mail_gap_ms"`

	// Redis backend settings.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// DynamoDB backend settings.
	DynamoTable string `yaml:"dynamo_table"`
	AWSRegion   string `yaml:"aws_region"`

	// Firestore backend settings.
	GCPProject          string `yaml:"gcp_project"`
	GCPCredentials      string `yaml:"gcp_credentials"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

// ChatGap returns the chat inactivity gap as a duration.
func (c SessionConfig) ChatGap() time.Duration {
	return time.Duration(c.ChatGapMillis) * time.Millisecond
}

// QueryConfig holds the downstream query API settings.
type QueryConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// TimeoutSeconds bounds one query round trip. Default: 30.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// RequestsPerSecond rate-limits outbound queries. Default: 5.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// TwilioConfig holds Twilio webhook and send settings.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	// SMSFrom and WhatsAppFrom are the sending numbers, e.g.
	// "+15550001111" and "whatsapp:+15550001111".
	SMSFrom      string `yaml:"sms_from"`
	WhatsAppFrom string `yaml:"whatsapp_from"`
}

// GmailConfig holds Gmail polling settings.
type GmailConfig struct {
	// Enabled turns the poller on.
	Enabled bool `yaml:"enabled"`
	// CredentialsFile is the OAuth client secret JSON path.
	CredentialsFile string `yaml:"credentials_file"`
	// TokenFile is the stored OAuth token JSON path.
	TokenFile string `yaml:"token_file"`
	// PollSchedule is a cron expression. Default: "* * * * *" (every minute).
	PollSchedule string `yaml:"poll_schedule"`
}

// Load loads configuration from a YAML file. A missing file is not an
// error; the config comes entirely from defaults and environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.ChatGapMillis == 0 {
		cfg.Session.ChatGapMillis = DefaultChatGapMillis
	}
	if cfg.Session.MailGapMillis == 0 {
		cfg.Session.MailGapMillis = DefaultMailGapMillis
	}
	if cfg.Session.FirestoreCollection == "" {
		cfg.Session.FirestoreCollection = "sessions"
	}
	if cfg.Query.TimeoutSeconds == 0 {
		cfg.Query.TimeoutSeconds = 30
	}
	if cfg.Query.RequestsPerSecond == 0 {
		cfg.Query.RequestsPerSecond = 5
	}
	if cfg.Gmail.PollSchedule == "" {
		cfg.Gmail.PollSchedule = "* * * * *"
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SESSION_STORE"); v != "" {
		cfg.Session.Store = v
	}
	if v := os.Getenv("SESSION_GAP_SMS_WA"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Session.ChatGapMillis = ms
		}
	}
	if v := os.Getenv("SESSION_GAP_MAIL"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Session.MailGapMillis = ms
		}
	}
	if cfg.Session.RedisAddr == "" {
		cfg.Session.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if cfg.Session.RedisPassword == "" {
		cfg.Session.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}
	if cfg.Session.DynamoTable == "" {
		cfg.Session.DynamoTable = os.Getenv("SESSIONS_TABLE")
	}
	if cfg.Session.AWSRegion == "" {
		cfg.Session.AWSRegion = os.Getenv("AWS_REGION")
	}
	if cfg.Session.GCPProject == "" {
		cfg.Session.GCPProject = os.Getenv("GCP_PROJECT")
	}
	if cfg.Session.GCPCredentials == "" {
		cfg.Session.GCPCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if cfg.Query.BaseURL == "" {
		cfg.Query.BaseURL = os.Getenv("QUERY_API_URL")
	}
	if cfg.Query.APIKey == "" {
		cfg.Query.APIKey = os.Getenv("QUERY_API_KEY")
	}
	if cfg.Twilio.AccountSID == "" {
		cfg.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.Twilio.AuthToken == "" {
		cfg.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.Twilio.SMSFrom == "" {
		cfg.Twilio.SMSFrom = os.Getenv("TWILIO_SMS_FROM")
	}
	if cfg.Twilio.WhatsAppFrom == "" {
		cfg.Twilio.WhatsAppFrom = os.Getenv("TWILIO_WHATSAPP_FROM")
	}
	if cfg.Gmail.CredentialsFile == "" {
		cfg.Gmail.CredentialsFile = os.Getenv("GMAIL_CREDENTIALS_FILE")
	}
	if cfg.Gmail.TokenFile == "" {
		cfg.Gmail.TokenFile = os.Getenv("GMAIL_TOKEN_FILE")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Query.BaseURL == "" {
		return fmt.Errorf("query base_url is required")
	}

	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis store")
		}
	case "dynamodb":
		if c.Session.DynamoTable == "" {
			return fmt.Errorf("dynamo_table is required for the dynamodb store")
		}
	case "firestore":
		if c.Session.GCPProject == "" {
			return fmt.Errorf("gcp_project is required for the firestore store")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	if c.Gmail.Enabled {
		if c.Gmail.CredentialsFile == "" || c.Gmail.TokenFile == "" {
			return fmt.Errorf("gmail credentials_file and token_file are required when gmail is enabled")
		}
	}

	return nil
}
