// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Camunda     CamundaConfig     `mapstructure:"camunda"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Email       EmailConfig       `mapstructure:"email"`
	Push        PushConfig        `mapstructure:"push"`
	Fanout      FanoutConfig      `mapstructure:"fanout"`
	Channel     ChannelConfig     `mapstructure:"channel"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
	Preferences PreferencesConfig `mapstructure:"preferences"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	BaseURL     string `mapstructure:"base_url"` // prefix for action URLs in emails
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ElasticsearchConfig configures the operator failure index. Empty addresses
// disable it.
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

func (e ElasticsearchConfig) Enabled() bool {
	return len(e.Addresses) > 0
}

// CamundaConfig configures the inbound Zeebe job workers.
type CamundaConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BrokerAddress string `mapstructure:"broker_address"`
	MaxJobsActive int    `mapstructure:"max_jobs_active"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
}

// NATSConfig configures the inbound event subscriptions.
type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	QueueGroup string `mapstructure:"queue_group"`
}

// EmailConfig selects and configures the mail transport.
type EmailConfig struct {
	Provider  string `mapstructure:"provider"` // "ses" or "postmark"
	FromEmail string `mapstructure:"from_email"`
	AppName   string `mapstructure:"app_name"`
	SES       struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"ses"`
	Postmark struct {
		ServerToken  string `mapstructure:"server_token"`
		AccountToken string `mapstructure:"account_token"`
	} `mapstructure:"postmark"`
}

// PushConfig selects and configures the push/socket transport.
type PushConfig struct {
	Provider      string `mapstructure:"provider"` // "redis" or "sns"
	ChannelPrefix string `mapstructure:"channel_prefix"`
	SNS           struct {
		Region           string `mapstructure:"region"`
		TopicARNTemplate string `mapstructure:"topic_arn_template"` // e.g. arn:aws:sns:eu-west-1:123:user-%s
	} `mapstructure:"sns"`
}

type FanoutConfig struct {
	Workers             int `mapstructure:"workers"`
	QueueSize           int `mapstructure:"queue_size"`
	MaxParallelDispatch int `mapstructure:"max_parallel_dispatch"`
}

type ChannelConfig struct {
	AttemptTimeout int `mapstructure:"attempt_timeout"` // milliseconds
}

type SweeperConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Interval    int  `mapstructure:"interval"` // milliseconds
	MaxRetries  int  `mapstructure:"max_retries"`
	BatchSize   int  `mapstructure:"batch_size"`
	ClaimTTL    int  `mapstructure:"claim_ttl"` // milliseconds
	Concurrency int  `mapstructure:"concurrency"`
}

type PreferencesConfig struct {
	CacheTTL int `mapstructure:"cache_ttl"` // milliseconds, 0 disables the cache
}

type RetentionConfig struct {
	SentTTLHours int `mapstructure:"sent_ttl_hours"`
}

func (r RetentionConfig) SentTTL() time.Duration {
	return time.Duration(r.SentTTLHours) * time.Hour
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
