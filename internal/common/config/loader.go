// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top
// and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")
	bindEnv(v)

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

// Watch re-reads path whenever it changes and hands the new config to onChange.
// Invalid configs are reported through onError and otherwise ignored.
func Watch(path string, onChange func(*Config), onError func(error)) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	bindEnv(v)
	if err := v.ReadInConfig(); err != nil {
		onError(err)
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := finish(v)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func bindEnv(v *viper.Viper) {
	// DATABASE_POSTGRES_HOST overrides database.postgres.host
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// setDefaults registers defaults for keys where zero is a meaningful value,
// so an explicit zero in the file survives unmarshalling.
func setDefaults(v *viper.Viper) {
	v.SetDefault("sweeper.max_retries", 5)
}

func finish(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Email.Postmark.ServerToken == "" {
		cfg.Email.Postmark.ServerToken = os.Getenv("POSTMARK_SERVER_TOKEN")
	}
	if cfg.Email.Postmark.AccountToken == "" {
		cfg.Email.Postmark.AccountToken = os.Getenv("POSTMARK_ACCOUNT_TOKEN")
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "notification-dispatcher"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "notification-failures"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.NATS.QueueGroup == "" {
		cfg.NATS.QueueGroup = "notification-dispatcher"
	}

	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "ses"
	}
	if cfg.Email.AppName == "" {
		cfg.Email.AppName = cfg.App.Name
	}
	if cfg.Push.Provider == "" {
		cfg.Push.Provider = "redis"
	}
	if cfg.Push.ChannelPrefix == "" {
		cfg.Push.ChannelPrefix = "notifications:user:"
	}

	if cfg.Fanout.Workers == 0 {
		cfg.Fanout.Workers = 4
	}
	if cfg.Fanout.QueueSize == 0 {
		cfg.Fanout.QueueSize = 1000
	}
	if cfg.Fanout.MaxParallelDispatch == 0 {
		cfg.Fanout.MaxParallelDispatch = 16
	}
	if cfg.Channel.AttemptTimeout == 0 {
		cfg.Channel.AttemptTimeout = 10000
	}

	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = 60000
	}
	if cfg.Sweeper.BatchSize == 0 {
		cfg.Sweeper.BatchSize = 100
	}
	if cfg.Sweeper.ClaimTTL == 0 {
		cfg.Sweeper.ClaimTTL = 5 * 60000
	}
	if cfg.Sweeper.Concurrency == 0 {
		cfg.Sweeper.Concurrency = 8
	}

	if cfg.Preferences.CacheTTL == 0 {
		cfg.Preferences.CacheTTL = 5 * 60000
	}
	if cfg.Retention.SentTTLHours == 0 {
		cfg.Retention.SentTTLHours = 24 * 90
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = ":8080"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ledgerWriteMargin is the time allowed for recording a delivery outcome.
const ledgerWriteMargin = 5000

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	switch cfg.Email.Provider {
	case "ses":
		if cfg.Email.SES.Region == "" {
			return fmt.Errorf("email.ses.region is required for the ses provider")
		}
	case "postmark":
		if cfg.Email.Postmark.ServerToken == "" {
			return fmt.Errorf("email.postmark.server_token is required for the postmark provider")
		}
	default:
		return fmt.Errorf("email.provider must be ses or postmark, got %q", cfg.Email.Provider)
	}
	if cfg.Email.FromEmail == "" {
		return fmt.Errorf("email.from_email is required")
	}

	switch cfg.Push.Provider {
	case "redis":
	case "sns":
		if cfg.Push.SNS.Region == "" || !strings.Contains(cfg.Push.SNS.TopicARNTemplate, "%s") {
			return fmt.Errorf("push.sns.region and push.sns.topic_arn_template (with %%s) are required for the sns provider")
		}
	default:
		return fmt.Errorf("push.provider must be redis or sns, got %q", cfg.Push.Provider)
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	if cfg.Sweeper.MaxRetries < 0 {
		return fmt.Errorf("sweeper.max_retries must not be negative")
	}
	// An immediate record's claim must outlive the delivery attempt and the
	// ledger write that follows it, or the sweeper retries it concurrently.
	if cfg.Sweeper.ClaimTTL <= cfg.Channel.AttemptTimeout+ledgerWriteMargin {
		return fmt.Errorf("sweeper.claim_ttl (%dms) must exceed channel.attempt_timeout (%dms) plus %dms",
			cfg.Sweeper.ClaimTTL, cfg.Channel.AttemptTimeout, ledgerWriteMargin)
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
