package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service configuration. It is loaded once at startup and
// passed to constructors as an immutable value.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	GitLab   GitLabConfig
	Mail     MailConfig
	Review   ReviewConfig
	Webhook  WebhookConfig
	Events   EventsConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL           string
	MigrationsDir string
}

type GitLabConfig struct {
	APIURL   string
	WebURL   string
	APIToken string
}

type MailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

type ReviewConfig struct {
	// ServiceURL is the externally reachable base URL of this service,
	// used to build the signed review links embedded in notifications.
	ServiceURL string

	// DefaultBranch is the protected branch that never triggers reviews.
	DefaultBranch string

	DefaultReviewers []string

	LinkSecret string
	LinkLength int
}

type WebhookConfig struct {
	// Secret is compared against the X-Gitlab-Token header when set.
	Secret          string
	RateLimitPerMin int
}

type EventsConfig struct {
	Workers   int
	QueueSize int
}

// Load reads config.yaml (searched in ./config, ., /etc/review-service/)
// with environment variable overrides.
func Load() (Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/review-service/")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         viper.GetInt("server.port"),
			ReadTimeout:  viper.GetDuration("server.read_timeout"),
			WriteTimeout: viper.GetDuration("server.write_timeout"),
			IdleTimeout:  viper.GetDuration("server.idle_timeout"),
		},
		Database: DatabaseConfig{
			URL:           viper.GetString("database.url"),
			MigrationsDir: viper.GetString("database.migrations_dir"),
		},
		GitLab: GitLabConfig{
			APIURL:   viper.GetString("gitlab.api_url"),
			WebURL:   viper.GetString("gitlab.web_url"),
			APIToken: viper.GetString("gitlab.api_token"),
		},
		Mail: MailConfig{
			Host:      viper.GetString("mail.host"),
			Port:      viper.GetInt("mail.port"),
			Username:  viper.GetString("mail.username"),
			Password:  viper.GetString("mail.password"),
			FromEmail: viper.GetString("mail.from_email"),
			FromName:  viper.GetString("mail.from_name"),
		},
		Review: ReviewConfig{
			ServiceURL:       viper.GetString("review.service_url"),
			DefaultBranch:    viper.GetString("review.default_branch"),
			DefaultReviewers: viper.GetStringSlice("review.default_reviewers"),
			LinkSecret:       viper.GetString("review.link_secret"),
			LinkLength:       viper.GetInt("review.link_length"),
		},
		Webhook: WebhookConfig{
			Secret:          viper.GetString("webhook.secret"),
			RateLimitPerMin: viper.GetInt("webhook.rate_limit_per_min"),
		},
		Events: EventsConfig{
			Workers:   viper.GetInt("events.workers"),
			QueueSize: viper.GetInt("events.queue_size"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "5s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "60s")

	viper.SetDefault("database.url", "postgres://pguser:pgpass@db:5432/reviewdb?sslmode=disable")
	viper.SetDefault("database.migrations_dir", "./migrations")

	viper.SetDefault("review.default_branch", "master")
	viper.SetDefault("review.link_length", 10)

	viper.SetDefault("webhook.rate_limit_per_min", 120)

	viper.SetDefault("events.workers", 4)
	viper.SetDefault("events.queue_size", 256)
}

func (c Config) validate() error {
	if c.GitLab.APIURL == "" {
		return fmt.Errorf("gitlab.api_url is required")
	}
	if c.GitLab.APIToken == "" {
		return fmt.Errorf("gitlab.api_token is required")
	}
	if c.Review.LinkSecret == "" {
		return fmt.Errorf("review.link_secret is required")
	}
	if c.Review.LinkLength < 1 {
		return fmt.Errorf("review.link_length must be positive")
	}
	if c.Events.Workers < 1 || c.Events.QueueSize < 1 {
		return fmt.Errorf("events.workers and events.queue_size must be positive")
	}
	return nil
}
