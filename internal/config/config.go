// Package config loads application configuration from a YAML file and
// RECHECK_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nlecoy/recheck/internal/domain/model"
)

// Retry strategy and notifier names accepted in the configuration file.
const (
	RetrierGitAmendPush = "git-amend-push"
	RetrierComment      = "comment"

	NotifierMailgun = "mailgun"
	NotifierLog     = "log"
)

// Defaults applied when neither the file nor the environment says otherwise.
const (
	DefaultDBPath        = "recheck.db"
	DefaultPollInterval  = 5 * time.Minute
	DefaultMaxRetries    = 7
	DefaultMaxRetryDelay = 5 * time.Minute
	DefaultRetrier       = RetrierGitAmendPush
	DefaultNotifier      = NotifierMailgun
	DefaultDirective     = "/retest"
)

// Config holds the application configuration.
type Config struct {
	GitHub       GitHubConfig  `mapstructure:"github"`
	DBPath       string        `mapstructure:"db_path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ListenAddr is the ops HTTP server address; empty disables the server.
	ListenAddr string        `mapstructure:"listen_addr"`
	Notifier   string        `mapstructure:"notifier"`
	Mailgun    MailgunConfig `mapstructure:"mailgun"`

	// Global policy level, overridable per repository and per check.
	MaxRetries    int           `mapstructure:"max_retries"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	Ignore        bool          `mapstructure:"ignore"`

	Repositories map[string]RepoConfig `mapstructure:"repositories"`
}

// GitHubConfig holds the identity used for searching, commenting and pushing.
type GitHubConfig struct {
	User     string `mapstructure:"user"`
	APIToken string `mapstructure:"api_token"`
}

// MailgunConfig holds the mail delivery settings, required when the
// mailgun notifier is selected.
type MailgunConfig struct {
	Domain    string `mapstructure:"domain"`
	APIKey    string `mapstructure:"api_key"`
	Sender    string `mapstructure:"sender"`
	Recipient string `mapstructure:"recipient"`
	// APIBase overrides the Mailgun API endpoint (e.g. the EU region).
	APIBase string `mapstructure:"api_base"`
}

// RepoConfig holds the per-repository policy overrides.
type RepoConfig struct {
	Retrier          string                 `mapstructure:"retrier"`
	CommentDirective string                 `mapstructure:"comment_directive"`
	MaxRetries       *int                   `mapstructure:"max_retries"`
	MaxRetryDelay    *time.Duration         `mapstructure:"max_retry_delay"`
	Ignore           *bool                  `mapstructure:"ignore"`
	Checks           map[string]CheckConfig `mapstructure:"checks"`
	Git              GitConfig              `mapstructure:"git"`
}

// CheckConfig holds the per-check policy overrides.
type CheckConfig struct {
	Ignore        *bool          `mapstructure:"ignore"`
	Directive     string         `mapstructure:"directive"`
	MaxRetries    *int           `mapstructure:"max_retries"`
	MaxRetryDelay *time.Duration `mapstructure:"max_retry_delay"`
}

// GitConfig holds the clone and push settings for the git-amend-push
// retry strategy.
type GitConfig struct {
	RemoteURL  string `mapstructure:"remote_url"`
	WorkDir    string `mapstructure:"work_dir"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`
	// SSHKey is the key material itself, an alternative to SSHKeyPath
	// for deployments that inject secrets through the environment.
	SSHKey         string `mapstructure:"ssh_key"`
	CommitterName  string `mapstructure:"committer_name"`
	CommitterEmail string `mapstructure:"committer_email"`
}

// Load reads the configuration file at path, applies RECHECK_-prefixed
// environment overrides (RECHECK_GITHUB_API_TOKEN, RECHECK_MAILGUN_API_KEY,
// ...) and returns a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RECHECK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("listen_addr", "")
	v.SetDefault("notifier", DefaultNotifier)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("max_retry_delay", DefaultMaxRetryDelay)
	v.SetDefault("ignore", false)

	// Keys that may arrive only through the environment must be registered
	// for AutomaticEnv to surface them during Unmarshal.
	v.SetDefault("github.user", "")
	v.SetDefault("github.api_token", "")
	v.SetDefault("mailgun.domain", "")
	v.SetDefault("mailgun.api_key", "")
	v.SetDefault("mailgun.sender", "")
	v.SetDefault("mailgun.recipient", "")
	v.SetDefault("mailgun.api_base", "")
}

func (c *Config) validate() error {
	if c.GitHub.User == "" {
		return fmt.Errorf("github.user is required")
	}
	if c.GitHub.APIToken == "" {
		return fmt.Errorf("github.api_token is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.MaxRetryDelay < 0 {
		return fmt.Errorf("max_retry_delay must be non-negative, got %s", c.MaxRetryDelay)
	}

	switch c.Notifier {
	case NotifierMailgun:
		for key, value := range map[string]string{
			"mailgun.domain":    c.Mailgun.Domain,
			"mailgun.api_key":   c.Mailgun.APIKey,
			"mailgun.sender":    c.Mailgun.Sender,
			"mailgun.recipient": c.Mailgun.Recipient,
		} {
			if value == "" {
				return fmt.Errorf("%s is required with the mailgun notifier", key)
			}
		}
	case NotifierLog:
	default:
		return fmt.Errorf("unknown notifier %q", c.Notifier)
	}

	for slug, rc := range c.Repositories {
		if !model.IsValidRepoSlug(slug) {
			return fmt.Errorf("repositories: %q is not an owner/name slug", slug)
		}

		switch rc.RetrierName() {
		case RetrierGitAmendPush:
			if rc.Git.RemoteURL == "" {
				return fmt.Errorf("repositories: %s: git.remote_url is required with the %s retrier", slug, RetrierGitAmendPush)
			}
		case RetrierComment:
		default:
			return fmt.Errorf("repositories: %s: unknown retrier %q", slug, rc.Retrier)
		}

		if rc.MaxRetries != nil && *rc.MaxRetries < 0 {
			return fmt.Errorf("repositories: %s: max_retries must be non-negative, got %d", slug, *rc.MaxRetries)
		}
		if rc.MaxRetryDelay != nil && *rc.MaxRetryDelay < 0 {
			return fmt.Errorf("repositories: %s: max_retry_delay must be non-negative, got %s", slug, *rc.MaxRetryDelay)
		}

		for name, cc := range rc.Checks {
			if cc.MaxRetries != nil && *cc.MaxRetries < 0 {
				return fmt.Errorf("repositories: %s: checks: %s: max_retries must be non-negative, got %d", slug, name, *cc.MaxRetries)
			}
			if cc.MaxRetryDelay != nil && *cc.MaxRetryDelay < 0 {
				return fmt.Errorf("repositories: %s: checks: %s: max_retry_delay must be non-negative, got %s", slug, name, *cc.MaxRetryDelay)
			}
		}
	}

	return nil
}

// RetrierName returns the retry strategy configured for the repository,
// falling back to the default strategy.
func (rc RepoConfig) RetrierName() string {
	if rc.Retrier != "" {
		return rc.Retrier
	}
	return DefaultRetrier
}

// HasRepository reports whether the repository is configured for triage.
func (c *Config) HasRepository(repo string) bool {
	_, ok := c.Repository(repo)
	return ok
}

// IsIgnored reports whether the check is excluded from triage, resolving
// the check, repository and global policy levels in that order.
func (c *Config) IsIgnored(repo, check string) bool {
	if rc, ok := c.Repository(repo); ok {
		if cc, ok := rc.checkConfig(check); ok && cc.Ignore != nil {
			return *cc.Ignore
		}
		if rc.Ignore != nil {
			return *rc.Ignore
		}
	}
	return c.Ignore
}

// MaxRetriesFor resolves the retry budget for the check: check level, then
// repository, then global.
func (c *Config) MaxRetriesFor(repo, check string) int {
	if rc, ok := c.Repository(repo); ok {
		if cc, ok := rc.checkConfig(check); ok && cc.MaxRetries != nil {
			return *cc.MaxRetries
		}
		if rc.MaxRetries != nil {
			return *rc.MaxRetries
		}
	}
	return c.MaxRetries
}

// MaxRetryDelayFor resolves the retry cooldown for the check: check level,
// then repository, then global.
func (c *Config) MaxRetryDelayFor(repo, check string) time.Duration {
	if rc, ok := c.Repository(repo); ok {
		if cc, ok := rc.checkConfig(check); ok && cc.MaxRetryDelay != nil {
			return *cc.MaxRetryDelay
		}
		if rc.MaxRetryDelay != nil {
			return *rc.MaxRetryDelay
		}
	}
	return c.MaxRetryDelay
}

// DirectiveFor resolves the comment text that triggers a re-run of the
// check: check-level directive, then the repository's comment_directive,
// then the default.
func (c *Config) DirectiveFor(repo, check string) string {
	if rc, ok := c.Repository(repo); ok {
		if cc, ok := rc.checkConfig(check); ok && cc.Directive != "" {
			return cc.Directive
		}
		if rc.CommentDirective != "" {
			return rc.CommentDirective
		}
	}
	return DefaultDirective
}

// Repository returns the configuration block for the repository. Viper
// lowercases configuration keys, so the lookup normalizes the same way.
func (c *Config) Repository(repo string) (RepoConfig, bool) {
	rc, ok := c.Repositories[strings.ToLower(repo)]
	return rc, ok
}

func (rc RepoConfig) checkConfig(name string) (CheckConfig, bool) {
	cc, ok := rc.Checks[strings.ToLower(name)]
	return cc, ok
}
