package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	arxiv "github.com/fagu/arxiv-reader"
	"github.com/spf13/viper"
)

const (
	envPrefix             = "ARXIV_READER"
	configFileName        = "config.toml"
	defaultLogLevel       = "warn"
	defaultConcurrency    = 2
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 5 * time.Second
	defaultMaxBackoff     = 2 * time.Minute
	defaultRequestTimeout = 60 * time.Second
)

// AppConfig captures runtime configuration for the command-line tool.
type AppConfig struct {
	DataDir    string
	Categories []string

	NewFilterSource    string
	UpdateFilterSource string
	NewFilter          *arxiv.Filter
	UpdateFilter       *arxiv.Filter

	Concurrency    int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MinInterval    time.Duration
	RequestTimeout time.Duration

	OAIBaseURL string
	APIBaseURL string

	PrePullHook      string
	PostMutationHook string

	Highlight Highlight

	LogLevel string
}

// Highlight lists the terms the output marks in article listings.
// Keywords apply to titles, abstracts and comments.
type Highlight struct {
	Keywords   []string
	Authors    []string
	Categories []string
	ACMClasses []string
	MSCClasses []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("data_dir", DefaultDataDir())
	configViper.SetDefault("categories", []string{})
	configViper.SetDefault("filters.new", "")
	configViper.SetDefault("filters.update", "")
	configViper.SetDefault("sync.concurrency", defaultConcurrency)
	configViper.SetDefault("sync.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("sync.initial_backoff", defaultInitialBackoff)
	configViper.SetDefault("sync.max_backoff", defaultMaxBackoff)
	configViper.SetDefault("sync.min_interval", arxiv.DefaultMinInterval)
	configViper.SetDefault("sync.request_timeout", defaultRequestTimeout)
	configViper.SetDefault("oai.base_url", arxiv.DefaultOAIBaseURL)
	configViper.SetDefault("api.base_url", arxiv.DefaultAPIBaseURL)
	configViper.SetDefault("hooks.pre_pull", "")
	configViper.SetDefault("hooks.post_mutation", "")
	configViper.SetDefault("highlight.keywords", []string{})
	configViper.SetDefault("highlight.authors", []string{})
	configViper.SetDefault("highlight.categories", []string{})
	configViper.SetDefault("highlight.acm_classes", []string{})
	configViper.SetDefault("highlight.msc_classes", []string{})
	configViper.SetDefault("log.level", defaultLogLevel)
}

// DefaultDataDir returns ~/.arxiv-reader, or a relative directory when
// the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arxiv-reader"
	}
	return filepath.Join(home, ".arxiv-reader")
}

// ConfigFile returns the path of the configuration file inside dataDir.
func ConfigFile(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// ConfigPath returns the configuration file inside the data directory.
func (c AppConfig) ConfigPath() string {
	return ConfigFile(c.DataDir)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DataDir:            configViper.GetString("data_dir"),
		Categories:         splitList(configViper.GetStringSlice("categories")),
		NewFilterSource:    configViper.GetString("filters.new"),
		UpdateFilterSource: configViper.GetString("filters.update"),
		Concurrency:        configViper.GetInt("sync.concurrency"),
		MaxAttempts:        configViper.GetInt("sync.max_attempts"),
		InitialBackoff:     configViper.GetDuration("sync.initial_backoff"),
		MaxBackoff:         configViper.GetDuration("sync.max_backoff"),
		MinInterval:        configViper.GetDuration("sync.min_interval"),
		RequestTimeout:     configViper.GetDuration("sync.request_timeout"),
		OAIBaseURL:         configViper.GetString("oai.base_url"),
		APIBaseURL:         configViper.GetString("api.base_url"),
		PrePullHook:        configViper.GetString("hooks.pre_pull"),
		PostMutationHook:   configViper.GetString("hooks.post_mutation"),
		Highlight: Highlight{
			Keywords:   nonEmpty(configViper.GetStringSlice("highlight.keywords")),
			Authors:    nonEmpty(configViper.GetStringSlice("highlight.authors")),
			Categories: splitList(configViper.GetStringSlice("highlight.categories")),
			ACMClasses: splitList(configViper.GetStringSlice("highlight.acm_classes")),
			MSCClasses: splitList(configViper.GetStringSlice("highlight.msc_classes")),
		},
		LogLevel:           configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitList accepts both list values and comma or space separated strings
// as they arrive from the environment.
func splitList(values []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		for _, item := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			if !seen[item] {
				seen[item] = true
				out = append(out, item)
			}
		}
	}
	return out
}

// nonEmpty drops blank entries but keeps inner spaces, which keywords and
// author names may contain.
func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 || c.MinInterval < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("sync.max_backoff must not be below sync.initial_backoff")
	}
	if strings.TrimSpace(c.OAIBaseURL) == "" {
		return fmt.Errorf("oai.base_url is required")
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}

	newFilter, err := arxiv.CompileFilter(c.NewFilterSource)
	if err != nil {
		return fmt.Errorf("filters.new: %w", err)
	}
	updateFilter, err := arxiv.CompileFilter(c.UpdateFilterSource)
	if err != nil {
		return fmt.Errorf("filters.update: %w", err)
	}
	c.NewFilter = newFilter
	c.UpdateFilter = updateFilter
	return nil
}
