package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	arxiv "github.com/fagu/arxiv-reader"
	"github.com/fagu/arxiv-reader/internal/config"
	"github.com/fagu/arxiv-reader/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	app     *appContext
)

// appContext holds what every command needs once configuration is loaded.
type appContext struct {
	cfg     config.AppConfig
	logger  *zap.Logger
	cache   *arxiv.Cache
	limiter *arxiv.RateLimiter
	hl      *highlighter
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "arxiv-reader",
		Short:         "Follow new arXiv articles and updates of the ones you care about",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return err
			}
			return setupApp()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		initCmd(),
		pullCmd(),
		newsCmd(),
		findCmd(),
		showCmd(),
		bookmarkCmd(),
		noteCmd(),
		tagCmd(),
		fetchCmd(),
		bibtexCmd(),
		dbCmd(),
		statsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if app != nil {
		if ferr := app.finish(context.Background()); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file (default <data-dir>/config.toml)")
	cmd.PersistentFlags().String("data-dir", defaults.GetString("data_dir"), "Data directory holding the article index")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "data_dir", "data-dir")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	path := cfgFile
	if path == "" {
		path = config.ConfigFile(viper.GetString("data_dir"))
	}
	viper.SetConfigFile(path)

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &configNotFound) || errors.Is(err, fs.ErrNotExist)
		if cfgFile != "" || !missing {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return nil
}

func setupApp() error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}

	cache, err := arxiv.Open(appConfig.DataDir, arxiv.WithLogger(logger))
	if err != nil {
		logger.Sync() //nolint:errcheck
		return err
	}

	app = &appContext{
		cfg:     appConfig,
		logger:  logger,
		cache:   cache,
		limiter: arxiv.NewRateLimiter(appConfig.MinInterval),
		hl:      newHighlighter(appConfig.Highlight),
	}
	return nil
}

// finish runs the post-mutation hook when the command changed the store,
// then closes it.
func (a *appContext) finish(ctx context.Context) error {
	defer a.logger.Sync() //nolint:errcheck

	var hookErr error
	if a.cache.Mutated() {
		hookErr = a.runHook(ctx, "post_mutation", a.cfg.PostMutationHook)
	}
	if err := a.cache.Close(); err != nil {
		return err
	}
	return hookErr
}

// runHook runs a configured shell command inside the data directory.
func (a *appContext) runHook(ctx context.Context, name, command string) error {
	if command == "" {
		return nil
	}
	a.logger.Debug("running hook", zap.String("hook", name), zap.String("command", command))

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = a.cfg.DataDir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "ARXIV_READER_DATA_DIR="+a.cfg.DataDir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hook %s: %w", name, err)
	}
	return nil
}

func (a *appContext) oaiClient() *arxiv.OAIClient {
	return arxiv.NewOAIClient(
		arxiv.WithBaseURL(a.cfg.OAIBaseURL),
		arxiv.WithHTTPClient(a.httpClient()),
		arxiv.WithRateLimiter(a.limiter),
		arxiv.WithOAILogger(a.logger),
	)
}

func (a *appContext) apiClient() *arxiv.APIClient {
	return arxiv.NewAPIClient(
		arxiv.WithAPIBaseURL(a.cfg.APIBaseURL),
		arxiv.WithAPIHTTPClient(a.httpClient()),
		arxiv.WithAPIRateLimiter(a.limiter),
		arxiv.WithAPILogger(a.logger),
	)
}

func (a *appContext) notifier() *arxiv.Notifier {
	return arxiv.NewNotifier(a.cache, a.cfg.NewFilter, a.cfg.UpdateFilter, a.logger)
}
