package main

import (
	"fmt"
	"net/http"
	"os"

	arxiv "github.com/fagu/arxiv-reader"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func (a *appContext) httpClient() *http.Client {
	return &http.Client{Timeout: a.cfg.RequestTimeout}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [category...]",
		Short: "Create the data directory and a configuration file",
		Long: `Create the data directory with an empty index and write config.toml
subscribing to the given categories, for example "math.CO cs.DM".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = app.cfg.ConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			out := viper.New()
			out.Set("categories", args)
			out.Set("filters.new", app.cfg.NewFilterSource)
			out.Set("filters.update", app.cfg.UpdateFilterSource)
			out.Set("sync.concurrency", app.cfg.Concurrency)
			out.Set("hooks.pre_pull", app.cfg.PrePullHook)
			out.Set("hooks.post_mutation", app.cfg.PostMutationHook)
			out.Set("log.level", app.cfg.LogLevel)
			if err := out.WriteConfigAs(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("%s %s\n", green("Initialized"), app.cfg.DataDir)
			fmt.Printf("Configuration: %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}

func pullCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "pull [category...]",
		Short: "Fetch new metadata and show what changed",
		Long: `Fetch every subscribed category (or the given ones) from the arXiv
OAI-PMH interface, merge the new entries and print notifications for new
articles matching filters.new and updates of articles matching
filters.update.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			categories := app.cfg.Categories
			if len(args) > 0 {
				categories = args
			}
			if len(categories) == 0 {
				return fmt.Errorf("no categories configured; run init or pass categories")
			}

			if err := app.runHook(ctx, "pre_pull", app.cfg.PrePullHook); err != nil {
				return err
			}

			syncer := arxiv.NewSyncer(app.cache, app.oaiClient(), arxiv.SyncOptions{
				Categories:     categories,
				Concurrency:    app.cfg.Concurrency,
				MaxAttempts:    app.cfg.MaxAttempts,
				InitialBackoff: app.cfg.InitialBackoff,
				MaxBackoff:     app.cfg.MaxBackoff,
				Logger:         app.logger,
			})
			report, err := syncer.Sync(ctx)
			if report != nil {
				printSyncReport(report)
			}
			if err != nil {
				if ctx.Err() != nil {
					warnf("interrupted; merged pages are kept, run %q to see their notifications", "arxiv-reader news")
				}
				return err
			}

			if !quiet {
				notifier := app.notifier()
				events, err := notifier.FromChanges(ctx, report.Changes)
				if err != nil {
					return err
				}
				if err := notifier.Deliver(ctx, events, writerSink{w: os.Stdout, hl: app.hl}); err != nil {
					return err
				}
				if len(events) == 0 {
					fmt.Println(gray("Nothing new."))
				}
			}
			return report.Err()
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print or acknowledge notifications")
	return cmd
}

func printSyncReport(report *arxiv.SyncReport) {
	for _, res := range report.Results {
		if res.State == arxiv.StateFailed {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", red("failed"), res.Category, res.Err)
			continue
		}
		app.logger.Info("category synced",
			zap.String("category", res.Category),
			zap.Int("pages", res.Pages),
			zap.Int("entries", res.Entries),
			zap.Int("new_articles", res.NewArticles),
			zap.Int("new_versions", res.NewVersions),
			zap.Int("new_journal_refs", res.NewJournalRefs),
			zap.Int("new_dois", res.NewDOIs))
	}
}

func newsCmd() *cobra.Command {
	var peek bool
	cmd := &cobra.Command{
		Use:   "news",
		Short: "Show every notification not acknowledged yet",
		Long: `Recompute notifications from the index: unseen articles matching
filters.new and unseen versions or journal references of articles matching
filters.update. They are acknowledged once printed unless --peek is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			notifier := app.notifier()
			events, err := notifier.Pending(ctx)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println(gray("Nothing new."))
				return nil
			}
			sink := writerSink{w: os.Stdout, hl: app.hl}
			if peek {
				return sink.Deliver(ctx, events)
			}
			return notifier.Deliver(ctx, events, sink)
		},
	}
	cmd.Flags().BoolVar(&peek, "peek", false, "Print without acknowledging")
	return cmd
}
