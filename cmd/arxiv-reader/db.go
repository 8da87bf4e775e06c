package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	arxiv "github.com/fagu/arxiv-reader"
	"github.com/spf13/cobra"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Maintain the article index",
	}
	cmd.AddCommand(dbDumpCmd(), dbLoadCmd(), dbResetCursorCmd())
	return cmd
}

// formatFor picks the dump format from the flag, or from the file
// extension when the flag is empty.
func formatFor(flag, path string) (arxiv.DumpFormat, error) {
	if flag == "" {
		flag = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	return arxiv.ParseDumpFormat(flag)
}

func dbDumpCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write every article with its history and user state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := formatFor(format, output)
			if err != nil {
				return err
			}
			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			n, err := app.cache.Dump(cmd.Context(), w, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s %d articles\n", green("dumped"), n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json or yaml (default from the file extension, else json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func dbLoadCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Merge a dump into the index without removing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := formatFor(format, args[0])
			if err != nil {
				return err
			}
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				r = file
			}
			res, err := app.cache.Load(cmd.Context(), r, f)
			if err != nil {
				return err
			}
			fmt.Printf("created %d, extended %d, skipped %d\n", res.Created, res.Extended, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json or yaml (default from the file extension, else json)")
	return cmd
}

func dbResetCursorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-cursor <category>...",
		Short: "Forget the sync position of categories so the next pull starts over",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, category := range args {
				if err := app.cache.ResetCursor(cmd.Context(), category); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and sync positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stats, err := app.cache.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\n%s\n\n", cyan("=== arXiv index ==="))
			fmt.Printf("Data directory:   %s\n", app.cfg.DataDir)
			fmt.Printf("Articles:         %d\n", stats.Articles)
			fmt.Printf("Versions:         %d\n", stats.Versions)
			fmt.Printf("Bookmarked:       %d\n", stats.Bookmarked)
			fmt.Printf("Never shown:      %d\n", stats.Unseen)
			fmt.Printf("Queued downloads: %d\n", stats.QueuedArtifacts)

			cursors, err := app.cache.Cursors(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\n%s\n", yellow("Categories:"))
			if len(cursors) == 0 {
				fmt.Printf("  %s\n", gray("never synced"))
			}
			for _, c := range cursors {
				fmt.Printf("  %-12s %s\n", c.Category, gray(c.Watermark))
			}
			return nil
		},
	}
}
