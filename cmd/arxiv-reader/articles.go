package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	arxiv "github.com/fagu/arxiv-reader"
	"github.com/spf13/cobra"
)

var errStopScan = errors.New("stop scan")

func findCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "find <filter>...",
		Short: "List stored articles matching a filter",
		Long: `List stored articles matching a filter expression, for example

  arxiv-reader find 'cat:math.CO author:"Erdos" -note:read'
  arxiv-reader find bookmarked:true since:2024-01-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := arxiv.CompileFilter(strings.Join(args, " "))
			if err != nil {
				return err
			}
			n := 0
			err = app.cache.Each(cmd.Context(), func(a *arxiv.Article) error {
				if !filter.Match(a) {
					return nil
				}
				printArticleLine(os.Stdout, a, app.hl)
				n++
				if limit > 0 && n >= limit {
					return errStopScan
				}
				return nil
			})
			if err != nil && !errors.Is(err, errStopScan) {
				return err
			}
			fmt.Println(gray(fmt.Sprintf("%d articles", n)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Stop after this many matches (0 = all)")
	return cmd
}

func showCmd() *cobra.Command {
	var (
		bibtex bool
		ris    bool
	)
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, version, err := arxiv.ParseIDWithVersion(args[0])
			if err != nil {
				return err
			}
			a, err := app.cache.GetArticle(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			switch {
			case bibtex:
				fmt.Print(a.ToBibTeX(version))
			case ris:
				fmt.Print(a.ToRIS())
			default:
				printArticle(os.Stdout, a, app.hl)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&bibtex, "bibtex", false, "Print a BibTeX entry")
	cmd.Flags().BoolVar(&ris, "ris", false, "Print an RIS record")
	return cmd
}

func bookmarkCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "bookmark <id>...",
		Short: "Bookmark articles to be told about their updates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range args {
				id, err := arxiv.ParseID(raw)
				if err != nil {
					return err
				}
				if err := app.cache.SetBookmarked(cmd.Context(), id, !remove); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&remove, "remove", "d", false, "Remove the bookmarks instead")
	return cmd
}

func noteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note <id> [text...]",
		Short: "Set the note of an article; without text the note is cleared",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := arxiv.ParseID(args[0])
			if err != nil {
				return err
			}
			if err := app.cache.SetNote(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			return nil
		},
	}
}

func tagCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "tag <id> <tag>...",
		Short: "Add labels to an article, or remove them with -d",
		Long: `Add labels to an article. Tags are single words made of letters, digits
and the characters . _ + - and can be searched with tag:<name>.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := arxiv.ParseID(args[0])
			if err != nil {
				return err
			}
			for _, tag := range args[1:] {
				if err := app.cache.SetTag(cmd.Context(), id, tag, !remove); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&remove, "remove", "d", false, "Remove the tags instead")
	return cmd
}

func fetchCmd() *cobra.Command {
	var (
		pdf    bool
		source bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <id>...",
		Short: "Fetch articles by id through the arXiv API",
		Long: `Fetch the current metadata of the given articles and merge it into the
index. With --pdf or --source the files of the requested version (the
latest if none is given) are downloaded into the data directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := app.cache.FetchArticles(ctx, app.apiClient(), args)
			if err != nil {
				return err
			}
			for _, c := range res.Changes {
				fmt.Printf("%s %s v%d\n", green(c.Kind.String()), c.ArticleID, c.Version)
			}
			for _, id := range res.Missing {
				warnf("%s not found", id)
			}

			var kinds []arxiv.ArtifactKind
			if pdf {
				kinds = append(kinds, arxiv.ArtifactPDF)
			}
			if source {
				kinds = append(kinds, arxiv.ArtifactSource)
			}
			if len(kinds) == 0 {
				return nil
			}
			for _, raw := range args {
				id, version, err := arxiv.ParseIDWithVersion(raw)
				if err != nil {
					return err
				}
				if _, err := app.cache.RequestArtifacts(ctx, id, version, kinds...); err != nil {
					if errors.Is(err, arxiv.ErrNotFound) {
						continue
					}
					return err
				}
			}

			downloader := &arxiv.HTTPDownloader{Root: app.cfg.DataDir, Client: app.httpClient(), Limiter: app.limiter}
			report, err := app.cache.ProcessArtifacts(ctx, downloader, app.cfg.MaxAttempts)
			if report != nil {
				for _, req := range report.Done {
					fmt.Printf("%s %s\n", green("downloaded"), downloader.Path(req))
				}
				for _, req := range report.Failed {
					fmt.Fprintf(os.Stderr, "%s %s v%d %s: %s\n", red("failed"), req.ArticleID, req.Version, req.Kind, req.LastError)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&pdf, "pdf", false, "Download the PDF")
	cmd.Flags().BoolVar(&source, "source", false, "Download the source archive")
	return cmd
}
