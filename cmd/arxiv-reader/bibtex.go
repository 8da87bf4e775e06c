package main

import (
	"fmt"
	"os"

	arxiv "github.com/fagu/arxiv-reader"
	"github.com/spf13/cobra"
)

func bibtexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bibtex",
		Short: "Work with BibTeX bibliographies",
	}
	cmd.AddCommand(bibtexCheckCmd(), bibtexBookmarkCmd())
	return cmd
}

func readCitations(path string) ([]arxiv.CitationEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, issues, err := arxiv.ParseBibTeX(f)
	if err != nil {
		return nil, err
	}
	citations, more := arxiv.CitationsFromBibTeX(entries)
	for _, issue := range append(issues, more...) {
		warnf("%s: %s", path, issue)
	}
	return citations, nil
}

func bibtexCheckCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "check <file.bib>...",
		Short: "Report cited arXiv articles that have newer versions or were published",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checker := arxiv.NewChecker(app.cache, app.logger)
			for _, path := range args {
				citations, err := readCitations(path)
				if err != nil {
					return err
				}
				reports, err := checker.Check(cmd.Context(), citations)
				if err != nil {
					return err
				}
				for _, r := range reports {
					printCitationReport(r, all)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Also list up-to-date citations")
	return cmd
}

func printCitationReport(r arxiv.CitationReport, all bool) {
	e := r.Entry
	switch r.Status {
	case arxiv.CitationUpToDate:
		if all {
			fmt.Printf("%s %s (%s)\n", green("ok"), e.Key, e.ID)
		}
		return
	case arxiv.CitationUnknown:
		fmt.Printf("%s %s (%s): not in the index, try %q\n", gray("unknown"), e.Key, e.ID, "arxiv-reader fetch "+e.ID)
		return
	case arxiv.CitationStoreBehind:
		fmt.Printf("%s %s cites %sv%d, the index only has v%d; run %q\n", gray("behind"), e.Key, e.ID, e.Version, r.LatestVersion, "arxiv-reader fetch "+e.ID)
		return
	case arxiv.CitationStaleVersion:
		fmt.Printf("%s %s cites %sv%d, latest is v%d\n", yellow("outdated"), e.Key, e.ID, e.Version, r.LatestVersion)
	case arxiv.CitationStaleJournalRef:
		fmt.Printf("%s %s (%s)\n", cyan("published"), e.Key, e.ID)
	}
	if r.JournalRefAvailable {
		fmt.Printf("    journal: %s\n", r.JournalRef)
		if r.DOI != "" {
			fmt.Printf("    doi:     %s\n", r.DOI)
		}
	}
}

func bibtexBookmarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bookmark <file.bib>...",
		Short: "Bookmark every stored article cited in the bibliographies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checker := arxiv.NewChecker(app.cache, app.logger)
			var citations []arxiv.CitationEntry
			for _, path := range args {
				c, err := readCitations(path)
				if err != nil {
					return err
				}
				citations = append(citations, c...)
			}
			res, err := checker.Bookmark(cmd.Context(), citations)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d, already bookmarked %d\n", green("bookmarked"), len(res.Bookmarked), len(res.Already))
			for _, id := range res.Unknown {
				fmt.Printf("%s %s\n", gray("unknown"), id)
			}
			for doi, ids := range res.Ambiguous {
				warnf("doi %s matches %d articles %v; none bookmarked", doi, len(ids), ids)
			}
			return nil
		},
	}
}
