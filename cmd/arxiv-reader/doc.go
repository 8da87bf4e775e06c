/*
arxiv-reader follows arXiv categories from the terminal.

It keeps a local index of the articles in the subscribed categories,
prints new articles matching a filter and tells you when bookmarked
articles get a new version, a journal reference or a DOI.

# Usage

	arxiv-reader <command> [options]

# Commands

	init       Create the data directory and config.toml
	pull       Fetch new metadata and print notifications
	news       Print notifications that were not acknowledged yet
	find       List stored articles matching a filter
	show       Show one article (also as BibTeX or RIS)
	bookmark   Bookmark articles, or remove bookmarks with -d
	note       Attach a note to an article
	tag        Label an article, or remove labels with -d
	fetch      Fetch articles by id, optionally with PDF or source
	bibtex     Check a bibliography for outdated arXiv citations
	db         Dump, load and reset the index
	stats      Show index statistics

# Configuration

Settings are read from <data-dir>/config.toml and from ARXIV_READER_*
environment variables, for example ARXIV_READER_CATEGORIES="math.CO cs.DM"
or ARXIV_READER_SYNC_CONCURRENCY=2.

	categories = ["math.CO", "cs.DM"]

	[filters]
	new = 'primary:math.CO or (cat:cs.DM and abstract:graph)'
	# updates are only ever reported for bookmarked articles; this narrows them
	update = '-tag:ignore'

	[highlight]
	keywords = ["matroid", "hypergraph"]
	authors = ["Erdos"]
	categories = ["math.CO"]
	msc_classes = ["05C"]
	acm_classes = []

	[hooks]
	pre_pull = 'git pull -q'
	post_mutation = 'git add -A && git commit -qm sync'

The post_mutation hook runs after every command that changed the index.
Highlighted keywords ignore case; authors and classes must match exactly.

# Filters

	cat:math.CO author:"Erdos"       both must hold
	title:ramsey or title:turan      either
	-note:read  not note:read        negation
	since:2024-01-01                 first version submitted on or after
	added:2024-01-01                 first seen locally on or after
	bookmarked:true seen:false       user state
	tag:toread                       user label
	true  false                      match everything or nothing
	hypergraph                       free text in title, abstract, note or tags
*/
package main
