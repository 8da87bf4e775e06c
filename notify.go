package arxiv

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

// Notification is a change surfaced to the user. Version is the article's
// maximum version when the event was generated; JournalRef and DOI are the
// values at that time.
type Notification struct {
	ArticleID  string
	Kind       ChangeKind
	Version    int
	JournalRef string
	DOI        string
	Article    *Article
}

type notificationKey struct {
	id    string
	kind  ChangeKind
	value string
}

func (n Notification) key() notificationKey {
	k := notificationKey{id: n.ArticleID, kind: n.Kind}
	switch n.Kind {
	case NewJournalRef:
		k.value = n.JournalRef
	case NewDOI:
		k.value = n.DOI
	default:
		k.value = strconv.Itoa(n.Version)
	}
	return k
}

// Sink receives notifications. Deliver must return nil only once the
// notifications reached the user.
type Sink interface {
	Deliver(ctx context.Context, notifications []Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, notifications []Notification) error

func (f SinkFunc) Deliver(ctx context.Context, notifications []Notification) error {
	return f(ctx, notifications)
}

// Notifier turns changes into notifications.
//
// A new article is reported when it matches New. New versions, journal
// references and DOIs are reported for bookmarked articles only; Update
// narrows those further and matches every bookmarked article when nil.
type Notifier struct {
	cache  *Cache
	New    *Filter
	Update *Filter
	logger *zap.Logger
}

// NewNotifier returns a Notifier. Nil filters match everything.
func NewNotifier(cache *Cache, newFilter, updateFilter *Filter, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{cache: cache, New: newFilter, Update: updateFilter, logger: logger}
}

// FromChanges evaluates sync diffs against the current store. Events keep
// the order of changes and are deduplicated. Several new versions of one
// article collapse into a single event for the highest of them.
func (n *Notifier) FromChanges(ctx context.Context, changes []Change) ([]Notification, error) {
	var out []Notification
	seen := make(map[notificationKey]struct{})
	versionAt := make(map[string]int)
	for _, c := range changes {
		a, err := n.cache.GetArticle(ctx, c.ArticleID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ev, ok := n.evaluate(c, a)
		if !ok {
			continue
		}
		if ev.Kind == NewVersion {
			if i, ok := versionAt[ev.ArticleID]; ok {
				if ev.Version > out[i].Version {
					out[i] = ev
				}
				continue
			}
			versionAt[ev.ArticleID] = len(out)
		}
		if _, dup := seen[ev.key()]; dup {
			continue
		}
		seen[ev.key()] = struct{}{}
		out = append(out, ev)
	}
	return out, nil
}

func (n *Notifier) evaluate(c Change, a *Article) (Notification, bool) {
	ev := Notification{ArticleID: a.ID, Kind: c.Kind, Version: c.Version, JournalRef: a.JournalRef, DOI: a.DOI, Article: a}
	switch c.Kind {
	case NewArticle:
		if a.LastSeenVersion == 0 && n.New.Match(a) {
			ev.Version = a.MaxVersion()
			return ev, true
		}
	case NewVersion:
		if n.followed(a) && a.LastSeenVersion < c.Version {
			return ev, true
		}
	case NewJournalRef:
		if n.followed(a) && c.JournalRef != "" && c.JournalRef != a.SeenJournalRef {
			ev.JournalRef = c.JournalRef
			return ev, true
		}
	case NewDOI:
		if n.followed(a) && c.DOI != "" && c.DOI != a.SeenDOI {
			ev.DOI = c.DOI
			return ev, true
		}
	}
	return Notification{}, false
}

// followed reports whether updates of a are reported.
func (n *Notifier) followed(a *Article) bool {
	return a.Bookmarked && n.Update.Match(a)
}

// Pending recomputes every unacknowledged notification from the store:
// unseen articles matching New, and bookmarked articles matching Update
// with unacknowledged versions or publication data. New articles come
// first, oldest submission first, followed by updates in id order.
func (n *Notifier) Pending(ctx context.Context) ([]Notification, error) {
	var fresh, updates []Notification
	err := n.cache.Each(ctx, func(a *Article) error {
		if a.LastSeenVersion == 0 && n.New.Match(a) {
			fresh = append(fresh, Notification{
				ArticleID: a.ID, Kind: NewArticle, Version: a.MaxVersion(), JournalRef: a.JournalRef, DOI: a.DOI, Article: a,
			})
			return nil
		}
		if !n.followed(a) {
			return nil
		}
		baseline := a.LastSeenVersion
		if baseline < 1 {
			baseline = 1
		}
		if a.MaxVersion() > baseline {
			updates = append(updates, Notification{
				ArticleID: a.ID, Kind: NewVersion, Version: a.MaxVersion(), JournalRef: a.JournalRef, DOI: a.DOI, Article: a,
			})
		}
		if a.JournalRef != "" && a.JournalRef != a.SeenJournalRef {
			updates = append(updates, Notification{
				ArticleID: a.ID, Kind: NewJournalRef, Version: a.MaxVersion(), JournalRef: a.JournalRef, DOI: a.DOI, Article: a,
			})
		}
		if a.DOI != "" && a.DOI != a.SeenDOI {
			updates = append(updates, Notification{
				ArticleID: a.ID, Kind: NewDOI, Version: a.MaxVersion(), JournalRef: a.JournalRef, DOI: a.DOI, Article: a,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Article.FirstSubmitted().Before(fresh[j].Article.FirstSubmitted())
	})
	return append(fresh, updates...), nil
}

// Deliver hands notifications to sink and acknowledges them once the sink
// succeeded. If the sink fails nothing is acknowledged and the same
// notifications are produced again next time.
func (n *Notifier) Deliver(ctx context.Context, notifications []Notification, sink Sink) error {
	if len(notifications) == 0 {
		return nil
	}
	if err := sink.Deliver(ctx, notifications); err != nil {
		return err
	}
	acks := make([]Ack, 0, len(notifications))
	for _, ev := range notifications {
		ack := Ack{ID: ev.ArticleID, Version: ev.Version}
		switch ev.Kind {
		case NewArticle:
			ref, doi := ev.JournalRef, ev.DOI
			ack.JournalRef = &ref
			ack.DOI = &doi
		case NewJournalRef:
			// A journal reference says nothing about versions the user
			// has not been shown.
			ref := ev.JournalRef
			ack.JournalRef = &ref
			ack.Version = 0
		case NewDOI:
			doi := ev.DOI
			ack.DOI = &doi
			ack.Version = 0
		}
		acks = append(acks, ack)
	}
	if err := n.cache.Acknowledge(context.WithoutCancel(ctx), acks); err != nil {
		return err
	}
	n.logger.Debug("notifications acknowledged", zap.Int("count", len(acks)))
	return nil
}
