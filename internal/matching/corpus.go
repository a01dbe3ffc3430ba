package matching

import (
	"context"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// loadCorpus returns the active, non-whitelisted entries in scope. Sources
// are read one at a time so each has its own cache snapshot.
func (m *Matcher) loadCorpus(ctx context.Context, opts domain.MatchOptions) ([]candidate, error) {
	sources := opts.Sources
	if len(sources) == 0 {
		sources = m.sources
	}

	var entries []*domain.WatchlistEntry
	if len(sources) == 0 {
		all, err := m.store.ListEntries(ctx, domain.EntryFilter{ListTypes: opts.ListTypes})
		if err != nil {
			return nil, err
		}
		entries = all
	} else {
		for _, source := range sources {
			part, err := m.sourceCorpus(ctx, source)
			if err != nil {
				return nil, err
			}
			entries = append(entries, part...)
		}
	}

	corpus := make([]candidate, 0, len(entries))
	for _, e := range entries {
		if !e.IsActive || e.IsWhitelisted {
			continue
		}
		if len(opts.ListTypes) > 0 && !slices.Contains(opts.ListTypes, e.ListType) {
			continue
		}
		c := candidate{entry: e}
		for i, n := range e.Names() {
			for _, f := range nameForms(n) {
				c.forms = append(c.forms, f)
				c.origin = append(c.origin, i)
			}
		}
		corpus = append(corpus, c)
	}
	return corpus, nil
}

func (m *Matcher) sourceCorpus(ctx context.Context, source string) ([]*domain.WatchlistEntry, error) {
	if m.cache != nil {
		cached, err := m.cache.GetCorpus(ctx, source)
		if err != nil {
			m.logger.Warn("corpus cache read failed", "source", source, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	entries, err := m.store.ListEntries(ctx, domain.EntryFilter{Sources: []string{source}})
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if entries == nil {
			entries = []*domain.WatchlistEntry{}
		}
		if err := m.cache.SetCorpus(ctx, source, entries, m.corpusTTL); err != nil {
			m.logger.Warn("corpus cache write failed", "source", source, "error", err)
		}
	}
	return entries, nil
}
