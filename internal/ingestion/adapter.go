package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Adapter is the capability set of one watchlist provider.
type Adapter interface {
	Provider() Provider
	Metadata() domain.SourceMetadata
	// Classify maps a provider category to a risk level.
	Classify(category string) domain.RiskLevel
	// Fetch lazily yields the provider's records. Fetch and parse failures
	// are yielded as errors and never stop the remaining categories.
	Fetch(ctx context.Context) iter.Seq2[domain.RawRecord, error]
	// Parser returns the parser carrying the provider's header overrides.
	Parser() *Parser
}

// DeletionFeed is implemented by adapters whose provider publishes removals.
type DeletionFeed interface {
	FetchDeletions(ctx context.Context) ([]string, error)
}

// listAdapter serves every provider from its providerDef.
type listAdapter struct {
	def     providerDef
	cfg     domain.ProviderConfig
	fetcher *Fetcher
	parser  *Parser
	logger  *slog.Logger
}

func newListAdapter(def providerDef, cfg domain.ProviderConfig, fetcher *Fetcher, logger *slog.Logger) *listAdapter {
	return &listAdapter{
		def:     def,
		cfg:     cfg,
		fetcher: fetcher,
		parser:  NewParser(NewFieldMapper(def.columns)),
		logger:  logger,
	}
}

func (a *listAdapter) Provider() Provider { return a.def.provider }
func (a *listAdapter) Metadata() domain.SourceMetadata { return a.def.meta }
func (a *listAdapter) Classify(category string) domain.RiskLevel { return a.def.classify(category) }
func (a *listAdapter) Parser() *Parser { return a.parser }

func (a *listAdapter) Fetch(ctx context.Context) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		source := a.def.meta.Code
		if a.def.mode == ModeUpload {
			yield(nil, fmt.Errorf("%w: %s lists are uploaded, not fetched", domain.ErrConfiguration, source))
			return
		}
		if a.fetcher == nil {
			yield(nil, fmt.Errorf("%w: %s has no fetcher", domain.ErrConfiguration, source))
			return
		}

		fetched := 0
		for _, category := range a.def.meta.Categories {
			url, ok := a.cfg.CategoryURL(category)
			if !ok {
				continue
			}
			fetched++
			body, err := a.fetcher.Get(ctx, source, url)
			if err != nil {
				a.logger.Error("category fetch failed, continuing with remaining categories",
					"source", source,
					"category", category,
					"error", err,
				)
				if !yield(nil, err) {
					return
				}
				continue
			}
			for rec, err := range a.decode(body) {
				if rec != nil && rec.Get(domain.FieldCategory) == "" {
					rec[domain.FieldCategory] = category
				}
				if !yield(rec, err) {
					return
				}
			}
		}
		if fetched == 0 {
			yield(nil, fmt.Errorf("%w: %s has no category urls configured", domain.ErrConfiguration, source))
		}
	}
}

func (a *listAdapter) decode(body []byte) iter.Seq2[domain.RawRecord, error] {
	switch a.def.mode {
	case ModeCSV:
		return a.parser.Parse(bytes.NewReader(body), FormatCSV)
	case ModeJSON:
		return a.parser.Parse(bytes.NewReader(body), FormatJSON)
	}
	return func(yield func(domain.RawRecord, error) bool) {
		recs, err := a.parser.ParseHTML(bytes.NewReader(body), a.def.layout)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// FetchDeletions reads the provider's removal feed: a CSV with an id column,
// or one external id per line.
func (a *listAdapter) FetchDeletions(ctx context.Context) ([]string, error) {
	url, ok := a.cfg.DeletionsURL()
	if !ok {
		return nil, nil
	}
	body, err := a.fetcher.Get(ctx, a.def.meta.Code, url)
	if err != nil {
		return nil, err
	}

	var ids []string
	mapper := NewFieldMapper(nil)
	idCol := -1
	for row, err := range csvRows(bytes.NewReader(body)) {
		if err != nil {
			a.logger.Warn("skipping malformed deletion row", "source", a.def.meta.Code, "error", err)
			continue
		}
		if blankRow(row) {
			continue
		}
		if idCol < 0 {
			// Header row if it names an id column, otherwise a bare id list.
			for j, c := range row {
				if mapper.Field(c) == domain.FieldExternalID {
					idCol = j
					break
				}
			}
			if idCol >= 0 {
				continue
			}
			idCol = 0
		}
		if idCol < len(row) {
			if id := strings.TrimSpace(row[idCol]); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Registry maps every known provider to its adapter. It is built once at
// startup from AllProviders.
type Registry struct {
	adapters map[Provider]Adapter
	enabled  map[Provider]bool
}

// NewRegistry builds adapters for all providers.
func NewRegistry(cfg domain.IngestionConfig, fetcher *Fetcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		adapters: make(map[Provider]Adapter, len(AllProviders())),
		enabled:  make(map[Provider]bool),
	}
	for _, p := range AllProviders() {
		pc := cfg.Providers[p.Key()]
		r.adapters[p] = newListAdapter(defFor(p), pc, fetcher, logger.With("component", "adapter"))
		r.enabled[p] = pc.Enabled
	}
	return r
}

// Lookup returns the adapter for p.
func (r *Registry) Lookup(p Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s not registered", domain.ErrConfiguration, p)
	}
	return a, nil
}

// Replace swaps the adapter of a provider and marks it enabled.
func (r *Registry) Replace(a Adapter) {
	r.adapters[a.Provider()] = a
	r.enabled[a.Provider()] = true
}

// Enabled lists providers enabled in configuration, in registry order.
func (r *Registry) Enabled() []Provider {
	var out []Provider
	for _, p := range AllProviders() {
		if r.enabled[p] {
			out = append(out, p)
		}
	}
	return out
}

// Metadata describes every registered provider.
func (r *Registry) Metadata() []domain.SourceMetadata {
	out := make([]domain.SourceMetadata, 0, len(r.adapters))
	for _, p := range AllProviders() {
		out = append(out, r.adapters[p].Metadata())
	}
	return out
}
