// Package matching ranks watchlist entries against customer identities.
package matching

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/names"
	"github.com/opensource-finance/kestrel/internal/similarity"
)

var tracer = otel.Tracer("kestrel-matching")

// DefaultThreshold applies when neither the call nor the config sets one.
const DefaultThreshold = 0.7

// CorpusStore lists watchlist entries.
type CorpusStore interface {
	ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.WatchlistEntry, error)
}

// Matcher scores customers against the active corpus.
type Matcher struct {
	store     CorpusStore
	scorer    *similarity.Scorer
	threshold float64
	workers   int

	cache     domain.Cache
	corpusTTL time.Duration
	sources   []string

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithCache serves per-source corpus snapshots from c for up to ttl.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(m *Matcher) {
		m.cache = c
		m.corpusTTL = ttl
	}
}

// WithSources sets the sources searched when a call names none.
func WithSources(sources []string) Option {
	return func(m *Matcher) { m.sources = sources }
}

// WithMetrics records match latency.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// NewMatcher creates a matcher over store.
func NewMatcher(store CorpusStore, cfg domain.MatchingConfig, opts ...Option) *Matcher {
	m := &Matcher{
		store:     store,
		scorer:    similarity.NewScorer(cfg.Weights),
		threshold: cfg.Threshold,
		workers:   cfg.Workers,
		corpusTTL: time.Minute,
		logger:    slog.Default().With("component", "matching"),
	}
	if m.threshold <= 0 || m.threshold > 1 {
		m.threshold = DefaultThreshold
	}
	if m.workers <= 0 {
		m.workers = 8
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// candidate is a corpus entry with its names prepared for scoring. forms
// holds normalized names and their transliterations; origin maps each form
// back to its index in entry.Names().
type candidate struct {
	entry  *domain.WatchlistEntry
	forms  []string
	origin []int
}

// MatchName returns every entry scoring at least the threshold against the
// customer, best first. Ties are ordered by entry id.
func (m *Matcher) MatchName(ctx context.Context, customer *domain.Customer, opts domain.MatchOptions) ([]*domain.NameMatchResult, error) {
	if customer == nil || strings.TrimSpace(customer.FullName) == "" {
		return nil, fmt.Errorf("%w: customer name is required", domain.ErrInvalidInput)
	}
	threshold, err := m.resolveThreshold(opts.Threshold)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "matching.MatchName",
		trace.WithAttributes(
			attribute.String("customer.id", customer.ID),
			attribute.Float64("match.threshold", threshold),
		),
	)
	defer span.End()

	corpus, err := m.loadCorpus(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := m.match(customer, corpus, threshold)
	span.SetAttributes(
		attribute.Int("corpus.size", len(corpus)),
		attribute.Int("match.count", len(results)),
	)
	return results, nil
}

// BatchResult holds BatchMatchNames output.
type BatchResult struct {
	// Matches concatenates every customer's results in customer input order.
	Matches []*domain.NameMatchResult
	// ByCustomer maps customer id to its results.
	ByCustomer map[string][]*domain.NameMatchResult
}

// BatchMatchNames matches customers concurrently against one corpus load.
func (m *Matcher) BatchMatchNames(ctx context.Context, customers []*domain.Customer, opts domain.MatchOptions) (*BatchResult, error) {
	threshold, err := m.resolveThreshold(opts.Threshold)
	if err != nil {
		return nil, err
	}
	for i, c := range customers {
		if c == nil || strings.TrimSpace(c.FullName) == "" {
			return nil, fmt.Errorf("%w: customer %d has no name", domain.ErrInvalidInput, i)
		}
	}

	ctx, span := tracer.Start(ctx, "matching.BatchMatchNames",
		trace.WithAttributes(attribute.Int("customers", len(customers))),
	)
	defer span.End()

	corpus, err := m.loadCorpus(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	perCustomer := make([][]*domain.NameMatchResult, len(customers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, c := range customers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perCustomer[i] = m.match(c, corpus, threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &BatchResult{ByCustomer: make(map[string][]*domain.NameMatchResult, len(customers))}
	for i, c := range customers {
		out.Matches = append(out.Matches, perCustomer[i]...)
		out.ByCustomer[c.ID] = append(out.ByCustomer[c.ID], perCustomer[i]...)
	}
	return out, nil
}

// Threshold returns the configured default threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

func (m *Matcher) resolveThreshold(t float64) (float64, error) {
	if t == 0 {
		return m.threshold, nil
	}
	if t < 0 || t > 1 {
		return 0, fmt.Errorf("%w: threshold must be in (0,1], got %v", domain.ErrInvalidInput, t)
	}
	return t, nil
}

func (m *Matcher) match(customer *domain.Customer, corpus []candidate, threshold float64) []*domain.NameMatchResult {
	start := time.Now()
	defer func() { m.metrics.ObserveMatch(time.Since(start)) }()

	probes := nameForms(customer.FullName)
	if len(probes) == 0 {
		return nil
	}
	var customerPhonetics []string

	var results []*domain.NameMatchResult
	for _, c := range corpus {
		var best domain.SimilarityScore
		bestIdx := -1
		for i, name := range c.forms {
			for _, probe := range probes {
				s := m.scorer.ScoreNormalized(probe, name)
				if bestIdx < 0 || s.OverallScore > best.OverallScore {
					best, bestIdx = s, i
				}
			}
		}
		if bestIdx < 0 || best.OverallScore < threshold {
			continue
		}

		if customerPhonetics == nil {
			customerPhonetics = names.PhoneticVariants(customer.FullName)
		}
		nameIdx := c.origin[bestIdx]
		matchedName := c.entry.Names()[nameIdx]
		results = append(results, &domain.NameMatchResult{
			WatchlistEntryID: c.entry.ID,
			CustomerID:       customer.ID,
			CustomerName:     customer.FullName,
			WatchlistName:    matchedName,
			SimilarityScore:  best.OverallScore,
			MatchAlgorithm:   best.BestAlgorithm,
			MatchedFields:    matchedFields(customer, c.entry, nameIdx, customerPhonetics, matchedName),
			SourceList:       c.entry.Source,
			Category:         c.entry.Category,
			ListType:         c.entry.ListType,
			RiskLevel:        c.entry.RiskLevel,
			Scores:           best,
		})
	}

	slices.SortFunc(results, func(a, b *domain.NameMatchResult) int {
		if c := cmp.Compare(b.SimilarityScore, a.SimilarityScore); c != 0 {
			return c
		}
		return strings.Compare(a.WatchlistEntryID, b.WatchlistEntryID)
	})
	return results
}

// nameForms is the normalized name plus its Latin transliteration when
// written in another script.
func nameForms(name string) []string {
	var forms []string
	if n := names.Normalize(name); n != "" {
		forms = append(forms, n)
	}
	if names.DetectScript(name) != names.ScriptLatin {
		if t := names.Normalize(names.ToLatin(name)); t != "" && !slices.Contains(forms, t) {
			forms = append(forms, t)
		}
	}
	return forms
}

func matchedFields(customer *domain.Customer, entry *domain.WatchlistEntry, nameIdx int, customerPhonetics []string, matchedName string) []string {
	fields := make([]string, 0, 4)
	if nameIdx == 0 {
		fields = append(fields, domain.MatchedPrimaryName)
	} else {
		fields = append(fields, domain.MatchedAlternateName)
	}
	if same(customer.DateOfBirth, entry.DateOfBirth) {
		fields = append(fields, domain.MatchedDateOfBirth)
	}
	if same(customer.Nationality, entry.Nationality) {
		fields = append(fields, domain.MatchedNationality)
	}
	for _, v := range names.PhoneticVariants(matchedName) {
		if _, found := slices.BinarySearch(customerPhonetics, v); found {
			fields = append(fields, domain.MatchedPhonetic)
			break
		}
	}
	return fields
}

func same(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
