// Package screening turns name matches into a subject risk assessment,
// compliance flags and persisted alerts.
package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var tracer = otel.Tracer("kestrel-screening")

// Store is the persistence the screener needs.
type Store interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	MarkScreened(ctx context.Context, customerID string, at time.Time) error
	FindOpenAlert(ctx context.Context, customerID, entryID string) (*domain.Alert, bool, error)
	SaveAlert(ctx context.Context, alert *domain.Alert) error
}

// Matcher finds watchlist candidates for a customer. Implemented by matching.Matcher.
type Matcher interface {
	MatchName(ctx context.Context, customer *domain.Customer, opts domain.MatchOptions) ([]*domain.NameMatchResult, error)
}

// FlagEvaluator derives compliance flags for one match. Implemented by rules.Engine.
type FlagEvaluator interface {
	Evaluate(ctx context.Context, facts domain.MatchFacts) domain.ComplianceFlags
}

// Screener screens one customer at a time. It is safe for concurrent use.
type Screener struct {
	store    Store
	matcher  Matcher
	rules    FlagEvaluator
	notifier domain.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Screener.
type Option func(*Screener)

// WithNotifier publishes alerts and screening outcomes through n.
func WithNotifier(n domain.Notifier) Option {
	return func(s *Screener) { s.notifier = n }
}

// WithMetrics records screening outcomes and alerts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Screener) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Screener) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Screener) { s.now = now }
}

// New creates a screener.
func New(store Store, matcher Matcher, rules FlagEvaluator, opts ...Option) *Screener {
	s := &Screener{
		store:   store,
		matcher: matcher,
		rules:   rules,
		logger:  slog.Default().With("component", "screening"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScreenByID loads a stored customer and screens it.
func (s *Screener) ScreenByID(ctx context.Context, customerID string, opts domain.MatchOptions) (*domain.ScreeningResult, error) {
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		result := &domain.ScreeningResult{CustomerID: customerID, Status: domain.ScreeningPending}
		s.fail(result, err)
		return result, err
	}
	return s.Screen(ctx, customer, opts)
}

// Screen matches a customer, scores the subject, derives compliance flags and
// creates or refreshes one alert per match. The result is never nil. The
// error is non-nil only when the request itself is unusable; store and
// matching failures are reported on the result as Failed.
func (s *Screener) Screen(ctx context.Context, customer *domain.Customer, opts domain.MatchOptions) (*domain.ScreeningResult, error) {
	start := time.Now()
	result := &domain.ScreeningResult{Status: domain.ScreeningPending}
	if customer != nil {
		result.CustomerID = customer.ID
	}
	if customer == nil || strings.TrimSpace(customer.ID) == "" || strings.TrimSpace(customer.FullName) == "" {
		err := fmt.Errorf("%w: customer id and name are required", domain.ErrInvalidInput)
		s.fail(result, err)
		return result, err
	}

	ctx, span := tracer.Start(ctx, "screening.Screen",
		trace.WithAttributes(attribute.String("customer.id", customer.ID)),
	)
	defer span.End()

	defer func() {
		result.Duration = time.Since(start)
		s.metrics.ObserveScreening(result)
		span.SetAttributes(
			attribute.String("screening.status", string(result.Status)),
			attribute.Int("screening.alerts", len(result.Alerts)),
		)
		if !result.Success {
			span.SetStatus(codes.Error, result.ErrorMessage)
		}
	}()

	result.Status = domain.ScreeningActive
	matches, err := s.matcher.MatchName(ctx, customer, opts)
	if err != nil {
		s.fail(result, err)
		if errors.Is(err, domain.ErrInvalidInput) {
			return result, err
		}
		return result, nil
	}
	result.Matches = matches
	result.RiskScore = RiskScore(matches)
	result.RiskLevel = RiskLevelFor(result.RiskScore)

	now := s.now()
	for _, m := range matches {
		flags := s.rules.Evaluate(ctx, s.facts(m, result, len(matches)))
		result.ComplianceFlags.Merge(flags)

		alert, created, err := s.upsertAlert(ctx, customer, m, result.RiskScore, flags, now)
		if err != nil {
			// Alerts saved so far stay persisted.
			s.fail(result, err)
			s.logger.Error("screening aborted",
				"customer_id", customer.ID,
				"alerts_saved", len(result.Alerts),
				"error", err,
			)
			return result, nil
		}
		result.Alerts = append(result.Alerts, alert)
		if created {
			s.metrics.IncrementAlert(alert.Priority)
			s.notifyAlert(ctx, alert)
		}
	}

	if err := s.store.MarkScreened(ctx, customer.ID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.fail(result, err)
		return result, nil
	}

	result.Status = domain.ScreeningCompleted
	result.Success = true
	s.logger.Info("screening completed",
		"customer_id", customer.ID,
		"matches", len(matches),
		"risk_score", result.RiskScore,
		"risk_level", result.RiskLevel,
		"alerts", len(result.Alerts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.notifyScreening(ctx, result)
	return result, nil
}

func (s *Screener) facts(m *domain.NameMatchResult, result *domain.ScreeningResult, count int) domain.MatchFacts {
	return domain.MatchFacts{
		ListType:         m.ListType,
		RiskLevel:        m.RiskLevel,
		Similarity:       m.SimilarityScore,
		Source:           m.SourceList,
		Category:         m.Category,
		SubjectRiskLevel: result.RiskLevel,
		SubjectRiskScore: result.RiskScore,
		MatchCount:       count,
	}
}

// upsertAlert refreshes the open alert of the (customer, entry) pair or
// creates a new one.
func (s *Screener) upsertAlert(ctx context.Context, customer *domain.Customer, m *domain.NameMatchResult, riskScore float64, flags domain.ComplianceFlags, now time.Time) (*domain.Alert, bool, error) {
	existing, found, err := s.store.FindOpenAlert(ctx, customer.ID, m.WatchlistEntryID)
	if err != nil {
		return nil, false, err
	}

	priority := PriorityFor(m)
	alert := &domain.Alert{
		CustomerID:       customer.ID,
		WatchlistEntryID: m.WatchlistEntryID,
		AlertType:        domain.AlertTypeFor(m.ListType),
		SimilarityScore:  m.SimilarityScore,
		MatchAlgorithm:   m.MatchAlgorithm,
		RiskLevel:        m.RiskLevel,
		RiskScore:        riskScore,
		Priority:         priority,
		RequiresEDD:      flags.RequiresEDD,
		RequiresSTR:      flags.RequiresSTR,
		RequiresSAR:      flags.RequiresSAR,
		DueDate:          DueDate(priority, now),
		Status:           domain.AlertOpen,
		Details:          fmt.Sprintf("%q matched %q on %s list (%s)", m.CustomerName, m.WatchlistName, m.SourceList, strings.Join(m.MatchedFields, ",")),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if found {
		alert.ID = existing.ID
		alert.CreatedAt = existing.CreatedAt
		// A refresh never pushes the review deadline out.
		if existing.DueDate.Before(alert.DueDate) {
			alert.DueDate = existing.DueDate
		}
	} else {
		alert.ID = uuid.New().String()
	}

	if err := s.store.SaveAlert(ctx, alert); err != nil {
		return nil, false, err
	}
	return alert, !found, nil
}

func (s *Screener) fail(result *domain.ScreeningResult, err error) {
	result.Status = domain.ScreeningFailed
	result.Success = false
	result.ErrorMessage = err.Error()
}

func (s *Screener) notifyAlert(ctx context.Context, alert *domain.Alert) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAlert(ctx, alert); err != nil {
		s.logger.Warn("alert notification failed", "alert_id", alert.ID, "error", err)
	}
}

func (s *Screener) notifyScreening(ctx context.Context, result *domain.ScreeningResult) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyScreening(ctx, result); err != nil {
		s.logger.Warn("screening notification failed", "customer_id", result.CustomerID, "error", err)
	}
}
