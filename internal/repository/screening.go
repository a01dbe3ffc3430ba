package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveCustomer inserts or replaces a customer. CreatedAt of an existing row is kept.
func (r *SQLRepository) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	if c.ID == "" || c.FullName == "" {
		return fmt.Errorf("%w: customer id and full name are required", domain.ErrInvalidInput)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	identifiers := c.Identifiers
	if identifiers == nil {
		identifiers = map[string]string{}
	}

	query := `
		INSERT INTO customers (
			id, full_name, date_of_birth, nationality, country, identifiers,
			risk_tier, last_screened_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			date_of_birth = excluded.date_of_birth,
			nationality = excluded.nationality,
			country = excluded.country,
			identifiers = excluded.identifiers,
			risk_tier = excluded.risk_tier,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.FullName, c.DateOfBirth, c.Nationality, c.Country, encodeJSON(identifiers),
		string(c.RiskTier), nullTime(c.LastScreenedAt), c.CreatedAt.UTC(), c.UpdatedAt,
	)
	return r.wrap("save customer", err)
}

const customerColumns = `id, full_name, date_of_birth, nationality, country, identifiers,
	risk_tier, last_screened_at, created_at, updated_at`

func scanCustomer(s rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	var identifiers string
	var screened sql.NullTime

	if err := s.Scan(
		&c.ID, &c.FullName, &c.DateOfBirth, &c.Nationality, &c.Country, &identifiers,
		&c.RiskTier, &screened, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if identifiers != "" && identifiers != "{}" {
		if err := json.Unmarshal([]byte(identifiers), &c.Identifiers); err != nil {
			return nil, fmt.Errorf("decode identifiers of %s: %w", c.ID, err)
		}
	}
	c.LastScreenedAt = timePtr(screened)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// GetCustomer retrieves a customer by ID.
func (r *SQLRepository) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = ?`

	c, err := scanCustomer(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		return nil, r.wrap("get customer "+id, err)
	}
	return c, nil
}

// MarkScreened stamps the customer's last screening time.
func (r *SQLRepository) MarkScreened(ctx context.Context, customerID string, at time.Time) error {
	query := `UPDATE customers SET last_screened_at = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), at.UTC(), time.Now().UTC(), customerID)
	if err != nil {
		return r.wrap("mark screened", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return r.wrap("mark screened", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: customer %s", domain.ErrNotFound, customerID)
	}
	return nil
}

// ListCustomersScreenedBefore returns customers of a tier never screened or
// last screened before the cutoff. Customers without a tier count as Low.
func (r *SQLRepository) ListCustomersScreenedBefore(ctx context.Context, tier domain.RiskLevel, before time.Time) ([]*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers
		WHERE (risk_tier = ? OR (? AND risk_tier = ''))
		  AND (last_screened_at IS NULL OR last_screened_at < ?)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(tier), tier == domain.RiskLow, before.UTC())
	if err != nil {
		return nil, r.wrap("list customers", err)
	}
	defer rows.Close()

	var customers []*domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, r.wrap("list customers", err)
		}
		customers = append(customers, c)
	}
	return customers, r.wrap("list customers", rows.Err())
}

const alertColumns = `id, customer_id, watchlist_entry_id, alert_type, similarity_score,
	match_algorithm, risk_level, risk_score, priority, requires_edd, requires_str,
	requires_sar, due_date, status, details, created_at, updated_at`

func scanAlert(s rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var edd, str, sar int

	if err := s.Scan(
		&a.ID, &a.CustomerID, &a.WatchlistEntryID, &a.AlertType, &a.SimilarityScore,
		&a.MatchAlgorithm, &a.RiskLevel, &a.RiskScore, &a.Priority, &edd, &str,
		&sar, &a.DueDate, &a.Status, &a.Details, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.RequiresEDD = edd == 1
	a.RequiresSTR = str == 1
	a.RequiresSAR = sar == 1
	a.DueDate = a.DueDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// FindOpenAlert returns the most recent Open alert for a customer and entry.
func (r *SQLRepository) FindOpenAlert(ctx context.Context, customerID, entryID string) (*domain.Alert, bool, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE customer_id = ? AND watchlist_entry_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1`

	a, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), customerID, entryID, string(domain.AlertOpen)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.wrap("find open alert", err)
	}
	return a, true, nil
}

// SaveAlert inserts or replaces an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.Alert) error {
	if a.ID == "" || a.CustomerID == "" || a.WatchlistEntryID == "" {
		return fmt.Errorf("%w: alert id, customer and entry are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (` + placeholders(17) + `)
		ON CONFLICT(id) DO UPDATE SET
			alert_type = excluded.alert_type,
			similarity_score = excluded.similarity_score,
			match_algorithm = excluded.match_algorithm,
			risk_level = excluded.risk_level,
			risk_score = excluded.risk_score,
			priority = excluded.priority,
			requires_edd = excluded.requires_edd,
			requires_str = excluded.requires_str,
			requires_sar = excluded.requires_sar,
			due_date = excluded.due_date,
			status = excluded.status,
			details = excluded.details,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.CustomerID, a.WatchlistEntryID, string(a.AlertType), a.SimilarityScore,
		a.MatchAlgorithm, string(a.RiskLevel), a.RiskScore, string(a.Priority),
		boolInt(a.RequiresEDD), boolInt(a.RequiresSTR), boolInt(a.RequiresSAR),
		a.DueDate.UTC(), string(a.Status), a.Details, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	return r.wrap("save alert", err)
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	a, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		return nil, r.wrap("get alert "+id, err)
	}
	return a, nil
}

// ListAlertsByCustomer returns a customer's alerts, oldest first.
func (r *SQLRepository) ListAlertsByCustomer(ctx context.Context, customerID string) ([]*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE customer_id = ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID)
	if err != nil {
		return nil, r.wrap("list alerts", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, r.wrap("list alerts", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, r.wrap("list alerts", rows.Err())
}

// SaveScreeningJob inserts or replaces a job's state and counters.
func (r *SQLRepository) SaveScreeningJob(ctx context.Context, job *domain.ScreeningJob) error {
	kind := job.Kind
	if kind == "" {
		kind = domain.JobKindScreening
	}

	query := `
		INSERT INTO screening_jobs (
			id, kind, status, total_records, processed_records, failed_records,
			matches_found, alerts_generated, error_message, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_records = excluded.total_records,
			processed_records = excluded.processed_records,
			failed_records = excluded.failed_records,
			matches_found = excluded.matches_found,
			alerts_generated = excluded.alerts_generated,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		job.ID, kind, string(job.Status), job.TotalRecords, job.ProcessedRecords, job.FailedRecords,
		job.MatchesFound, job.AlertsGenerated, job.ErrorMessage, job.CreatedAt.UTC(),
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
	)
	return r.wrap("save screening job", err)
}

// GetScreeningJob retrieves a job by ID.
func (r *SQLRepository) GetScreeningJob(ctx context.Context, id string) (*domain.ScreeningJob, error) {
	query := `
		SELECT id, kind, status, total_records, processed_records, failed_records,
			   matches_found, alerts_generated, error_message, created_at, started_at, completed_at
		FROM screening_jobs
		WHERE id = ?
	`

	var job domain.ScreeningJob
	var started, completed sql.NullTime
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&job.ID, &job.Kind, &job.Status, &job.TotalRecords, &job.ProcessedRecords, &job.FailedRecords,
		&job.MatchesFound, &job.AlertsGenerated, &job.ErrorMessage, &job.CreatedAt, &started, &completed,
	)
	if err != nil {
		return nil, r.wrap("get screening job "+id, err)
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return &job, nil
}

// SaveRunResult appends an ingestion run to the history.
func (r *SQLRepository) SaveRunResult(ctx context.Context, res *domain.RunResult) error {
	if res.ID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO ingestion_runs (
			id, source, total, new_count, updated_count, deactivated_count,
			skipped_count, error_count, duration_ms, success, error_message, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, res.Source, res.Total, res.New, res.Updated, res.Deactivated,
		res.Skipped, res.Errors, res.Duration.Milliseconds(), boolInt(res.Success),
		res.ErrorMessage, res.StartedAt.UTC(),
	)
	return r.wrap("save run result", err)
}

// ListRunResults returns recent runs, newest first. An empty source lists all.
func (r *SQLRepository) ListRunResults(ctx context.Context, source string, limit int) ([]*domain.RunResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, source, total, new_count, updated_count, deactivated_count,
			   skipped_count, error_count, duration_ms, success, error_message, started_at
		FROM ingestion_runs
		WHERE (? = '' OR source = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), source, source, limit)
	if err != nil {
		return nil, r.wrap("list run results", err)
	}
	defer rows.Close()

	var results []*domain.RunResult
	for rows.Next() {
		var res domain.RunResult
		var durationMs int64
		var success int
		if err := rows.Scan(
			&res.ID, &res.Source, &res.Total, &res.New, &res.Updated, &res.Deactivated,
			&res.Skipped, &res.Errors, &durationMs, &success, &res.ErrorMessage, &res.StartedAt,
		); err != nil {
			return nil, r.wrap("list run results", err)
		}
		res.Duration = time.Duration(durationMs) * time.Millisecond
		res.Success = success == 1
		res.StartedAt = res.StartedAt.UTC()
		results = append(results, &res)
	}
	return results, r.wrap("list run results", rows.Err())
}

// SaveComplianceRule inserts or replaces an operator-defined rule.
func (r *SQLRepository) SaveComplianceRule(ctx context.Context, rule *domain.ComplianceRule) error {
	if rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", domain.ErrInvalidInput)
	}
	if rule.Mandatory {
		return fmt.Errorf("%w: mandatory rules are built in", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO compliance_rules (
			id, name, description, expression, actions, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			actions = excluded.actions,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, encodeJSON(rule.Actions),
		boolInt(rule.Enabled), now, now,
	)
	return r.wrap("save compliance rule", err)
}

// ListComplianceRules returns every stored rule, enabled or not, by name.
func (r *SQLRepository) ListComplianceRules(ctx context.Context) ([]*domain.ComplianceRule, error) {
	query := `SELECT id, name, description, expression, actions, enabled FROM compliance_rules ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, r.wrap("list compliance rules", err)
	}
	defer rows.Close()

	var rules []*domain.ComplianceRule
	for rows.Next() {
		var rule domain.ComplianceRule
		var actions string
		var enabled int
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Expression, &actions, &enabled); err != nil {
			return nil, r.wrap("list compliance rules", err)
		}
		if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
			return nil, fmt.Errorf("failed to parse actions of rule %s: %w", rule.ID, err)
		}
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}
	return rules, r.wrap("list compliance rules", rows.Err())
}
