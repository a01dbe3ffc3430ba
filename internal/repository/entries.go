package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const entryColumns = `
	id, source, external_id, list_type, category, primary_name, alternate_names,
	risk_category, risk_level, country, date_of_birth, nationality, address,
	designation, identifiers, sanction_program, sanction_reference, listed_on,
	pep_position, pep_category, remarks, is_active, is_whitelisted,
	date_added, date_last_updated`

// deactivateChunk bounds the IN list of one deactivation statement.
const deactivateChunk = 500

func scanEntry(s rowScanner) (*domain.WatchlistEntry, error) {
	var e domain.WatchlistEntry
	var alternates, identifiers string
	var active, whitelisted int
	var updated sql.NullTime

	if err := s.Scan(
		&e.ID, &e.Source, &e.ExternalID, &e.ListType, &e.Category, &e.PrimaryName, &alternates,
		&e.RiskCategory, &e.RiskLevel, &e.Country, &e.DateOfBirth, &e.Nationality, &e.Address,
		&e.Designation, &identifiers, &e.SanctionProgram, &e.SanctionReference, &e.ListedOn,
		&e.PEPPosition, &e.PEPCategory, &e.Remarks, &active, &whitelisted,
		&e.DateAdded, &updated,
	); err != nil {
		return nil, err
	}

	if alternates != "" && alternates != "null" {
		if err := json.Unmarshal([]byte(alternates), &e.AlternateNames); err != nil {
			return nil, fmt.Errorf("decode alternate names of %s: %w", e.ID, err)
		}
	}
	if identifiers != "" && identifiers != "null" {
		if err := json.Unmarshal([]byte(identifiers), &e.Identifiers); err != nil {
			return nil, fmt.Errorf("decode identifiers of %s: %w", e.ID, err)
		}
	}
	if len(e.AlternateNames) == 0 {
		e.AlternateNames = nil
	}
	if len(e.Identifiers) == 0 {
		e.Identifiers = nil
	}
	e.IsActive = active == 1
	e.IsWhitelisted = whitelisted == 1
	e.DateAdded = e.DateAdded.UTC()
	e.DateLastUpdated = timePtr(updated)
	return &e, nil
}

func entryArgs(e *domain.WatchlistEntry) []any {
	alternates := e.AlternateNames
	if alternates == nil {
		alternates = []string{}
	}
	identifiers := e.Identifiers
	if identifiers == nil {
		identifiers = map[string]string{}
	}
	return []any{
		e.ID, e.Source, e.ExternalID, string(e.ListType), e.Category, e.PrimaryName, encodeJSON(alternates),
		e.RiskCategory, string(e.RiskLevel), e.Country, e.DateOfBirth, e.Nationality, e.Address,
		e.Designation, encodeJSON(identifiers), e.SanctionProgram, e.SanctionReference, e.ListedOn,
		e.PEPPosition, e.PEPCategory, e.Remarks, boolInt(e.IsActive), boolInt(e.IsWhitelisted),
		e.DateAdded.UTC(), nullTime(e.DateLastUpdated),
	}
}

// FindEntry looks up an entry by its reconciliation key, active or not.
func (r *SQLRepository) FindEntry(ctx context.Context, source, externalID string) (*domain.WatchlistEntry, bool, error) {
	query := `SELECT ` + entryColumns + ` FROM watchlist_entries WHERE source = ? AND external_id = ?`

	e, err := scanEntry(r.db.QueryRowContext(ctx, r.rebind(query), source, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.wrap("find entry", err)
	}
	return e, true, nil
}

// GetEntry retrieves an entry by ID.
func (r *SQLRepository) GetEntry(ctx context.Context, id string) (*domain.WatchlistEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM watchlist_entries WHERE id = ?`

	e, err := scanEntry(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		return nil, r.wrap("get entry "+id, err)
	}
	return e, nil
}

// InsertEntry stores a new entry.
func (r *SQLRepository) InsertEntry(ctx context.Context, e *domain.WatchlistEntry) error {
	if e.ID == "" || e.Source == "" || e.ExternalID == "" {
		return fmt.Errorf("%w: entry id, source and external id are required", domain.ErrInvalidInput)
	}

	query := `INSERT INTO watchlist_entries (` + entryColumns + `)
		VALUES (` + placeholders(25) + `)`

	_, err := r.db.ExecContext(ctx, r.rebind(query), entryArgs(e)...)
	return r.wrap("insert entry", err)
}

// UpdateEntry overwrites every mutable field of an existing entry.
func (r *SQLRepository) UpdateEntry(ctx context.Context, e *domain.WatchlistEntry) error {
	query := `
		UPDATE watchlist_entries SET
			list_type = ?, category = ?, primary_name = ?, alternate_names = ?,
			risk_category = ?, risk_level = ?, country = ?, date_of_birth = ?,
			nationality = ?, address = ?, designation = ?, identifiers = ?,
			sanction_program = ?, sanction_reference = ?, listed_on = ?,
			pep_position = ?, pep_category = ?, remarks = ?,
			is_active = ?, is_whitelisted = ?, date_last_updated = ?
		WHERE id = ?
	`

	args := entryArgs(e)
	// entryArgs order: skip id, source, external_id and date_added.
	values := append([]any{}, args[3:23]...)
	values = append(values, args[24], e.ID)

	result, err := r.db.ExecContext(ctx, r.rebind(query), values...)
	if err != nil {
		return r.wrap("update entry", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return r.wrap("update entry", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: entry %s", domain.ErrNotFound, e.ID)
	}
	return nil
}

// DeactivateEntries soft-deletes entries of source by external id and
// returns how many active entries changed.
func (r *SQLRepository) DeactivateEntries(ctx context.Context, source string, externalIDs []string) (int, error) {
	now := time.Now().UTC()
	total := 0
	for start := 0; start < len(externalIDs); start += deactivateChunk {
		chunk := externalIDs[start:min(start+deactivateChunk, len(externalIDs))]

		query := `
			UPDATE watchlist_entries
			SET is_active = 0, date_last_updated = ?
			WHERE source = ? AND is_active = 1 AND external_id IN (` + placeholders(len(chunk)) + `)
		`
		args := make([]any, 0, len(chunk)+2)
		args = append(args, now, source)
		for _, id := range chunk {
			args = append(args, id)
		}

		result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
		if err != nil {
			return total, r.wrap("deactivate entries", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, r.wrap("deactivate entries", err)
		}
		total += int(n)
	}
	return total, nil
}

// SetWhitelisted marks an entry as a known false positive, or clears the mark.
func (r *SQLRepository) SetWhitelisted(ctx context.Context, id string, whitelisted bool) error {
	query := `UPDATE watchlist_entries SET is_whitelisted = ?, date_last_updated = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), boolInt(whitelisted), time.Now().UTC(), id)
	if err != nil {
		return r.wrap("whitelist entry", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return r.wrap("whitelist entry", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: entry %s", domain.ErrNotFound, id)
	}
	return nil
}

// ListEntries returns the corpus selected by filter, ordered by source and
// external id.
func (r *SQLRepository) ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.WatchlistEntry, error) {
	var where []string
	var args []any

	if !filter.IncludeInactive {
		where = append(where, "is_active = 1")
	}
	if !filter.IncludeWhitelisted {
		where = append(where, "is_whitelisted = 0")
	}
	if len(filter.Sources) > 0 {
		where = append(where, "source IN ("+placeholders(len(filter.Sources))+")")
		for _, s := range filter.Sources {
			args = append(args, s)
		}
	}
	if len(filter.ListTypes) > 0 {
		where = append(where, "list_type IN ("+placeholders(len(filter.ListTypes))+")")
		for _, lt := range filter.ListTypes {
			args = append(args, string(lt))
		}
	}

	query := `SELECT ` + entryColumns + ` FROM watchlist_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY source, external_id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, r.wrap("list entries", err)
	}
	defer rows.Close()

	var entries []*domain.WatchlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, r.wrap("list entries", err)
		}
		entries = append(entries, e)
	}
	return entries, r.wrap("list entries", rows.Err())
}
