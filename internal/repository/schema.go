package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaWatchlistEntries holds the canonical corpus. (source, external_id)
// is the reconciliation key.
const schemaWatchlistEntries = `
CREATE TABLE IF NOT EXISTS watchlist_entries (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    external_id TEXT NOT NULL,
    list_type TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    primary_name TEXT NOT NULL,
    alternate_names TEXT NOT NULL DEFAULT '[]',
    risk_category TEXT NOT NULL DEFAULT '',
    risk_level TEXT NOT NULL,
    country TEXT NOT NULL DEFAULT '',
    date_of_birth TEXT NOT NULL DEFAULT '',
    nationality TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    designation TEXT NOT NULL DEFAULT '',
    identifiers TEXT NOT NULL DEFAULT '{}',
    sanction_program TEXT NOT NULL DEFAULT '',
    sanction_reference TEXT NOT NULL DEFAULT '',
    listed_on TEXT NOT NULL DEFAULT '',
    pep_position TEXT NOT NULL DEFAULT '',
    pep_category TEXT NOT NULL DEFAULT '',
    remarks TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1,
    is_whitelisted INTEGER NOT NULL DEFAULT 0,
    date_added TIMESTAMP NOT NULL,
    date_last_updated TIMESTAMP,
    UNIQUE (source, external_id)
);

CREATE INDEX IF NOT EXISTS idx_watchlist_entries_scope ON watchlist_entries(source, is_active, is_whitelisted);
CREATE INDEX IF NOT EXISTS idx_watchlist_entries_list_type ON watchlist_entries(list_type);
`

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    full_name TEXT NOT NULL,
    date_of_birth TEXT NOT NULL DEFAULT '',
    nationality TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    identifiers TEXT NOT NULL DEFAULT '{}',
    risk_tier TEXT NOT NULL DEFAULT '',
    last_screened_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customers_rescan ON customers(risk_tier, last_screened_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    watchlist_entry_id TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    similarity_score DOUBLE PRECISION NOT NULL,
    match_algorithm TEXT NOT NULL DEFAULT '',
    risk_level TEXT NOT NULL,
    risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    priority TEXT NOT NULL,
    requires_edd INTEGER NOT NULL DEFAULT 0,
    requires_str INTEGER NOT NULL DEFAULT 0,
    requires_sar INTEGER NOT NULL DEFAULT 0,
    due_date TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_pair ON alerts(customer_id, watchlist_entry_id, status);
`

const schemaScreeningJobs = `
CREATE TABLE IF NOT EXISTS screening_jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    total_records INTEGER NOT NULL DEFAULT 0,
    processed_records INTEGER NOT NULL DEFAULT 0,
    failed_records INTEGER NOT NULL DEFAULT 0,
    matches_found INTEGER NOT NULL DEFAULT 0,
    alerts_generated INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP,
    completed_at TIMESTAMP
);
`

const schemaIngestionRuns = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    total INTEGER NOT NULL,
    new_count INTEGER NOT NULL,
    updated_count INTEGER NOT NULL,
    deactivated_count INTEGER NOT NULL,
    skipped_count INTEGER NOT NULL,
    error_count INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    success INTEGER NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_source ON ingestion_runs(source, started_at);
`

// schemaComplianceRules stores operator-defined CEL rules. Mandatory rules
// are compiled in and never stored.
const schemaComplianceRules = `
CREATE TABLE IF NOT EXISTS compliance_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    expression TEXT NOT NULL,
    actions TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaWatchlistEntries,
		schemaCustomers,
		schemaAlerts,
		schemaScreeningJobs,
		schemaIngestionRuns,
		schemaComplianceRules,
	}
}
