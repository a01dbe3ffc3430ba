package domain

import (
	"strings"
	"time"
)

// ListType classifies the kind of list an entry was published on.
type ListType string

const (
	ListSanctions    ListType = "Sanctions"
	ListPEP          ListType = "PEP"
	ListInHouse      ListType = "In-House"
	ListRegulatory   ListType = "Regulatory"
	ListAdverseMedia ListType = "Adverse-Media"
)

// RiskLevel is the four-step risk scale shared by entries, subjects and alerts.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Rank orders risk levels, Low=1 through Critical=4. Unknown levels rank 0.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// WatchlistEntry is the canonical record for one listed individual or entity.
type WatchlistEntry struct {
	ID         string   `json:"id"`
	Source     string   `json:"source"`
	ExternalID string   `json:"externalId"`
	ListType   ListType `json:"listType"`
	Category   string   `json:"category"`

	PrimaryName    string   `json:"primaryName"`
	AlternateNames []string `json:"alternateNames,omitempty"`

	RiskCategory string    `json:"riskCategory"`
	RiskLevel    RiskLevel `json:"riskLevel"`

	Country     string            `json:"country,omitempty"`
	DateOfBirth string            `json:"dateOfBirth,omitempty"`
	Nationality string            `json:"nationality,omitempty"`
	Address     string            `json:"address,omitempty"`
	Designation string            `json:"designation,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`

	// Sanctions
	SanctionProgram   string `json:"sanctionProgram,omitempty"`
	SanctionReference string `json:"sanctionReference,omitempty"`
	ListedOn          string `json:"listedOn,omitempty"`

	// PEP
	PEPPosition string `json:"pepPosition,omitempty"`
	PEPCategory string `json:"pepCategory,omitempty"`

	Remarks string `json:"remarks,omitempty"`

	IsActive        bool       `json:"isActive"`
	IsWhitelisted   bool       `json:"isWhitelisted"`
	DateAdded       time.Time  `json:"dateAdded"`
	DateLastUpdated *time.Time `json:"dateLastUpdated,omitempty"`
}

// Names returns the primary name followed by every alternate name.
func (e *WatchlistEntry) Names() []string {
	names := make([]string, 0, 1+len(e.AlternateNames))
	names = append(names, e.PrimaryName)
	return append(names, e.AlternateNames...)
}

// SameContent reports whether two entries carry identical mutable fields.
// Identity, lifecycle flags and timestamps are ignored.
func (e *WatchlistEntry) SameContent(o *WatchlistEntry) bool {
	if e.ListType != o.ListType || e.Category != o.Category ||
		e.PrimaryName != o.PrimaryName || e.RiskCategory != o.RiskCategory ||
		e.RiskLevel != o.RiskLevel || e.Country != o.Country ||
		e.DateOfBirth != o.DateOfBirth || e.Nationality != o.Nationality ||
		e.Address != o.Address || e.Designation != o.Designation ||
		e.SanctionProgram != o.SanctionProgram || e.SanctionReference != o.SanctionReference ||
		e.ListedOn != o.ListedOn || e.PEPPosition != o.PEPPosition ||
		e.PEPCategory != o.PEPCategory || e.Remarks != o.Remarks {
		return false
	}
	if len(e.AlternateNames) != len(o.AlternateNames) || len(e.Identifiers) != len(o.Identifiers) {
		return false
	}
	for i := range e.AlternateNames {
		if e.AlternateNames[i] != o.AlternateNames[i] {
			return false
		}
	}
	for k, v := range e.Identifiers {
		if o.Identifiers[k] != v {
			return false
		}
	}
	return true
}

// EntryFilter selects corpus entries for matching.
type EntryFilter struct {
	Sources   []string
	ListTypes []ListType

	// IncludeInactive also returns soft-deleted entries.
	IncludeInactive bool
	// IncludeWhitelisted also returns whitelisted entries.
	IncludeWhitelisted bool
}

// RawRecord is a loosely-typed field map produced by a source adapter.
// Keys are semantic field names (see the Field* constants).
type RawRecord map[string]string

// Get returns the trimmed value of a field.
func (r RawRecord) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// Semantic raw-record fields.
const (
	FieldName        = "name"
	FieldAlias       = "alias"
	FieldExternalID  = "external_id"
	FieldDateOfBirth = "date_of_birth"
	FieldNationality = "nationality"
	FieldCountry     = "country"
	FieldAddress     = "address"
	FieldDesignation = "designation"
	FieldPAN         = "pan"
	FieldPassport    = "passport"
	FieldCategory    = "category"
	FieldProgram     = "program"
	FieldReference   = "reference"
	FieldListedOn    = "listed_on"
	FieldPosition    = "position"
	FieldRemarks     = "remarks"
)

// SourceMetadata describes a watchlist provider.
type SourceMetadata struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Authority   string   `json:"authority"`
	ListType    ListType `json:"listType"`
	Categories  []string `json:"categories"`
	Description string   `json:"description,omitempty"`
}

// RunResult is the outcome of one ingestion run for one source.
type RunResult struct {
	ID           string        `json:"id"`
	Source       string        `json:"source"`
	Total        int           `json:"total"`
	New          int           `json:"new"`
	Updated      int           `json:"updated"`
	Deactivated  int           `json:"deactivated"`
	Skipped      int           `json:"skipped"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
}

// Fail marks the run unsuccessful, keeping the first error message.
func (r *RunResult) Fail(err error) {
	r.Success = false
	if r.ErrorMessage == "" && err != nil {
		r.ErrorMessage = err.Error()
	}
}
