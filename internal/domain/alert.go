package domain

import "time"

// AlertType names the list family that raised an alert.
type AlertType string

const (
	AlertSanctionsMatch    AlertType = "SANCTIONS_MATCH"
	AlertPEPMatch          AlertType = "PEP_MATCH"
	AlertAdverseMediaMatch AlertType = "ADVERSE_MEDIA_MATCH"
	AlertWatchlistMatch    AlertType = "WATCHLIST_MATCH"
)

// AlertTypeFor maps a list type to its alert type.
func AlertTypeFor(lt ListType) AlertType {
	switch lt {
	case ListSanctions:
		return AlertSanctionsMatch
	case ListPEP:
		return AlertPEPMatch
	case ListAdverseMedia:
		return AlertAdverseMediaMatch
	default:
		return AlertWatchlistMatch
	}
}

// AlertStatus is the compliance workflow state of an alert.
type AlertStatus string

const (
	AlertOpen        AlertStatus = "Open"
	AlertUnderReview AlertStatus = "UnderReview"
	AlertEscalated   AlertStatus = "Escalated"
	AlertClosed      AlertStatus = "Closed"
)

// Priority uses the same scale as RiskLevel.
type Priority = RiskLevel

// Alert is the durable record of a match that cleared the threshold.
type Alert struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customerId"`
	WatchlistEntryID string    `json:"watchlistEntryId"`
	AlertType        AlertType `json:"alertType"`
	SimilarityScore  float64   `json:"similarityScore"`
	MatchAlgorithm   string    `json:"matchAlgorithm"`
	RiskLevel        RiskLevel `json:"riskLevel"`
	RiskScore        float64   `json:"riskScore"`
	Priority         Priority  `json:"priority"`

	RequiresEDD bool `json:"requiresEdd"`
	RequiresSTR bool `json:"requiresStr"`
	RequiresSAR bool `json:"requiresSar"`

	DueDate   time.Time   `json:"dueDate"`
	Status    AlertStatus `json:"status"`
	Details   string      `json:"details,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
