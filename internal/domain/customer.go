package domain

import "time"

// Customer is the identity being screened. It is never mutated during a screening call.
type Customer struct {
	ID          string            `json:"id"`
	FullName    string            `json:"fullName"`
	DateOfBirth string            `json:"dateOfBirth,omitempty"`
	Nationality string            `json:"nationality,omitempty"`
	Country     string            `json:"country,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`

	// RiskTier selects the rescan interval.
	RiskTier RiskLevel `json:"riskTier,omitempty"`

	LastScreenedAt *time.Time `json:"lastScreenedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// CustomerRequest is the API payload for registering a customer.
type CustomerRequest struct {
	ID          string            `json:"id"`
	FullName    string            `json:"fullName"`
	DateOfBirth string            `json:"dateOfBirth,omitempty"`
	Nationality string            `json:"nationality,omitempty"`
	Country     string            `json:"country,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`
	RiskTier    RiskLevel         `json:"riskTier,omitempty"`
}
