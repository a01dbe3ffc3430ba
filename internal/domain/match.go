package domain

// Algorithm names reported as the dominating similarity metric.
const (
	AlgorithmLevenshtein = "levenshtein"
	AlgorithmJaroWinkler = "jaro_winkler"
	AlgorithmSoundex     = "soundex"
	AlgorithmMetaphone   = "metaphone"
	AlgorithmNone        = "none"
)

// SimilarityScore is the decomposed result of comparing two names.
type SimilarityScore struct {
	Levenshtein       float64 `json:"levenshtein"`
	JaroWinkler       float64 `json:"jaroWinkler"`
	PrimaryPhonetic   float64 `json:"primaryPhonetic"`
	SecondaryPhonetic float64 `json:"secondaryPhonetic"`
	OverallScore      float64 `json:"overallScore"`
	BestAlgorithm     string  `json:"bestAlgorithm"`
}

// Matched-field markers on a NameMatchResult.
const (
	MatchedPrimaryName   = "primaryName"
	MatchedAlternateName = "alternateName"
	MatchedDateOfBirth   = "dateOfBirth"
	MatchedNationality   = "nationality"
	MatchedPhonetic      = "phonetic"
)

// NameMatchResult is one candidate hit for a customer. It is only persisted
// once promoted to an Alert.
type NameMatchResult struct {
	WatchlistEntryID string          `json:"watchlistEntryId"`
	CustomerID       string          `json:"customerId,omitempty"`
	CustomerName     string          `json:"customerName"`
	WatchlistName    string          `json:"watchlistName"`
	SimilarityScore  float64         `json:"similarityScore"`
	MatchAlgorithm   string          `json:"matchAlgorithm"`
	MatchedFields    []string        `json:"matchedFields"`
	SourceList       string          `json:"sourceList"`
	Category         string          `json:"category,omitempty"`
	ListType         ListType        `json:"listType"`
	RiskLevel        RiskLevel       `json:"riskLevel"`
	Scores           SimilarityScore `json:"scores"`
}

// MatchOptions scopes a matching call. A zero Threshold means the configured default.
type MatchOptions struct {
	Threshold float64    `json:"threshold,omitempty"`
	Sources   []string   `json:"sources,omitempty"`
	ListTypes []ListType `json:"listTypes,omitempty"`
}
