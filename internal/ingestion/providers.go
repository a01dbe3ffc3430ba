package ingestion

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FetchMode is how a provider publishes its list.
type FetchMode string

const (
	ModeHTMLTable FetchMode = "html-table"
	ModeHTMLCards FetchMode = "html-cards"
	ModeCSV       FetchMode = "csv"
	ModeJSON      FetchMode = "json"
	// ModeUpload providers have no remote list; records arrive as files.
	ModeUpload FetchMode = "upload"
)

// providerDef is the fixed description of one provider: where its fields
// live and how its categories map to risk.
type providerDef struct {
	provider Provider
	meta     domain.SourceMetadata
	mode     FetchMode
	layout   HTMLLayout

	// columns are header overrides on top of the shared synonyms.
	columns map[string]string

	// risk maps a lowercase category to a level.
	risk        map[string]domain.RiskLevel
	defaultRisk domain.RiskLevel
}

func (d providerDef) classify(category string) domain.RiskLevel {
	if lvl, ok := d.risk[strings.ToLower(strings.TrimSpace(category))]; ok {
		return lvl
	}
	return d.defaultRisk
}

// defFor returns the definition of a provider. Adding a Provider without a case
// here is a programming error.
func defFor(p Provider) providerDef {
	switch p {
	case ProviderRBI:
		return rbiDef
	case ProviderSEBI:
		return sebiDef
	case ProviderUNSC:
		return unscDef
	case ProviderOFAC:
		return ofacDef
	case ProviderPEP:
		return pepDef
	case ProviderInHouse:
		return inHouseDef
	}
	panic(fmt.Sprintf("ingestion: no definition for provider %d", int(p)))
}

var rbiDef = providerDef{
	provider: ProviderRBI,
	meta: domain.SourceMetadata{
		Code:        "RBI",
		Name:        "Reserve Bank of India defaulter and caution lists",
		Authority:   "Reserve Bank of India",
		ListType:    domain.ListRegulatory,
		Categories:  []string{"Fraud Master", "Wilful Defaulter", "Caution List"},
		Description: "Borrowers reported for fraud, wilful default, and the exchange-control caution list",
	},
	mode:   ModeHTMLTable,
	layout: HTMLLayout{TableSelector: "table"},
	columns: map[string]string{
		"Name of the Borrower": domain.FieldName,
		"Name of Directors":    domain.FieldDesignation,
		"Registered Address":   domain.FieldAddress,
		"Bank Name":            domain.FieldRemarks,
		"State":                domain.FieldCountry,
	},
	risk: map[string]domain.RiskLevel{
		"fraud master":     domain.RiskCritical,
		"wilful defaulter": domain.RiskHigh,
		"caution list":     domain.RiskMedium,
	},
	defaultRisk: domain.RiskMedium,
}

var sebiDef = providerDef{
	provider: ProviderSEBI,
	meta: domain.SourceMetadata{
		Code:       "SEBI",
		Name:       "SEBI debarred entities",
		Authority:  "Securities and Exchange Board of India",
		ListType:   domain.ListRegulatory,
		Categories: []string{"Debarred"},
	},
	mode:   ModeHTMLTable,
	layout: HTMLLayout{TableSelector: "table"},
	columns: map[string]string{
		"Name of the Entity": domain.FieldName,
		"PAN":                domain.FieldPAN,
		"Order Date":         domain.FieldListedOn,
		"Period":             domain.FieldRemarks,
	},
	risk: map[string]domain.RiskLevel{
		"debarred": domain.RiskHigh,
	},
	defaultRisk: domain.RiskHigh,
}

var unscDef = providerDef{
	provider: ProviderUNSC,
	meta: domain.SourceMetadata{
		Code:       "UNSC",
		Name:       "UN Security Council consolidated list",
		Authority:  "United Nations Security Council",
		ListType:   domain.ListSanctions,
		Categories: []string{"Consolidated"},
	},
	mode: ModeJSON,
	columns: map[string]string{
		"dataid":           domain.FieldExternalID,
		"reference_number": domain.FieldReference,
		"un_list_type":     domain.FieldProgram,
	},
	defaultRisk: domain.RiskCritical,
}

var ofacDef = providerDef{
	provider: ProviderOFAC,
	meta: domain.SourceMetadata{
		Code:       "OFAC",
		Name:       "OFAC Specially Designated Nationals",
		Authority:  "US Treasury Office of Foreign Assets Control",
		ListType:   domain.ListSanctions,
		Categories: []string{"SDN"},
	},
	mode: ModeCSV,
	columns: map[string]string{
		"SDN_Name": domain.FieldName,
		"ent_num":  domain.FieldExternalID,
		"Program":  domain.FieldProgram,
		"Remarks":  domain.FieldRemarks,
	},
	defaultRisk: domain.RiskCritical,
}

var pepDef = providerDef{
	provider: ProviderPEP,
	meta: domain.SourceMetadata{
		Code:       "PEP",
		Name:       "Politically exposed persons roster",
		Authority:  "Public officials registers",
		ListType:   domain.ListPEP,
		Categories: []string{"Domestic PEP", "Foreign PEP"},
	},
	mode: ModeHTMLCards,
	layout: HTMLLayout{
		CardSelector: ".pep-card",
		CardFields: map[string]string{
			domain.FieldExternalID:  "@data-id",
			domain.FieldName:        ".pep-name",
			domain.FieldAlias:       ".pep-aliases",
			domain.FieldPosition:    ".pep-position",
			domain.FieldCountry:     ".pep-country",
			domain.FieldDateOfBirth: ".pep-dob",
		},
	},
	risk: map[string]domain.RiskLevel{
		"domestic pep": domain.RiskHigh,
		"foreign pep":  domain.RiskHigh,
	},
	defaultRisk: domain.RiskHigh,
}

var inHouseDef = providerDef{
	provider: ProviderInHouse,
	meta: domain.SourceMetadata{
		Code:       "INHOUSE",
		Name:       "In-house watchlist",
		Authority:  "Internal compliance",
		ListType:   domain.ListInHouse,
		Categories: []string{"Internal Blacklist", "Internal Watchlist"},
	},
	mode: ModeUpload,
	risk: map[string]domain.RiskLevel{
		"internal blacklist": domain.RiskHigh,
		"internal watchlist": domain.RiskMedium,
	},
	defaultRisk: domain.RiskMedium,
}
