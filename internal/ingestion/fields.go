package ingestion

import (
	"strings"
	"unicode"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// headerSynonyms maps spellings seen in published lists to semantic fields.
// Keys are compared after canonicalHeader.
var headerSynonyms = map[string]string{
	"name":                 domain.FieldName,
	"full name":            domain.FieldName,
	"fullname":             domain.FieldName,
	"entity name":          domain.FieldName,
	"individual name":      domain.FieldName,
	"primary name":         domain.FieldName,
	"party name":           domain.FieldName,
	"borrower name":        domain.FieldName,
	"name of the borrower": domain.FieldName,
	"name of entity":       domain.FieldName,
	"name of the entity":   domain.FieldName,
	"company name":         domain.FieldName,
	"person name":          domain.FieldName,
	"sdn name":             domain.FieldName,

	"alias":           domain.FieldAlias,
	"aliases":         domain.FieldAlias,
	"aka":             domain.FieldAlias,
	"also known as":   domain.FieldAlias,
	"other names":     domain.FieldAlias,
	"alternate names": domain.FieldAlias,
	"alt names":       domain.FieldAlias,

	"id":               domain.FieldExternalID,
	"uid":              domain.FieldExternalID,
	"external id":      domain.FieldExternalID,
	"reference number": domain.FieldExternalID,
	"ref no":           domain.FieldExternalID,
	"ref":              domain.FieldExternalID,
	"entry id":         domain.FieldExternalID,
	"ent num":          domain.FieldExternalID,
	"dataid":           domain.FieldExternalID,
	"sr no":            domain.FieldExternalID,

	"dob":           domain.FieldDateOfBirth,
	"date of birth": domain.FieldDateOfBirth,
	"birth date":    domain.FieldDateOfBirth,
	"birthdate":     domain.FieldDateOfBirth,

	"nationality": domain.FieldNationality,
	"citizenship": domain.FieldNationality,

	"country":              domain.FieldCountry,
	"country of residence": domain.FieldCountry,
	"state":                domain.FieldCountry,

	"address":            domain.FieldAddress,
	"registered address": domain.FieldAddress,
	"registered office":  domain.FieldAddress,
	"addr":               domain.FieldAddress,

	"designation":       domain.FieldDesignation,
	"title":             domain.FieldDesignation,
	"directors":         domain.FieldDesignation,
	"name of directors": domain.FieldDesignation,

	"pan":             domain.FieldPAN,
	"pan no":          domain.FieldPAN,
	"pan number":      domain.FieldPAN,
	"passport":        domain.FieldPassport,
	"passport no":     domain.FieldPassport,
	"passport number": domain.FieldPassport,

	"category":  domain.FieldCategory,
	"list":      domain.FieldCategory,
	"list type": domain.FieldCategory,

	"program":  domain.FieldProgram,
	"programs": domain.FieldProgram,
	"regime":   domain.FieldProgram,

	"reference":    domain.FieldReference,
	"un reference": domain.FieldReference,
	"order no":     domain.FieldReference,
	"order number": domain.FieldReference,

	"listed on":    domain.FieldListedOn,
	"date listed":  domain.FieldListedOn,
	"listing date": domain.FieldListedOn,
	"order date":   domain.FieldListedOn,

	"position":     domain.FieldPosition,
	"office":       domain.FieldPosition,
	"pep position": domain.FieldPosition,

	"remarks":  domain.FieldRemarks,
	"comments": domain.FieldRemarks,
	"notes":    domain.FieldRemarks,
	"reason":   domain.FieldRemarks,
}

// canonicalHeader lowercases a header and collapses punctuation, underscores
// and repeated spaces, so "Date_of_Birth" and "date  of birth" agree.
func canonicalHeader(h string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// FieldMapper resolves raw headers to semantic fields.
type FieldMapper struct {
	overrides map[string]string
}

// NewFieldMapper creates a mapper; overrides take precedence over the shared synonyms.
func NewFieldMapper(overrides map[string]string) *FieldMapper {
	m := &FieldMapper{overrides: make(map[string]string, len(overrides))}
	for k, v := range overrides {
		m.overrides[canonicalHeader(k)] = v
	}
	return m
}

// Field returns the semantic field for a header, or "" when unknown.
func (m *FieldMapper) Field(header string) string {
	h := canonicalHeader(header)
	if h == "" {
		return ""
	}
	if m != nil {
		if f, ok := m.overrides[h]; ok {
			return f
		}
	}
	return headerSynonyms[h]
}

// Columns maps a header row to semantic fields by column index.
// Unknown columns map to "". The first column claiming a field wins.
func (m *FieldMapper) Columns(headers []string) []string {
	out := make([]string, len(headers))
	claimed := make(map[string]bool)
	for i, h := range headers {
		f := m.Field(h)
		if f == "" || claimed[f] {
			continue
		}
		claimed[f] = true
		out[i] = f
	}
	return out
}

// Record builds a RawRecord from a row using resolved columns.
func Record(columns, row []string) domain.RawRecord {
	rec := make(domain.RawRecord, len(columns))
	for i, f := range columns {
		if f == "" || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			rec[f] = v
		}
	}
	return rec
}
