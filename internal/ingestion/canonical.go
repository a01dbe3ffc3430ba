package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/names"
)

// syntheticPrefix marks external ids derived from record content.
const syntheticPrefix = "syn-"

// ProviderContext carries what the canonicalizer needs to know about the
// record's origin.
type ProviderContext struct {
	Source   string
	Category string
	ListType domain.ListType
	Classify func(category string) domain.RiskLevel
}

// ContextFor builds the context of an adapter for one category.
func ContextFor(a Adapter, category string) ProviderContext {
	meta := a.Metadata()
	return ProviderContext{
		Source:   meta.Code,
		Category: category,
		ListType: meta.ListType,
		Classify: a.Classify,
	}
}

// Canonicalize maps a raw record into a WatchlistEntry. Records without a
// name fail with ErrValidation. The returned entry has no ID or timestamps;
// the reconciliation engine assigns those.
func Canonicalize(rec domain.RawRecord, pc ProviderContext) (*domain.WatchlistEntry, error) {
	name := cleanText(rec.Get(domain.FieldName))
	if name == "" || names.Normalize(name) == "" {
		return nil, fmt.Errorf("%w: %s record has no name", domain.ErrValidation, pc.Source)
	}

	category := rec.Get(domain.FieldCategory)
	if category == "" {
		category = pc.Category
	}
	level := domain.RiskMedium
	if pc.Classify != nil {
		level = pc.Classify(category)
	}

	e := &domain.WatchlistEntry{
		Source:       pc.Source,
		ExternalID:   rec.Get(domain.FieldExternalID),
		ListType:     pc.ListType,
		Category:     category,
		PrimaryName:  name,
		RiskCategory: category,
		RiskLevel:    level,
		Country:      rec.Get(domain.FieldCountry),
		DateOfBirth:  rec.Get(domain.FieldDateOfBirth),
		Nationality:  rec.Get(domain.FieldNationality),
		Address:      rec.Get(domain.FieldAddress),
		Designation:  rec.Get(domain.FieldDesignation),
		Remarks:      rec.Get(domain.FieldRemarks),
		IsActive:     true,
	}
	e.AlternateNames = splitAliases(rec.Get(domain.FieldAlias), name)

	for _, f := range []string{domain.FieldPAN, domain.FieldPassport} {
		if v := rec.Get(f); v != "" {
			if e.Identifiers == nil {
				e.Identifiers = make(map[string]string, 2)
			}
			e.Identifiers[f] = v
		}
	}

	switch pc.ListType {
	case domain.ListSanctions:
		e.SanctionProgram = rec.Get(domain.FieldProgram)
		e.SanctionReference = rec.Get(domain.FieldReference)
		e.ListedOn = rec.Get(domain.FieldListedOn)
	case domain.ListPEP:
		e.PEPPosition = rec.Get(domain.FieldPosition)
		e.PEPCategory = category
	default:
		e.ListedOn = rec.Get(domain.FieldListedOn)
	}

	if e.ExternalID == "" {
		e.ExternalID = SyntheticID(e)
	}
	return e, nil
}

// SyntheticID derives a stable external id from the source, category,
// normalized name and the first available secondary field, so re-ingesting
// the same page never duplicates an id-less record.
func SyntheticID(e *domain.WatchlistEntry) string {
	secondary := e.DateOfBirth
	for _, v := range []string{e.Identifiers[domain.FieldPAN], e.Identifiers[domain.FieldPassport], e.Address, e.Country, e.Nationality} {
		if secondary != "" {
			break
		}
		secondary = v
	}
	key := strings.Join([]string{
		e.Source,
		strings.ToLower(e.Category),
		names.Normalize(e.PrimaryName),
		strings.ToLower(strings.TrimSpace(secondary)),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return syntheticPrefix + hex.EncodeToString(sum[:])[:32]
}

// isSynthetic reports whether an external id was derived by SyntheticID.
func isSynthetic(externalID string) bool {
	return strings.HasPrefix(externalID, syntheticPrefix)
}

// splitAliases splits on ';' and '|', dropping blanks, duplicates and the
// primary name itself.
func splitAliases(raw, primary string) []string {
	if raw == "" {
		return nil
	}
	seen := map[string]bool{names.Normalize(primary): true}
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' }) {
		alias := cleanText(part)
		key := names.Normalize(alias)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, alias)
	}
	return out
}
