package ingestion

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Provider enumerates the known watchlist sources.
type Provider int

const (
	ProviderRBI Provider = iota + 1
	ProviderSEBI
	ProviderUNSC
	ProviderOFAC
	ProviderPEP
	ProviderInHouse
)

// AllProviders lists every provider in registry order.
func AllProviders() []Provider {
	return []Provider{ProviderRBI, ProviderSEBI, ProviderUNSC, ProviderOFAC, ProviderPEP, ProviderInHouse}
}

// Code returns the source code stored on entries, e.g. "RBI".
func (p Provider) Code() string {
	switch p {
	case ProviderRBI:
		return "RBI"
	case ProviderSEBI:
		return "SEBI"
	case ProviderUNSC:
		return "UNSC"
	case ProviderOFAC:
		return "OFAC"
	case ProviderPEP:
		return "PEP"
	case ProviderInHouse:
		return "INHOUSE"
	}
	return fmt.Sprintf("Provider(%d)", int(p))
}

func (p Provider) String() string { return p.Code() }

// Key is the lowercase config key of the provider.
func (p Provider) Key() string { return strings.ToLower(p.Code()) }

// ParseProvider resolves a provider code case-insensitively.
func ParseProvider(s string) (Provider, error) {
	want := strings.TrimSpace(s)
	for _, p := range AllProviders() {
		if strings.EqualFold(p.Code(), want) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown provider %q", domain.ErrConfiguration, s)
}
