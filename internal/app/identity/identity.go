// Package identity implements the pure decision logic behind company
// identity resolution: which key to resolve a provider's company payload
// against, and how to merge newly observed fields into an existing company
// without clobbering already-known data with a later null.
//
// This package performs no I/O. The orchestrator that loads/stores rows
// lives in internal/app/services/ingest.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/domain/provider"
)

// KeyKind distinguishes the strong (domain) identity key from the weak
// (normalized name) fallback.
type KeyKind int

const (
	// KeyDomain is the strong key: website_domain.
	KeyDomain KeyKind = iota
	// KeyNormalizedName is the weak fallback key.
	KeyNormalizedName
)

// Key is the identity key a caller should look the company up by.
type Key struct {
	Kind  KeyKind
	Value string
}

// commonSuffixes are corporate suffixes dropped before name comparison.
var commonSuffixes = []string{
	" sociedad anonima", " sociedad limitada",
	" s.a.u.", " s.l.u.", " s.a.", " s.l.", " sa", " sl",
	" inc.", " inc", " llc", " ltd.", " ltd", " corp.", " corp",
	" gmbh", " plc", " co.", " company",
}

var diacriticTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeText lowercases, strips diacritics, and collapses consecutive
// whitespace. It is the shared text-normalization step used both for
// company-name comparison and, separately, for offer content fingerprinting.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if stripped, _, err := transform.String(diacriticTransformer, s); err == nil {
		s = stripped
	}
	return collapseWhitespace(s)
}

// Normalize applies NormalizeText and then drops a trailing common corporate
// suffix, for company name comparison.
func Normalize(name string) string {
	s := NormalizeText(name)
	for _, suffix := range commonSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}
	return s
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// NormalizeDomain lowercases and trims a website domain for comparison.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ErrInsufficientEvidence is returned by ResolveKey when the payload carries
// neither a website domain nor a usable name.
var ErrInsufficientEvidence = insufficientEvidenceError{}

type insufficientEvidenceError struct{}

func (insufficientEvidenceError) Error() string { return "insufficient_identity_evidence" }

// ResolveKey picks the strong (domain) key when present, else the weak
// (normalized name) key, else reports ErrInsufficientEvidence.
func ResolveKey(payload provider.CompanyPayload) (Key, error) {
	if domain := NormalizeDomain(payload.WebsiteDomain); domain != "" {
		return Key{Kind: KeyDomain, Value: domain}, nil
	}
	name := payload.NormalizedName
	if name == "" {
		name = payload.Name
	}
	if normalized := Normalize(name); normalized != "" {
		return Key{Kind: KeyNormalizedName, Value: normalized}, nil
	}
	return Key{}, ErrInsufficientEvidence
}

// Merge computes the enrich-or-insert result of overlaying incoming payload
// fields onto an existing company row. It never overwrites a non-empty
// existing field with an empty incoming one.
func Merge(existing company.Company, payload provider.CompanyPayload) company.Company {
	merged := existing
	if merged.RawName == "" && payload.Name != "" {
		merged.RawName = payload.Name
	}
	if merged.DisplayName == "" && payload.Name != "" {
		merged.DisplayName = payload.Name
	}
	if merged.NormalizedName == "" {
		if payload.NormalizedName != "" {
			merged.NormalizedName = Normalize(payload.NormalizedName)
		} else if payload.Name != "" {
			merged.NormalizedName = Normalize(payload.Name)
		}
	}
	if merged.WebsiteURL == "" && payload.WebsiteURL != "" {
		merged.WebsiteURL = payload.WebsiteURL
	}
	if merged.WebsiteDomain == "" && payload.WebsiteDomain != "" {
		merged.WebsiteDomain = NormalizeDomain(payload.WebsiteDomain)
	}
	return merged
}

// New builds a fresh, unpersisted company row out of a payload, for the
// insert path (no existing row found for the resolved key).
func New(payload provider.CompanyPayload) company.Company {
	return Merge(company.Company{Resolution: company.ResolutionPending}, payload)
}
