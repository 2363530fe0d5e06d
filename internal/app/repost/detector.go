// Package repost implements the pure decision logic behind content-addressed
// duplicate detection: classifying an incoming offer as new, a same-id
// update, or a content duplicate of an existing canonical offer for the
// same company.
//
// The detector takes its candidate canonical offers as input and performs no
// I/O of its own; loading those candidates from the store is the caller's
// job (see internal/app/services/ingest).
package repost

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/offerwatch/ingestor/internal/app/identity"
)

// SimilarityThreshold is the minimum bag-of-tokens Jaccard score at which a
// description similarity match is accepted.
const SimilarityThreshold = 0.82

// Reason names why a candidate was (or was not) accepted as a duplicate.
type Reason string

const (
	ReasonFingerprint        Reason = "fingerprint"
	ReasonExactTitle         Reason = "exact_title"
	ReasonDescSimilarity     Reason = "desc_similarity"
	ReasonNoCandidates       Reason = "no_candidates"
	ReasonMissingDescription Reason = "missing_description"
	ReasonBelowThreshold     Reason = "desc_below_threshold"
	ReasonTitleMismatch      Reason = "title_mismatch"
)

// Candidate is the subset of a canonical offer's fields the detector needs.
type Candidate struct {
	OfferID     int64
	Title       string
	Description string
	LastSeenAt  int64 // unix seconds, used only to tie-break exact title matches
}

// Result is the discriminated outcome of a duplicate check.
type Result struct {
	Duplicate        bool
	CanonicalOfferID int64
	Reason           Reason
	Similarity       float64
}

// Fingerprint computes the SHA-256 hex digest of the normalized
// title+description concatenation. ok is false when either field is blank
// after trimming, per the "populated whenever both are present" rule.
func Fingerprint(title, description string) (fp string, ok bool) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(description) == "" {
		return "", false
	}
	normalized := identity.NormalizeText(title) + "\n" + identity.NormalizeText(description)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), true
}

// MatchFingerprint reports a duplicate when the precomputed fingerprint of a
// canonical offer for the same company equals fp (the fast path). The caller
// is expected to have already queried candidates by fingerprint equality;
// this helper exists mainly to give the fast path its own named step in the
// pipeline.
func MatchFingerprint(candidateOfferID int64, candidateFingerprint, fp string) (Result, bool) {
	if candidateFingerprint == fp {
		return Result{Duplicate: true, CanonicalOfferID: candidateOfferID, Reason: ReasonFingerprint}, true
	}
	return Result{}, false
}

// DetectBySimilarity runs the fallback path against a slate of candidate
// canonical offers for the same company: an exact normalized-title match
// wins outright (ties broken by most recently seen); otherwise, if the
// incoming offer has a description, the candidate with the highest
// bag-of-tokens Jaccard similarity against its description wins provided the
// score meets SimilarityThreshold.
func DetectBySimilarity(title, description string, candidates []Candidate) Result {
	if len(candidates) == 0 {
		return Result{Reason: ReasonNoCandidates}
	}

	normalizedTitle := identity.NormalizeText(title)
	var titleMatch *Candidate
	for i := range candidates {
		if identity.NormalizeText(candidates[i].Title) != normalizedTitle {
			continue
		}
		if titleMatch == nil || candidates[i].LastSeenAt > titleMatch.LastSeenAt {
			c := candidates[i]
			titleMatch = &c
		}
	}
	if titleMatch != nil {
		return Result{Duplicate: true, CanonicalOfferID: titleMatch.OfferID, Reason: ReasonExactTitle}
	}

	if strings.TrimSpace(description) == "" {
		return Result{Reason: ReasonMissingDescription}
	}

	incomingTokens := tokenize(description)
	var bestID int64
	var bestScore float64
	found := false
	for _, c := range candidates {
		score := jaccard(incomingTokens, tokenize(c.Description))
		if score > bestScore {
			bestScore = score
			bestID = c.OfferID
			found = true
		}
	}
	if !found || bestScore < SimilarityThreshold {
		return Result{Reason: ReasonBelowThreshold, Similarity: bestScore}
	}
	return Result{Duplicate: true, CanonicalOfferID: bestID, Reason: ReasonDescSimilarity, Similarity: bestScore}
}

func tokenize(s string) map[string]struct{} {
	fields := strings.Fields(identity.NormalizeText(s))
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

// jaccard computes |a ∩ b| / |a ∪ b| over two token sets. Two empty sets are
// defined as dissimilar (score 0) rather than identical, since an empty
// description never matches on content.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
