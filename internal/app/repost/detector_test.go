package repost

import "testing"

func TestFingerprintRequiresTitleAndDescription(t *testing.T) {
	if _, ok := Fingerprint("", "some description"); ok {
		t.Fatalf("expected no fingerprint for blank title")
	}
	if _, ok := Fingerprint("Backend Engineer", "  "); ok {
		t.Fatalf("expected no fingerprint for blank description")
	}
}

func TestFingerprintStableAcrossCasingDiacriticsAndWhitespace(t *testing.T) {
	fp1, ok1 := Fingerprint("Backend Engineer", "Build things.  Ship fast.")
	fp2, ok2 := Fingerprint("  BACKEND   engineer", "build THINGS. ship   fast.")
	if !ok1 || !ok2 {
		t.Fatalf("expected both fingerprints to be computed")
	}
	if fp1 != fp2 {
		t.Fatalf("expected stable fingerprint, got %q vs %q", fp1, fp2)
	}
}

func TestFingerprintDiffersOnContentChange(t *testing.T) {
	fp1, _ := Fingerprint("Backend Engineer", "Build things.")
	fp2, _ := Fingerprint("Backend Engineer", "Build other things.")
	if fp1 == fp2 {
		t.Fatalf("expected different content to produce different fingerprints")
	}
}

func TestMatchFingerprintHit(t *testing.T) {
	fp, _ := Fingerprint("Backend Engineer", "Build things.")
	result, ok := MatchFingerprint(42, fp, fp)
	if !ok || !result.Duplicate || result.CanonicalOfferID != 42 || result.Reason != ReasonFingerprint {
		t.Fatalf("got %+v, ok=%v", result, ok)
	}
}

func TestMatchFingerprintMiss(t *testing.T) {
	_, ok := MatchFingerprint(42, "aaa", "bbb")
	if ok {
		t.Fatalf("expected no match for differing fingerprints")
	}
}

func TestDetectBySimilarityNoCandidates(t *testing.T) {
	result := DetectBySimilarity("Backend Engineer", "desc", nil)
	if result.Duplicate || result.Reason != ReasonNoCandidates {
		t.Fatalf("got %+v", result)
	}
}

func TestDetectBySimilarityExactTitleWinsOutright(t *testing.T) {
	candidates := []Candidate{
		{OfferID: 1, Title: "Backend Engineer", Description: "unrelated", LastSeenAt: 100},
		{OfferID: 2, Title: "  BACKEND engineer ", Description: "also unrelated", LastSeenAt: 200},
	}
	result := DetectBySimilarity("Backend Engineer", "totally different text", candidates)
	if !result.Duplicate || result.Reason != ReasonExactTitle || result.CanonicalOfferID != 2 {
		t.Fatalf("expected most-recently-seen exact title match, got %+v", result)
	}
}

func TestDetectBySimilarityMissingDescriptionWhenNoTitleMatch(t *testing.T) {
	candidates := []Candidate{{OfferID: 1, Title: "Frontend Engineer", Description: "unrelated"}}
	result := DetectBySimilarity("Backend Engineer", "", candidates)
	if result.Duplicate || result.Reason != ReasonMissingDescription {
		t.Fatalf("got %+v", result)
	}
}

func TestDetectBySimilarityAboveThreshold(t *testing.T) {
	candidates := []Candidate{
		{OfferID: 1, Title: "Frontend Engineer", Description: "We are hiring a backend engineer to build and ship scalable services for our growing platform team"},
	}
	result := DetectBySimilarity(
		"Backend Engineer",
		"We are hiring a backend engineer to build and ship scalable services for our growing platform",
		candidates,
	)
	if !result.Duplicate || result.Reason != ReasonDescSimilarity || result.CanonicalOfferID != 1 {
		t.Fatalf("got %+v", result)
	}
	if result.Similarity < SimilarityThreshold {
		t.Fatalf("expected similarity >= %v, got %v", SimilarityThreshold, result.Similarity)
	}
}

func TestDetectBySimilarityBelowThreshold(t *testing.T) {
	candidates := []Candidate{
		{OfferID: 1, Title: "Frontend Engineer", Description: "Totally unrelated content about baking bread."},
	}
	result := DetectBySimilarity("Backend Engineer", "We ship distributed systems in Go.", candidates)
	if result.Duplicate || result.Reason != ReasonBelowThreshold {
		t.Fatalf("got %+v", result)
	}
}

func TestJaccardTreatsEmptySetsAsDissimilar(t *testing.T) {
	if got := jaccard(map[string]struct{}{}, map[string]struct{}{}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
