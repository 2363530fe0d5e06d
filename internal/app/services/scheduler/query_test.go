package scheduler

import "testing"

func TestQueryKeyIsStableForSameParams(t *testing.T) {
	q1 := Query{Client: "marketplace", Name: "default", Params: map[string]string{"keywords": "go", "page": "1"}}
	q2 := Query{Client: "marketplace", Name: "default", Params: map[string]string{"page": "1", "keywords": "go"}}

	if q1.Key() != q2.Key() {
		t.Fatalf("expected identical keys regardless of map iteration order, got %q and %q", q1.Key(), q2.Key())
	}
}

func TestQueryKeyDiffersForDifferentParams(t *testing.T) {
	q1 := Query{Client: "marketplace", Name: "default", Params: map[string]string{"keywords": "go"}}
	q2 := Query{Client: "marketplace", Name: "default", Params: map[string]string{"keywords": "rust"}}

	if q1.Key() == q2.Key() {
		t.Fatal("expected different keys for different params")
	}
}

func TestQueryKeyIncludesClientAndName(t *testing.T) {
	q := Query{Client: "greenhouse", Name: "acme", Params: nil}
	key := q.Key()
	if key[:len("greenhouse:acme:")] != "greenhouse:acme:" {
		t.Fatalf("expected key to start with client:name:, got %q", key)
	}
}
