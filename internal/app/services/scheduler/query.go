// Package scheduler implements the query/task scheduler (C9): a static
// registry of provider queries, run sequentially under a single global run
// lock, with per-query retry/back-off classification and client-level pause.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/offerwatch/ingestor/internal/app/domain/provider"
)

// Runner fetches the raw offers for one registered query. Concrete
// marketplace/ATS HTTP clients live outside this module; the scheduler only
// depends on this function shape.
type Runner func(ctx context.Context) ([]provider.Offer, error)

// Query is one registered (client, name, params, runner) tuple.
type Query struct {
	Client string
	Name   string
	Params map[string]string
	Run    Runner
}

// Key computes the query's registry key: <client>:<name>:<hash(params)>.
func (q Query) Key() string {
	return fmt.Sprintf("%s:%s:%s", q.Client, q.Name, hashParams(q.Params))
}

func hashParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(params[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
