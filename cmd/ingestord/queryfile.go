package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/offerwatch/ingestor/internal/app/domain/provider"
	"github.com/offerwatch/ingestor/internal/app/services/scheduler"
)

// queryFile is the on-disk declarative shape of the query registry: one
// entry per (client, name, params) tuple the scheduler should run every
// cycle. Concrete marketplace/ATS HTTP clients are out of scope for this
// module, so loadQueries wires every entry to a runner that reports a clear
// FATAL configuration error rather than fabricating a fake transport.
type queryFile struct {
	Queries []queryEntry `yaml:"queries"`
}

type queryEntry struct {
	Client string            `yaml:"client"`
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params"`
}

// loadQueries reads path and turns every declared entry into a scheduler.Query.
// A missing file yields an empty registry: a deployment with no queries
// configured yet still starts and idles under RunForever.
func loadQueries(path string) ([]scheduler.Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read query registry %s: %w", path, err)
	}

	var parsed queryFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse query registry %s: %w", path, err)
	}

	queries := make([]scheduler.Query, 0, len(parsed.Queries))
	for _, e := range parsed.Queries {
		if e.Client == "" || e.Name == "" {
			return nil, fmt.Errorf("query registry %s: entry missing client or name", path)
		}
		queries = append(queries, scheduler.Query{
			Client: e.Client,
			Name:   e.Name,
			Params: e.Params,
			Run:    unwiredRunner(e.Client),
		})
	}
	return queries, nil
}

// unwiredRunner reports, every time it is invoked, that no concrete provider
// client is registered in this module for the given client name. The error
// text carries the scheduler's "invalid config" fatal marker so a query
// declared against a client nobody has wired fails fast instead of burning
// retries.
func unwiredRunner(client string) scheduler.Runner {
	return func(ctx context.Context) ([]provider.Offer, error) {
		return nil, fmt.Errorf("invalid config: no provider client registered for %q in this deployment", client)
	}
}
