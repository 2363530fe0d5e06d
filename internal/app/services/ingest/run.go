package ingest

import (
	"context"
	"fmt"

	"github.com/offerwatch/ingestor/internal/app/domain/ingestion"
)

// StartRun opens a new run row for provider/queryFingerprint.
func (s *Service) StartRun(ctx context.Context, provider, queryFingerprint string) (int64, error) {
	id, err := s.store.CreateRun(ctx, provider, queryFingerprint)
	if err != nil {
		return 0, fmt.Errorf("start run for %s: %w", queryFingerprint, err)
	}
	return id, nil
}

// FinishRun closes out a run with its final status and counter snapshot.
func (s *Service) FinishRun(ctx context.Context, runID int64, status ingestion.RunStatus, counters ingestion.Counters) error {
	if err := s.store.FinishRun(ctx, runID, status, counters); err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// WithRun wraps fn(runID, accumulator) so that FinishRun is always called,
// on every exit path, with whatever counters fn accumulated along the way —
// including when fn panics or the context is cancelled mid-flight.
func (s *Service) WithRun(ctx context.Context, provider, queryFingerprint string, fn func(runID int64, counters *ingestion.Counters) error) (ingestion.Counters, error) {
	runID, err := s.StartRun(ctx, provider, queryFingerprint)
	if err != nil {
		return ingestion.Counters{}, err
	}

	var counters ingestion.Counters
	status := ingestion.RunStatusSuccess
	var runErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				status = ingestion.RunStatusFailure
				runErr = fmt.Errorf("run %d panicked: %v", runID, r)
			}
		}()
		if err := fn(runID, &counters); err != nil {
			status = ingestion.RunStatusFailure
			runErr = err
		}
	}()

	if finishErr := s.FinishRun(ctx, runID, status, counters); finishErr != nil {
		if runErr == nil {
			runErr = finishErr
		}
	}
	return counters, runErr
}
