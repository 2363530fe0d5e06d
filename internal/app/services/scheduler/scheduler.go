package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/offerwatch/ingestor/internal/app/domain/ingestion"
	"github.com/offerwatch/ingestor/internal/app/metrics"
	"github.com/offerwatch/ingestor/internal/app/services/ingest"
	"github.com/offerwatch/ingestor/internal/app/storage"
	"github.com/offerwatch/ingestor/internal/config"
	logging "github.com/offerwatch/ingestor/pkg/logger"
)

// CycleSummary is the one structured record emitted per cycle.
type CycleSummary struct {
	LockAcquired   bool
	QueriesRun     int
	QueriesSkipped int
	QueriesFailed  int
	Counters       ingestion.Counters
}

// Scheduler runs the registered query set under the store's exclusive run
// lock, applying per-client pause and per-query retry/back-off.
type Scheduler struct {
	store     storage.Store
	ingest    *ingest.Service
	queries   []Query
	log       *logging.Logger
	cfg       *config.Config
	limiters  map[string]*rate.Limiter
	phases    []postCyclePhase
	terminate chan struct{}
}

// postCyclePhase is a named stage run after every cycle's lock is released:
// feedback reconciliation and sheet sync register here.
type postCyclePhase struct {
	name string
	run  func(ctx context.Context) error
}

// New builds a Scheduler. limiterRate, when non-zero, installs an optional
// per-client token-bucket limiter consulted before each query's runner is
// invoked, layered underneath the store-backed pause mechanism — a client
// that is merely fast (not yet paused) is still throttled.
func New(store storage.Store, ingestSvc *ingest.Service, queries []Query, log *logging.Logger, cfg *config.Config, limiterRate rate.Limit) *Scheduler {
	limiters := make(map[string]*rate.Limiter)
	if limiterRate > 0 {
		clients := make(map[string]bool)
		for _, q := range queries {
			clients[q.Client] = true
		}
		for client := range clients {
			limiters[client] = rate.NewLimiter(limiterRate, 1)
		}
	}
	return &Scheduler{
		store:     store,
		ingest:    ingestSvc,
		queries:   queries,
		log:       log,
		cfg:       cfg,
		limiters:  limiters,
		terminate: make(chan struct{}, 1),
	}
}

// RegisterPostCycle adds a phase executed after each cycle's run lock is
// released, in registration order. A phase failure is logged and never fails
// the cycle that triggered it.
func (s *Scheduler) RegisterPostCycle(name string, fn func(ctx context.Context) error) {
	s.phases = append(s.phases, postCyclePhase{name: name, run: fn})
}

// RequestTermination asks RunForever to stop after the current query, and
// the current cycle, finish. A call made while an earlier request is still
// pending returns forced=true and has no further effect on the scheduler.
func (s *Scheduler) RequestTermination() (forced bool) {
	select {
	case s.terminate <- struct{}{}:
		return false
	default:
		return true
	}
}

// RunOnce executes exactly one cycle: acquire the global lock, run every
// registered query in order, release the lock, run the post-cycle phases,
// and summarize. When the lock is held elsewhere the phases are skipped too;
// the holder's cycle will run them.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleSummary, error) {
	summary, err := s.runLockedCycle(ctx)
	if err != nil || !summary.LockAcquired {
		return summary, err
	}
	for _, p := range s.phases {
		if err := p.run(ctx); err != nil && s.log != nil {
			s.log.WithFields(logging.Fields{"phase": p.name, "error": err.Error()}).Warn("post-cycle phase failed")
		}
	}
	return summary, nil
}

func (s *Scheduler) runLockedCycle(ctx context.Context) (CycleSummary, error) {
	ownerID := uuid.NewString()
	ttl := config.RunLockTTL

	acquired, err := s.store.AcquireRunLock(ctx, ownerID, ttl)
	if err != nil {
		return CycleSummary{}, fmt.Errorf("acquire run lock: %w", err)
	}
	metrics.RecordCycle(acquired)
	if !acquired {
		if s.log != nil {
			s.log.WithFields(logging.Fields{}).Info("run lock held by another owner, skipping cycle")
		}
		return CycleSummary{}, nil
	}
	metrics.SetRunLockAcquired(true)
	defer func() {
		metrics.SetRunLockAcquired(false)
		if err := s.store.ReleaseRunLock(ctx, ownerID); err != nil && s.log != nil {
			s.log.WithFields(logging.Fields{"error": err.Error()}).Warn("failed to release run lock")
		}
	}()

	for _, q := range s.queries {
		if err := s.store.EnsureQueryState(ctx, q.Key(), q.Client, q.Name); err != nil {
			return CycleSummary{}, fmt.Errorf("ensure query state %s: %w", q.Key(), err)
		}
	}

	summary := CycleSummary{LockAcquired: true}

	for i, q := range s.queries {
		s.runQuery(ctx, q, &summary)

		if i < len(s.queries)-1 {
			if err := s.sleepJitter(ctx); err != nil {
				break
			}
		}
	}

	if s.log != nil {
		s.log.WithFields(logging.Fields{
			"queries_run":     summary.QueriesRun,
			"queries_skipped": summary.QueriesSkipped,
			"queries_failed":  summary.QueriesFailed,
		}).Info("ingestion cycle summary")
	}
	return summary, nil
}

func (s *Scheduler) runQuery(ctx context.Context, q Query, summary *CycleSummary) {
	key := q.Key()

	paused, err := s.store.IsClientPaused(ctx, q.Client)
	if err != nil {
		summary.QueriesFailed++
		return
	}
	if paused {
		summary.QueriesSkipped++
		if s.log != nil {
			s.log.WithFields(logging.Fields{"query": key, "client": q.Client}).Info("query skipped: client paused")
		}
		return
	}

	if limiter, ok := s.limiters[q.Client]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}

	if err := s.store.MarkQueryRunning(ctx, key); err != nil {
		summary.QueriesFailed++
		return
	}

	const maxAttempts = config.MaxRetriesPerQuery
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		offers, err := q.Run(ctx)
		if err == nil {
			result, runErr := s.ingest.RunBatch(ctx, q.Client, key, offers, nil, s.log)
			if runErr == nil {
				summary.Counters.Add(result.Counters)
				summary.QueriesRun++
				_ = s.store.MarkQuerySuccess(ctx, key, time.Now())
				return
			}
			err = runErr
		}

		lastErr = err
		class := Classify(err)
		code := string(class)
		message := truncateErrorMessage(err.Error())
		_ = s.store.MarkQueryError(ctx, key, code, message, time.Now())

		switch class {
		case ErrorFatal:
			summary.QueriesFailed++
			return
		case ErrorRateLimit:
			pauseUntil := time.Now().Add(config.ClientPauseDuration)
			_ = s.store.SetClientPause(ctx, q.Client, pauseUntil, string(ErrorRateLimit))
			summary.QueriesFailed++
			return
		case ErrorTransient:
			if attempt < maxAttempts {
				select {
				case <-time.After(config.TransientRetryGap):
				case <-ctx.Done():
					summary.QueriesFailed++
					return
				}
				continue
			}
		}
	}

	if lastErr != nil {
		summary.QueriesFailed++
	}
}

func (s *Scheduler) sleepJitter(ctx context.Context) error {
	d := randomDuration(config.QueryJitterMin, config.QueryJitterMax)
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// RunForever loops RunOnce until a termination request is observed between
// cycles, sleeping a random duration in [CycleSleepMinSec, CycleSleepMaxSec]
// between them. A per-cycle non-fatal failure is caught and followed by a
// fixed fallback sleep instead of the normal jittered one.
func (s *Scheduler) RunForever(ctx context.Context) error {
	for {
		select {
		case <-s.terminate:
			return nil
		default:
		}

		_, err := s.RunOnce(ctx)
		sleep := randomDuration(
			time.Duration(s.cfg.Scheduler.CycleSleepMinSec)*time.Second,
			time.Duration(s.cfg.Scheduler.CycleSleepMaxSec)*time.Second,
		)
		if err != nil {
			if s.log != nil {
				s.log.WithFields(logging.Fields{"error": err.Error()}).Warn("cycle failed, falling back to a fixed retry sleep")
			}
			sleep = config.CycleFallbackSleep
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		case <-s.terminate:
			return nil
		}
	}
}
