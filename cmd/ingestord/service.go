package main

import (
	"context"

	"github.com/offerwatch/ingestor/internal/app/services/scheduler"
	"github.com/offerwatch/ingestor/internal/app/system"
	logging "github.com/offerwatch/ingestor/pkg/logger"
)

// schedulerService adapts the scheduler's blocking RunForever loop to the
// system.Service lifecycle: Start launches it in the background and returns
// immediately, Stop asks it to wind down and waits for the loop to exit.
type schedulerService struct {
	sched *scheduler.Scheduler
	log   *logging.Logger
	done  chan error
}

func newSchedulerService(sched *scheduler.Scheduler, log *logging.Logger) *schedulerService {
	return &schedulerService{sched: sched, log: log}
}

func (s *schedulerService) Name() string { return "scheduler" }

func (s *schedulerService) Start(ctx context.Context) error {
	s.done = make(chan error, 1)
	go func() { s.done <- s.sched.RunForever(ctx) }()
	return nil
}

func (s *schedulerService) Stop(ctx context.Context) error {
	forced := s.sched.RequestTermination()
	if forced && s.log != nil {
		s.log.Warn("scheduler did not stop on first request, forcing termination")
	}
	select {
	case err := <-s.done:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ system.Service = (*schedulerService)(nil)
