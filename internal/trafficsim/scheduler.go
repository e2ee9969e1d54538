package trafficsim

import (
	"context"
	"sync"
	"time"
)

// sessionRunner is satisfied by *SessionRunner.
type sessionRunner interface {
	Run(ctx context.Context, index int)
}

// Scheduler starts sessions with a short random gap between launches and
// waits for every launched session to finish.
type Scheduler struct {
	runner      sessionRunner
	count       int
	maxInFlight int
	stagger     DurationRange

	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(cfg Config, runner sessionRunner) *Scheduler {
	return &Scheduler{
		runner:      runner,
		count:       cfg.Sessions.Concurrent,
		maxInFlight: cfg.Sessions.MaxInFlight,
		stagger:     cfg.Sessions.Stagger,
		sleep:       sleepCtx,
	}
}

// RunAll returns once all launched sessions are done. A cancelled ctx stops
// further launches; sessions already running see the same ctx.
func (s *Scheduler) RunAll(ctx context.Context) {
	var sem chan struct{}
	if s.maxInFlight > 0 {
		sem = make(chan struct{}, s.maxInFlight)
	}

	var wg sync.WaitGroup
launch:
	for i := 0; i < s.count; i++ {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break launch
			}
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			s.runner.Run(ctx, idx)
		}(i)

		if i == s.count-1 {
			break
		}
		lo, hi := s.stagger.Bounds()
		if err := s.sleep(ctx, uniformDuration(lo, hi)); err != nil {
			break
		}
	}
	wg.Wait()
}
