package service

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpirySweeper periodically reclaims unpaid reservations whose payment
// window has closed. The sweep and a late payment confirmation may race
// over the same row; the store's conditional updates guarantee exactly
// one of them wins.
type ExpirySweeper struct {
	enrolls EnrollmentStore
	cron    *cron.Cron
	now     func() time.Time

	expiredTotal    atomic.Int64
	deadlockRetries atomic.Int64
}

// NewExpirySweeper returns a sweeper that is not yet running.
func NewExpirySweeper(enrolls EnrollmentStore) *ExpirySweeper {
	return &ExpirySweeper{
		enrolls: enrolls,
		cron:    cron.New(),
		now:     time.Now,
	}
}

// Start schedules the sweep every minute and launches the scheduler
// goroutine.
func (s *ExpirySweeper) Start() error {
	_, err := s.cron.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			log.Printf("sweep: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *ExpirySweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce executes a single sweep and returns how many reservations it
// expired.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int64, error) {
	var n int64
	err := withDeadlockRetry(ctx, 3, &s.deadlockRetries, func() error {
		var serr error
		n, serr = s.enrolls.ExpireDue(ctx, s.now().UTC())
		return serr
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.expiredTotal.Add(n)
		log.Printf("sweep: expired %d unpaid reservations", n)
	}
	return n, nil
}

// ExpiredTotal reports how many reservations the sweeper has reclaimed
// since start.
func (s *ExpirySweeper) ExpiredTotal() int64 { return s.expiredTotal.Load() }
