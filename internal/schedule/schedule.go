// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package schedule runs periodic wallpaper posts to channels.
package schedule

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.astrophena.name/wallbot/internal/logger"
	"go.astrophena.name/wallbot/internal/store"
)

var activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wallbot",
	Subsystem: "schedule",
	Name:      "active_jobs",
	Help:      "Number of currently running schedule jobs.",
})

// Poster posts one wallpaper according to the schedule.
type Poster func(ctx context.Context, s store.Schedule) error

// Scheduler runs a goroutine per active schedule, posting a wallpaper each
// time the schedule's interval elapses.
type Scheduler struct {
	// Store persists schedules and their last post times.
	Store store.Store
	// Post posts one wallpaper. Must be set.
	Post Poster
	// Logf specifies a logger to use. If nil, log.Printf is used.
	Logf logger.Logf

	ctx  context.Context
	wg   sync.WaitGroup
	mu   sync.Mutex
	jobs map[string]context.CancelFunc
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.Logf == nil {
		s.Logf = log.Printf
	}
	s.Logf(format, args...)
}

// Start loads schedules from the store and starts a job for each active
// one. It returns immediately; jobs run until Stop is called or ctx is
// canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	s.jobs = make(map[string]context.CancelFunc)

	schedules, err := s.Store.Schedules(ctx)
	if err != nil {
		return err
	}
	for _, sc := range schedules {
		if sc.Active {
			s.Add(sc)
		}
	}
	s.logf("schedule: started %d jobs", s.Len())
	return nil
}

// Add starts a job for the schedule, replacing a previously running job
// with the same ID.
func (s *Scheduler) Add(sc store.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.jobs[sc.ID]; ok {
		cancel()
		activeJobs.Dec()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.jobs[sc.ID] = cancel
	activeJobs.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, sc)
	}()
}

// Remove stops the job for the schedule with the given ID, if any.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.jobs[id]; ok {
		cancel()
		delete(s.jobs, id)
		activeJobs.Dec()
	}
}

// Len returns the number of running jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Stop cancels all jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, cancel := range s.jobs {
		cancel()
		delete(s.jobs, id)
		activeJobs.Dec()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, sc store.Schedule) {
	interval := sc.Interval.Duration()

	// If the previous post is recent, wait out the remainder of the
	// interval instead of posting immediately after a restart.
	wait := time.Duration(0)
	if !sc.LastPost.IsZero() {
		if elapsed := time.Since(sc.LastPost); elapsed < interval {
			wait = interval - elapsed
		}
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}

	s.post(ctx, &sc)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.post(ctx, &sc)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) post(ctx context.Context, sc *store.Schedule) {
	if err := s.Post(ctx, *sc); err != nil {
		s.logf("schedule: posting to channel %d: %v", sc.ChannelID, err)
		return
	}
	sc.LastPost = time.Now().UTC()
	if err := s.Store.SaveSchedule(ctx, *sc); err != nil {
		s.logf("schedule: saving %s: %v", sc.ID, err)
	}
}
