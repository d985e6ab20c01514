// Package scheduler runs periodic maintenance jobs such as pruning the post cache.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

const jobTimeout = 30 * time.Minute

// Pruner removes cached posts older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]cron.EntryID),
	}
}

// AddJob registers job under name. schedule is a standard five-field cron
// expression or a descriptor such as "@daily" or "@every 6h".
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = entryID
	s.mu.Unlock()

	log.Printf("[scheduler] Added job: %s (schedule: %s)", name, schedule)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	log.Printf("[scheduler] Starting job: %s", name)
	start := time.Now()
	if err := job(ctx); err != nil {
		log.Printf("[scheduler] Job %s failed: %v", name, err)
		return
	}
	log.Printf("[scheduler] Job %s completed in %v", name, time.Since(start))
}

// AddPruneJob schedules cache pruning. A non-positive retention disables it.
func (s *Scheduler) AddPruneJob(schedule string, p Pruner, retention time.Duration) error {
	if retention <= 0 {
		log.Println("[scheduler] Cache retention disabled, not scheduling prune-cache")
		return nil
	}
	return s.AddJob("prune-cache", schedule, PruneJob(p, retention))
}

// PruneJob returns a Job that prunes posts older than retention.
func PruneJob(p Pruner, retention time.Duration) Job {
	return func(ctx context.Context) error {
		n, err := p.Prune(ctx, retention)
		if err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		log.Printf("[scheduler] Pruned %d cached post(s) older than %v", n, retention)
		return nil
	}
}

func (s *Scheduler) Start() {
	log.Println("[scheduler] Starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	log.Println("[scheduler] Stopping scheduler")
	return s.cron.Stop()
}

// RunNow executes job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	log.Printf("[scheduler] Running job now: %s", name)
	return job(ctx)
}

type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, id := range s.jobs {
		entry := s.cron.Entry(id)
		infos = append(infos, JobInfo{Name: name, NextRun: entry.Next, LastRun: entry.Prev})
	}
	return infos
}
