// Package linkstore defines the boundary the Capture and Replication
// engines use to read job input and persist outcome fields. The web
// application's database schema lives behind this interface and is out of
// scope here; this package provides the interface plus an in-memory
// implementation used by tests.
package linkstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harvard-lil/perma-capture/pkg/models"
)

var ErrNotFound = errors.New("linkstore: not found")

// LinkStore is the persistence boundary: read a job, persist outcome
// fields. Implementations must make ReserveNext atomic with respect to
// concurrent callers.
type LinkStore interface {
	// ReserveNext atomically reserves the oldest pending CaptureJob,
	// marking it in_progress, or returns ErrNotFound if none is pending.
	ReserveNext(ctx context.Context, now time.Time) (*models.CaptureJob, *models.Link, error)

	// ReclaimStale marks any in_progress job older than hardTimeout as
	// failed (and its pending primary capture as failed), returning how
	// many were reclaimed.
	ReclaimStale(ctx context.Context, now time.Time, hardTimeout time.Duration) (int, error)

	GetLink(ctx context.Context, guid string) (*models.Link, error)
	SaveLink(ctx context.Context, link *models.Link) error

	GetJob(ctx context.Context, guid string) (*models.CaptureJob, error)
	SaveJob(ctx context.Context, job *models.CaptureJob) error

	// EnqueueNextRun enqueues another run of the orchestrator (the
	// "chain" step). The deployment-sentinel check is the caller's.
	EnqueueNextRun(ctx context.Context, linkGUID string) error

	// LinksPendingReplicationOnDay returns the GUIDs of every link created
	// on the given UTC day. Links that are already replicated are not
	// filtered out.
	LinksPendingReplicationOnDay(ctx context.Context, day time.Time) ([]string, error)
}

// InMemory is a LinkStore backed by maps, guarded by a mutex. It exists for
// tests and local development; it is not suitable as a production
// multi-process store.
type InMemory struct {
	mu    sync.Mutex
	links map[string]*models.Link
	jobs  map[string]*models.CaptureJob
	// insertion order, oldest first, used to pick the next pending job
	order []string
}

func NewInMemory() *InMemory {
	return &InMemory{
		links: make(map[string]*models.Link),
		jobs:  make(map[string]*models.CaptureJob),
	}
}

func (s *InMemory) Put(link *models.Link, job *models.CaptureJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.GUID] = link
	s.jobs[job.LinkGUID] = job
	s.order = append(s.order, job.LinkGUID)
}

func (s *InMemory) ReserveNext(ctx context.Context, now time.Time) (*models.CaptureJob, *models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, guid := range s.order {
		job := s.jobs[guid]
		if job != nil && job.Status == models.JobPending {
			job.Reserve(now)
			return job, s.links[guid], nil
		}
	}
	return nil, nil, ErrNotFound
}

func (s *InMemory) ReclaimStale(ctx context.Context, now time.Time, hardTimeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if job.IsStale(now, hardTimeout) {
			job.Status = models.JobFailed
			if link, ok := s.links[job.LinkGUID]; ok && link.PrimaryCapture != nil &&
				link.PrimaryCapture.Status == models.CaptureStatusPending {
				link.PrimaryCapture.Status = models.CaptureStatusFailed
			}
			n++
		}
	}
	return n, nil
}

func (s *InMemory) GetLink(ctx context.Context, guid string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[guid]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

func (s *InMemory) SaveLink(ctx context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.GUID] = link
	return nil
}

func (s *InMemory) GetJob(ctx context.Context, guid string) (*models.CaptureJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[guid]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *InMemory) SaveJob(ctx context.Context, job *models.CaptureJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.LinkGUID] = job
	return nil
}

func (s *InMemory) EnqueueNextRun(ctx context.Context, linkGUID string) error {
	return nil
}

func (s *InMemory) LinksPendingReplicationOnDay(ctx context.Context, day time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var out []string
	for guid, l := range s.links {
		if !l.CreatedAt.Before(start) && l.CreatedAt.Before(end) {
			out = append(out, guid)
		}
	}
	return out, nil
}
