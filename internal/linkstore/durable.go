package linkstore

import (
	"context"
	"sync"
	"time"

	"github.com/beeker1121/goque"

	"github.com/harvard-lil/perma-capture/pkg/models"
)

// Durable is a LinkStore whose pending-job ordering survives a process
// restart, backed by a goque.Queue of GUIDs on disk. Link/CaptureJob field
// storage itself still lives in memory: the web application's actual
// database schema is out of scope here (spec.md §1 Non-goals), but the
// durability of "what's still queued to run" is not — a restart should
// not silently drop jobs that were pending, which an in-memory-only queue
// would. This replaces the teacher's hand-rolled WAL+gob on-disk index
// with goque, a maintained library already in the dependency set.
type Durable struct {
	mu    sync.Mutex
	links map[string]*models.Link
	jobs  map[string]*models.CaptureJob

	queue *goque.Queue
}

// OpenDurable opens (or creates) the on-disk queue at dataDir.
func OpenDurable(dataDir string) (*Durable, error) {
	q, err := goque.OpenQueue(dataDir)
	if err != nil {
		return nil, err
	}
	return &Durable{
		links: make(map[string]*models.Link),
		jobs:  make(map[string]*models.CaptureJob),
		queue: q,
	}, nil
}

func (s *Durable) Close() error {
	return s.queue.Close()
}

// Put seeds a Link/CaptureJob pair and enqueues the job's GUID for
// pickup by ReserveNext.
func (s *Durable) Put(link *models.Link, job *models.CaptureJob) error {
	s.mu.Lock()
	s.links[link.GUID] = link
	s.jobs[job.LinkGUID] = job
	s.mu.Unlock()

	_, err := s.queue.EnqueueString(job.LinkGUID)
	return err
}

// ReserveNext dequeues GUIDs until it finds one still pending (a GUID may
// have been enqueued more than once across EnqueueNextRun chaining calls,
// or its job may have already been reclaimed), marks it in_progress, and
// returns it.
func (s *Durable) ReserveNext(ctx context.Context, now time.Time) (*models.CaptureJob, *models.Link, error) {
	for {
		item, err := s.queue.Dequeue()
		if err == goque.ErrEmpty {
			return nil, nil, ErrNotFound
		}
		if err != nil {
			return nil, nil, err
		}

		guid := item.ToString()

		s.mu.Lock()
		job, ok := s.jobs[guid]
		link := s.links[guid]
		if ok && job.Status == models.JobPending {
			job.Reserve(now)
			s.mu.Unlock()
			return job, link, nil
		}
		s.mu.Unlock()
		// Stale or already-claimed entry; keep draining.
	}
}

func (s *Durable) ReclaimStale(ctx context.Context, now time.Time, hardTimeout time.Duration) (int, error) {
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

func (s *Durable) GetLink(ctx context.Context, guid string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[guid]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

func (s *Durable) SaveLink(ctx context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.GUID] = link
	return nil
}

func (s *Durable) GetJob(ctx context.Context, guid string) (*models.CaptureJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[guid]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *Durable) SaveJob(ctx context.Context, job *models.CaptureJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.LinkGUID] = job
	return nil
}

// EnqueueNextRun re-enqueues linkGUID for another orchestrator pass (the
// "chain" step, spec §4.5 step 13), marking the job pending again.
func (s *Durable) EnqueueNextRun(ctx context.Context, linkGUID string) error {
	s.mu.Lock()
	if job, ok := s.jobs[linkGUID]; ok {
		job.Status = models.JobPending
	}
	s.mu.Unlock()

	_, err := s.queue.EnqueueString(linkGUID)
	return err
}

func (s *Durable) LinksPendingReplicationOnDay(ctx context.Context, day time.Time) ([]string, error) {
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
