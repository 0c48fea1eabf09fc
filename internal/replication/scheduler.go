package replication

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/harvard-lil/perma-capture/internal/pkg/config"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
)

// Scheduler walks incomplete days oldest-first and queues links for
// replication, subject to a global in-flight cap, per spec §4.9 and its
// SPEC_FULL elaboration (whole-item-set tasks_in_progress sum, explicit
// day blocklist).
type Scheduler struct {
	engine      *Engine
	deps        Deps
	writeQueue  WriteQueueDepth
	cronEngine  *cron.Cron
	blockedDays map[string]bool
}

func NewScheduler(engine *Engine, deps Deps, writeQueue WriteQueueDepth) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = log.NewFieldedLogger(&log.Fields{"component": "daily-batch-scheduler"})
	}

	blocked := make(map[string]bool, len(config.Get().InternetArchiveBlockedDates))
	for _, d := range config.Get().InternetArchiveBlockedDates {
		blocked[d] = true
	}

	return &Scheduler{
		engine:      engine,
		deps:        deps,
		writeQueue:  writeQueue,
		cronEngine:  cron.New(),
		blockedDays: blocked,
	}
}

// Start registers the periodic scan on the given cron spec (e.g. "@every
// 5m") and begins running it in the background. Callers should defer
// Stop.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cronEngine.AddFunc(spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.deps.Logger.Warn("daily-batch scheduler pass failed", "err", err)
		}
	})
	if err != nil {
		return err
	}
	s.cronEngine.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.cronEngine.Stop()
}

// RunOnce performs a single scheduling pass: if the external write queue
// is non-empty, it skips (queue writes take priority); otherwise it walks
// every incomplete day oldest-first, queues up to the remaining global
// capacity, and marks any day with zero pending links complete.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	depth, err := s.writeQueue(ctx)
	if err != nil {
		return err
	}
	if depth > 0 {
		return nil
	}

	cfg := config.Get()

	items, err := s.deps.Store.IncompleteItemsOldestFirst(ctx, cfg.InternetArchiveIdentifierPrefix)
	if err != nil {
		return err
	}

	tasksInFlight := 0
	for _, item := range items {
		tasksInFlight += item.TasksInProgress
	}

	for _, item := range items {
		dayKey := item.SpanStart.Format("2006-01-02")
		if s.blockedDays[dayKey] {
			continue
		}

		maxToQueue := cfg.InternetArchiveMaxSimultaneous - tasksInFlight
		if maxToQueue <= 0 {
			break // global cap reached; resume on the next pass
		}
		if maxToQueue > cfg.InternetArchiveDailyLimit {
			maxToQueue = cfg.InternetArchiveDailyLimit
		}

		guids, err := s.deps.Links.LinksPendingReplicationOnDay(ctx, item.SpanStart)
		if err != nil {
			s.deps.Logger.Warn("failed to list pending links for day", "day", dayKey, "err", err)
			continue
		}

		if len(guids) == 0 {
			item.Complete = true
			if err := s.deps.Store.SaveItem(ctx, item); err != nil {
				s.deps.Logger.Warn("failed to mark item complete", "item", item.Identifier, "err", err)
			}
			continue
		}

		queued := 0
		for _, guid := range guids {
			if queued >= maxToQueue {
				break
			}
			link, err := s.deps.Links.GetLink(ctx, guid)
			if err != nil {
				s.deps.Logger.Warn("failed to load link for replication", "link", guid, "err", err)
				continue
			}
			if err := s.engine.ReplicateLink(ctx, link); err != nil {
				s.deps.Logger.Warn("replication attempt failed", "link", guid, "err", err)
			}
			queued++
		}
		tasksInFlight += queued
	}

	return nil
}
