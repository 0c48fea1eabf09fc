package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harvard-lil/perma-capture/pkg/models"
)

var ErrNotFound = errors.New("replication: not found")

// Store is the persistence boundary for InternetArchiveItem/File records,
// the replication engine's equivalent of linkstore.LinkStore.
type Store interface {
	GetFile(ctx context.Context, itemIdentifier, linkGUID string) (*models.InternetArchiveFile, error)
	SaveFile(ctx context.Context, f *models.InternetArchiveFile) error

	GetItem(ctx context.Context, identifier string) (*models.InternetArchiveItem, error)
	SaveItem(ctx context.Context, item *models.InternetArchiveItem) error

	// ItemForDay returns (creating if absent) the daily bucket item for
	// the given UTC day, identified by "<prefix>_YYYY-MM-DD".
	ItemForDay(ctx context.Context, prefix string, day time.Time) (*models.InternetArchiveItem, error)

	// IncompleteItemsOldestFirst returns every item with Complete == false,
	// oldest SpanStart first, for the Daily-Batch Scheduler's walk.
	IncompleteItemsOldestFirst(ctx context.Context, prefix string) ([]*models.InternetArchiveItem, error)

	// FilesNeedingConfirmation returns files in a submitted (not yet
	// confirmed) state for the Confirmation Poller.
	FilesNeedingConfirmation(ctx context.Context) ([]*models.InternetArchiveFile, error)
}

// InMemoryStore is a Store backed by maps, guarded by a mutex, for tests
// and local development.
type InMemoryStore struct {
	mu    sync.Mutex
	files map[string]*models.InternetArchiveFile // itemIdentifier + "/" + linkGUID
	items map[string]*models.InternetArchiveItem
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		files: make(map[string]*models.InternetArchiveFile),
		items: make(map[string]*models.InternetArchiveItem),
	}
}

func fileKey(itemIdentifier, linkGUID string) string {
	return itemIdentifier + "/" + linkGUID
}

func (s *InMemoryStore) GetFile(ctx context.Context, itemIdentifier, linkGUID string) (*models.InternetArchiveFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileKey(itemIdentifier, linkGUID)]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func (s *InMemoryStore) SaveFile(ctx context.Context, f *models.InternetArchiveFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey(f.ItemIdentifier, f.LinkGUID)] = f
	return nil
}

func (s *InMemoryStore) GetItem(ctx context.Context, identifier string) (*models.InternetArchiveItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *InMemoryStore) SaveItem(ctx context.Context, item *models.InternetArchiveItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Identifier] = item
	return nil
}

func (s *InMemoryStore) ItemForDay(ctx context.Context, prefix string, day time.Time) (*models.InternetArchiveItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spanStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	identifier := prefix + "_" + spanStart.Format("2006-01-02")

	if item, ok := s.items[identifier]; ok {
		return item, nil
	}

	item := &models.InternetArchiveItem{
		Identifier: identifier,
		SpanStart:  spanStart,
		SpanEnd:    spanStart.Add(24 * time.Hour),
		AddedDate:  spanStart,
	}
	s.items[identifier] = item
	return item, nil
}

func (s *InMemoryStore) IncompleteItemsOldestFirst(ctx context.Context, prefix string) ([]*models.InternetArchiveItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.InternetArchiveItem
	for _, item := range s.items {
		if !item.Complete {
			out = append(out, item)
		}
	}
	sortItemsBySpanStart(out)
	return out, nil
}

func sortItemsBySpanStart(items []*models.InternetArchiveItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].SpanStart.Before(items[j-1].SpanStart); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func (s *InMemoryStore) FilesNeedingConfirmation(ctx context.Context) ([]*models.InternetArchiveFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.InternetArchiveFile
	for _, f := range s.files {
		switch f.Status {
		case models.StatusUploadSubmitted, models.StatusDeletionSubmitted:
			out = append(out, f)
		}
	}
	return out, nil
}
