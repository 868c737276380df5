// Package memory provides an in-memory record store for tests and
// ephemeral deployments. All data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/photogate/photogate/pkg/record"
	"github.com/photogate/photogate/pkg/record/store"
)

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	images map[string]*record.Image
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory record store.
func New() *Store {
	return &Store{images: make(map[string]*record.Image)}
}

func (s *Store) Create(ctx context.Context, img *record.Image) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	if img.Status == "" {
		img.Status = record.StatusPending
	}
	now := time.Now()
	img.CreatedAt = now
	img.UpdatedAt = now

	s.images[img.ID] = clone(img)
	return img.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (*record.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, ok := s.images[id]
	if !ok {
		return nil, record.ErrImageNotFound
	}
	return clone(img), nil
}

func (s *Store) Update(ctx context.Context, id string, patch store.Patch) (*record.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.images[id]
	if !ok {
		return nil, record.ErrImageNotFound
	}

	if patch.Status != nil {
		img.Status = *patch.Status
	}
	if patch.OriginalName != nil {
		img.OriginalName = *patch.OriginalName
	}
	if patch.ProcessedPath != nil {
		img.ProcessedPath = *patch.ProcessedPath
	}
	if patch.ProcessedSize != nil {
		img.ProcessedSize = *patch.ProcessedSize
	}
	if patch.Width != nil {
		img.Width = *patch.Width
	}
	if patch.Height != nil {
		img.Height = *patch.Height
	}
	if patch.MetaData != nil {
		img.MetaData = img.MetaData.Merge(patch.MetaData)
	}
	img.UpdatedAt = time.Now()

	return clone(img), nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to record.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.images[id]
	if !ok {
		return false, record.ErrImageNotFound
	}
	if img.Status != from {
		return false, nil
	}
	img.Status = to
	img.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) List(ctx context.Context, filter store.ListFilter, offset, limit int) ([]*record.Image, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*record.Image
	for _, img := range s.images {
		if filter.Status != nil && img.Status != *filter.Status {
			continue
		}
		matched = append(matched, img)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	page := make([]*record.Image, 0, end-offset)
	for _, img := range matched[offset:end] {
		page = append(page, clone(img))
	}
	return page, total, nil
}

func (s *Store) FindProcessedWithHash(ctx context.Context) ([]*record.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*record.Image
	for _, img := range s.images {
		if img.Status != record.StatusProcessed {
			continue
		}
		if _, ok := img.PHash(); !ok {
			continue
		}
		// Project only the fields duplicate detection needs.
		out = append(out, &record.Image{
			ID:           img.ID,
			OriginalName: img.OriginalName,
			MetaData:     img.MetaData.Clone(),
		})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.images, id)
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func clone(img *record.Image) *record.Image {
	out := *img
	out.MetaData = img.MetaData.Clone()
	return &out
}
