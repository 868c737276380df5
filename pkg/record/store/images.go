package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/photogate/photogate/pkg/record"
)

// Create assigns an id when missing, stamps timestamps and persists the
// record. The initial status defaults to PENDING.
func (s *GORMStore) Create(ctx context.Context, img *record.Image) (string, error) {
	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	if img.Status == "" {
		img.Status = record.StatusPending
	}
	now := time.Now()
	img.CreatedAt = now
	img.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(img).Error; err != nil {
		return "", err
	}
	return img.ID, nil
}

// Get returns the record or record.ErrImageNotFound.
func (s *GORMStore) Get(ctx context.Context, id string) (*record.Image, error) {
	var img record.Image
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&img).Error; err != nil {
		return nil, convertNotFoundError(err, record.ErrImageNotFound)
	}
	normalize(&img)
	return &img, nil
}

// Update applies the patch inside a transaction so the metaData merge and
// the status write land together. Returns the updated record.
func (s *GORMStore) Update(ctx context.Context, id string, patch Patch) (*record.Image, error) {
	var updated record.Image

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the row for the duration of the merge; without it two
		// concurrent merges read the same metaData and the second write
		// drops the first one's keys. SQLite serializes writers on its
		// own and rejects FOR UPDATE.
		read := tx.Where("id = ?", id)
		if tx.Dialector.Name() == "postgres" {
			read = read.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var existing record.Image
		if err := read.First(&existing).Error; err != nil {
			return convertNotFoundError(err, record.ErrImageNotFound)
		}

		values := map[string]any{"updated_at": time.Now()}
		if patch.Status != nil {
			values["status"] = *patch.Status
		}
		if patch.OriginalName != nil {
			values["original_name"] = *patch.OriginalName
		}
		if patch.ProcessedPath != nil {
			values["processed_path"] = *patch.ProcessedPath
		}
		if patch.ProcessedSize != nil {
			values["processed_size"] = *patch.ProcessedSize
		}
		if patch.Width != nil {
			values["width"] = *patch.Width
		}
		if patch.Height != nil {
			values["height"] = *patch.Height
		}
		if patch.MetaData != nil {
			values["meta_data"] = existing.MetaData.Merge(patch.MetaData)
		}

		if err := tx.Model(&record.Image{}).Where("id = ?", id).Updates(values).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	normalize(&updated)
	return &updated, nil
}

// TransitionStatus performs an atomic compare-and-set on the status column.
func (s *GORMStore) TransitionStatus(ctx context.Context, id string, from, to record.Status) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&record.Image{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Distinguish wrong-state from missing record.
	var count int64
	if err := s.db.WithContext(ctx).Model(&record.Image{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, record.ErrImageNotFound
	}
	return false, nil
}

// List returns a page of records ordered newest first plus the total count.
func (s *GORMStore) List(ctx context.Context, filter ListFilter, offset, limit int) ([]*record.Image, int64, error) {
	q := s.db.WithContext(ctx).Model(&record.Image{})
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var images []*record.Image
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&images).Error; err != nil {
		return nil, 0, err
	}
	for _, img := range images {
		normalize(img)
	}
	return images, total, nil
}

// FindProcessedWithHash returns every PROCESSED record with a pHash present,
// projecting only the columns duplicate detection needs.
func (s *GORMStore) FindProcessedWithHash(ctx context.Context) ([]*record.Image, error) {
	var images []*record.Image
	err := s.db.WithContext(ctx).
		Model(&record.Image{}).
		Select("id", "original_name", "meta_data").
		Where("status = ?", record.StatusProcessed).
		Find(&images).Error
	if err != nil {
		return nil, err
	}

	// The JSON column cannot be filtered portably across SQLite and
	// PostgreSQL, so the pHash presence check happens here.
	out := images[:0]
	for _, img := range images {
		if _, ok := img.PHash(); ok {
			out = append(out, img)
		}
	}
	return out, nil
}

// Delete removes the record. Missing records are a silent no-op.
func (s *GORMStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&record.Image{}).Error
}

// Ping checks database connectivity.
func (s *GORMStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// normalize maps legacy status strings onto the canonical enum on read.
func normalize(img *record.Image) {
	if !img.Status.IsValid() {
		img.Status = record.NormalizeStatus(string(img.Status))
	}
}
