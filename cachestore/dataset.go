package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/stream"
)

// Dataset is the handle of one persisted materialization.
type Dataset struct {
	ID        string
	Key       string
	Columns   stream.Columns
	Rows      int64
	Sealed    bool
	CreatedAt time.Time
}

func toDataset(rec *datasetRecord) (*Dataset, error) {
	var names []string
	if err := json.Unmarshal([]byte(rec.Columns), &names); err != nil {
		return nil, fmt.Errorf("decode columns of %s: %w", rec.Key, err)
	}
	return &Dataset{
		ID:        rec.ID,
		Key:       rec.Key,
		Columns:   stream.Names(names...),
		Rows:      rec.Rows,
		Sealed:    rec.Sealed,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// Create starts a new unsealed dataset under key, replacing any dataset
// previously stored under the same key.
func (s *Store) Create(ctx context.Context, key string, columns stream.Columns) (*Dataset, error) {
	cols, err := json.Marshal(columns.Strings())
	if err != nil {
		return nil, err
	}
	rec := &datasetRecord{
		ID:        uuid.NewString(),
		Key:       key,
		Columns:   string(cols),
		CreatedAt: time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := dropKey(tx, key); err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, fromDatabase(err, key)
	}
	s.log.Debug("Dataset created", logger.Fields(logger.FieldCacheKey, key, "dataset_id", rec.ID))
	return toDataset(rec)
}

// Append writes rows to the end of an unsealed dataset.
func (s *Store) Append(ctx context.Context, ds *Dataset, rows []stream.Tuple) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec datasetRecord
		res := tx.Where("id = ? AND sealed = ?", ds.ID, false).Limit(1).Find(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return datasetGone(ds)
		}

		records := make([]rowRecord, len(rows))
		for i, row := range rows {
			values, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encode row %d: %w", rec.Rows+int64(i), err)
			}
			records[i] = rowRecord{DatasetID: ds.ID, Seq: rec.Rows + int64(i), Values: string(values)}
		}
		if err := tx.CreateInBatches(records, s.cfg.InsertBatchSize).Error; err != nil {
			return err
		}
		return tx.Model(&datasetRecord{}).Where("id = ?", ds.ID).
			Update("row_count", rec.Rows+int64(len(rows))).Error
	})
	if err != nil {
		return fromDatabase(err, ds.Key)
	}
	ds.Rows += int64(len(rows))
	return nil
}

// Seal marks a dataset complete. Only sealed datasets are returned by Find.
func (s *Store) Seal(ctx context.Context, ds *Dataset) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&datasetRecord{}).
		Where("id = ? AND sealed = ?", ds.ID, false).
		Updates(map[string]any{"sealed": true, "sealed_at": &now})
	if res.Error != nil {
		return fromDatabase(res.Error, ds.Key)
	}
	if res.RowsAffected == 0 {
		return datasetGone(ds)
	}
	ds.Sealed = true
	s.log.Debug("Dataset sealed", logger.Fields(logger.FieldCacheKey, ds.Key, logger.FieldRows, ds.Rows))
	return nil
}

// Find returns the sealed dataset stored under key.
func (s *Store) Find(ctx context.Context, key string) (*Dataset, error) {
	var rec datasetRecord
	if err := s.db.WithContext(ctx).Where("cache_key = ? AND sealed = ?", key, true).First(&rec).Error; err != nil {
		return nil, fromDatabase(err, key)
	}
	return toDataset(&rec)
}

// List returns every dataset, sealed or not, ordered by key.
func (s *Store) List(ctx context.Context) ([]*Dataset, error) {
	var recs []datasetRecord
	if err := s.db.WithContext(ctx).Order("cache_key").Find(&recs).Error; err != nil {
		return nil, fromDatabase(err, "")
	}
	out := make([]*Dataset, 0, len(recs))
	for i := range recs {
		ds, err := toDataset(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// Drop deletes the dataset stored under key together with its rows. Dropping
// a missing key is not an error.
func (s *Store) Drop(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return dropKey(tx, key)
	})
	if err != nil {
		return fromDatabase(err, key)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DropPrefix deletes every dataset whose key starts with prefix.
func (s *Store) DropPrefix(ctx context.Context, prefix string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		pattern := likeEscaper.Replace(prefix) + "%"
		if err := tx.Model(&datasetRecord{}).Where(`cache_key LIKE ? ESCAPE '\'`, pattern).Pluck("id", &ids).Error; err != nil {
			return err
		}
		return dropIDs(tx, ids)
	})
	if err != nil {
		return fromDatabase(err, prefix)
	}
	return nil
}

func dropKey(tx *gorm.DB, key string) error {
	var ids []string
	if err := tx.Model(&datasetRecord{}).Where("cache_key = ?", key).Pluck("id", &ids).Error; err != nil {
		return err
	}
	return dropIDs(tx, ids)
}

func dropIDs(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("dataset_id IN ?", ids).Delete(&rowRecord{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&datasetRecord{}).Error
}
