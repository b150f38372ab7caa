package cachestore

import (
	"encoding/json"
	"fmt"

	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/stream"
)

// Stream returns a stream reading ds back in pages of batchSize rows,
// ordered as they were appended. batchSize <= 0 uses the configured page size.
// A reader whose dataset is dropped or replaced before it has read every row
// fails with a NOT_FOUND error instead of finishing early.
func (s *Store) Stream(ds *Dataset, batchSize int) stream.Stream {
	if batchSize <= 0 {
		batchSize = s.cfg.ReadBatchSize
	}
	return &datasetStream{store: s, ds: ds, batchSize: batchSize}
}

type datasetStream struct {
	store     *Store
	ds        *Dataset
	batchSize int
	next      int64
	done      bool
}

func (r *datasetStream) Columns(*job.Job) (stream.Columns, error) {
	return r.ds.Columns, nil
}

func (r *datasetStream) Fetch(j *job.Job) (stream.Batch, error) {
	if j.IsCancelled() || r.done || r.next >= r.ds.Rows {
		r.done = true
		return stream.Batch{Status: stream.Finished}, nil
	}

	var recs []rowRecord
	err := r.store.db.WithContext(j.Context()).
		Where("dataset_id = ? AND seq >= ?", r.ds.ID, r.next).
		Order("seq").Limit(r.batchSize).Find(&recs).Error
	if err != nil {
		if j.IsCancelled() {
			return stream.Batch{Status: stream.Finished}, nil
		}
		r.done = true
		return stream.Batch{}, fromDatabase(err, r.ds.Key)
	}

	rows := make([]stream.Tuple, len(recs))
	for i, rec := range recs {
		var row stream.Tuple
		if err := json.Unmarshal([]byte(rec.Values), &row); err != nil {
			r.done = true
			return stream.Batch{}, fmt.Errorf("decode row %d of %s: %w", rec.Seq, r.ds.Key, err)
		}
		rows[i] = row
	}
	if len(recs) > 0 {
		r.next = recs[len(recs)-1].Seq + 1
	}

	if r.next >= r.ds.Rows {
		r.done = true
		return stream.Batch{Rows: rows, Status: stream.Finished}, nil
	}
	if len(recs) < r.batchSize {
		// The rows were dropped while this reader was still paging.
		r.done = true
		return stream.Batch{}, datasetGone(r.ds)
	}
	return stream.Batch{Rows: rows, Status: stream.HasMore}, nil
}

func (r *datasetStream) Clone() stream.Stream {
	return &datasetStream{store: r.store, ds: r.ds, batchSize: r.batchSize}
}
