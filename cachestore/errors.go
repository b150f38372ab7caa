package cachestore

import (
	stderrors "errors"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/kbukum/conduit/errors"
)

// datasetGone is returned when the dataset was dropped or replaced while it
// was being written or read.
func datasetGone(ds *Dataset) *errors.AppError {
	return errors.NotFound("cached dataset", ds.Key).WithDetail("dataset_id", ds.ID)
}

// isBusy reports whether err is SQLite lock contention that a retry can resolve.
func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"database is locked", "database table is locked", "sqlite_busy"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// fromDatabase converts a GORM error into an AppError.
func fromDatabase(err error, key string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound("cached dataset", key).WithCause(err)
	}
	if isBusy(err) {
		return errors.New(errors.ErrCodeDatabaseError, "Cache store is busy. Please try again.", http.StatusServiceUnavailable).
			WithCause(err).WithDetail("key", key)
	}
	appErr := errors.DatabaseError(err)
	appErr.Retryable = false
	return appErr.WithDetail("key", key)
}
