package datastore

import (
	"context"
	"time"

	"github.com/gaia-project/gaia-processing/internal/errors"
)

// insertMaxAttempts and insertRetryDelay mirror the node's historical
// retry policy for a busy database: a handful of attempts with a fixed
// pause is enough to ride out a concurrent writer without adding
// exponential-backoff complexity the write path has never needed.
// insertRetryDelay is a var, not a const, so tests can shrink it instead
// of waiting out the real pause.
const insertMaxAttempts = 3

var insertRetryDelay = 2 * time.Second

// Insert writes a single detection, retrying on a transient busy/lock
// error.
func (s *Store) Insert(ctx context.Context, d *Detection) error {
	var lastErr error
	for attempt := 1; attempt <= insertMaxAttempts; attempt++ {
		lastErr = s.DB.WithContext(ctx).Create(d).Error
		if lastErr == nil {
			return nil
		}
		if !isDatabaseLocked(lastErr) {
			break
		}
		getLogger().Warn("detection insert retrying after busy database",
			"attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(insertRetryDelay):
		}
	}
	return errors.New(lastErr).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", "insert_detection").
		Context("sci_name", d.SciName).
		Build()
}
