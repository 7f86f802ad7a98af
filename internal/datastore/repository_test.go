package datastore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// injectBusyError registers a "before create" callback on db that reports
// a transient locked error for the first failCount calls, then lets the
// real insert through. db is a fresh instance per test (newMemoryDB), so
// its callback registry never collides with another test's.
func injectBusyError(t *testing.T, db *gorm.DB, failCount int32) {
	t.Helper()
	var calls int32
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:inject_busy", func(tx *gorm.DB) {
		if tx.Error != nil {
			return
		}
		if atomic.AddInt32(&calls, 1) <= failCount {
			tx.AddError(fmt.Errorf("database is locked"))
		}
	}))
}

func withShortRetryDelay(t *testing.T, delay time.Duration) {
	t.Helper()
	prev := insertRetryDelay
	insertRetryDelay = delay
	t.Cleanup(func() { insertRetryDelay = prev })
}

func TestInsertRetriesOnBusyThenSucceeds(t *testing.T) {
	db := newMemoryDB(t)
	injectBusyError(t, db, 2) // fails attempts 1 and 2, succeeds on attempt 3
	withShortRetryDelay(t, time.Millisecond)

	s := &Store{DB: db}
	err := s.Insert(context.Background(), &Detection{SciName: "Turdus merula"})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&Detection{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "the successful attempt's row is persisted exactly once")
}

func TestInsertReturnsWrappedErrorAfterMaxAttempts(t *testing.T) {
	db := newMemoryDB(t)
	injectBusyError(t, db, insertMaxAttempts) // every attempt fails
	withShortRetryDelay(t, time.Millisecond)

	s := &Store{DB: db}
	err := s.Insert(context.Background(), &Detection{SciName: "Turdus merula"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	var count int64
	require.NoError(t, db.Model(&Detection{}).Count(&count).Error)
	assert.Zero(t, count, "no row is left behind when every attempt is rejected as busy")
}

func TestInsertStopsRetryingWhenContextCancelled(t *testing.T) {
	db := newMemoryDB(t)
	injectBusyError(t, db, insertMaxAttempts) // every attempt fails
	withShortRetryDelay(t, time.Second)       // long enough that cancellation wins the race

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	s := &Store{DB: db}
	err := s.Insert(ctx, &Detection{SciName: "Turdus merula"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInsertDoesNotRetryOnNonBusyError(t *testing.T) {
	db := newMemoryDB(t)
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:inject_fatal", func(tx *gorm.DB) {
		if tx.Error == nil {
			tx.AddError(fmt.Errorf("unique constraint failed"))
		}
	}))
	withShortRetryDelay(t, time.Second) // would make the test hang if a retry were (wrongly) attempted

	s := &Store{DB: db}
	err := s.Insert(context.Background(), &Detection{SciName: "Turdus merula"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique constraint")
}

func TestIsDatabaseLocked(t *testing.T) {
	assert.True(t, isDatabaseLocked(fmt.Errorf("database is locked")))
	assert.True(t, isDatabaseLocked(fmt.Errorf("database table is locked")))
	assert.True(t, isDatabaseLocked(fmt.Errorf("resource busy or locked")))
	assert.False(t, isDatabaseLocked(fmt.Errorf("unique constraint failed")))
	assert.False(t, isDatabaseLocked(nil))
}
