package datastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gaia-project/gaia-processing/internal/conf"
)

// newMemoryDB returns a migrated in-memory SQLite gorm.DB for tests that
// exercise repository logic without going through Store.Open.
func newMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Detection{}))
	return db
}

func TestStoreOpenSQLiteCreatesSchemaAndSourceNodeColumn(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "detections.db")
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = dbPath

	s := New(settings, nil)
	require.NoError(t, s.Open())
	defer s.Close()

	assert.True(t, s.DB.Migrator().HasTable(&Detection{}))
	assert.True(t, s.DB.Migrator().HasColumn(&Detection{}, "source_node"))
}

// TestStoreOpenIsIdempotentAcrossRestarts reopens the same database file a
// second time, mirroring a node restarting against its existing detections
// database, and confirms migration doesn't disturb prior rows.
func TestStoreOpenIsIdempotentAcrossRestarts(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "detections.db")
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = dbPath

	first := New(settings, nil)
	require.NoError(t, first.Open())
	require.NoError(t, first.Insert(context.Background(), &Detection{
		SciName: "Turdus merula", Date: "2024-01-01", Time: "08:00:00",
	}))
	require.NoError(t, first.Close())

	second := New(settings, nil)
	require.NoError(t, second.Open(), "reopening an already-migrated database must not error")
	defer second.Close()

	var count int64
	require.NoError(t, second.DB.Model(&Detection{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "prior insert survives a reopen")
}

// TestMigrateAddSourceNodeIsIdempotentOnLegacySchema simulates a database
// that predates the source_node column, then confirms the migration both
// backfills it and tolerates being run again against an up-to-date schema.
func TestMigrateAddSourceNodeIsIdempotentOnLegacySchema(t *testing.T) {
	db := newMemoryDB(t)
	require.NoError(t, db.Migrator().DropColumn(&Detection{}, "source_node"))
	require.False(t, db.Migrator().HasColumn(&Detection{}, "source_node"))

	migrateAddSourceNode(db)
	assert.True(t, db.Migrator().HasColumn(&Detection{}, "source_node"), "migration adds the missing column")

	migrateAddSourceNode(db)
	assert.True(t, db.Migrator().HasColumn(&Detection{}, "source_node"), "rerunning against an already-migrated schema is a no-op")
}
