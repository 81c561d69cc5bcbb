package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

func TestOpen_SQLite(t *testing.T) {
	settings := &conf.DatabaseSettings{
		Type: conf.DatabaseSQLite,
		Path: filepath.Join(t.TempDir(), "agrialert.db"),
	}

	db, err := Open(settings, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	for _, table := range []string{"alert_rules", "triggered_alerts", "dispatch_marks"} {
		assert.True(t, db.Migrator().HasTable(table), "table %s should exist", table)
	}
	assert.True(t, db.Migrator().HasColumn("alert_rules", "contact_value"))

	// Migrating twice is a no-op.
	require.NoError(t, Migrate(db))
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(&conf.DatabaseSettings{Type: "oracle"}, logger.NewNopLogger())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}
