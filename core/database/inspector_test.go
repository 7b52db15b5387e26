package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTableColumns(t *testing.T) {
	db, err := Connect(Config{Driver: DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)

	err = db.Exec("CREATE TABLE sync_journal (id INTEGER PRIMARY KEY, device_id INTEGER, outcome TEXT)").Error
	require.NoError(t, err)

	columns, err := GetTableColumns(db, "sync_journal")
	require.NoError(t, err)
	assert.Len(t, columns, 3)

	colMap := make(map[string]string)
	for _, col := range columns {
		colMap[col.Field] = col.Type
	}
	assert.Equal(t, "integer", colMap["id"])
	assert.Equal(t, "integer", colMap["device_id"])
	assert.Equal(t, "text", colMap["outcome"])

	// PRAGMA table_info returns nothing for a missing table.
	cols, err := GetTableColumns(db, "non_existent")
	assert.NoError(t, err)
	assert.Empty(t, cols)
}

func TestMissingColumns(t *testing.T) {
	db, err := Connect(Config{Driver: DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE sync_journal (id INTEGER PRIMARY KEY, device_id INTEGER)").Error)

	missing, err := MissingColumns(db, "sync_journal", []string{"id", "device_id", "Outcome", "message_id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Outcome", "message_id"}, missing)
}
