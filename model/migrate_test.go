package model_test

import (
	"testing"
	"time"

	"github.com/kasuganosora/gamedb/model"
	"github.com/kasuganosora/gamedb/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	entry := &model.JournalEntry{
		TraceID:   "trace-001",
		Action:    model.ActionSave,
		Table:     "Items",
		AssetPath: "/tmp/repo.json",
		Detail:    datatypes.JSON(`{"format":"json"}`),
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(entry).Error)
	assert.Greater(t, entry.ID, int64(0))

	var found model.JournalEntry
	require.NoError(t, db.First(&found, entry.ID).Error)
	assert.Equal(t, "trace-001", found.TraceID)
	assert.Equal(t, "Items", found.Table)
	assert.JSONEq(t, `{"format":"json"}`, string(found.Detail))

	var n int64
	require.NoError(t, db.Model(&model.JournalEntry{}).Where("action = ?", model.ActionSave).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
