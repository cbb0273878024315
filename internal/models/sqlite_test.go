package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestOpenSQLite_UnicodeLower(t *testing.T) {
	db, err := gorm.Open(OpenSQLite("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	var lowered string
	require.NoError(t, db.Raw("SELECT unicode_lower(?)", "MÜNCHEN Straße").Scan(&lowered).Error)
	assert.Equal(t, "münchen straße", lowered)

	var matched bool
	require.NoError(t, db.Raw("SELECT unicode_lower(?) LIKE ?", "ÄPFEL", "%äpf%").Scan(&matched).Error)
	assert.True(t, matched)

	var n int64
	require.NoError(t, db.Raw("SELECT unicode_lower(?)", 42).Scan(&n).Error)
	assert.Equal(t, int64(42), n)

	// a second open reuses the registered driver
	_, err = gorm.Open(OpenSQLite("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	assert.NoError(t, err)
}
