package repository

import (
	"testing"

	"github.com/nimasrn/mail-tracker/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

func setupTestDB(t *testing.T) *testDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), pg.GormConfig(false))
	require.NoError(t, err)

	// every pooled connection to ":memory:" would open its own database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&TrackingEntity{}, &TrackingLinkEntity{})
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })

	return &testDB{
		DB:    pg.Wrap(db),
		rawDB: db,
	}
}
