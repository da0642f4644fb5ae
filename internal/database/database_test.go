package database

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mriview/viewer/internal/model"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(zerolog.New(io.Discard))
}

func TestOpenSQLite_FileAndSetup(t *testing.T) {
	m := newTestManager()
	path := filepath.Join(t.TempDir(), "annotations.db")

	db, err := m.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, m.Setup(db))

	assert.True(t, db.Migrator().HasTable(&model.AnnotationRecord{}))
}

func TestSetup_NilDB(t *testing.T) {
	assert.Error(t, newTestManager().Setup(nil))
}

func TestDumpToDisk(t *testing.T) {
	m := newTestManager()
	dir := t.TempDir()

	db, err := m.OpenSQLite(filepath.Join(dir, "live.db"))
	require.NoError(t, err)
	require.NoError(t, m.Setup(db))
	require.NoError(t, db.Create(&model.AnnotationRecord{Key: "s-0", SeriesID: "s", Payload: []byte(`{}`)}).Error)

	dump := filepath.Join(dir, "backup.db")
	require.NoError(t, m.DumpToDisk(db, dump))
	// second dump replaces the first
	require.NoError(t, m.DumpToDisk(db, dump))

	info, err := os.Stat(dump)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	copyDB, err := m.OpenSQLite(dump)
	require.NoError(t, err)
	var count int64
	require.NoError(t, copyDB.Model(&model.AnnotationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpToDisk_NoPath(t *testing.T) {
	assert.Error(t, newTestManager().DumpToDisk(nil, ""))
}

func TestPostgresDSN(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("db.host", "db.internal")
	viper.Set("db.port", "6543")
	viper.Set("db.username", "viewer")
	viper.Set("db.password", "secret")
	viper.Set("db.database", "scans")

	assert.Equal(t, "host=db.internal port=6543 user=viewer password=secret dbname=scans sslmode=disable", PostgresDSN())
}
