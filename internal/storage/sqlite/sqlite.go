// Package sqlitestorage implements the storage.Backend interface on a SQLite
// database. It wraps the GORM backend; the only SQLite-specific concerns are
// opening the database file and the optional periodic VACUUM INTO snapshot.
package sqlitestorage

import (
	"fmt"
	"time"

	"github.com/mriview/viewer/internal/config"
	"github.com/mriview/viewer/internal/database"
	"github.com/mriview/viewer/internal/logging"
	gormstorage "github.com/mriview/viewer/internal/storage/gorm"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	dbm      *database.Manager
	log      *logging.SlogManager
	stopChan chan struct{}
	done     chan struct{}
	started  bool
}

// New opens the SQLite database at cfg.Path. An empty path keeps the
// database in memory, which is only useful together with DumpPath.
func New(cfg config.SQLiteConfig, dbm *database.Manager, logManager *logging.SlogManager) (*Backend, error) {
	db, err := dbm.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:     db,
		Logger: logManager.Logger().With("component", "sqlite"),
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg,
		dbm:      dbm,
		log:      logManager,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Init migrates the schema and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	b.started = true
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		go b.dumpLoop()
	} else {
		close(b.done)
	}
	return nil
}

// Close stops the dump goroutine, writes a last snapshot if dumping is
// configured, and closes the database.
func (b *Backend) Close() error {
	if b.started {
		close(b.stopChan)
		<-b.done
		b.started = false
	}

	if b.cfg.DumpPath != "" {
		if err := b.dbm.DumpToDisk(b.db, b.cfg.DumpPath); err != nil {
			b.log.WriteLog("sqlite:Close", fmt.Sprintf("Error dumping to disk: %v", err), "ERROR")
		}
	}
	return b.Backend.Close()
}

// dumpLoop periodically snapshots the database to DumpPath via VACUUM INTO.
func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.dbm.DumpToDisk(b.db, b.cfg.DumpPath); err != nil {
				b.log.WriteLog("sqlite:dumpLoop", fmt.Sprintf("Error dumping to disk: %v", err), "ERROR")
			} else {
				b.log.WriteLog("sqlite:dumpLoop", fmt.Sprintf("Dumped to disk in %s", time.Since(start)), "DEBUG")
			}
		}
	}
}
