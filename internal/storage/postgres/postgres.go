// Package postgres implements the storage.Backend interface using GORM/PostgreSQL
// with a coalescing write queue and a background DB writer goroutine.
package postgres

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mriview/viewer/internal/database"
	"github.com/mriview/viewer/internal/logging"
	"github.com/mriview/viewer/internal/model"
	"github.com/mriview/viewer/internal/queue"
	"github.com/mriview/viewer/internal/storage"
	gormstorage "github.com/mriview/viewer/internal/storage/gorm"
	"github.com/mriview/viewer/pkg/core"

	"gorm.io/gorm"
)

const defaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Manager       *database.Manager
	LogManager    *logging.SlogManager
	FlushInterval time.Duration
}

// Backend implements storage.Backend with queued batch upserts. Reads see
// pending writes before they reach the database.
type Backend struct {
	deps     Dependencies
	store    *gormstorage.Backend
	pending  *queue.Queue[string, model.AnnotationRecord]
	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{
		deps:    deps,
		pending: queue.New[string, model.AnnotationRecord](),
	}
}

// Init connects if no DB was injected, migrates the schema and starts the
// writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		if b.deps.Manager == nil {
			return errors.New("postgres backend has neither a database nor a manager")
		}
		db, err := b.deps.Manager.OpenPostgres()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.deps.DB = db
	}

	b.store = gormstorage.New(gormstorage.Dependencies{
		DB:     b.deps.DB,
		Logger: b.deps.LogManager.Logger().With("component", "postgres"),
	})
	if err := b.store.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writer()
	return nil
}

// Close stops the writer, flushes whatever is still pending and closes the
// connection.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil

	err := b.flush()
	return errors.Join(err, b.store.Close())
}

// Save queues the set's record. Repeated saves of the same key before a
// flush collapse into one write.
func (b *Backend) Save(set *core.AnnotationSet) error {
	rec, err := model.NewAnnotationRecord(set)
	if err != nil {
		return err
	}
	b.pending.Push(rec.Key, rec)
	return nil
}

// Load returns the pending record for key if there is one, otherwise the
// stored row.
func (b *Backend) Load(key core.Key) (*core.AnnotationSet, error) {
	if rec, ok := b.pending.Get(key.String()); ok {
		set, err := rec.AnnotationSet()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, key, err)
		}
		return set, nil
	}
	if b.store == nil {
		return nil, storage.ErrNotFound
	}
	return b.store.Load(key)
}

// LoadSeries flushes pending writes and reads the series from the database.
func (b *Backend) LoadSeries(seriesID string) ([]*core.AnnotationSet, error) {
	if b.store == nil {
		return nil, errors.New("postgres backend not initialized")
	}
	if err := b.flush(); err != nil {
		return nil, err
	}
	return b.store.LoadSeries(seriesID)
}

// flush writes all pending records in one transaction. On failure the
// records go back on the queue unless a newer save superseded them.
func (b *Backend) flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.pending.Empty() {
		return nil
	}

	keys, records := b.pending.GetAndEmpty()
	err := b.deps.DB.Transaction(func(tx *gorm.DB) error {
		return gormstorage.Upsert(tx, records)
	})
	if err != nil {
		b.deps.LogManager.WriteLog(":DB:WRITER:", fmt.Sprintf("Error writing %d annotation records: %v", len(records), err), "ERROR")
		b.pending.Requeue(keys, records)
		return err
	}
	b.deps.LogManager.WriteLog(":DB:WRITER:", fmt.Sprintf("Wrote %d annotation records", len(records)), "DEBUG")
	return nil
}

// writer periodically drains the queue into the DB.
func (b *Backend) writer() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.flush()
		}
	}
}
