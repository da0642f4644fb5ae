package main

import (
	"fmt"

	"github.com/mriview/viewer/internal/config"
	"github.com/mriview/viewer/internal/database"
	"github.com/mriview/viewer/internal/logging"
	"github.com/mriview/viewer/internal/storage"
	"github.com/mriview/viewer/internal/storage/memory"
	pgstorage "github.com/mriview/viewer/internal/storage/postgres"
	sqlitestorage "github.com/mriview/viewer/internal/storage/sqlite"
)

func initStorage() error {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return err
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "type", storageCfg.Type, "error", err)
		return err
	}
	storageBackend = backend
	Logger.Info("Storage backend ready", "type", storageCfg.Type)
	return nil
}

func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	dbm := database.NewManager(logging.NewZerolog(LogFile, config.GetString("logLevel"), "database"))

	switch storageCfg.Type {
	case "postgres":
		Logger.Info("Postgres storage backend initialized")
		return pgstorage.New(pgstorage.Dependencies{
			Manager:       dbm,
			LogManager:    SlogManager,
			FlushInterval: storageCfg.Postgres.FlushInterval,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, dbm, SlogManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend initialized", "path", storageCfg.SQLite.Path)
		return backend, nil

	case "memory", "":
		Logger.Info("Memory storage backend initialized", "outputDir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}
