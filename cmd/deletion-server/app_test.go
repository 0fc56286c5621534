package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/darkkaiser/deletion-server/internal/config"
	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/internal/pkg/version"
	"github.com/darkkaiser/deletion-server/internal/service/api"
	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/schema"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/store/memory"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/store/sqlite"
	"github.com/darkkaiser/deletion-server/internal/service/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *config.AppConfig {
	t.Helper()

	cfg, err := config.LoadWithFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	return cfg
}

func TestAppMetadata(t *testing.T) {
	assert.Equal(t, "deletion-server", config.AppName)
	assert.NotEmpty(t, version.Get().Version)
}

func TestOpenStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		store, err := openStore(config.StorageConfig{Driver: config.StorageDriverMemory})
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := openStore(config.StorageConfig{
			Driver:      config.StorageDriverSQLite,
			Path:        filepath.Join(t.TempDir(), "deletion.db"),
			BusyTimeout: time.Second,
		})
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &sqlite.Store{}, store)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := openStore(config.StorageConfig{Driver: "postgres"})
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.InvalidInput))
	})
}

func TestNewApplication(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Deletion.DefaultDelay = time.Hour

	app, err := newApplication(cfg, version.Info{Version: "test"})
	require.NoError(t, err)
	defer app.store.Close()

	// 메일/텔레그램이 설정되지 않았으므로 worker와 api 서비스만 구성됩니다.
	require.Len(t, app.services, 2)
	assert.IsType(t, &worker.Service{}, app.services[0])
	assert.IsType(t, &api.Service{}, app.services[1])

	t.Run("예약부터 삭제까지", func(t *testing.T) {
		ctx := context.Background()
		repo := deletion.EntityRef{Type: schema.Repository, ID: "42"}
		require.NoError(t, app.store.PutEntity(ctx, &deletion.Entity{
			Ref:    repo,
			Status: deletion.StatusActive,
			Attrs:  map[string]string{schema.AttrProvider: "dummy"},
		}))

		sd, err := app.scheduler.ScheduleDefault(ctx, repo, nil)
		require.NoError(t, err)

		summary, err := app.executor.RunDue(ctx, sd.DueAt)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Deleted)

		_, err = app.store.GetEntity(ctx, repo)
		assert.ErrorIs(t, err, deletion.ErrEntityNotFound)
	})

	t.Run("지표 등록", func(t *testing.T) {
		families, err := app.registry.Gather()
		require.NoError(t, err)
		assert.NotEmpty(t, families)
	})
}

func TestNewApplication_InvalidStorage(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Storage.Driver = "postgres"

	_, err := newApplication(cfg, version.Info{})
	assert.Error(t, err)
}
