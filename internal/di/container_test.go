package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/config"
	"github.com/listenupapp/folio/internal/di/providers"
	"github.com/listenupapp/folio/internal/metadata"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LIBRARY_PATH", "AUTO_ADD_PATH", "BACKUP_ENABLED", "FULL_TEXT_ENABLED", "MAINTENANCE_SCHEDULE", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestBootstrap_WritesBackupsOnShutdown(t *testing.T) {
	clearEnv(t)
	lib := t.TempDir()
	injector := NewContainer(config.Overrides{
		LibraryPath: lib,
		Environment: "development",
		LogLevel:    "error",
		NoFullText:  true,
	})
	ctx := context.Background()
	require.NoError(t, Bootstrap(ctx, injector))

	h := do.MustInvoke[*providers.CacheHandle](injector)
	_, err := do.Invoke[*providers.BackupWorkerHandle](injector)
	require.NoError(t, err)
	_, err = do.Invoke[*providers.MaintenanceJob](injector)
	require.NoError(t, err)

	id, err := h.CreateBookEntry(ctx, metadata.New("Dune", "Frank Herbert"), cache.CreateOptions{})
	require.NoError(t, err)
	path, err := h.FieldFor(ctx, "path", id, nil)
	require.NoError(t, err)

	_ = injector.Shutdown()

	assert.FileExists(t, filepath.Join(lib, path.(string), "metadata.opf"))
}

func TestBootstrap_AutoAdd(t *testing.T) {
	clearEnv(t)
	lib := t.TempDir()
	drop := filepath.Join(t.TempDir(), "drop")
	injector := NewContainer(config.Overrides{
		LibraryPath: lib,
		Environment: "development",
		LogLevel:    "error",
		AutoAddPath: drop,
		NoBackup:    true,
		NoFullText:  true,
	})
	require.NoError(t, Bootstrap(context.Background(), injector))
	defer injector.Shutdown() //nolint:errcheck // test cleanup

	_, err := do.Invoke[*providers.AutoAddHandle](injector)
	require.NoError(t, err)
	assert.DirExists(t, drop)
}

func TestBootstrap_RequiresLibrary(t *testing.T) {
	clearEnv(t)
	injector := NewContainer(config.Overrides{Environment: "development"})
	err := Bootstrap(context.Background(), injector)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "library path is required")
}
