package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveAndLoad(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewFileStore(tmpDir)
	ctx := context.Background()

	reset := time.Now().UTC().Truncate(time.Second)
	st := &LocalState{
		ShareURL:        "https://records.aemtli.app/share/abc",
		IsOwner:         true,
		SharedZoneName:  "MainZone",
		SharedZoneOwner: "_owner",
		LastResetDate:   &reset,
		DataFormat:      "2",
		MigrationDone:   true,
	}
	require.NoError(t, store.Save(ctx, st))

	_, err := os.Stat(filepath.Join(tmpDir, StateFileName))
	require.NoError(t, err)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.ShareURL, loaded.ShareURL)
	assert.True(t, loaded.IsOwner)
	assert.Equal(t, st.SharedZoneName, loaded.SharedZoneName)
	require.NotNil(t, loaded.LastResetDate)
	assert.True(t, reset.Equal(*loaded.LastResetDate))
	assert.Equal(t, "2", loaded.DataFormat)
	assert.True(t, loaded.MigrationDone)
}

func TestFileStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &LocalState{}, loaded)
}

func TestFileStoreUpdate(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(st *LocalState) {
		st.ShareURL = "https://records.aemtli.app/share/xyz"
	}))
	require.NoError(t, store.Update(ctx, func(st *LocalState) {
		st.MigrationDone = true
	}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	// Both updates survive; Update is read-modify-write.
	assert.Equal(t, "https://records.aemtli.app/share/xyz", loaded.ShareURL)
	assert.True(t, loaded.MigrationDone)
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(st *LocalState) {
		st.IsOwner = true
	}))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.IsOwner)

	// Load returns a copy, not a live reference.
	loaded.IsOwner = false
	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, again.IsOwner)
}
