package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aemtliapp/aemtli-sync/internal/gateway"
	"github.com/aemtliapp/aemtli-sync/internal/model"
	"github.com/aemtliapp/aemtli-sync/internal/remote"
	"github.com/aemtliapp/aemtli-sync/internal/remote/memstore"
	"github.com/aemtliapp/aemtli-sync/internal/state"
	"github.com/aemtliapp/aemtli-sync/internal/store"
)

type privateRoles struct{}

func (privateRoles) IsParticipant() bool        { return false }
func (privateRoles) SharedZone() *remote.ZoneID { return nil }

func newMigrator(t *testing.T, svc *memstore.Service, st state.Store) (*Migrator, *store.SyncedStore) {
	t.Helper()
	zone := remote.ZoneID{Name: remote.DefaultZoneName, Owner: "_a"}
	gw := gateway.New(svc.Container("_a"), privateRoles{}, zone, remote.NewExecutor(3, time.Millisecond))
	s := store.New(gw)
	return New(gw, s, st), s
}

func TestInitialSeed(t *testing.T) {
	t.Parallel()

	svc := memstore.New()
	st := state.NewMemStore()
	ctx := context.Background()
	m, s := newMigrator(t, svc, st)

	require.NoError(t, m.Run(ctx))

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	members, err := s.LoadMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	loaded, err := st.Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.MigrationDone)
	assert.Equal(t, CurrentDataFormat, loaded.DataFormat)
}

func TestSeedRunsOnce(t *testing.T) {
	t.Parallel()

	svc := memstore.New()
	st := state.NewMemStore()
	ctx := context.Background()
	m, s := newMigrator(t, svc, st)

	require.NoError(t, m.Run(ctx))
	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DeleteTask(ctx, tasks[0].ID))

	// A second run must not restore the deleted task.
	require.NoError(t, m.Run(ctx))
	tasks, err = s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestSeedSkipsPopulatedZone(t *testing.T) {
	t.Parallel()

	svc := memstore.New()
	st := state.NewMemStore()
	ctx := context.Background()
	m, s := newMigrator(t, svc, st)

	zone := remote.ZoneID{Name: remote.DefaultZoneName, Owner: "_a"}
	require.NoError(t, svc.Container("_a").Database(remote.ScopePrivate).EnsureZone(ctx, zone))
	existing := model.NewTask("already here", nil, model.RecurrenceOnce, nil)
	require.NoError(t, s.SaveTask(ctx, existing))

	require.NoError(t, m.Run(ctx))

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "already here", tasks[0].Title)

	// The flag is set anyway so the check never repeats.
	loaded, err := st.Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.MigrationDone)
}

func TestFormatChangeReseeds(t *testing.T) {
	t.Parallel()

	svc := memstore.New()
	st := state.NewMemStore()
	ctx := context.Background()
	m, s := newMigrator(t, svc, st)

	require.NoError(t, m.Run(ctx))
	_, err := s.LoadTasks(ctx)
	require.NoError(t, err)

	require.NoError(t, st.Update(ctx, func(ls *state.LocalState) {
		ls.DataFormat = "1"
	}))
	require.NoError(t, m.Run(ctx))

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.False(t, task.Done)
	}

	// Members survive a format reseed.
	members, err := s.LoadMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	loaded, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentDataFormat, loaded.DataFormat)
}

func TestNewerPersistedFormatLeftAlone(t *testing.T) {
	t.Parallel()

	svc := memstore.New()
	st := state.NewMemStore()
	ctx := context.Background()
	m, s := newMigrator(t, svc, st)

	require.NoError(t, m.Run(ctx))
	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DeleteTask(ctx, tasks[0].ID))

	// Data written by a newer build must not be wiped by an older one.
	require.NoError(t, st.Update(ctx, func(ls *state.LocalState) {
		ls.DataFormat = "99"
	}))
	require.NoError(t, m.Run(ctx))

	tasks, err = s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	loaded, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "99", loaded.DataFormat)
}
