package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aemtliapp/aemtli-sync/internal/gateway"
	"github.com/aemtliapp/aemtli-sync/internal/model"
	"github.com/aemtliapp/aemtli-sync/internal/remote"
	"github.com/aemtliapp/aemtli-sync/internal/remote/memstore"
)

type privateRoles struct{}

func (privateRoles) IsParticipant() bool        { return false }
func (privateRoles) SharedZone() *remote.ZoneID { return nil }

func newTestStore(t *testing.T) (*SyncedStore, *memstore.Service) {
	t.Helper()
	svc := memstore.New()
	zone := remote.ZoneID{Name: remote.DefaultZoneName, Owner: "_owner"}
	gw := gateway.New(svc.Container("_owner"), privateRoles{}, zone, remote.NewExecutor(3, time.Millisecond))
	require.NoError(t, gw.EnsureZone(context.Background()))
	return New(gw), svc
}

func TestSaveThenLoadTask(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	deadline := time.Now().UTC().Truncate(time.Millisecond).Add(24 * time.Hour)
	task := model.NewTask("Do the dishes", nil, model.RecurrenceDaily, &deadline)
	require.NoError(t, s.SaveTask(ctx, task))

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, task.Equal(tasks[0]))
}

func TestLoadTasksNewestFirst(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	older := model.NewTask("older", nil, model.RecurrenceOnce, nil)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := model.NewTask("newer", nil, model.RecurrenceOnce, nil)
	require.NoError(t, s.SaveTask(ctx, older))
	require.NoError(t, s.SaveTask(ctx, newer))

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "newer", tasks[0].Title)
	assert.Equal(t, "older", tasks[1].Title)
}

func TestUpsertById(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	task := model.NewTask("Take out trash", nil, model.RecurrenceDaily, nil)
	require.NoError(t, s.SaveTask(ctx, task))

	task.Done = true
	require.NoError(t, s.SaveTask(ctx, task))

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Done)
}

func TestClearingOptionalFieldsPropagates(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	assignee := uuid.New()
	deadline := time.Now().UTC().Truncate(time.Millisecond).Add(24 * time.Hour)
	task := model.NewTask("Walk the dog", &assignee, model.RecurrenceDaily, &deadline)
	require.NoError(t, s.SaveTask(ctx, task))

	task.AssignedTo = nil
	task.Deadline = nil
	require.NoError(t, s.SaveTask(ctx, task))

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Nil(t, tasks[0].AssignedTo)
	assert.Nil(t, tasks[0].Deadline)
	assert.True(t, task.Equal(tasks[0]))
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	task := model.NewTask("gone soon", nil, model.RecurrenceOnce, nil)
	require.NoError(t, s.SaveTask(ctx, task))
	require.NoError(t, s.DeleteTask(ctx, task.ID))

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestLoadTasksSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	s, svc := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		require.NoError(t, s.SaveTask(ctx, model.NewTask("ok", nil, model.RecurrenceDaily, nil)))
	}

	// Write one record with a recurrence outside the closed set directly.
	zone := remote.ZoneID{Name: remote.DefaultZoneName, Owner: "_owner"}
	db := svc.Container("_owner").Database(remote.ScopePrivate)
	_, err := db.SaveRecord(ctx, &remote.Record{
		ID:   remote.RecordID{Name: "00000000-0000-4000-8000-000000000001", Zone: zone},
		Type: remote.TypeTask,
		Fields: map[string]any{
			"title":      "broken",
			"isDone":     int64(0),
			"recurrence": "fortnightly",
			"createdAt":  time.Now(),
		},
	}, remote.PolicyChangedKeys)
	require.NoError(t, err)

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 9)
}

func TestMembersRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	anna := model.NewFamilyMember("Anna", model.RoleChild)
	parent := model.NewFamilyMember("Parent 1", model.RoleParent)
	require.NoError(t, s.SaveMember(ctx, parent))
	require.NoError(t, s.SaveMember(ctx, anna))

	members, err := s.LoadMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	// Sorted by name.
	assert.Equal(t, "Anna", members[0].Name)
	assert.Equal(t, "Parent 1", members[1].Name)

	require.NoError(t, s.DeleteMember(ctx, anna.ID))
	members, err = s.LoadMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
}
