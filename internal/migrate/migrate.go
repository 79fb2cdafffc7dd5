// Package migrate seeds first-launch data and reconciles the on-record data
// format across app versions.
package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aemtliapp/aemtli-sync/internal/gateway"
	"github.com/aemtliapp/aemtli-sync/internal/model"
	"github.com/aemtliapp/aemtli-sync/internal/state"
	"github.com/aemtliapp/aemtli-sync/internal/store"
	"github.com/aemtliapp/aemtli-sync/internal/versions"
)

// CurrentDataFormat is the record schema version this build writes. A
// mismatch against the persisted version wipes the task set and reseeds it.
const CurrentDataFormat = "2"

// Migrator runs the one-time seeding and version reconciliation that must
// precede normal sync.
type Migrator struct {
	gw    *gateway.Gateway
	store *store.SyncedStore
	state state.Store
}

// New creates a migrator.
func New(gw *gateway.Gateway, st *store.SyncedStore, local state.Store) *Migrator {
	return &Migrator{gw: gw, store: st, state: local}
}

// Run applies pending migrations. It is idempotent: the initial seeding
// happens at most once per install, guarded by a persisted flag, and the
// format reseed only fires on an actual version change.
func (m *Migrator) Run(ctx context.Context) error {
	st, err := m.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading local state: %w", err)
	}

	if err := m.gw.EnsureZone(ctx); err != nil {
		return fmt.Errorf("ensuring zone: %w", err)
	}

	if !st.MigrationDone {
		return m.seedInitialData(ctx)
	}
	if st.DataFormat != CurrentDataFormat {
		if !versions.IsNewer(CurrentDataFormat, st.DataFormat) {
			slog.Warn("Persisted data format is newer than this build, leaving records alone",
				"persisted", st.DataFormat, "current", CurrentDataFormat)
			return nil
		}
		return m.reseedForFormat(ctx, st.DataFormat)
	}
	return nil
}

// seedInitialData writes the default family and task set, but only into an
// empty zone so joining an existing family never clobbers its data.
func (m *Migrator) seedInitialData(ctx context.Context) error {
	tasks, err := m.store.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("checking existing tasks: %w", err)
	}
	members, err := m.store.LoadMembers(ctx)
	if err != nil {
		return fmt.Errorf("checking existing members: %w", err)
	}

	if len(tasks) == 0 && len(members) == 0 {
		slog.Info("Seeding default family and tasks")
		members = model.DefaultMembers()
		for _, member := range members {
			if err := m.store.SaveMember(ctx, member); err != nil {
				return fmt.Errorf("seeding member %q: %w", member.Name, err)
			}
		}
		for _, task := range model.DefaultTasks(model.DefaultAssignee(members)) {
			if err := m.store.SaveTask(ctx, task); err != nil {
				return fmt.Errorf("seeding task %q: %w", task.Title, err)
			}
		}
	}

	return m.state.Update(ctx, func(st *state.LocalState) {
		st.MigrationDone = true
		st.DataFormat = CurrentDataFormat
	})
}

// reseedForFormat drops all tasks written under an older format and seeds
// the defaults in the current one. Members carry over unchanged.
func (m *Migrator) reseedForFormat(ctx context.Context, from string) error {
	slog.Info("Record format changed, reseeding tasks", "from", from, "to", CurrentDataFormat)

	tasks, err := m.store.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}
	for _, task := range tasks {
		if err := m.store.DeleteTask(ctx, task.ID); err != nil {
			return fmt.Errorf("deleting task %q: %w", task.Title, err)
		}
	}

	members, err := m.store.LoadMembers(ctx)
	if err != nil {
		return fmt.Errorf("loading members: %w", err)
	}
	for _, task := range model.DefaultTasks(model.DefaultAssignee(members)) {
		if err := m.store.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("reseeding task %q: %w", task.Title, err)
		}
	}

	return m.state.Update(ctx, func(st *state.LocalState) {
		st.DataFormat = CurrentDataFormat
	})
}
