// Package store is the CRUD façade the sync controller talks to. It
// combines the codec and the gateway, always saving with the changed-keys
// policy so concurrently written fields on the server copy survive.
package store

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aemtliapp/aemtli-sync/internal/codec"
	"github.com/aemtliapp/aemtli-sync/internal/gateway"
	"github.com/aemtliapp/aemtli-sync/internal/model"
	"github.com/aemtliapp/aemtli-sync/internal/remote"
)

// SyncedStore loads and saves domain entities against the record store.
type SyncedStore struct {
	gw *gateway.Gateway
}

// New creates a store on top of the gateway.
func New(gw *gateway.Gateway) *SyncedStore {
	return &SyncedStore{gw: gw}
}

// LoadTasks fetches all tasks in the active zone, newest first. Malformed
// records are skipped, never fatal.
func (s *SyncedStore) LoadTasks(ctx context.Context) ([]model.Task, error) {
	recs, err := s.gw.Fetch(ctx, remote.TypeTask, remote.QueryOptions{
		SortBy:     "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	tasks := codec.DecodeTasks(recs)
	if skipped := len(recs) - len(tasks); skipped > 0 {
		slog.Warn("Skipped malformed task records", "skipped", skipped, "total", len(recs))
	}
	return tasks, nil
}

// SaveTask upserts a task by ID.
func (s *SyncedStore) SaveTask(ctx context.Context, t model.Task) error {
	rec := codec.EncodeTask(t, s.gw.ActiveZone())
	_, err := s.gw.Save(ctx, rec, remote.PolicyChangedKeys)
	return err
}

// DeleteTask removes a task by ID.
func (s *SyncedStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return s.gw.Delete(ctx, remote.RecordID{Name: id.String(), Zone: s.gw.ActiveZone()})
}

// LoadMembers fetches all family members in the active zone, sorted by name.
func (s *SyncedStore) LoadMembers(ctx context.Context) ([]model.FamilyMember, error) {
	recs, err := s.gw.Fetch(ctx, remote.TypeMember, remote.QueryOptions{SortBy: "name"})
	if err != nil {
		return nil, err
	}
	members := codec.DecodeMembers(recs)
	if skipped := len(recs) - len(members); skipped > 0 {
		slog.Warn("Skipped malformed member records", "skipped", skipped, "total", len(recs))
	}
	return members, nil
}

// SaveMember upserts a family member by ID.
func (s *SyncedStore) SaveMember(ctx context.Context, m model.FamilyMember) error {
	rec := codec.EncodeMember(m, s.gw.ActiveZone())
	_, err := s.gw.Save(ctx, rec, remote.PolicyChangedKeys)
	return err
}

// DeleteMember removes a family member by ID.
func (s *SyncedStore) DeleteMember(ctx context.Context, id uuid.UUID) error {
	return s.gw.Delete(ctx, remote.RecordID{Name: id.String(), Zone: s.gw.ActiveZone()})
}
