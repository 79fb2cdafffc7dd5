// Package gateway provides zone-scoped record CRUD on top of the record
// store. Every call is wrapped in the retry executor, and the target
// database is selected from the caller's share role: participants operate on
// the shared database, everyone else on the private one.
package gateway

import (
	"context"

	"github.com/aemtliapp/aemtli-sync/internal/remote"
)

// RoleSource exposes the current share role for database routing.
type RoleSource interface {
	// IsParticipant reports whether a share is active and this account is
	// not its owner.
	IsParticipant() bool

	// SharedZone returns the zone of the active share when participating.
	SharedZone() *remote.ZoneID
}

// Gateway is the retry-wrapped, role-routed record access layer.
type Gateway struct {
	container   remote.Container
	roles       RoleSource
	retry       *remote.Executor
	privateZone remote.ZoneID
}

// New creates a gateway for the given account. privateZone is the account's
// own custom zone; exec defaults to 3 attempts with 2^attempt-second backoff
// when nil.
func New(container remote.Container, roles RoleSource, privateZone remote.ZoneID, exec *remote.Executor) *Gateway {
	if exec == nil {
		exec = remote.NewExecutor(remote.DefaultMaxAttempts, remote.DefaultInitialBackoff)
	}
	return &Gateway{
		container:   container,
		roles:       roles,
		retry:       exec,
		privateZone: privateZone,
	}
}

func (g *Gateway) database() remote.Database {
	if g.roles.IsParticipant() {
		return g.container.Database(remote.ScopeShared)
	}
	return g.container.Database(remote.ScopePrivate)
}

// ActiveZone returns the zone records are currently routed to: the shared
// zone when participating in a share, the private zone otherwise.
func (g *Gateway) ActiveZone() remote.ZoneID {
	if g.roles.IsParticipant() {
		if z := g.roles.SharedZone(); z != nil {
			return *z
		}
	}
	return g.privateZone
}

// EnsureZone idempotently creates the private custom zone. Both "already
// exists" and the concurrent-creation conflict count as success.
func (g *Gateway) EnsureZone(ctx context.Context) error {
	_, err := remote.Do(ctx, g.retry, func(ctx context.Context) (struct{}, error) {
		err := g.container.Database(remote.ScopePrivate).EnsureZone(ctx, g.privateZone)
		return struct{}{}, err
	})
	if err != nil && remote.IsConflict(err) {
		return nil
	}
	return err
}

// Save upserts a record and returns the server copy.
func (g *Gateway) Save(ctx context.Context, rec *remote.Record, policy remote.SavePolicy) (*remote.Record, error) {
	return remote.Do(ctx, g.retry, func(ctx context.Context) (*remote.Record, error) {
		return g.database().SaveRecord(ctx, rec, policy)
	})
}

// Fetch queries all records of a type in the active zone.
func (g *Gateway) Fetch(ctx context.Context, recordType remote.RecordType, opts remote.QueryOptions) ([]*remote.Record, error) {
	if opts.Zone == nil {
		zone := g.ActiveZone()
		opts.Zone = &zone
	}
	return remote.Do(ctx, g.retry, func(ctx context.Context) ([]*remote.Record, error) {
		return g.database().Query(ctx, recordType, opts)
	})
}

// FetchByID fetches a single record.
func (g *Gateway) FetchByID(ctx context.Context, id remote.RecordID) (*remote.Record, error) {
	return remote.Do(ctx, g.retry, func(ctx context.Context) (*remote.Record, error) {
		return g.database().FetchRecord(ctx, id)
	})
}

// Delete removes a record.
func (g *Gateway) Delete(ctx context.Context, id remote.RecordID) error {
	_, err := remote.Do(ctx, g.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.database().DeleteRecord(ctx, id)
	})
	return err
}
