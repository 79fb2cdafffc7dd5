package remote

import "context"

// Database is one partition (private or shared) of an account's records.
type Database interface {
	// EnsureZone creates the zone if it does not exist. Both "already
	// exists" and a concurrent-creation conflict count as success for
	// callers; implementations may still surface the conflict and leave
	// the tolerance to the gateway.
	EnsureZone(ctx context.Context, zone ZoneID) error

	// SaveRecord upserts a record under the given policy and returns the
	// server copy.
	SaveRecord(ctx context.Context, rec *Record, policy SavePolicy) (*Record, error)

	// SaveShare persists an anchor record together with its attached
	// share in one operation and returns the server share, URL assigned.
	SaveShare(ctx context.Context, anchor *Record, share *Share) (*Share, error)

	// Query fetches all records of a type, optionally zone-restricted and
	// sorted. Results may lag recent saves; FetchRecord does not.
	Query(ctx context.Context, recordType RecordType, opts QueryOptions) ([]*Record, error)

	// FetchRecord fetches a single record by ID.
	FetchRecord(ctx context.Context, id RecordID) (*Record, error)

	// FetchShare fetches a share object by its record ID.
	FetchShare(ctx context.Context, id RecordID) (*Share, error)

	// DeleteRecord removes a record. Deleting an anchor tears down its
	// attached share as well.
	DeleteRecord(ctx context.Context, id RecordID) error
}

// Container is the per-account entry point to the record store.
type Container interface {
	// AccountIdentity resolves the opaque identity of the signed-in
	// account. Required before any share operation.
	AccountIdentity(ctx context.Context) (string, error)

	// Database returns the private or shared partition.
	Database(scope Scope) Database

	// FetchShareMetadata resolves an out-of-band share URL.
	FetchShareMetadata(ctx context.Context, shareURL string) (*ShareMetadata, error)

	// AcceptShare joins the account to the share described by metadata and
	// returns the share with this account added as a participant.
	AcceptShare(ctx context.Context, metadata *ShareMetadata) (*Share, error)
}
