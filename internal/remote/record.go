// Package remote defines the record-store surface the sync layer talks to: a
// managed backend holding typed records per account, partitioned into a
// private and a shared database and subdivided into zones. Shares grant other
// accounts access to a zone via an opaque URL.
package remote

import "time"

// Scope selects one of the two database partitions of an account.
type Scope string

const (
	// ScopePrivate is the account's own data.
	ScopePrivate Scope = "private"

	// ScopeShared is the view over zones other accounts have shared with
	// this one.
	ScopeShared Scope = "shared"
)

// DefaultZoneName is the custom zone every account keeps its family data in.
const DefaultZoneName = "MainZone"

// AnchorRecordName is the well-known name of the single root record per
// zone. The share attaches to it and all task and member records point at it
// as their parent so they propagate into a participant's shared view.
const AnchorRecordName = "family-root"

// RecordType identifies the schema of a record.
type RecordType string

const (
	// TypeTask is a to-do item.
	TypeTask RecordType = "Chore"

	// TypeMember is a family member.
	TypeMember RecordType = "FamilyMember"

	// TypeAnchor is the per-zone root record.
	TypeAnchor RecordType = "FamilyRoot"
)

// ZoneID names a zone within an account.
type ZoneID struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// RecordID uniquely identifies a record within a zone.
type RecordID struct {
	Name string `json:"name"`
	Zone ZoneID `json:"zone"`
}

// AnchorID returns the ID of the anchor record in the given zone.
func AnchorID(zone ZoneID) RecordID {
	return RecordID{Name: AnchorRecordName, Zone: zone}
}

// Record is the wire representation of an entity. Field values are strings,
// int64s or time.Times; anything else is a schema violation the codec treats
// as a missing field.
type Record struct {
	ID     RecordID
	Type   RecordType
	Fields map[string]any

	// Parent links the record to its zone anchor.
	Parent *RecordID

	// ShareID references the share attached to this record, set only on
	// anchors that carry one.
	ShareID *RecordID
}

// SavePolicy controls how a save merges with the server copy.
type SavePolicy string

const (
	// PolicyChangedKeys merges only the provided fields into the server
	// record, preserving concurrently written fields.
	PolicyChangedKeys SavePolicy = "changedKeys"

	// PolicyReplace overwrites the whole server record.
	PolicyReplace SavePolicy = "replace"
)

// Permission is the access level a share grants its participants.
type Permission string

// PermissionReadWrite lets every participant read and modify the shared
// zone. Family shares are always created with it.
const PermissionReadWrite Permission = "readWrite"

// ParticipantRole distinguishes the creator of a share from accepted
// members.
type ParticipantRole string

const (
	// ParticipantOwner created the share.
	ParticipantOwner ParticipantRole = "owner"

	// ParticipantMember accepted the share.
	ParticipantMember ParticipantRole = "member"
)

// Participant is one account with access to a share.
type Participant struct {
	Identity string          `json:"identity"`
	Name     string          `json:"name"`
	Role     ParticipantRole `json:"role"`
}

// Share is the capability object granting other accounts access to a zone.
type Share struct {
	ID            RecordID      `json:"id"`
	URL           string        `json:"url"`
	OwnerIdentity string        `json:"ownerIdentity"`
	Permission    Permission    `json:"permission"`
	Participants  []Participant `json:"participants"`
}

// ShareMetadata is what an out-of-band share URL resolves to before
// acceptance.
type ShareMetadata struct {
	ShareID       RecordID `json:"shareId"`
	URL           string   `json:"url"`
	OwnerIdentity string   `json:"ownerIdentity"`
	Zone          ZoneID   `json:"zone"`
}

// QueryOptions narrows and orders a fetch.
type QueryOptions struct {
	// Zone restricts the query to a single zone. In the shared scope a nil
	// zone searches every zone shared with the account.
	Zone *ZoneID

	// SortBy orders results by the named field.
	SortBy     string
	Descending bool
}

// NewAnchorRecord builds the root record for a zone.
func NewAnchorRecord(zone ZoneID, createdAt time.Time) *Record {
	return &Record{
		ID:   AnchorID(zone),
		Type: TypeAnchor,
		Fields: map[string]any{
			"createdAt": createdAt,
		},
	}
}
