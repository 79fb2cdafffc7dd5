// Package httpapi carries the record-store surface over HTTP: a chi router
// exposing a backing store and a client implementing the same Go interfaces
// on the other end. Field values are typed on the wire so int64 and
// timestamp fields survive the JSON round trip.
package httpapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aemtliapp/aemtli-sync/internal/remote"
)

// Field type discriminators on the wire. Null marks a cleared optional
// field; the store drops the key on a changed-keys save.
const (
	fieldString = "string"
	fieldInt    = "int"
	fieldTime   = "time"
	fieldNull   = "null"
)

// FieldValue is one typed record field.
type FieldValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// WireRecord is the JSON shape of a remote.Record.
type WireRecord struct {
	ID      remote.RecordID       `json:"id"`
	Type    remote.RecordType     `json:"type"`
	Fields  map[string]FieldValue `json:"fields"`
	Parent  *remote.RecordID      `json:"parent,omitempty"`
	ShareID *remote.RecordID      `json:"shareId,omitempty"`
}

// ErrorBody is the JSON shape of a failed call.
type ErrorBody struct {
	Code    remote.Code `json:"code"`
	Message string      `json:"message"`
}

// QueryRequest narrows and orders a record query.
type QueryRequest struct {
	RecordType remote.RecordType `json:"recordType"`
	Zone       *remote.ZoneID    `json:"zone,omitempty"`
	SortBy     string            `json:"sortBy,omitempty"`
	Descending bool              `json:"descending,omitempty"`
}

// SaveShareRequest carries the anchor and the share template of a share
// creation.
type SaveShareRequest struct {
	Anchor WireRecord   `json:"anchor"`
	Share  remote.Share `json:"share"`
}

func encodeRecord(rec *remote.Record) (*WireRecord, error) {
	wire := &WireRecord{
		ID:      rec.ID,
		Type:    rec.Type,
		Fields:  make(map[string]FieldValue, len(rec.Fields)),
		Parent:  rec.Parent,
		ShareID: rec.ShareID,
	}
	for name, value := range rec.Fields {
		fv, err := encodeField(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		wire.Fields[name] = fv
	}
	return wire, nil
}

func encodeField(value any) (FieldValue, error) {
	switch v := value.(type) {
	case nil:
		return FieldValue{Type: fieldNull, Value: json.RawMessage("null")}, nil
	case string:
		raw, err := json.Marshal(v)
		if err != nil {
			return FieldValue{}, err
		}
		return FieldValue{Type: fieldString, Value: raw}, nil
	case int64:
		raw, err := json.Marshal(v)
		if err != nil {
			return FieldValue{}, err
		}
		return FieldValue{Type: fieldInt, Value: raw}, nil
	case time.Time:
		raw, err := json.Marshal(v.Format(time.RFC3339Nano))
		if err != nil {
			return FieldValue{}, err
		}
		return FieldValue{Type: fieldTime, Value: raw}, nil
	default:
		return FieldValue{}, fmt.Errorf("unsupported field type %T", value)
	}
}

func decodeRecord(wire *WireRecord) (*remote.Record, error) {
	rec := &remote.Record{
		ID:      wire.ID,
		Type:    wire.Type,
		Fields:  make(map[string]any, len(wire.Fields)),
		Parent:  wire.Parent,
		ShareID: wire.ShareID,
	}
	for name, fv := range wire.Fields {
		value, err := decodeField(fv)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		rec.Fields[name] = value
	}
	return rec, nil
}

func decodeField(fv FieldValue) (any, error) {
	switch fv.Type {
	case fieldNull:
		return nil, nil
	case fieldString:
		var s string
		if err := json.Unmarshal(fv.Value, &s); err != nil {
			return nil, err
		}
		return s, nil
	case fieldInt:
		var n int64
		if err := json.Unmarshal(fv.Value, &n); err != nil {
			return nil, err
		}
		return n, nil
	case fieldTime:
		var s string
		if err := json.Unmarshal(fv.Value, &s); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return ts, nil
	default:
		return nil, fmt.Errorf("unsupported wire field type %q", fv.Type)
	}
}
