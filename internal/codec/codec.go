// Package codec maps domain entities onto record-store records and back.
// Encoding is total; decoding is partial and defensive: a record missing a
// required field, or carrying an enum value outside the closed set, decodes
// to nothing instead of failing, so one malformed record never aborts a
// batch load.
package codec

import (
	"time"

	"github.com/google/uuid"

	"github.com/aemtliapp/aemtli-sync/internal/model"
	"github.com/aemtliapp/aemtli-sync/internal/remote"
)

// EncodeTask converts a task into a record in the given zone, parented to
// the zone anchor so it propagates into shared views. Unset optional fields
// encode as explicit nils so a changed-keys save clears them remotely
// instead of leaving a stale value behind.
func EncodeTask(t model.Task, zone remote.ZoneID) *remote.Record {
	fields := map[string]any{
		"title":      t.Title,
		"isDone":     boolToInt(t.Done),
		"recurrence": string(t.Recurrence),
		"createdAt":  t.CreatedAt,
		"assignedTo": nil,
		"dueDate":    nil,
		"deadline":   nil,
	}
	if t.AssignedTo != nil {
		fields["assignedTo"] = t.AssignedTo.String()
	}
	if t.DueDate != nil {
		fields["dueDate"] = *t.DueDate
	}
	if t.Deadline != nil {
		fields["deadline"] = *t.Deadline
	}

	parent := remote.AnchorID(zone)
	return &remote.Record{
		ID:     remote.RecordID{Name: t.ID.String(), Zone: zone},
		Type:   remote.TypeTask,
		Fields: fields,
		Parent: &parent,
	}
}

// DecodeTask converts a record back into a task. Returns false when any
// required field is missing or malformed.
func DecodeTask(rec *remote.Record) (model.Task, bool) {
	if rec == nil || rec.Type != remote.TypeTask {
		return model.Task{}, false
	}
	id, err := uuid.Parse(rec.ID.Name)
	if err != nil {
		return model.Task{}, false
	}
	title, ok := stringField(rec.Fields, "title")
	if !ok {
		return model.Task{}, false
	}
	done, ok := intField(rec.Fields, "isDone")
	if !ok {
		return model.Task{}, false
	}
	recurrenceRaw, ok := stringField(rec.Fields, "recurrence")
	if !ok {
		return model.Task{}, false
	}
	recurrence, ok := model.ParseRecurrence(recurrenceRaw)
	if !ok {
		return model.Task{}, false
	}
	createdAt, ok := timeField(rec.Fields, "createdAt")
	if !ok {
		return model.Task{}, false
	}

	task := model.Task{
		ID:         id,
		Title:      title,
		Done:       done == 1,
		Recurrence: recurrence,
		CreatedAt:  createdAt,
	}
	if raw, ok := stringField(rec.Fields, "assignedTo"); ok {
		if assignee, err := uuid.Parse(raw); err == nil {
			task.AssignedTo = &assignee
		}
	}
	if due, ok := timeField(rec.Fields, "dueDate"); ok {
		task.DueDate = &due
	}
	if deadline, ok := timeField(rec.Fields, "deadline"); ok {
		task.Deadline = &deadline
	}
	return task, true
}

// DecodeTasks decodes a batch, silently skipping malformed records.
func DecodeTasks(recs []*remote.Record) []model.Task {
	tasks := make([]model.Task, 0, len(recs))
	for _, rec := range recs {
		if task, ok := DecodeTask(rec); ok {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// EncodeMember converts a family member into a record in the given zone.
func EncodeMember(m model.FamilyMember, zone remote.ZoneID) *remote.Record {
	fields := map[string]any{
		"name": m.Name,
		"role": string(m.Role),
	}
	if m.RemoteIdentity != "" {
		fields["remoteIdentity"] = m.RemoteIdentity
	}

	parent := remote.AnchorID(zone)
	return &remote.Record{
		ID:     remote.RecordID{Name: m.ID.String(), Zone: zone},
		Type:   remote.TypeMember,
		Fields: fields,
		Parent: &parent,
	}
}

// DecodeMember converts a record back into a family member.
func DecodeMember(rec *remote.Record) (model.FamilyMember, bool) {
	if rec == nil || rec.Type != remote.TypeMember {
		return model.FamilyMember{}, false
	}
	id, err := uuid.Parse(rec.ID.Name)
	if err != nil {
		return model.FamilyMember{}, false
	}
	name, ok := stringField(rec.Fields, "name")
	if !ok {
		return model.FamilyMember{}, false
	}
	roleRaw, ok := stringField(rec.Fields, "role")
	if !ok {
		return model.FamilyMember{}, false
	}
	role, ok := model.ParseRole(roleRaw)
	if !ok {
		return model.FamilyMember{}, false
	}

	member := model.FamilyMember{ID: id, Name: name, Role: role}
	if identity, ok := stringField(rec.Fields, "remoteIdentity"); ok {
		member.RemoteIdentity = identity
	}
	return member, true
}

// DecodeMembers decodes a batch, silently skipping malformed records.
func DecodeMembers(recs []*remote.Record) []model.FamilyMember {
	members := make([]model.FamilyMember, 0, len(recs))
	for _, rec := range recs {
		if member, ok := DecodeMember(rec); ok {
			members = append(members, member)
		}
	}
	return members
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key].(string)
	return v, ok
}

func intField(fields map[string]any, key string) (int64, bool) {
	v, ok := fields[key].(int64)
	return v, ok
}

func timeField(fields map[string]any, key string) (time.Time, bool) {
	v, ok := fields[key].(time.Time)
	return v, ok
}
