package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aemtliapp/aemtli-sync/internal/remote"
)

const (
	ownerIdentity  = "_owner-account"
	memberIdentity = "_member-account"
)

func ownerZone() remote.ZoneID {
	return remote.ZoneID{Name: remote.DefaultZoneName, Owner: ownerIdentity}
}

func taskRecord(name, title string, createdAt time.Time) *remote.Record {
	parent := remote.AnchorID(ownerZone())
	return &remote.Record{
		ID:   remote.RecordID{Name: name, Zone: ownerZone()},
		Type: remote.TypeTask,
		Fields: map[string]any{
			"title":     title,
			"isDone":    int64(0),
			"createdAt": createdAt,
		},
		Parent: &parent,
	}
}

func setupSharedZone(t *testing.T, svc *Service) *remote.Share {
	t.Helper()
	ctx := context.Background()
	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	anchor := remote.NewAnchorRecord(ownerZone(), time.Now())
	share := &remote.Share{
		ID:         remote.RecordID{Name: "share-1", Zone: ownerZone()},
		Permission: remote.PermissionReadWrite,
	}
	saved, err := db.SaveShare(ctx, anchor, share)
	require.NoError(t, err)
	return saved
}

func TestEnsureZoneIdempotent(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)

	require.NoError(t, db.EnsureZone(ctx, ownerZone()))
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	err := db.EnsureZone(ctx, remote.ZoneID{Name: "Other", Owner: memberIdentity})
	assert.Equal(t, remote.CodePermissionDenied, remote.CodeOf(err))
}

func TestSaveRecordChangedKeysMerge(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	created := time.Now().UTC()
	_, err := db.SaveRecord(ctx, taskRecord("t1", "Do the dishes", created), remote.PolicyChangedKeys)
	require.NoError(t, err)

	// A partial update must preserve untouched fields.
	partial := &remote.Record{
		ID:     remote.RecordID{Name: "t1", Zone: ownerZone()},
		Type:   remote.TypeTask,
		Fields: map[string]any{"isDone": int64(1)},
	}
	saved, err := db.SaveRecord(ctx, partial, remote.PolicyChangedKeys)
	require.NoError(t, err)
	assert.Equal(t, "Do the dishes", saved.Fields["title"])
	assert.Equal(t, int64(1), saved.Fields["isDone"])
	require.NotNil(t, saved.Parent)
	assert.Equal(t, remote.AnchorRecordName, saved.Parent.Name)
}

func TestSaveRecordUnknownZone(t *testing.T) {
	t.Parallel()

	svc := New()
	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	_, err := db.SaveRecord(context.Background(), taskRecord("t1", "x", time.Now()), remote.PolicyChangedKeys)
	assert.Equal(t, remote.CodeZoneNotFound, remote.CodeOf(err))
}

func TestQuerySortedByCreatedAt(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	base := time.Now().UTC()
	for i, name := range []string{"t1", "t2", "t3"} {
		_, err := db.SaveRecord(ctx, taskRecord(name, name, base.Add(time.Duration(i)*time.Minute)), remote.PolicyChangedKeys)
		require.NoError(t, err)
	}

	recs, err := db.Query(ctx, remote.TypeTask, remote.QueryOptions{SortBy: "createdAt", Descending: true})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "t3", recs[0].ID.Name)
	assert.Equal(t, "t1", recs[2].ID.Name)
}

func TestQueryPropagationDelay(t *testing.T) {
	t.Parallel()

	current := time.Now()
	svc := New(
		WithPropagationDelay(time.Hour),
		WithClock(func() time.Time { return current }),
	)
	ctx := context.Background()
	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	_, err := db.SaveRecord(ctx, taskRecord("t1", "hidden", current), remote.PolicyChangedKeys)
	require.NoError(t, err)

	// Queries lag behind the save.
	recs, err := db.Query(ctx, remote.TypeTask, remote.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Fetch by ID does not.
	rec, err := db.FetchRecord(ctx, remote.RecordID{Name: "t1", Zone: ownerZone()})
	require.NoError(t, err)
	assert.Equal(t, "hidden", rec.Fields["title"])

	// Once the index catches up the record appears.
	current = current.Add(2 * time.Hour)
	recs, err = db.Query(ctx, remote.TypeTask, remote.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestShareLifecycle(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	share := setupSharedZone(t, svc)
	require.NotEmpty(t, share.URL)
	assert.Equal(t, ownerIdentity, share.OwnerIdentity)
	require.Len(t, share.Participants, 1)
	assert.Equal(t, remote.ParticipantOwner, share.Participants[0].Role)

	member := svc.Container(memberIdentity)

	// Before acceptance the shared database shows nothing.
	recs, err := member.Database(remote.ScopeShared).Query(ctx, remote.TypeAnchor, remote.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	md, err := member.FetchShareMetadata(ctx, share.URL)
	require.NoError(t, err)
	assert.Equal(t, ownerIdentity, md.OwnerIdentity)
	assert.Equal(t, ownerZone(), md.Zone)

	accepted, err := member.AcceptShare(ctx, md)
	require.NoError(t, err)
	require.Len(t, accepted.Participants, 2)
	assert.Equal(t, remote.ParticipantMember, accepted.Participants[1].Role)

	// The anchor is now visible in the member's shared database.
	recs, err = member.Database(remote.ScopeShared).Query(ctx, remote.TypeAnchor, remote.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].ShareID)

	fetched, err := member.Database(remote.ScopeShared).FetchShare(ctx, *recs[0].ShareID)
	require.NoError(t, err)
	assert.Equal(t, share.URL, fetched.URL)
}

func TestParticipantWritesReachOwner(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	share := setupSharedZone(t, svc)

	member := svc.Container(memberIdentity)
	md, err := member.FetchShareMetadata(ctx, share.URL)
	require.NoError(t, err)
	_, err = member.AcceptShare(ctx, md)
	require.NoError(t, err)

	_, err = member.Database(remote.ScopeShared).SaveRecord(ctx, taskRecord("t-member", "from member", time.Now()), remote.PolicyChangedKeys)
	require.NoError(t, err)

	ownerDB := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	recs, err := ownerDB.Query(ctx, remote.TypeTask, remote.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "from member", recs[0].Fields["title"])
}

func TestDeleteAnchorTearsDownShare(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	share := setupSharedZone(t, svc)

	member := svc.Container(memberIdentity)
	md, err := member.FetchShareMetadata(ctx, share.URL)
	require.NoError(t, err)
	_, err = member.AcceptShare(ctx, md)
	require.NoError(t, err)

	ownerDB := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	require.NoError(t, ownerDB.DeleteRecord(ctx, remote.AnchorID(ownerZone())))

	_, err = member.FetchShareMetadata(ctx, share.URL)
	assert.Equal(t, remote.CodeUnknownItem, remote.CodeOf(err))

	_, err = member.Database(remote.ScopeShared).Query(ctx, remote.TypeTask, remote.QueryOptions{})
	require.NoError(t, err)
}

func TestReplacingShareInvalidatesOldURL(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	first := setupSharedZone(t, svc)

	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	anchor := remote.NewAnchorRecord(ownerZone(), time.Now())
	second, err := db.SaveShare(ctx, anchor, &remote.Share{
		ID:         remote.RecordID{Name: "share-2", Zone: ownerZone()},
		Permission: remote.PermissionReadWrite,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.URL, second.URL)

	_, err = svc.Container(memberIdentity).FetchShareMetadata(ctx, first.URL)
	assert.Equal(t, remote.CodeUnknownItem, remote.CodeOf(err))
}

func TestFaultInjection(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	svc.FailNext(2, remote.CodeServiceUnavailable)

	_, err := db.Query(ctx, remote.TypeTask, remote.QueryOptions{})
	assert.True(t, remote.IsTransient(err))
	_, err = db.Query(ctx, remote.TypeTask, remote.QueryOptions{})
	assert.True(t, remote.IsTransient(err))
	_, err = db.Query(ctx, remote.TypeTask, remote.QueryOptions{})
	assert.NoError(t, err)
}

func TestWaitChange(t *testing.T) {
	t.Parallel()

	svc := New()
	ctx := context.Background()
	db := svc.Container(ownerIdentity).Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	start := svc.Revision()
	done := make(chan int64, 1)
	go func() {
		rev, err := svc.WaitChange(context.Background(), start)
		if err != nil {
			rev = -1
		}
		done <- rev
	}()

	_, err := db.SaveRecord(ctx, taskRecord("t1", "x", time.Now()), remote.PolicyChangedKeys)
	require.NoError(t, err)

	select {
	case rev := <-done:
		assert.Greater(t, rev, start)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitChange did not observe the save")
	}

	// A cancelled wait returns promptly.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.WaitChange(cancelled, svc.Revision())
	assert.Error(t, err)
}
