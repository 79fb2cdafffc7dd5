package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aemtliapp/aemtli-sync/internal/remote"
	"github.com/aemtliapp/aemtli-sync/internal/remote/memstore"
)

func newTestServer(t *testing.T) (*memstore.Service, string) {
	t.Helper()
	svc := memstore.New()
	srv := httptest.NewServer(NewRouter(svc))
	t.Cleanup(srv.Close)
	return svc, srv.URL
}

func ownerZone() remote.ZoneID {
	return remote.ZoneID{Name: remote.DefaultZoneName, Owner: "_owner"}
}

func TestRecordRoundTripPreservesFieldTypes(t *testing.T) {
	t.Parallel()

	_, baseURL := newTestServer(t)
	ctx := context.Background()
	db := NewClient(baseURL, "_owner").Database(remote.ScopePrivate)

	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	createdAt := time.Now().UTC().Truncate(time.Millisecond)
	rec := &remote.Record{
		ID:   remote.RecordID{Name: "t1", Zone: ownerZone()},
		Type: remote.TypeTask,
		Fields: map[string]any{
			"title":     "Do the dishes",
			"isDone":    int64(1),
			"createdAt": createdAt,
		},
		Parent: &remote.RecordID{Name: remote.AnchorRecordName, Zone: ownerZone()},
	}
	saved, err := db.SaveRecord(ctx, rec, remote.PolicyChangedKeys)
	require.NoError(t, err)
	require.NotNil(t, saved.Parent)

	fetched, err := db.FetchRecord(ctx, rec.ID)
	require.NoError(t, err)

	// Types survive the JSON transport, not just values.
	assert.Equal(t, "Do the dishes", fetched.Fields["title"])
	assert.Equal(t, int64(1), fetched.Fields["isDone"])
	got, ok := fetched.Fields["createdAt"].(time.Time)
	require.True(t, ok, "createdAt came back as %T", fetched.Fields["createdAt"])
	assert.True(t, createdAt.Equal(got))
}

func TestChangedKeysMergeOverHTTP(t *testing.T) {
	t.Parallel()

	_, baseURL := newTestServer(t)
	ctx := context.Background()
	db := NewClient(baseURL, "_owner").Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	id := remote.RecordID{Name: "t1", Zone: ownerZone()}
	_, err := db.SaveRecord(ctx, &remote.Record{
		ID: id, Type: remote.TypeTask,
		Fields: map[string]any{"title": "original", "isDone": int64(0)},
	}, remote.PolicyChangedKeys)
	require.NoError(t, err)

	_, err = db.SaveRecord(ctx, &remote.Record{
		ID: id, Type: remote.TypeTask,
		Fields: map[string]any{"isDone": int64(1)},
	}, remote.PolicyChangedKeys)
	require.NoError(t, err)

	fetched, err := db.FetchRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "original", fetched.Fields["title"])
	assert.Equal(t, int64(1), fetched.Fields["isDone"])
}

func TestChangedKeysClearsFieldOverHTTP(t *testing.T) {
	t.Parallel()

	_, baseURL := newTestServer(t)
	ctx := context.Background()
	db := NewClient(baseURL, "_owner").Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	id := remote.RecordID{Name: "t1", Zone: ownerZone()}
	_, err := db.SaveRecord(ctx, &remote.Record{
		ID: id, Type: remote.TypeTask,
		Fields: map[string]any{"title": "chore", "assignedTo": "some-member"},
	}, remote.PolicyChangedKeys)
	require.NoError(t, err)

	// A nil field value rides the wire as a tombstone and removes the key.
	_, err = db.SaveRecord(ctx, &remote.Record{
		ID: id, Type: remote.TypeTask,
		Fields: map[string]any{"assignedTo": nil},
	}, remote.PolicyChangedKeys)
	require.NoError(t, err)

	fetched, err := db.FetchRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "chore", fetched.Fields["title"])
	_, present := fetched.Fields["assignedTo"]
	assert.False(t, present)
}

func TestQuerySortedOverHTTP(t *testing.T) {
	t.Parallel()

	_, baseURL := newTestServer(t)
	ctx := context.Background()
	db := NewClient(baseURL, "_owner").Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	base := time.Now().UTC()
	for i, name := range []string{"a", "b", "c"} {
		_, err := db.SaveRecord(ctx, &remote.Record{
			ID:     remote.RecordID{Name: name, Zone: ownerZone()},
			Type:   remote.TypeTask,
			Fields: map[string]any{"title": name, "createdAt": base.Add(time.Duration(i) * time.Minute)},
		}, remote.PolicyChangedKeys)
		require.NoError(t, err)
	}

	zone := ownerZone()
	recs, err := db.Query(ctx, remote.TypeTask, remote.QueryOptions{
		Zone: &zone, SortBy: "createdAt", Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[0].ID.Name)
	assert.Equal(t, "a", recs[2].ID.Name)
}

func TestErrorClassificationOverHTTP(t *testing.T) {
	t.Parallel()

	svc, baseURL := newTestServer(t)
	ctx := context.Background()
	client := NewClient(baseURL, "_owner")
	db := client.Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	// Missing record keeps its UnknownItem classification.
	_, err := db.FetchRecord(ctx, remote.RecordID{Name: "ghost", Zone: ownerZone()})
	assert.True(t, remote.IsUnknownItem(err))

	// Missing zone is distinguishable from a missing record.
	otherZone := remote.ZoneID{Name: "Elsewhere", Owner: "_owner"}
	_, err = db.FetchRecord(ctx, remote.RecordID{Name: "x", Zone: otherZone})
	assert.Equal(t, remote.CodeZoneNotFound, remote.CodeOf(err))

	// Someone else's zone is forbidden.
	foreign := NewClient(baseURL, "_other").Database(remote.ScopePrivate)
	err = foreign.EnsureZone(ctx, ownerZone())
	assert.Equal(t, remote.CodePermissionDenied, remote.CodeOf(err))

	// Injected transient failures keep their retryable classification.
	svc.FailNext(1, remote.CodeRateLimited)
	_, err = db.FetchRecord(ctx, remote.RecordID{Name: "ghost", Zone: ownerZone()})
	assert.True(t, remote.IsTransient(err))

	// A dead endpoint reads as a network failure.
	dead := NewClient("http://127.0.0.1:1", "_owner")
	_, err = dead.AccountIdentity(ctx)
	assert.Equal(t, remote.CodeNetworkUnavailable, remote.CodeOf(err))
}

func TestShareLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	_, baseURL := newTestServer(t)
	ctx := context.Background()

	owner := NewClient(baseURL, "_owner")
	ownerDB := owner.Database(remote.ScopePrivate)
	require.NoError(t, ownerDB.EnsureZone(ctx, ownerZone()))

	anchor := remote.NewAnchorRecord(ownerZone(), time.Now().UTC())
	sh, err := ownerDB.SaveShare(ctx, anchor, &remote.Share{
		ID: remote.RecordID{Name: "share-1", Zone: ownerZone()},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sh.URL)
	assert.Equal(t, "_owner", sh.OwnerIdentity)

	_, err = ownerDB.SaveRecord(ctx, &remote.Record{
		ID:     remote.RecordID{Name: "t1", Zone: ownerZone()},
		Type:   remote.TypeTask,
		Fields: map[string]any{"title": "shared task"},
	}, remote.PolicyChangedKeys)
	require.NoError(t, err)

	member := NewClient(baseURL, "_member")
	identity, err := member.AccountIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "_member", identity)

	md, err := member.FetchShareMetadata(ctx, sh.URL)
	require.NoError(t, err)
	assert.Equal(t, ownerZone(), md.Zone)

	joined, err := member.AcceptShare(ctx, md)
	require.NoError(t, err)
	assert.Len(t, joined.Participants, 2)

	recs, err := member.Database(remote.ScopeShared).Query(ctx, remote.TypeTask, remote.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "shared task", recs[0].Fields["title"])

	fetched, err := member.Database(remote.ScopeShared).FetchShare(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, sh.URL, fetched.URL)

	// Deleting the anchor revokes the member.
	require.NoError(t, ownerDB.DeleteRecord(ctx, remote.AnchorID(ownerZone())))
	_, err = member.FetchShareMetadata(ctx, sh.URL)
	assert.True(t, remote.IsUnknownItem(err))
}

func TestWaitChangesLongPoll(t *testing.T) {
	t.Parallel()

	svc, baseURL := newTestServer(t)
	ctx := context.Background()
	client := NewClient(baseURL, "_owner")
	db := client.Database(remote.ScopePrivate)
	require.NoError(t, db.EnsureZone(ctx, ownerZone()))

	since := svc.Revision()
	got := make(chan int64, 1)
	go func() {
		rev, err := client.WaitChanges(ctx, since)
		if err != nil {
			rev = -1
		}
		got <- rev
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := db.SaveRecord(ctx, &remote.Record{
		ID:     remote.RecordID{Name: "t1", Zone: ownerZone()},
		Type:   remote.TypeTask,
		Fields: map[string]any{"title": "wake up"},
	}, remote.PolicyChangedKeys)
	require.NoError(t, err)

	select {
	case rev := <-got:
		assert.Greater(t, rev, since)
	case <-time.After(5 * time.Second):
		t.Fatal("change feed never woke up")
	}
}
