// Package memstore implements the record-store surface in memory. It backs
// the dev server and the test suites: one Service is "the cloud", holding
// every account's zones and shares, and hands out per-account containers.
//
// Query visibility can lag saves by a configurable delay to model index
// propagation, and failures can be injected to exercise the retry paths.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aemtliapp/aemtli-sync/internal/remote"
)

const shareURLPrefix = "https://records.aemtli.app/share/"

// Service holds the full record-store state across all accounts.
type Service struct {
	mu           sync.Mutex
	zones        map[string]*zone
	sharesByURL  map[string]*shareState
	accepted     map[string]map[string]*shareState
	accountNames map[string]string

	revision int64
	changed  chan struct{}

	propagationDelay time.Duration
	now              func() time.Time

	faults []fault
	hook   func(op string) error
}

type fault struct {
	code    remote.Code
	message string
}

type zone struct {
	id      remote.ZoneID
	records map[string]*storedRecord
	share   *shareState
}

type storedRecord struct {
	rec       remote.Record
	visibleAt time.Time
}

type shareState struct {
	share remote.Share
	zone  remote.ZoneID
}

// Option configures a Service.
type Option func(*Service)

// WithPropagationDelay makes saved records invisible to queries (not to
// fetches by ID) for the given duration, modelling index propagation lag.
func WithPropagationDelay(d time.Duration) Option {
	return func(s *Service) {
		s.propagationDelay = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates an empty record store.
func New(opts ...Option) *Service {
	s := &Service{
		zones:        make(map[string]*zone),
		sharesByURL:  make(map[string]*shareState),
		accepted:     make(map[string]map[string]*shareState),
		accountNames: make(map[string]string),
		changed:      make(chan struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAccountName sets the display name participants see for an account.
// Unnamed accounts fall back to their identity string.
func (s *Service) SetAccountName(identity, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountNames[identity] = name
}

// FailNext queues n injected failures; the next n API calls across all
// accounts fail with the given code.
func (s *Service) FailNext(n int, code remote.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.faults = append(s.faults, fault{code: code, message: "injected failure"})
	}
}

// SetHook installs a callback invoked at the start of every API call with
// the operation name. A non-nil return fails the call; the hook may also
// block to pause operations. Called without the store lock held.
func (s *Service) SetHook(hook func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Revision returns the current change counter.
func (s *Service) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// WaitChange blocks until the revision exceeds since, returning the new
// revision, or until ctx is done.
func (s *Service) WaitChange(ctx context.Context, since int64) (int64, error) {
	for {
		s.mu.Lock()
		if s.revision > since {
			rev := s.revision
			s.mu.Unlock()
			return rev, nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return since, ctx.Err()
		case <-ch:
		}
	}
}

// Container returns the record-store entry point for one account.
func (s *Service) Container(identity string) remote.Container {
	return &container{svc: s, identity: identity}
}

func (s *Service) gate(op string) error {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(op); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.faults) > 0 {
		f := s.faults[0]
		s.faults = s.faults[1:]
		return remote.NewError(f.code, "%s", f.message)
	}
	return nil
}

// bumpLocked advances the revision and wakes change waiters. Callers hold mu.
func (s *Service) bumpLocked() {
	s.revision++
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Service) accountNameLocked(identity string) string {
	if name, ok := s.accountNames[identity]; ok {
		return name
	}
	return identity
}

func zoneKey(z remote.ZoneID) string {
	return z.Owner + "/" + z.Name
}

// container implements remote.Container for one account.
type container struct {
	svc      *Service
	identity string
}

func (c *container) AccountIdentity(_ context.Context) (string, error) {
	if err := c.svc.gate("accountIdentity"); err != nil {
		return "", err
	}
	if c.identity == "" {
		return "", remote.NewError(remote.CodeUnknownItem, "no signed-in account")
	}
	return c.identity, nil
}

func (c *container) Database(scope remote.Scope) remote.Database {
	return &database{svc: c.svc, identity: c.identity, scope: scope}
}

func (c *container) FetchShareMetadata(_ context.Context, shareURL string) (*remote.ShareMetadata, error) {
	if err := c.svc.gate("fetchShareMetadata"); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(shareURL, shareURLPrefix) {
		return nil, remote.NewError(remote.CodeInvalidRequest, "not a share URL: %s", shareURL)
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	st, ok := c.svc.sharesByURL[shareURL]
	if !ok {
		return nil, remote.NewError(remote.CodeUnknownItem, "no share at %s", shareURL)
	}
	return &remote.ShareMetadata{
		ShareID:       st.share.ID,
		URL:           st.share.URL,
		OwnerIdentity: st.share.OwnerIdentity,
		Zone:          st.zone,
	}, nil
}

func (c *container) AcceptShare(_ context.Context, metadata *remote.ShareMetadata) (*remote.Share, error) {
	if err := c.svc.gate("acceptShare"); err != nil {
		return nil, err
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	st, ok := c.svc.sharesByURL[metadata.URL]
	if !ok {
		return nil, remote.NewError(remote.CodeUnknownItem, "share no longer exists: %s", metadata.URL)
	}

	joined := false
	for _, p := range st.share.Participants {
		if p.Identity == c.identity {
			joined = true
			break
		}
	}
	if !joined {
		st.share.Participants = append(st.share.Participants, remote.Participant{
			Identity: c.identity,
			Name:     c.svc.accountNameLocked(c.identity),
			Role:     remote.ParticipantMember,
		})
	}

	if c.svc.accepted[c.identity] == nil {
		c.svc.accepted[c.identity] = make(map[string]*shareState)
	}
	c.svc.accepted[c.identity][st.share.URL] = st
	c.svc.bumpLocked()

	return copyShare(&st.share), nil
}

// database implements remote.Database for one account and scope.
type database struct {
	svc      *Service
	identity string
	scope    remote.Scope
}

func (d *database) EnsureZone(_ context.Context, zoneID remote.ZoneID) error {
	if err := d.svc.gate("ensureZone"); err != nil {
		return err
	}
	if d.scope != remote.ScopePrivate {
		return remote.NewError(remote.CodePermissionDenied, "zones are created in the private database")
	}
	if zoneID.Owner != d.identity {
		return remote.NewError(remote.CodePermissionDenied, "zone %s is not owned by this account", zoneID.Name)
	}

	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()
	key := zoneKey(zoneID)
	if _, ok := d.svc.zones[key]; ok {
		return nil
	}
	d.svc.zones[key] = &zone{id: zoneID, records: make(map[string]*storedRecord)}
	return nil
}

func (d *database) SaveRecord(_ context.Context, rec *remote.Record, policy remote.SavePolicy) (*remote.Record, error) {
	if err := d.svc.gate("saveRecord"); err != nil {
		return nil, err
	}

	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()
	z, err := d.zoneForWriteLocked(rec.ID.Zone)
	if err != nil {
		return nil, err
	}

	existing := z.records[rec.ID.Name]
	var stored *storedRecord
	if existing == nil || policy == remote.PolicyReplace {
		stored = &storedRecord{rec: *copyRecord(rec)}
	} else {
		merged := *copyRecord(&existing.rec)
		for k, v := range rec.Fields {
			merged.Fields[k] = v
		}
		if rec.Parent != nil {
			merged.Parent = copyRecordID(rec.Parent)
		}
		if rec.ShareID != nil {
			merged.ShareID = copyRecordID(rec.ShareID)
		}
		stored = &storedRecord{rec: merged}
	}
	// A nil field value is a tombstone: the field is removed rather than
	// stored, so changed-keys saves can clear optional fields.
	for k, v := range stored.rec.Fields {
		if v == nil {
			delete(stored.rec.Fields, k)
		}
	}
	stored.visibleAt = d.svc.now().Add(d.svc.propagationDelay)
	z.records[rec.ID.Name] = stored
	d.svc.bumpLocked()

	return copyRecord(&stored.rec), nil
}

func (d *database) SaveShare(_ context.Context, anchor *remote.Record, share *remote.Share) (*remote.Share, error) {
	if err := d.svc.gate("saveShare"); err != nil {
		return nil, err
	}
	if d.scope != remote.ScopePrivate {
		return nil, remote.NewError(remote.CodePermissionDenied, "shares are created in the private database")
	}

	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()
	z, err := d.zoneForWriteLocked(anchor.ID.Zone)
	if err != nil {
		return nil, err
	}

	// A new share on an already-shared zone replaces it and invalidates
	// the previous URL.
	if z.share != nil {
		delete(d.svc.sharesByURL, z.share.share.URL)
		for _, byURL := range d.svc.accepted {
			delete(byURL, z.share.share.URL)
		}
	}

	st := &shareState{share: *copyShare(share), zone: z.id}
	if st.share.URL == "" {
		st.share.URL = shareURLPrefix + uuid.NewString()
	}
	st.share.OwnerIdentity = d.identity
	if st.share.Permission == "" {
		st.share.Permission = remote.PermissionReadWrite
	}
	st.share.Participants = []remote.Participant{{
		Identity: d.identity,
		Name:     d.svc.accountNameLocked(d.identity),
		Role:     remote.ParticipantOwner,
	}}

	anchorCopy := copyRecord(anchor)
	anchorCopy.ShareID = copyRecordID(&st.share.ID)
	z.records[anchorCopy.ID.Name] = &storedRecord{
		rec:       *anchorCopy,
		visibleAt: d.svc.now().Add(d.svc.propagationDelay),
	}
	z.share = st
	d.svc.sharesByURL[st.share.URL] = st
	d.svc.bumpLocked()

	return copyShare(&st.share), nil
}

func (d *database) Query(_ context.Context, recordType remote.RecordType, opts remote.QueryOptions) ([]*remote.Record, error) {
	if err := d.svc.gate("query"); err != nil {
		return nil, err
	}

	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()
	zones, err := d.zonesForReadLocked(opts.Zone)
	if err != nil {
		return nil, err
	}

	now := d.svc.now()
	var results []*remote.Record
	for _, z := range zones {
		for _, sr := range z.records {
			if sr.rec.Type != recordType {
				continue
			}
			if sr.visibleAt.After(now) {
				continue
			}
			results = append(results, copyRecord(&sr.rec))
		}
	}

	if opts.SortBy != "" {
		sort.SliceStable(results, func(i, j int) bool {
			less := compareFields(results[i].Fields[opts.SortBy], results[j].Fields[opts.SortBy]) < 0
			if opts.Descending {
				return !less
			}
			return less
		})
	}
	return results, nil
}

func (d *database) FetchRecord(_ context.Context, id remote.RecordID) (*remote.Record, error) {
	if err := d.svc.gate("fetchRecord"); err != nil {
		return nil, err
	}

	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()
	z, err := d.zoneForReadLocked(id.Zone)
	if err != nil {
		return nil, err
	}
	sr, ok := z.records[id.Name]
	if !ok {
		return nil, remote.NewError(remote.CodeUnknownItem, "no record %s in zone %s", id.Name, id.Zone.Name)
	}
	return copyRecord(&sr.rec), nil
}

func (d *database) FetchShare(_ context.Context, id remote.RecordID) (*remote.Share, error) {
	if err := d.svc.gate("fetchShare"); err != nil {
		return nil, err
	}

	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()
	z, err := d.zoneForReadLocked(id.Zone)
	if err != nil {
		return nil, err
	}
	if z.share == nil || z.share.share.ID != id {
		return nil, remote.NewError(remote.CodeUnknownItem, "no share %s in zone %s", id.Name, id.Zone.Name)
	}
	return copyShare(&z.share.share), nil
}

func (d *database) DeleteRecord(_ context.Context, id remote.RecordID) error {
	if err := d.svc.gate("deleteRecord"); err != nil {
		return err
	}

	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()
	z, err := d.zoneForWriteLocked(id.Zone)
	if err != nil {
		return err
	}
	if _, ok := z.records[id.Name]; !ok {
		return remote.NewError(remote.CodeUnknownItem, "no record %s in zone %s", id.Name, id.Zone.Name)
	}
	delete(z.records, id.Name)

	// Deleting the anchor tears down the attached share.
	if id.Name == remote.AnchorRecordName && z.share != nil {
		delete(d.svc.sharesByURL, z.share.share.URL)
		for _, byURL := range d.svc.accepted {
			delete(byURL, z.share.share.URL)
		}
		z.share = nil
	}
	d.svc.bumpLocked()
	return nil
}

// zoneForWriteLocked resolves a zone for a mutation, enforcing ownership in
// the private scope and accepted participation in the shared one.
func (d *database) zoneForWriteLocked(zoneID remote.ZoneID) (*zone, error) {
	z, ok := d.svc.zones[zoneKey(zoneID)]
	if !ok {
		return nil, remote.NewError(remote.CodeZoneNotFound, "zone %s does not exist", zoneID.Name)
	}
	if err := d.checkAccessLocked(z); err != nil {
		return nil, err
	}
	if d.scope == remote.ScopeShared && z.share != nil && z.share.share.Permission != remote.PermissionReadWrite {
		return nil, remote.NewError(remote.CodePermissionDenied, "share on zone %s is read only", zoneID.Name)
	}
	return z, nil
}

func (d *database) zoneForReadLocked(zoneID remote.ZoneID) (*zone, error) {
	z, ok := d.svc.zones[zoneKey(zoneID)]
	if !ok {
		return nil, remote.NewError(remote.CodeZoneNotFound, "zone %s does not exist", zoneID.Name)
	}
	if err := d.checkAccessLocked(z); err != nil {
		return nil, err
	}
	return z, nil
}

func (d *database) zonesForReadLocked(zoneID *remote.ZoneID) ([]*zone, error) {
	if zoneID != nil {
		z, err := d.zoneForReadLocked(*zoneID)
		if err != nil {
			return nil, err
		}
		return []*zone{z}, nil
	}

	var zones []*zone
	switch d.scope {
	case remote.ScopePrivate:
		for _, z := range d.svc.zones {
			if z.id.Owner == d.identity {
				zones = append(zones, z)
			}
		}
	case remote.ScopeShared:
		for _, st := range d.svc.accepted[d.identity] {
			if z, ok := d.svc.zones[zoneKey(st.zone)]; ok {
				zones = append(zones, z)
			}
		}
	}
	return zones, nil
}

func (d *database) checkAccessLocked(z *zone) error {
	switch d.scope {
	case remote.ScopePrivate:
		if z.id.Owner != d.identity {
			return remote.NewError(remote.CodePermissionDenied, "zone %s belongs to another account", z.id.Name)
		}
	case remote.ScopeShared:
		if z.share == nil {
			return remote.NewError(remote.CodePermissionDenied, "zone %s is not shared", z.id.Name)
		}
		if _, ok := d.svc.accepted[d.identity][z.share.share.URL]; !ok {
			return remote.NewError(remote.CodePermissionDenied, "share on zone %s was not accepted", z.id.Name)
		}
	default:
		return remote.NewError(remote.CodeInvalidRequest, "unknown database scope %q", d.scope)
	}
	return nil
}

func compareFields(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	return 0
}

func copyRecord(r *remote.Record) *remote.Record {
	cp := *r
	cp.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	cp.Parent = copyRecordID(r.Parent)
	cp.ShareID = copyRecordID(r.ShareID)
	return &cp
}

func copyRecordID(id *remote.RecordID) *remote.RecordID {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

func copyShare(s *remote.Share) *remote.Share {
	cp := *s
	cp.Participants = append([]remote.Participant(nil), s.Participants...)
	return &cp
}
