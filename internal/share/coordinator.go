// Package share tracks whether this account participates in a family share
// and on which side. The coordinator creates, discovers, accepts and tears
// down the share attached to the zone anchor, persists the outcome locally
// and answers role queries for database routing.
package share

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aemtliapp/aemtli-sync/internal/remote"
	"github.com/aemtliapp/aemtli-sync/internal/state"
)

// Phase is the share lifecycle state of this account.
type Phase string

const (
	// PhaseNoShare means no family share exists for this account.
	PhaseNoShare Phase = "NoShare"

	// PhaseOwner means this account created the active share.
	PhaseOwner Phase = "OwnerActive"

	// PhaseParticipant means this account accepted someone else's share.
	PhaseParticipant Phase = "ParticipantActive"
)

// DefaultDiscoverAttempts bounds the startup discovery retry loop.
const DefaultDiscoverAttempts = 3

// DefaultDiscoverDelay is the base of the linear backoff between discovery
// attempts; attempt n waits n times this long.
const DefaultDiscoverDelay = time.Second

// Coordinator manages the family share lifecycle for one account.
type Coordinator struct {
	container   remote.Container
	state       state.Store
	privateZone remote.ZoneID
	retry       *remote.Executor

	discoverDelay time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	phase      Phase
	share      *remote.Share
	sharedZone *remote.ZoneID
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDiscoverDelay overrides the base delay of the discovery retry loop.
func WithDiscoverDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.discoverDelay = d
	}
}

// WithExecutor overrides the retry executor used for record-store calls.
func WithExecutor(exec *remote.Executor) Option {
	return func(c *Coordinator) {
		c.retry = exec
	}
}

// New creates a coordinator in the NoShare phase. privateZone is the
// account's own custom zone; st persists the discovered share across
// restarts.
func New(container remote.Container, st state.Store, privateZone remote.ZoneID, opts ...Option) *Coordinator {
	c := &Coordinator{
		container:     container,
		state:         st,
		privateZone:   privateZone,
		retry:         remote.NewExecutor(remote.DefaultMaxAttempts, remote.DefaultInitialBackoff),
		discoverDelay: DefaultDiscoverDelay,
		phase:         PhaseNoShare,
		sleep:         sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Phase returns the current share lifecycle state.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// ActiveShare returns the current share, or nil in the NoShare phase.
func (c *Coordinator) ActiveShare() *remote.Share {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.share == nil {
		return nil
	}
	cp := *c.share
	cp.Participants = append([]remote.Participant(nil), c.share.Participants...)
	return &cp
}

// Participants lists the accounts on the active share, the owner first.
func (c *Coordinator) Participants() []remote.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.share == nil {
		return nil
	}
	return append([]remote.Participant(nil), c.share.Participants...)
}

// IsParticipant reports whether this account accepted someone else's share.
func (c *Coordinator) IsParticipant() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseParticipant
}

// SharedZone returns the zone of the active share when participating.
func (c *Coordinator) SharedZone() *remote.ZoneID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseParticipant || c.sharedZone == nil {
		return nil
	}
	cp := *c.sharedZone
	return &cp
}

func (c *Coordinator) privateDB() remote.Database {
	return c.container.Database(remote.ScopePrivate)
}

func (c *Coordinator) sharedDB() remote.Database {
	return c.container.Database(remote.ScopeShared)
}

// CreateShare creates the family share on the private zone and moves this
// account into the owner phase. An existing share is reused unless forceNew
// is set, in which case it is replaced and its old URL invalidated.
func (c *Coordinator) CreateShare(ctx context.Context, forceNew bool) (*remote.Share, error) {
	if err := c.ensurePrivateZone(ctx); err != nil {
		return nil, err
	}
	anchor, err := c.ensureAnchor(ctx)
	if err != nil {
		return nil, err
	}

	if anchor.ShareID != nil && !forceNew {
		existing, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Share, error) {
			return c.privateDB().FetchShare(ctx, *anchor.ShareID)
		})
		if err == nil {
			return c.becomeOwner(ctx, existing)
		}
		if !remote.IsUnknownItem(err) {
			return nil, fmt.Errorf("fetching existing share: %w", err)
		}
		// Dangling reference, fall through and mint a fresh share.
	}

	created, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Share, error) {
		return c.privateDB().SaveShare(ctx, anchor, &remote.Share{
			ID:         remote.RecordID{Name: "share-" + uuid.NewString(), Zone: c.privateZone},
			Permission: remote.PermissionReadWrite,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating share: %w", err)
	}
	return c.becomeOwner(ctx, created)
}

func (c *Coordinator) ensurePrivateZone(ctx context.Context) error {
	_, err := remote.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.privateDB().EnsureZone(ctx, c.privateZone)
	})
	if err != nil && remote.IsConflict(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ensuring zone: %w", err)
	}
	return nil
}

// ensureAnchor fetches the zone root record, creating it on first use.
func (c *Coordinator) ensureAnchor(ctx context.Context) (*remote.Record, error) {
	anchor, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Record, error) {
		return c.privateDB().FetchRecord(ctx, remote.AnchorID(c.privateZone))
	})
	if err == nil {
		return anchor, nil
	}
	if !remote.IsUnknownItem(err) {
		return nil, fmt.Errorf("fetching anchor: %w", err)
	}

	anchor, err = remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Record, error) {
		return c.privateDB().SaveRecord(ctx, remote.NewAnchorRecord(c.privateZone, time.Now().UTC()), remote.PolicyChangedKeys)
	})
	if err != nil {
		return nil, fmt.Errorf("creating anchor: %w", err)
	}
	return anchor, nil
}

func (c *Coordinator) becomeOwner(ctx context.Context, sh *remote.Share) (*remote.Share, error) {
	zone := c.privateZone
	c.setActive(PhaseOwner, sh, &zone)
	if err := c.persist(ctx, sh.URL, true, zone); err != nil {
		return nil, err
	}
	return c.ActiveShare(), nil
}

// Discover determines the share phase from remote and persisted evidence.
// It tries, in order: the anchor in the private zone, an anchor visible in
// the shared database, task or member records visible in the shared database
// and the persisted share URL. Finding nothing lands in NoShare.
func (c *Coordinator) Discover(ctx context.Context) (Phase, error) {
	if phase, ok, err := c.discoverOwned(ctx); err != nil || ok {
		return phase, err
	}
	if phase, ok, err := c.discoverSharedAnchor(ctx); err != nil || ok {
		return phase, err
	}
	if phase, ok, err := c.discoverSharedRecords(ctx); err != nil || ok {
		return phase, err
	}
	if phase, ok, err := c.discoverPersistedURL(ctx); err != nil || ok {
		return phase, err
	}

	c.setActive(PhaseNoShare, nil, nil)
	if err := c.persist(ctx, "", false, remote.ZoneID{}); err != nil {
		return PhaseNoShare, err
	}
	return PhaseNoShare, nil
}

// discoverOwned looks for a share on our own zone anchor.
func (c *Coordinator) discoverOwned(ctx context.Context) (Phase, bool, error) {
	anchor, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Record, error) {
		return c.privateDB().FetchRecord(ctx, remote.AnchorID(c.privateZone))
	})
	if err != nil {
		if remote.IsUnknownItem(err) || remote.CodeOf(err) == remote.CodeZoneNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetching private anchor: %w", err)
	}
	if anchor.ShareID == nil {
		return "", false, nil
	}

	sh, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Share, error) {
		return c.privateDB().FetchShare(ctx, *anchor.ShareID)
	})
	if err != nil {
		if remote.IsUnknownItem(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetching owned share: %w", err)
	}

	if _, err := c.becomeOwner(ctx, sh); err != nil {
		return "", false, err
	}
	return PhaseOwner, true, nil
}

// discoverSharedAnchor looks for an anchor record in any zone shared with us.
func (c *Coordinator) discoverSharedAnchor(ctx context.Context) (Phase, bool, error) {
	anchors, err := remote.Do(ctx, c.retry, func(ctx context.Context) ([]*remote.Record, error) {
		return c.sharedDB().Query(ctx, remote.TypeAnchor, remote.QueryOptions{})
	})
	if err != nil {
		return "", false, fmt.Errorf("querying shared anchors: %w", err)
	}
	for _, anchor := range anchors {
		if anchor.ShareID == nil {
			continue
		}
		return c.joinViaAnchor(ctx, anchor)
	}
	return "", false, nil
}

// discoverSharedRecords falls back to task and member records when the
// anchor itself has not propagated into the shared index yet. The zone is
// read off the first hit and the anchor fetched by its well-known name.
func (c *Coordinator) discoverSharedRecords(ctx context.Context) (Phase, bool, error) {
	for _, recordType := range []remote.RecordType{remote.TypeTask, remote.TypeMember} {
		recs, err := remote.Do(ctx, c.retry, func(ctx context.Context) ([]*remote.Record, error) {
			return c.sharedDB().Query(ctx, recordType, remote.QueryOptions{})
		})
		if err != nil {
			return "", false, fmt.Errorf("querying shared %s records: %w", recordType, err)
		}
		if len(recs) == 0 {
			continue
		}

		zone := recs[0].ID.Zone
		anchor, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Record, error) {
			return c.sharedDB().FetchRecord(ctx, remote.AnchorID(zone))
		})
		if err != nil {
			if remote.IsUnknownItem(err) {
				continue
			}
			return "", false, fmt.Errorf("fetching shared anchor: %w", err)
		}
		if anchor.ShareID == nil {
			continue
		}
		return c.joinViaAnchor(ctx, anchor)
	}
	return "", false, nil
}

func (c *Coordinator) joinViaAnchor(ctx context.Context, anchor *remote.Record) (Phase, bool, error) {
	sh, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Share, error) {
		return c.sharedDB().FetchShare(ctx, *anchor.ShareID)
	})
	if err != nil {
		if remote.IsUnknownItem(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetching shared zone's share: %w", err)
	}

	zone := anchor.ID.Zone
	c.setActive(PhaseParticipant, sh, &zone)
	if err := c.persist(ctx, sh.URL, false, zone); err != nil {
		return "", false, err
	}
	return PhaseParticipant, true, nil
}

// discoverPersistedURL re-resolves the share URL remembered from a previous
// run. A stale URL is not an error, just a miss.
func (c *Coordinator) discoverPersistedURL(ctx context.Context) (Phase, bool, error) {
	st, err := c.state.Load(ctx)
	if err != nil {
		return "", false, fmt.Errorf("loading local state: %w", err)
	}
	if st.ShareURL == "" {
		return "", false, nil
	}

	md, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.ShareMetadata, error) {
		return c.container.FetchShareMetadata(ctx, st.ShareURL)
	})
	if err != nil {
		if remote.IsUnknownItem(err) || remote.CodeOf(err) == remote.CodeInvalidRequest {
			slog.Info("Persisted share URL is stale", "url", st.ShareURL)
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolving persisted share URL: %w", err)
	}

	if _, err := c.Accept(ctx, md); err != nil {
		if remote.IsUnknownItem(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return c.Phase(), true, nil
}

// DiscoverWithRetry runs Discover up to attempts times, waiting attempt
// times the base delay between tries, until a share turns up or the attempts
// are exhausted. The NoShare outcome of the final attempt is authoritative.
func (c *Coordinator) DiscoverWithRetry(ctx context.Context, attempts int) (Phase, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		phase, err := c.Discover(ctx)
		if err == nil && phase != PhaseNoShare {
			return phase, nil
		}
		lastErr = err
		if err != nil {
			slog.Warn("Share discovery attempt failed", "attempt", attempt, "error", err)
		}
		if attempt == attempts {
			if err != nil {
				return PhaseNoShare, err
			}
			return phase, nil
		}
		if err := c.sleep(ctx, time.Duration(attempt)*c.discoverDelay); err != nil {
			return PhaseNoShare, err
		}
	}
	return PhaseNoShare, lastErr
}

// Accept resolves the share described by metadata. A share created by some
// other account is joined, moving this account into the participant phase; a
// share this account created itself (its own URL on a second device) takes
// the owner path instead, so isOwner always reflects the creator comparison.
func (c *Coordinator) Accept(ctx context.Context, md *remote.ShareMetadata) (*remote.Share, error) {
	identity, err := remote.Do(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.container.AccountIdentity(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("resolving account identity: %w", err)
	}
	if md.OwnerIdentity == identity {
		sh, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Share, error) {
			return c.privateDB().FetchShare(ctx, md.ShareID)
		})
		if err != nil {
			return nil, fmt.Errorf("fetching owned share: %w", err)
		}
		return c.becomeOwner(ctx, sh)
	}

	sh, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.Share, error) {
		return c.container.AcceptShare(ctx, md)
	})
	if err != nil {
		return nil, fmt.Errorf("accepting share: %w", err)
	}

	zone := md.Zone
	c.setActive(PhaseParticipant, sh, &zone)
	if err := c.persist(ctx, sh.URL, false, zone); err != nil {
		return nil, err
	}
	return c.ActiveShare(), nil
}

// AcceptURL resolves a share URL received out of band and accepts it.
func (c *Coordinator) AcceptURL(ctx context.Context, shareURL string) (*remote.Share, error) {
	md, err := remote.Do(ctx, c.retry, func(ctx context.Context) (*remote.ShareMetadata, error) {
		return c.container.FetchShareMetadata(ctx, shareURL)
	})
	if err != nil {
		return nil, fmt.Errorf("resolving share URL: %w", err)
	}
	return c.Accept(ctx, md)
}

// DeleteShare tears down the owned share by deleting the zone anchor, which
// revokes every participant's access, and returns to NoShare. Only the owner
// can delete; participants use Leave.
func (c *Coordinator) DeleteShare(ctx context.Context) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	if phase != PhaseOwner {
		return fmt.Errorf("only the share owner can delete it (current phase %s)", phase)
	}

	_, err := remote.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.privateDB().DeleteRecord(ctx, remote.AnchorID(c.privateZone))
	})
	if err != nil && !remote.IsUnknownItem(err) {
		return fmt.Errorf("deleting zone anchor: %w", err)
	}

	c.setActive(PhaseNoShare, nil, nil)
	return c.persist(ctx, "", false, remote.ZoneID{})
}

// Leave drops out of an accepted share locally. The share itself stays up
// for the other participants; only the owner can take it down.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	if phase != PhaseParticipant {
		return fmt.Errorf("not participating in a share (current phase %s)", phase)
	}

	c.setActive(PhaseNoShare, nil, nil)
	return c.persist(ctx, "", false, remote.ZoneID{})
}

func (c *Coordinator) setActive(phase Phase, sh *remote.Share, zone *remote.ZoneID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	c.share = sh
	c.sharedZone = zone
}

func (c *Coordinator) persist(ctx context.Context, url string, isOwner bool, zone remote.ZoneID) error {
	err := c.state.Update(ctx, func(st *state.LocalState) {
		st.ShareURL = url
		st.IsOwner = isOwner
		st.SharedZoneName = zone.Name
		st.SharedZoneOwner = zone.Owner
	})
	if err != nil {
		return fmt.Errorf("persisting share state: %w", err)
	}
	return nil
}
