// Package controller orchestrates the sync lifecycle: startup sequencing,
// the in-memory cache the UI reads from, optimistic mutations with
// verification polling, share membership changes and the daily task reset.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aemtliapp/aemtli-sync/internal/gateway"
	"github.com/aemtliapp/aemtli-sync/internal/identity"
	"github.com/aemtliapp/aemtli-sync/internal/model"
	"github.com/aemtliapp/aemtli-sync/internal/remote"
	"github.com/aemtliapp/aemtli-sync/internal/share"
	"github.com/aemtliapp/aemtli-sync/internal/state"
	"github.com/aemtliapp/aemtli-sync/internal/store"
)

// Config bundles the timing knobs of the controller.
type Config struct {
	// VerifyAttempts bounds the post-save verification poll; attempt n
	// waits n times VerifyBaseDelay before querying.
	VerifyAttempts  int
	VerifyBaseDelay time.Duration

	// DeleteSettleDelay is the fixed wait between a remote delete and the
	// refresh that follows it.
	DeleteSettleDelay time.Duration

	// DiscoverAttempts is the share discovery budget at startup;
	// NotifyDiscoverAttempts the smaller budget on a remote change ping.
	DiscoverAttempts       int
	NotifyDiscoverAttempts int
}

// DefaultConfig returns the standard timing configuration.
func DefaultConfig() Config {
	return Config{
		VerifyAttempts:         5,
		VerifyBaseDelay:        300 * time.Millisecond,
		DeleteSettleDelay:      time.Second,
		DiscoverAttempts:       3,
		NotifyDiscoverAttempts: 2,
	}
}

// Controller is the app-facing sync coordinator. All reads are served from
// an in-memory cache guarded by a mutex; mutations update the cache first
// and reconcile with the record store afterwards.
type Controller struct {
	container remote.Container
	coord     *share.Coordinator
	gw        *gateway.Gateway
	store     *store.SyncedStore
	state     state.Store
	cfg       Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	tasks       []model.Task
	members     []model.FamilyMember
	currentUser *model.FamilyMember
	identity    string

	timerMu    sync.Mutex
	resetTimer *time.Timer
	stopped    bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a controller. The cache starts out with the default family
// members so there is something to show before the first sync completes.
func New(
	container remote.Container,
	coord *share.Coordinator,
	gw *gateway.Gateway,
	st *store.SyncedStore,
	local state.Store,
	cfg Config,
	opts ...Option,
) *Controller {
	c := &Controller{
		container: container,
		coord:     coord,
		gw:        gw,
		store:     st,
		state:     local,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepCtx,
		members:   model.DefaultMembers(),
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

// Start runs the startup sequence: resolve the account identity, discover
// the share phase, make sure the private zone exists, reconcile members with
// share participants, load tasks, apply a pending daily reset and arm the
// midnight timer. An unavailable account degrades to anonymous local sync
// instead of failing, and load failures fall back to the cached data.
func (c *Controller) Start(ctx context.Context) error {
	id, err := c.container.AccountIdentity(ctx)
	if err != nil {
		slog.Warn("Account identity unavailable, continuing unauthenticated", "error", err)
	} else {
		c.mu.Lock()
		c.identity = id
		c.mu.Unlock()
	}

	if _, err := c.coord.DiscoverWithRetry(ctx, c.cfg.DiscoverAttempts); err != nil {
		slog.Warn("Share discovery failed, assuming no share", "error", err)
	}

	if !c.coord.IsParticipant() {
		if err := c.gw.EnsureZone(ctx); err != nil {
			return fmt.Errorf("ensuring private zone: %w", err)
		}
	}

	if err := c.refreshMembers(ctx); err != nil {
		slog.Warn("Member load failed at startup, keeping cached members", "error", err)
	}
	if err := c.refreshTasks(ctx); err != nil {
		slog.Warn("Task load failed at startup, starting with an empty list", "error", err)
	}
	if err := c.resetIfNeeded(ctx); err != nil {
		slog.Warn("Daily reset check failed", "error", err)
	}

	c.scheduleNextReset()
	return nil
}

// Stop disarms the midnight reset timer.
func (c *Controller) Stop() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	c.stopped = true
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

// Tasks returns a snapshot of the cached task list, newest first.
func (c *Controller) Tasks() []model.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Task(nil), c.tasks...)
}

// Members returns a snapshot of the cached family members.
func (c *Controller) Members() []model.FamilyMember {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.FamilyMember(nil), c.members...)
}

// CurrentUser returns the member matching the signed-in account, or nil
// before identities are linked.
func (c *Controller) CurrentUser() *model.FamilyMember {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentUser == nil {
		return nil
	}
	cp := *c.currentUser
	return &cp
}

// SharePhase returns the current share lifecycle state.
func (c *Controller) SharePhase() share.Phase {
	return c.coord.Phase()
}

// AddTask creates a task, puts it in the cache immediately and then saves
// and verifies it against the record store.
func (c *Controller) AddTask(ctx context.Context, title string, assignedTo *uuid.UUID, recurrence model.Recurrence, deadline *time.Time) (model.Task, error) {
	task := model.NewTask(title, assignedTo, recurrence, deadline)

	c.mu.Lock()
	c.tasks = append([]model.Task{task}, c.tasks...)
	c.mu.Unlock()

	if err := c.saveAndVerify(ctx, task); err != nil {
		return model.Task{}, err
	}
	return task, nil
}

// UpdateTask applies the given task state optimistically and reconciles.
func (c *Controller) UpdateTask(ctx context.Context, task model.Task) error {
	c.mu.Lock()
	for i := range c.tasks {
		if c.tasks[i].ID == task.ID {
			c.tasks[i] = task
			break
		}
	}
	c.mu.Unlock()

	return c.saveAndVerify(ctx, task)
}

// ToggleTask flips a task's done flag. The cache changes before the save so
// the UI reflects the toggle instantly.
func (c *Controller) ToggleTask(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	var toggled *model.Task
	for i := range c.tasks {
		if c.tasks[i].ID == id {
			c.tasks[i].Done = !c.tasks[i].Done
			cp := c.tasks[i]
			toggled = &cp
			break
		}
	}
	c.mu.Unlock()
	if toggled == nil {
		return fmt.Errorf("no task with id %s", id)
	}

	return c.saveAndVerify(ctx, *toggled)
}

// DeleteTask removes the task locally and remotely, waits for the deletion
// to settle and refreshes from the store.
func (c *Controller) DeleteTask(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	kept := c.tasks[:0]
	for _, t := range c.tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	c.tasks = kept
	c.mu.Unlock()

	if err := c.store.DeleteTask(ctx, id); err != nil && !remote.IsUnknownItem(err) {
		return fmt.Errorf("deleting task: %w", err)
	}
	if err := c.sleep(ctx, c.cfg.DeleteSettleDelay); err != nil {
		return err
	}
	return c.refreshTasks(ctx)
}

// saveAndVerify writes the task and polls until it is observable in a
// query, replacing the cache with the fetched list on success. Exhausting
// the poll budget is a soft failure: log, force a refresh and move on.
func (c *Controller) saveAndVerify(ctx context.Context, task model.Task) error {
	if err := c.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("saving task: %w", err)
	}

	for attempt := 1; attempt <= c.cfg.VerifyAttempts; attempt++ {
		if err := c.sleep(ctx, time.Duration(attempt)*c.cfg.VerifyBaseDelay); err != nil {
			return err
		}
		tasks, err := c.store.LoadTasks(ctx)
		if err != nil {
			slog.Warn("Verification query failed", "attempt", attempt, "error", err)
			continue
		}
		for _, got := range tasks {
			if got.Equal(task) {
				c.mu.Lock()
				c.tasks = tasks
				c.mu.Unlock()
				return nil
			}
		}
	}

	slog.Warn("Save not observable after verification attempts, refreshing",
		"task", task.ID, "attempts", c.cfg.VerifyAttempts)
	return c.refreshTasks(ctx)
}

// AddMember creates a family member and refreshes the member cache.
func (c *Controller) AddMember(ctx context.Context, name string, role model.Role) (model.FamilyMember, error) {
	m := model.NewFamilyMember(name, role)
	if err := c.store.SaveMember(ctx, m); err != nil {
		return model.FamilyMember{}, fmt.Errorf("saving member: %w", err)
	}
	if err := c.refreshMembers(ctx); err != nil {
		return model.FamilyMember{}, err
	}
	return m, nil
}

// CreateFamilyShare creates (or reuses) the family share and returns it.
func (c *Controller) CreateFamilyShare(ctx context.Context, forceNew bool) (*remote.Share, error) {
	sh, err := c.coord.CreateShare(ctx, forceNew)
	if err != nil {
		return nil, err
	}
	if err := c.refreshMembers(ctx); err != nil {
		return nil, err
	}
	return sh, nil
}

// JoinFamily accepts a share URL and switches the data source to the shared
// zone.
func (c *Controller) JoinFamily(ctx context.Context, shareURL string) error {
	if _, err := c.coord.AcceptURL(ctx, shareURL); err != nil {
		return err
	}
	return c.refreshAll(ctx)
}

// LeaveFamily exits the share: owners tear it down, participants drop out
// locally. Either way the account falls back to its private zone.
func (c *Controller) LeaveFamily(ctx context.Context) error {
	var err error
	switch c.coord.Phase() {
	case share.PhaseOwner:
		err = c.coord.DeleteShare(ctx)
	case share.PhaseParticipant:
		err = c.coord.Leave(ctx)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.gw.EnsureZone(ctx); err != nil {
		return fmt.Errorf("ensuring private zone: %w", err)
	}
	return c.refreshAll(ctx)
}

// OnRemoteChange handles a change ping from the record store: re-discover
// the share with a reduced budget and reload everything.
func (c *Controller) OnRemoteChange(ctx context.Context) error {
	if _, err := c.coord.DiscoverWithRetry(ctx, c.cfg.NotifyDiscoverAttempts); err != nil {
		slog.Warn("Share re-discovery failed on remote change", "error", err)
	}
	return c.refreshAll(ctx)
}

func (c *Controller) refreshAll(ctx context.Context) error {
	if err := c.refreshMembers(ctx); err != nil {
		return err
	}
	return c.refreshTasks(ctx)
}

func (c *Controller) refreshTasks(ctx context.Context) error {
	tasks, err := c.store.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}
	c.mu.Lock()
	c.tasks = tasks
	c.mu.Unlock()
	return nil
}

// refreshMembers rebuilds the member cache. With an active share the list
// is remapped from the participant metadata outright, a full replace: one
// member per participant, its ID derived from the account identity, owners
// as parents and everyone else as a child. Without a share the list comes
// from the member records. The member matching our own identity becomes the
// current user either way.
func (c *Controller) refreshMembers(ctx context.Context) error {
	members, err := c.store.LoadMembers(ctx)
	if err != nil {
		return fmt.Errorf("loading members: %w", err)
	}

	if participants := c.coord.Participants(); len(participants) > 0 {
		remapped := make([]model.FamilyMember, 0, len(participants))
		for _, p := range participants {
			role := model.RoleChild
			if p.Role == remote.ParticipantOwner {
				role = model.RoleParent
			}
			m := model.FamilyMember{
				ID:             identity.Resolve(p.Identity),
				Name:           p.Name,
				Role:           role,
				RemoteIdentity: p.Identity,
			}
			if !hasMemberIdentity(members, p.Identity) {
				if err := c.store.SaveMember(ctx, m); err != nil {
					return fmt.Errorf("linking participant %s: %w", p.Name, err)
				}
			}
			remapped = append(remapped, m)
		}
		members = remapped
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(members) > 0 {
		c.members = members
	}
	c.currentUser = nil
	if c.identity != "" {
		for i := range c.members {
			if c.members[i].RemoteIdentity == c.identity {
				cp := c.members[i]
				c.currentUser = &cp
				break
			}
		}
	}
	return nil
}

func hasMemberIdentity(members []model.FamilyMember, remoteIdentity string) bool {
	for _, m := range members {
		if m.RemoteIdentity == remoteIdentity {
			return true
		}
	}
	return false
}
