package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aemtliapp/aemtli-sync/internal/model"
	"github.com/aemtliapp/aemtli-sync/internal/state"
)

// ResetDoneFlags is the manual reset: every task's done flag is cleared,
// nothing is deleted.
func (c *Controller) ResetDoneFlags(ctx context.Context) error {
	c.mu.Lock()
	tasks := append([]model.Task(nil), c.tasks...)
	c.mu.Unlock()

	for i := range tasks {
		if !tasks[i].Done {
			continue
		}
		tasks[i].Done = false
		if err := c.store.SaveTask(ctx, tasks[i]); err != nil {
			return fmt.Errorf("clearing done flag on %q: %w", tasks[i].Title, err)
		}
	}

	c.mu.Lock()
	c.tasks = tasks
	c.mu.Unlock()

	return c.markReset(ctx)
}

// resetIfNeeded applies the automatic daily reset when the last reset
// happened on an earlier local day: all tasks are deleted and the default
// set is reseeded, assigned to the first child. The first run only records
// a baseline date.
func (c *Controller) resetIfNeeded(ctx context.Context) error {
	st, err := c.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading local state: %w", err)
	}
	if st.LastResetDate == nil {
		return c.markReset(ctx)
	}
	if sameLocalDay(*st.LastResetDate, c.now()) {
		return nil
	}

	slog.Info("Running daily task reset", "lastReset", st.LastResetDate)
	return c.resetToDefaults(ctx)
}

// resetToDefaults deletes every task and seeds the default set.
func (c *Controller) resetToDefaults(ctx context.Context) error {
	c.mu.Lock()
	tasks := append([]model.Task(nil), c.tasks...)
	assignee := model.DefaultAssignee(c.members)
	c.mu.Unlock()

	for _, t := range tasks {
		if err := c.store.DeleteTask(ctx, t.ID); err != nil {
			slog.Warn("Failed to delete task during reset", "task", t.ID, "error", err)
		}
	}

	defaults := model.DefaultTasks(assignee)
	for _, t := range defaults {
		if err := c.store.SaveTask(ctx, t); err != nil {
			return fmt.Errorf("seeding default task %q: %w", t.Title, err)
		}
	}

	c.mu.Lock()
	c.tasks = defaults
	c.mu.Unlock()

	return c.markReset(ctx)
}

func (c *Controller) markReset(ctx context.Context) error {
	now := c.now()
	err := c.state.Update(ctx, func(st *state.LocalState) {
		st.LastResetDate = &now
	})
	if err != nil {
		return fmt.Errorf("recording reset date: %w", err)
	}
	return nil
}

func sameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// scheduleNextReset arms a timer for the next local midnight. The timer
// re-arms itself after firing, so the reset keeps happening for as long as
// the process runs.
func (c *Controller) scheduleNextReset() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.stopped {
		return
	}

	now := c.now()
	wait := nextLocalMidnight(now).Sub(now)
	c.resetTimer = time.AfterFunc(wait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.resetIfNeeded(ctx); err != nil {
			slog.Warn("Midnight reset failed", "error", err)
		}
		c.scheduleNextReset()
	})
}

func nextLocalMidnight(now time.Time) time.Time {
	local := now.Local()
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, local.Location()).AddDate(0, 0, 1)
}
