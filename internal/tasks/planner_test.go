package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitlist_backend/internal/models"
	"waitlist_backend/internal/waitlist"
)

// fakeManager считает вызовы фоновых операций; остальные методы не используются.
type fakeManager struct {
	waitlist.Manager
	sweeps    atomic.Int32
	reminders atomic.Int32
	closes    atomic.Int32
	fail      bool
}

func (f *fakeManager) ExpirationSweep(ctx context.Context) (*waitlist.SweepResult, error) {
	f.sweeps.Add(1)
	if f.fail {
		return nil, errors.New("db down")
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("no deadline")
	}
	return &waitlist.SweepResult{
		Scanned: 1,
		Expired: []waitlist.ExpirationResult{{
			Expired:      models.Entry{ID: 1},
			NextNotified: &models.Entry{ID: 2},
		}},
	}, nil
}

func (f *fakeManager) SendReminders(context.Context) (int, error) {
	f.reminders.Add(1)
	if f.fail {
		return 0, errors.New("db down")
	}
	return 2, nil
}

func (f *fakeManager) CloseExpiredWaitingLists(context.Context) (int, error) {
	f.closes.Add(1)
	return 1, nil
}

func TestPlannerJobs(t *testing.T) {
	m := &fakeManager{}
	p := NewPlanner(m)

	p.ExpireOverdueEntries()
	p.RemindPendingConfirmations()
	p.CloseExpiredWaitingLists()

	assert.Equal(t, int32(1), m.sweeps.Load())
	assert.Equal(t, int32(1), m.reminders.Load())
	assert.Equal(t, int32(1), m.closes.Load())

	// ошибки только логируются
	m.fail = true
	p.ExpireOverdueEntries()
	p.RemindPendingConfirmations()
	assert.Equal(t, int32(2), m.sweeps.Load())
}

func TestRegister(t *testing.T) {
	p := NewPlanner(&fakeManager{})

	c := cron.New(cron.WithSeconds())
	require.NoError(t, p.Register(c, Schedule{Sweep: "*/30 * * * * *", Close: "0 */5 * * * *"}))
	assert.Len(t, c.Entries(), 2, "Пустое расписание пропускается")

	err := p.Register(cron.New(cron.WithSeconds()), Schedule{Sweep: "каждую минуту"})
	assert.Error(t, err)
}

func TestInitSchedulerRunsJobs(t *testing.T) {
	m := &fakeManager{}
	c, err := InitScheduler(NewPlanner(m), Schedule{Sweep: "* * * * * *"})
	require.NoError(t, err)
	defer func() { <-c.Stop().Done() }()

	require.Eventually(t, func() bool { return m.sweeps.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Zero(t, m.reminders.Load())
}
