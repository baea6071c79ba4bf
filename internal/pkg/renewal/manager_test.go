package renewal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRunsOnStartAndStops(t *testing.T) {
	today := d(2025, time.March, 10)
	h := newHarness(t, today)
	h.seed(t, member(dp(d(2024, time.March, 10))))
	h.scheduler.cfg.RunOnStart = true
	h.scheduler.cfg.Interval = time.Hour

	m := NewManager(h.scheduler)
	assert.Nil(t, m.LastResult())

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())

	require.Eventually(t, func() bool { return m.LastResult() != nil }, 5*time.Second, 10*time.Millisecond)
	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())

	last := m.LastResult()
	require.NoError(t, last.Err)
	assert.Equal(t, 1, last.Report.Charged)
	assert.Len(t, h.gateway.calls(), 1)
}

func TestManagerTriggerNowRecordsResult(t *testing.T) {
	h := newHarness(t, d(2025, time.March, 10))
	m := NewManager(h.scheduler)

	report, err := m.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Members)

	last := m.LastResult()
	require.NotNil(t, last)
	assert.Same(t, report, last.Report)
	assert.False(t, m.IsRunning())
}

func TestManagerKeepsLastResultWhenTickIsBusy(t *testing.T) {
	h := newHarness(t, d(2025, time.March, 10))
	m := NewManager(h.scheduler)

	_, err := m.TriggerNow(context.Background())
	require.NoError(t, err)
	first := m.LastResult()

	h.scheduler.running.Store(true)
	defer h.scheduler.running.Store(false)

	_, err = m.TriggerNow(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)
	assert.Same(t, first, m.LastResult())
}
