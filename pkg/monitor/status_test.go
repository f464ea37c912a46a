package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusMonitor(t *testing.T, d Deps) *StatusMonitor {
	m := NewStatusMonitor(d, nil, 4)
	t.Cleanup(m.Close)
	return m
}

func TestStatusMonitorRecordsAddedValidators(t *testing.T) {
	h := newHarness(t)
	h.positions.setEpoch(100)
	h.beacon.setValidator(exiting(1, 200), true)
	h.beacon.setValidator(exiting(2, 201), true)

	m := newStatusMonitor(t, h.deps)
	require.NoError(t, m.Tick(context.Background()))

	require.Equal(t, 2, h.store.TransitionCount())
	rec := h.store.Transitions[exits.TransitionKey{ValidatorIndex: 1, Status: exits.StatusActiveExiting, Bucket: 200}]
	assert.Equal(t, exits.StatusUnknown, rec.PreviousStatus)
	assert.False(t, rec.LeftTrackedSet)
	assert.Equal(t, 2, m.Tracked())

	// unchanged list: nothing new, no individual fetches
	calls := h.beacon.indivCalls
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, 2, h.store.TransitionCount())
	assert.Equal(t, calls, h.beacon.indivCalls)
}

func TestStatusMonitorWithholdsMismatchedRecord(t *testing.T) {
	h := newHarness(t)
	h.positions.setEpoch(100)
	listed := exiting(5, 300)
	h.beacon.setValidator(listed, true)
	// the individual endpoint still reports the old status
	stale := listed
	stale.Status = exits.StatusActiveOngoing
	h.beacon.individual[5] = stale

	m := newStatusMonitor(t, h.deps)
	require.NoError(t, m.Tick(context.Background()))
	assert.Zero(t, h.store.TransitionCount())
	assert.Zero(t, m.Tracked(), "unverified keys are re-evaluated next tick")

	h.beacon.individual[5] = listed
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, 1, h.store.TransitionCount())
}

func TestStatusMonitorRecordsChangedValidators(t *testing.T) {
	h := newHarness(t)
	h.positions.setEpoch(100)
	h.beacon.setValidator(exiting(1, 200), true)
	h.beacon.setValidator(exiting(2, 201), true)

	m := NewStatusMonitor(h.deps, []string{exits.StatusActiveExiting, exits.StatusExitedUnslashed}, 4)
	t.Cleanup(m.Close)
	require.NoError(t, m.Tick(context.Background()))
	require.Equal(t, 2, h.store.TransitionCount())

	// 1 stays in the tracked set under a new status
	exited := exiting(1, 200)
	exited.Status = exits.StatusExitedUnslashed
	h.beacon.setValidator(exited, true)
	h.positions.setEpoch(200)

	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, 3, h.store.TransitionCount())

	rec := h.store.Transitions[exits.TransitionKey{ValidatorIndex: 1, Status: exits.StatusExitedUnslashed, Bucket: 200}]
	assert.Equal(t, exits.StatusActiveExiting, rec.PreviousStatus)
	assert.False(t, rec.LeftTrackedSet)
	assert.Equal(t, 2, m.Tracked())
}

func TestStatusMonitorRecordsRemovedValidators(t *testing.T) {
	h := newHarness(t)
	h.positions.setEpoch(100)
	h.beacon.setValidator(exiting(1, 200), true)
	h.beacon.setValidator(exiting(2, 201), true)

	m := newStatusMonitor(t, h.deps)
	require.NoError(t, m.Tick(context.Background()))

	// 1 exits, 2 becomes unreachable on the individual endpoint
	exited := exiting(1, 200)
	exited.Status = exits.StatusExitedUnslashed
	h.beacon.setValidator(exited, false)
	h.beacon.setValidator(exiting(2, 201), false)
	h.beacon.failIndiv[2] = errors.New("connection reset")

	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, 4, h.store.TransitionCount())

	left := h.store.Transitions[exits.TransitionKey{ValidatorIndex: 1, Status: exits.StatusExitedUnslashed, Bucket: 200}]
	assert.True(t, left.LeftTrackedSet)
	assert.Equal(t, exits.StatusActiveExiting, left.PreviousStatus)

	unknown := h.store.Transitions[exits.TransitionKey{ValidatorIndex: 2, Status: exits.StatusLeftTrackedSet, Bucket: 201}]
	assert.True(t, unknown.LeftTrackedSet)
	assert.Zero(t, m.Tracked())
}

func TestStatusMonitorCrashRecoveryWritesNoDuplicates(t *testing.T) {
	h := newHarness(t)
	h.positions.setEpoch(100)
	h.beacon.setValidator(exiting(1, 200), true)
	h.beacon.setValidator(exiting(2, 201), true)

	require.NoError(t, newStatusMonitor(t, h.deps).Tick(context.Background()))
	require.Equal(t, 2, h.store.TransitionCount())

	fresh := newStatusMonitor(t, h.restarted(t))
	h.positions.setEpoch(101)
	require.NoError(t, fresh.Tick(context.Background()))
	assert.Equal(t, 2, h.store.TransitionCount())
}

func TestStatusMonitorCancelledTickKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.positions.setEpoch(100)
	h.beacon.setValidator(exiting(1, 200), true)

	m := newStatusMonitor(t, h.deps)
	require.NoError(t, m.Tick(context.Background()))

	h.beacon.setValidator(exiting(2, 201), true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Tick(ctx), context.Canceled)
	assert.Equal(t, 1, h.store.TransitionCount())
	assert.Equal(t, 1, m.Tracked())
}

func TestStatusMonitorWritesOneQueueSummaryPerEpoch(t *testing.T) {
	h := newHarness(t)
	h.positions.setEpoch(100)
	h.beacon.setValidator(exiting(1, 200), true)
	h.beacon.setValidator(exiting(2, 150), true)

	m := newStatusMonitor(t, h.deps)
	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))
	require.Len(t, h.store.Summaries, 1)

	s := h.store.Summaries[100]
	assert.Equal(t, uint64(2), s.ValidatorsInQueue)
	assert.EqualValues(t, 2, s.FirstValidatorIndex)
	assert.EqualValues(t, 200, s.LatestExitEpoch)

	h.positions.setEpoch(101)
	require.NoError(t, m.Tick(context.Background()))
	assert.Len(t, h.store.Summaries, 2)
}

func TestStatusMonitorListFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.positions.setEpoch(100)
	h.beacon.listErr = errors.New("503")

	m := newStatusMonitor(t, h.deps)
	require.ErrorIs(t, m.Tick(context.Background()), ErrTransientUpstream)
}
