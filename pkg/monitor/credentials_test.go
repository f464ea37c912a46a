package monitor

import (
	"context"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credentialsHarness(t *testing.T) *harness {
	h := newHarness(t)
	for i, creds := range []string{"0x00ab", "0x01cd", "0x01ef", "0x02aa", "0xff"} {
		v := exiting(phase0.ValidatorIndex(i), exits.FarFutureEpoch)
		v.WithdrawalCredentials = creds
		h.beacon.all = append(h.beacon.all, v)
	}
	return h
}

func TestCredentialsSamplerGating(t *testing.T) {
	h := credentialsHarness(t)
	s := NewCredentialsSampler(h.deps, 2)

	h.positions.setEpoch(100)
	require.NoError(t, s.Tick(context.Background()))
	require.Len(t, h.store.Samples, 1)

	sample := h.store.Samples[100]
	assert.Equal(t, uint64(1), sample.Count0x00)
	assert.Equal(t, uint64(2), sample.Count0x01)
	assert.Equal(t, uint64(1), sample.Count0x02)
	assert.Equal(t, uint64(5), sample.Total)

	// same epoch again
	require.NoError(t, s.Tick(context.Background()))
	// off period
	h.positions.setEpoch(101)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 1, h.beacon.streams)

	h.positions.setEpoch(102)
	require.NoError(t, s.Tick(context.Background()))
	assert.Len(t, h.store.Samples, 2)
	assert.Equal(t, 2, h.beacon.streams)
}

func TestCredentialsSamplerSeedsFromStore(t *testing.T) {
	h := credentialsHarness(t)
	h.positions.setEpoch(100)
	require.NoError(t, NewCredentialsSampler(h.deps, 2).Tick(context.Background()))

	fresh := NewCredentialsSampler(h.restarted(t), 2)
	require.NoError(t, fresh.Tick(context.Background()))
	assert.Equal(t, 1, h.beacon.streams, "already sampled epoch is not streamed again")

	fresh.Reset()
	h.positions.setEpoch(98)
	require.NoError(t, fresh.Tick(context.Background()))
	assert.Equal(t, 1, h.beacon.streams, "older epochs never resample")
}

func TestCredentialsSamplerPersistFailure(t *testing.T) {
	h := credentialsHarness(t)
	h.positions.setEpoch(100)
	h.store.FailWrites = 10
	h.store.WriteErr = assert.AnError

	s := NewCredentialsSampler(h.deps, 2)
	require.Error(t, s.Tick(context.Background()))
	assert.Empty(t, h.store.Samples)

	// the epoch is retried on the next tick
	h.store.FailWrites = 0
	require.NoError(t, s.Tick(context.Background()))
	assert.Len(t, h.store.Samples, 1)
}
