// Package dbtest provides an in-memory db.Store for tests.
package dbtest

import (
	"context"
	"sync"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
)

// MemoryStore keeps one row per identity key, mirroring the ON CONFLICT DO NOTHING tables.
type MemoryStore struct {
	mu sync.Mutex

	Exits       map[exits.ExitKey]exits.VoluntaryExit
	Transitions map[exits.TransitionKey]exits.StatusTransition
	Withdrawals map[exits.WithdrawalKey]exits.PartialWithdrawal
	Samples     map[phase0.Epoch]exits.CredentialsSample
	Summaries   map[phase0.Epoch]exits.ExitQueueSummary

	// FailWrites makes the next N write calls fail with WriteErr.
	FailWrites int
	WriteErr   error
	// Writes counts every write attempt, failed or not.
	Writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Exits:       make(map[exits.ExitKey]exits.VoluntaryExit),
		Transitions: make(map[exits.TransitionKey]exits.StatusTransition),
		Withdrawals: make(map[exits.WithdrawalKey]exits.PartialWithdrawal),
		Samples:     make(map[phase0.Epoch]exits.CredentialsSample),
		Summaries:   make(map[phase0.Epoch]exits.ExitQueueSummary),
	}
}

func (m *MemoryStore) fail() error {
	m.Writes++
	if m.FailWrites > 0 {
		m.FailWrites--
		return m.WriteErr
	}
	return nil
}

func insert[K comparable, V any](rows map[K]V, key K, row V) bool {
	if _, ok := rows[key]; ok {
		return false
	}
	rows[key] = row
	return true
}

func (m *MemoryStore) UpsertVoluntaryExit(_ context.Context, rec *exits.VoluntaryExit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return false, err
	}
	return insert(m.Exits, rec.Key(), *rec), nil
}

func (m *MemoryStore) UpsertStatusTransition(_ context.Context, rec *exits.StatusTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return false, err
	}
	return insert(m.Transitions, rec.Key(), *rec), nil
}

func (m *MemoryStore) UpsertPartialWithdrawal(_ context.Context, rec *exits.PartialWithdrawal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return false, err
	}
	return insert(m.Withdrawals, rec.Key(), *rec), nil
}

func (m *MemoryStore) UpsertCredentialsSample(_ context.Context, rec *exits.CredentialsSample) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return false, err
	}
	return insert(m.Samples, rec.Epoch, *rec), nil
}

func (m *MemoryStore) UpsertExitQueueSummary(_ context.Context, rec *exits.ExitQueueSummary) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return false, err
	}
	return insert(m.Summaries, rec.Epoch, *rec), nil
}

func (m *MemoryStore) RecordedExits(_ context.Context, slot phase0.Slot) ([]phase0.ValidatorIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []phase0.ValidatorIndex
	for k := range m.Exits {
		if k.Slot == slot {
			out = append(out, k.ValidatorIndex)
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordedWithdrawals(_ context.Context, txHashes []string) ([]exits.WithdrawalKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(txHashes))
	for _, h := range txHashes {
		wanted[h] = struct{}{}
	}
	var out []exits.WithdrawalKey
	for k := range m.Withdrawals {
		if _, ok := wanted[k.TransactionHash]; ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemoryStore) LastSampledEpoch(context.Context) (phase0.Epoch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		maxEpoch phase0.Epoch
		ok       bool
	)
	for epoch := range m.Samples {
		if !ok || epoch > maxEpoch {
			maxEpoch, ok = epoch, true
		}
	}
	return maxEpoch, ok, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

// TransitionCount returns the number of stored transitions.
func (m *MemoryStore) TransitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Transitions)
}

// ExitCount returns the number of stored voluntary exits.
func (m *MemoryStore) ExitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Exits)
}

// WithdrawalCount returns the number of stored partial withdrawals.
func (m *MemoryStore) WithdrawalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Withdrawals)
}

// Publisher records published messages.
type Publisher struct {
	mu       sync.Mutex
	Messages []any
}

func (p *Publisher) Publish(_ context.Context, _ string, message interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, message)
}

func (p *Publisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Messages)
}
