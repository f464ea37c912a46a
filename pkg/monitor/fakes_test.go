package monitor

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/beacon"
	"github.com/canopy-network/exitwatch/pkg/db"
	"github.com/canopy-network/exitwatch/pkg/db/dbtest"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/execution"
	"github.com/canopy-network/exitwatch/pkg/retry"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap/zaptest"
)

type fixedPosition struct {
	mu  sync.Mutex
	pos exits.ChainPosition
	err error
}

func (f *fixedPosition) Resolve(context.Context) (exits.ChainPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, f.err
}

func (f *fixedPosition) setSlot(slot phase0.Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = exits.NewChainPosition(slot, time.Unix(1_700_000_000, 0).Add(time.Duration(slot)*exits.SlotDuration))
}

func (f *fixedPosition) setEpoch(epoch phase0.Epoch) {
	f.setSlot(exits.StartSlot(epoch))
}

type fakeBeacon struct {
	mu sync.Mutex

	blocks     map[phase0.Slot]*beacon.Block
	listed     []exits.ValidatorSnapshot
	individual map[phase0.ValidatorIndex]exits.ValidatorSnapshot
	failIndiv  map[phase0.ValidatorIndex]error
	all        []exits.ValidatorSnapshot
	listErr    error

	blockCalls int
	indivCalls int
	streams    int
}

func newFakeBeacon() *fakeBeacon {
	return &fakeBeacon{
		blocks:     map[phase0.Slot]*beacon.Block{},
		individual: map[phase0.ValidatorIndex]exits.ValidatorSnapshot{},
		failIndiv:  map[phase0.ValidatorIndex]error{},
	}
}

func (f *fakeBeacon) HeadSlot(context.Context) (phase0.Slot, error) { return 0, nil }

func (f *fakeBeacon) Genesis(context.Context) (*beacon.Genesis, error) {
	return &beacon.Genesis{Time: time.Unix(1_606_824_023, 0)}, nil
}

func (f *fakeBeacon) ValidatorsByStatus(_ context.Context, statuses []string) ([]exits.ValidatorSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]exits.ValidatorSnapshot, len(f.listed))
	copy(out, f.listed)
	return out, nil
}

func (f *fakeBeacon) ValidatorsByIDs(_ context.Context, ids []string) ([]exits.ValidatorSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []exits.ValidatorSnapshot
	for _, id := range ids {
		for _, v := range f.individual {
			if strconv.FormatUint(uint64(v.Index), 10) == id || v.Pubkey == id {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

func (f *fakeBeacon) Validator(_ context.Context, id string) (*exits.ValidatorSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indivCalls++
	idx, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, err
	}
	if err := f.failIndiv[phase0.ValidatorIndex(idx)]; err != nil {
		return nil, err
	}
	v, ok := f.individual[phase0.ValidatorIndex(idx)]
	if !ok {
		return nil, retry.Permanent(beacon.ErrNotFound)
	}
	return &v, nil
}

func (f *fakeBeacon) StreamValidators(_ context.Context, fn func(exits.ValidatorSnapshot) error) error {
	f.mu.Lock()
	all := append([]exits.ValidatorSnapshot(nil), f.all...)
	f.streams++
	f.mu.Unlock()
	for _, v := range all {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBeacon) BlockBySlot(_ context.Context, slot phase0.Slot) (*beacon.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockCalls++
	b, ok := f.blocks[slot]
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("%w: slot %d", beacon.ErrNotFound, slot))
	}
	return b, nil
}

// setValidator makes v visible to the list (when listed) and individual endpoints.
func (f *fakeBeacon) setValidator(v exits.ValidatorSnapshot, listed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.individual[v.Index] = v
	for i := range f.listed {
		if f.listed[i].Index == v.Index {
			f.listed = append(f.listed[:i], f.listed[i+1:]...)
			break
		}
	}
	if listed {
		f.listed = append(f.listed, v)
	}
}

type fakeSource struct {
	mu       sync.Mutex
	head     uint64
	requests []execution.WithdrawalRequest
	values   map[common.Hash]*big.Int
	ranges   [][2]uint64
}

func (f *fakeSource) HeadBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) WithdrawalRequests(_ context.Context, from, to uint64) ([]execution.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []execution.WithdrawalRequest
	for _, r := range f.requests {
		if r.BlockNumber >= from && r.BlockNumber <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) TransactionValue(_ context.Context, hash common.Hash) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[hash]
	if !ok {
		return nil, retry.Permanent(execution.ErrTxNotFound)
	}
	return v, nil
}

type harness struct {
	beacon    *fakeBeacon
	positions *fixedPosition
	store     *dbtest.MemoryStore
	deps      Deps
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		beacon:    newFakeBeacon(),
		positions: &fixedPosition{},
		store:     dbtest.NewMemoryStore(),
	}
	h.deps = Deps{
		Beacon:    h.beacon,
		Positions: h.positions,
		Gateway:   db.NewGateway(h.store, nil, logger, fastRetry()),
		Logger:    logger,
		Retry:     fastRetry(),
	}
	return h
}

// restarted returns deps sharing the beacon and positions but writing to another gateway over the
// same store, as a restarted process would.
func (h *harness) restarted(t *testing.T) Deps {
	d := h.deps
	d.Gateway = db.NewGateway(h.store, nil, zaptest.NewLogger(t), fastRetry())
	return d
}

func exiting(index phase0.ValidatorIndex, exitEpoch phase0.Epoch) exits.ValidatorSnapshot {
	return exits.ValidatorSnapshot{
		Index:             index,
		Status:            exits.StatusActiveExiting,
		ExitEpoch:         exitEpoch,
		WithdrawableEpoch: exitEpoch + 256,
		Balance:           32_000_000_000,
		EffectiveBalance:  32_000_000_000,
		Pubkey:            fmt.Sprintf("0x%096x", uint64(index)),
	}
}
