package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alitto/pond/v2"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/diff"
	"go.uber.org/zap"
)

// DefaultVerifyConcurrency bounds individual validator fetches per tick.
const DefaultVerifyConcurrency = 8

// StatusMonitor records validators entering, changing within and leaving the tracked status set.
type StatusMonitor struct {
	base

	statuses []string
	tracker  *diff.Tracker[phase0.ValidatorIndex, exits.ValidatorSnapshot]
	pool     pond.Pool

	lastSummaryEpoch phase0.Epoch
	summarized       bool
}

var _ Monitor = (*StatusMonitor)(nil)

func NewStatusMonitor(d Deps, statuses []string, concurrency int) *StatusMonitor {
	if len(statuses) == 0 {
		statuses = []string{exits.StatusActiveExiting}
	}
	if concurrency <= 0 {
		concurrency = DefaultVerifyConcurrency
	}
	return &StatusMonitor{
		base:     newBase(StatusTransitionsName, d),
		statuses: statuses,
		tracker:  diff.NewTracker[phase0.ValidatorIndex](snapshotStatus),
		pool:     pond.NewPool(concurrency),
	}
}

func snapshotStatus(s exits.ValidatorSnapshot) string { return s.Status }

// Reset forgets the previous snapshot; the next tick treats every tracked validator as added.
func (m *StatusMonitor) Reset() {
	m.tracker.Reset()
	m.summarized = false
}

// Close stops the verification pool.
func (m *StatusMonitor) Close() {
	m.pool.StopAndWait()
}

// Tracked is the size of the held snapshot.
func (m *StatusMonitor) Tracked() int {
	return m.tracker.Len()
}

type verification struct {
	index    phase0.ValidatorIndex
	previous *exits.ValidatorSnapshot // nil when added
	listed   exits.ValidatorSnapshot  // zero when removed
	removed  bool

	verified *exits.ValidatorSnapshot
	err      error
}

func (m *StatusMonitor) Tick(ctx context.Context) error {
	pos, err := m.resolve(ctx)
	if err != nil {
		return err
	}

	var list []exits.ValidatorSnapshot
	err = m.fetch(ctx, "validators_by_status", func() error {
		var err error
		list, err = m.beacon.ValidatorsByStatus(ctx, m.statuses)
		return err
	})
	if err != nil {
		return err
	}

	current := make(map[phase0.ValidatorIndex]exits.ValidatorSnapshot, len(list))
	for _, v := range list {
		current[v.Index] = v
	}
	m.metrics.SetTracked(len(current))

	changes := m.tracker.Diff(current)
	jobs := make([]*verification, 0, len(changes.Added)+len(changes.Changed)+len(changes.Removed))
	for idx, v := range changes.Added {
		jobs = append(jobs, &verification{index: idx, listed: v})
	}
	for idx, c := range changes.Changed {
		prev := c.Previous
		jobs = append(jobs, &verification{index: idx, previous: &prev, listed: c.Current})
	}
	for idx, v := range changes.Removed {
		prev := v
		jobs = append(jobs, &verification{index: idx, previous: &prev, removed: true})
	}

	m.verify(ctx, jobs)
	if err := ctx.Err(); err != nil {
		// keep the old snapshot, nothing from this tick is persisted
		return err
	}

	next := make(map[phase0.ValidatorIndex]exits.ValidatorSnapshot, len(current))
	for k, v := range current {
		next[k] = v
	}

	var (
		persistErr error
		written    int
		withheld   int
	)
	for _, j := range jobs {
		rec, err := m.transition(j, pos)
		if err != nil {
			withheld++
			if errors.Is(err, ErrVerificationMismatch) {
				m.metrics.IncMismatch()
			}
			m.logger.Warn("Status transition withheld",
				zap.Uint64("validator_index", uint64(j.index)),
				zap.String("listed_status", j.listed.Status),
				zap.Error(err))
			delete(next, j.index)
			continue
		}

		inserted, err := m.gateway.UpsertStatusTransition(ctx, rec)
		if err != nil {
			persistErr = errors.Join(persistErr, fmt.Errorf("record transition of validator %d: %w", j.index, err))
			// re-evaluate on the next tick
			if j.removed {
				next[j.index] = *j.previous
			} else {
				delete(next, j.index)
			}
			continue
		}
		if inserted {
			written++
		}
	}
	m.tracker.Replace(next)
	m.metrics.AddRecords(StatusTransitionsName, written)

	if len(jobs) > 0 {
		m.logger.Info("Status transitions processed",
			zap.Uint64("slot", uint64(pos.Slot)),
			zap.Int("added", len(changes.Added)),
			zap.Int("changed", len(changes.Changed)),
			zap.Int("removed", len(changes.Removed)),
			zap.Int("withheld", withheld),
			zap.Int("new", written))
	}

	if err := m.summarize(ctx, pos, list); err != nil {
		persistErr = errors.Join(persistErr, err)
	}
	return persistErr
}

// verify fetches every job's validator individually on the pool.
func (m *StatusMonitor) verify(ctx context.Context, jobs []*verification) {
	if len(jobs) == 0 {
		return
	}
	group := m.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, j := range jobs {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				j.err = err
				return
			}
			j.err = m.fetch(groupCtx, "validator", func() error {
				v, err := m.beacon.Validator(groupCtx, strconv.FormatUint(uint64(j.index), 10))
				if err != nil {
					return err
				}
				j.verified = v
				return nil
			})
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		m.logger.Warn("Verification fan-out encountered error", zap.Error(err))
	}
}

// transition builds the record for a verified job.
func (m *StatusMonitor) transition(j *verification, pos exits.ChainPosition) (*exits.StatusTransition, error) {
	if j.removed {
		// best effort: the validator left the tracked set, record where it went if we can tell
		snap := *j.previous
		status := exits.StatusLeftTrackedSet
		if j.err == nil && j.verified != nil {
			snap = *j.verified
			status = j.verified.Status
		}
		rec := exits.NewStatusTransition(j.previous.Status, snap, pos.ObservedAt)
		rec.Status = status
		rec.LeftTrackedSet = true
		return rec, nil
	}

	if j.err != nil {
		return nil, j.err
	}
	if j.verified.Status != j.listed.Status {
		return nil, fmt.Errorf("%w: list reported %s, validator endpoint reported %s",
			ErrVerificationMismatch, j.listed.Status, j.verified.Status)
	}

	previous := exits.StatusUnknown
	if j.previous != nil {
		previous = j.previous.Status
	}
	return exits.NewStatusTransition(previous, *j.verified, pos.ObservedAt), nil
}

// summarize writes one exit queue summary per epoch.
func (m *StatusMonitor) summarize(ctx context.Context, pos exits.ChainPosition, list []exits.ValidatorSnapshot) error {
	if m.summarized && pos.Epoch <= m.lastSummaryEpoch {
		return nil
	}
	queue := make([]exits.ValidatorSnapshot, 0, len(list))
	for _, v := range list {
		if v.Status == exits.StatusActiveExiting {
			queue = append(queue, v)
		}
	}
	if _, err := m.gateway.UpsertExitQueueSummary(ctx, exits.SummarizeExitQueue(pos, queue)); err != nil {
		return fmt.Errorf("record exit queue summary at epoch %d: %w", pos.Epoch, err)
	}
	m.lastSummaryEpoch = pos.Epoch
	m.summarized = true
	return nil
}
