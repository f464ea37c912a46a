package monitor

import (
	"context"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"go.uber.org/zap"
)

// DefaultSamplePeriodEpochs is how often the credentials sampler fires.
const DefaultSamplePeriodEpochs = 2

// CredentialsSampler counts withdrawal credential types across the full validator set every
// period epochs.
type CredentialsSampler struct {
	base

	period uint64

	lastSampled phase0.Epoch
	hasSample   bool
	seeded      bool
}

var _ Monitor = (*CredentialsSampler)(nil)

func NewCredentialsSampler(d Deps, periodEpochs uint64) *CredentialsSampler {
	if periodEpochs == 0 {
		periodEpochs = DefaultSamplePeriodEpochs
	}
	return &CredentialsSampler{
		base:   newBase(CredentialsName, d),
		period: periodEpochs,
	}
}

// Reset re-reads the last sampled epoch from storage on the next tick.
func (s *CredentialsSampler) Reset() {
	s.seeded = false
	s.hasSample = false
	s.lastSampled = 0
}

func (s *CredentialsSampler) Tick(ctx context.Context) error {
	if !s.seeded {
		epoch, ok, err := s.gateway.LastSampledEpoch(ctx)
		if err != nil {
			return err
		}
		s.lastSampled, s.hasSample, s.seeded = epoch, ok, true
		if ok {
			s.metrics.SetLastSampledEpoch(uint64(epoch))
		}
	}

	pos, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	if !s.due(pos.Epoch) {
		return nil
	}

	var sample *exits.CredentialsSample
	err = s.fetch(ctx, "stream_validators", func() error {
		sample = &exits.CredentialsSample{Epoch: pos.Epoch, Slot: pos.Slot, Timestamp: pos.ObservedAt}
		return s.beacon.StreamValidators(ctx, func(v exits.ValidatorSnapshot) error {
			sample.CountCredentials(v.WithdrawalCredentials)
			return nil
		})
	})
	if err != nil {
		return err
	}

	inserted, err := s.gateway.UpsertCredentialsSample(ctx, sample)
	if err != nil {
		return err
	}
	s.lastSampled, s.hasSample = pos.Epoch, true
	s.metrics.SetLastSampledEpoch(uint64(pos.Epoch))
	if inserted {
		s.metrics.AddRecords(CredentialsName, 1)
	}

	s.logger.Info("Withdrawal credentials sampled",
		zap.Uint64("epoch", uint64(pos.Epoch)),
		zap.Uint64("0x00", sample.Count0x00),
		zap.Uint64("0x01", sample.Count0x01),
		zap.Uint64("0x02", sample.Count0x02),
		zap.Uint64("total", sample.Total))
	return nil
}

func (s *CredentialsSampler) due(epoch phase0.Epoch) bool {
	if uint64(epoch)%s.period != 0 {
		return false
	}
	return !s.hasSample || epoch > s.lastSampled
}
