package beacon

import (
	"context"
	"fmt"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// HeadSlot returns the slot of the current head block.
func (c *HTTPClient) HeadSlot(ctx context.Context) (phase0.Slot, error) {
	var resp headerResponse
	if err := c.getJSON(ctx, headPath, &resp); err != nil {
		return 0, fmt.Errorf("head header: %w", err)
	}
	return resp.Header.Message.Slot, nil
}

// Genesis returns the chain genesis.
func (c *HTTPClient) Genesis(ctx context.Context) (*Genesis, error) {
	var resp genesisResponse
	if err := c.getJSON(ctx, genesisPath, &resp); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	return &Genesis{
		Time:           time.Unix(int64(resp.GenesisTime), 0).UTC(),
		ValidatorsRoot: resp.GenesisValidatorsRoot,
		ForkVersion:    resp.GenesisForkVersion,
	}, nil
}

// BlockBySlot returns the block proposed at slot.
func (c *HTTPClient) BlockBySlot(ctx context.Context, slot phase0.Slot) (*Block, error) {
	var resp blockResponse
	if err := c.getJSON(ctx, fmt.Sprintf(blockBySlotPathFmt, slot), &resp); err != nil {
		return nil, fmt.Errorf("block %d: %w", slot, err)
	}
	return resp.toBlock(), nil
}
