package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// WithdrawalRequestContract is the EIP-7002 withdrawal request predeploy.
var WithdrawalRequestContract = common.HexToAddress("0x00000961Ef480Eb55e80D19ad83579A64c007002")

// Reader is the subset of ethclient.Client used here.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Source exposes execution-layer withdrawal requests.
type Source interface {
	HeadBlockNumber(ctx context.Context) (uint64, error)
	WithdrawalRequests(ctx context.Context, from, to uint64) ([]WithdrawalRequest, error)
	TransactionValue(ctx context.Context, hash common.Hash) (*big.Int, error)
}

var _ Source = (*Client)(nil)

// Client reads withdrawal requests from an execution node.
type Client struct {
	reader   Reader
	contract common.Address
	logger   *zap.Logger
	close    func()
}

// Dial connects to the execution JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial execution node: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	c := NewClient(eth, logger)
	c.close = eth.Close
	return c, nil
}

// NewClient wraps an existing reader.
func NewClient(reader Reader, logger *zap.Logger) *Client {
	return &Client{
		reader:   reader,
		contract: WithdrawalRequestContract,
		logger:   logger,
	}
}

// HeadBlockNumber returns the latest execution block number.
func (c *Client) HeadBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.reader.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return n, nil
}

// WithdrawalRequests returns the decoded requests logged in blocks [from, to].
// Malformed logs are skipped with a warning.
func (c *Client) WithdrawalRequests(ctx context.Context, from, to uint64) ([]WithdrawalRequest, error) {
	if to < from {
		return nil, nil
	}
	logs, err := c.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
	})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs %d-%d: %w", from, to, err)
	}

	out := make([]WithdrawalRequest, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		req, err := DecodeWithdrawalRequest(l)
		if err != nil {
			c.logger.Warn("Skipping malformed withdrawal request log",
				zap.Uint64("block", l.BlockNumber),
				zap.String("tx", l.TxHash.Hex()),
				zap.Uint("log_index", l.Index),
				zap.Error(err))
			continue
		}
		out = append(out, *req)
	}
	return out, nil
}

// ErrTxNotFound is returned when the node does not know a transaction.
var ErrTxNotFound = errors.New("transaction not found")

// TransactionValue returns the wei sent with the transaction, which is the request fee paid.
func (c *Client) TransactionValue(ctx context.Context, hash common.Hash) (*big.Int, error) {
	tx, _, err := c.reader.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, hash.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash %s: %w", hash.Hex(), err)
	}
	return tx.Value(), nil
}

func (c *Client) Close() {
	if c.close != nil {
		c.close()
	}
}
