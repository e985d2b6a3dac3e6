package connection

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is the node transport surface the tracker consumes. It is satisfied
// by *ethclient.Client; tests substitute a fake.
type Client interface {
	// BlockNumber returns the current chain head number.
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs executes one eth_getLogs query.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// SubscribeFilterLogs opens a push subscription on the logs channel.
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)

	// NetworkID returns the network identifier.
	NetworkID(ctx context.Context) (*big.Int, error)
}
