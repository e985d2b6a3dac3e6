package models

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Callback receives delivered events: a []*NormalizedLog, or the output of
// the descriptor's Transform applied to that slice.
type Callback func(payload interface{})

// Transform reshapes a batch of normalized logs before delivery.
type Transform func(logs []*NormalizedLog) interface{}

// Parser overrides the default log normalization. Returning false drops the
// log without error.
type Parser func(log types.Log, contractABI *abi.ABI) (*NormalizedLog, bool)

// EventDescriptor declares one contract event to track. Immutable after
// registration.
type EventDescriptor struct {
	// Name is the event's base name as declared in the ABI, e.g. "Transfer".
	Name string `json:"name"`

	// Contract is the emitting contract address.
	Contract common.Address `json:"contract"`

	// ABI is the contract interface description as JSON.
	ABI string `json:"abi"`

	// Params maps indexed parameter names to required values. A missing or
	// nil value leaves that topic position unfiltered.
	Params map[string]interface{} `json:"params,omitempty"`

	// FromBlock is an absolute backfill start block. Takes precedence over
	// BackFillBlockCount.
	FromBlock *uint64 `json:"from_block,omitempty"`

	// BackFillBlockCount backfills this many blocks behind the current head.
	BackFillBlockCount uint64 `json:"backfill_block_count,omitempty"`

	Callback  Callback  `json:"-"`
	Parser    Parser    `json:"-"`
	Transform Transform `json:"-"`

	// Backfill lifecycle hooks.
	OnFetchingHistoricalEvents func()                      `json:"-"`
	OnFetchedHistoricalEvents  func(logs []*NormalizedLog) `json:"-"`
}
