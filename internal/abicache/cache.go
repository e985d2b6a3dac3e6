// Package abicache caches parsed contract interfaces keyed by contract
// address so a decoder is constructed at most once per contract.
package abicache

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// Cache is a process-wide ABI cache. It is passed explicitly to the
// components that need it rather than held as package state.
type Cache struct {
	mu      sync.RWMutex
	entries map[common.Address]*abi.ABI
	raw     map[common.Address]string
	logger  *logrus.Logger
}

// New creates an empty cache
func New() *Cache {
	return &Cache{
		entries: make(map[common.Address]*abi.ABI),
		raw:     make(map[common.Address]string),
		logger:  utils.GetLogger(),
	}
}

// GetOrCreate returns the cached interface for the address, parsing and
// storing it on first use. The first ABI registered for an address wins:
// a later call with a different ABI for the same address returns the cached
// instance and logs a warning.
func (c *Cache) GetOrCreate(address common.Address, abiJSON string) (*abi.ABI, error) {
	c.mu.RLock()
	cached, exists := c.entries[address]
	cachedRaw := c.raw[address]
	c.mu.RUnlock()

	if exists {
		if abiJSON != "" && abiJSON != cachedRaw {
			c.logger.WithField("address", address.Hex()).
				Warn("Ignoring differing ABI for cached address; first registration wins")
		}
		return cached, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under the write lock: another flow may have raced us here.
	if cached, exists := c.entries[address]; exists {
		return cached, nil
	}

	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Failed to parse ABI", err.Error())
	}

	c.entries[address] = &parsed
	c.raw[address] = abiJSON

	return &parsed, nil
}

// Get returns the cached interface for the address, if present.
func (c *Cache) Get(address common.Address) (*abi.ABI, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, exists := c.entries[address]
	return cached, exists
}

// Len returns the number of cached interfaces.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
