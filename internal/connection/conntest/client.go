// Package conntest provides a scriptable fake node client for tests.
package conntest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// Subscription is a fake ethereum.Subscription driven by the test.
type Subscription struct {
	errCh     chan error
	once      sync.Once
	OnUnsub   func()
	unsubbed  bool
	unsubbedM sync.Mutex
}

// NewSubscription creates an open fake subscription.
func NewSubscription() *Subscription {
	return &Subscription{errCh: make(chan error, 1)}
}

// Fail pushes an error onto the subscription's error channel.
func (s *Subscription) Fail(err error) {
	s.errCh <- err
}

// Err implements ethereum.Subscription.
func (s *Subscription) Err() <-chan error {
	return s.errCh
}

// Unsubscribe implements ethereum.Subscription.
func (s *Subscription) Unsubscribe() {
	s.unsubbedM.Lock()
	s.unsubbed = true
	s.unsubbedM.Unlock()
	s.once.Do(func() {
		if s.OnUnsub != nil {
			s.OnUnsub()
		}
		close(s.errCh)
	})
}

// Unsubscribed reports whether Unsubscribe was called.
func (s *Subscription) Unsubscribed() bool {
	s.unsubbedM.Lock()
	defer s.unsubbedM.Unlock()
	return s.unsubbed
}

// Client is a scriptable connection.Client.
type Client struct {
	mu sync.Mutex

	// Head is returned by BlockNumber.
	Head uint64

	// FilterLogsFunc is consulted per call when set; otherwise FilterResults
	// and FilterErrs are consumed in order, with the final entry repeating.
	FilterLogsFunc func(q ethereum.FilterQuery) ([]types.Log, error)
	FilterResults  [][]types.Log
	FilterErrs     []error

	// SubscribeFunc is consulted when set; otherwise a fresh fake
	// subscription is returned and the delivery channel recorded.
	SubscribeFunc func(q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)

	filterCalls    []ethereum.FilterQuery
	subscribeCalls []ethereum.FilterQuery
	subChannels    []chan<- types.Log
	subs           []*Subscription
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Head, nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filterCalls = append(c.filterCalls, q)

	if c.FilterLogsFunc != nil {
		return c.FilterLogsFunc(q)
	}

	call := len(c.filterCalls) - 1
	if len(c.FilterErrs) > 0 {
		i := call
		if i >= len(c.FilterErrs) {
			i = len(c.FilterErrs) - 1
		}
		if err := c.FilterErrs[i]; err != nil {
			return nil, err
		}
	}
	if len(c.FilterResults) == 0 {
		return nil, nil
	}
	i := call
	if i >= len(c.FilterResults) {
		i = len(c.FilterResults) - 1
	}
	return c.FilterResults[i], nil
}

func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribeCalls = append(c.subscribeCalls, q)

	if c.SubscribeFunc != nil {
		return c.SubscribeFunc(q, ch)
	}

	sub := NewSubscription()
	c.subChannels = append(c.subChannels, ch)
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *Client) NetworkID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

// FilterCalls returns the recorded eth_getLogs queries.
func (c *Client) FilterCalls() []ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make([]ethereum.FilterQuery, len(c.filterCalls))
	copy(calls, c.filterCalls)
	return calls
}

// SubscribeCalls returns the recorded subscription filters.
func (c *Client) SubscribeCalls() []ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make([]ethereum.FilterQuery, len(c.subscribeCalls))
	copy(calls, c.subscribeCalls)
	return calls
}

// Push delivers a raw log on the most recent subscription channel.
func (c *Client) Push(log types.Log) {
	c.mu.Lock()
	ch := c.subChannels[len(c.subChannels)-1]
	c.mu.Unlock()
	ch <- log
}

// LastSubscription returns the most recently opened fake subscription.
func (c *Client) LastSubscription() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return nil
	}
	return c.subs[len(c.subs)-1]
}
