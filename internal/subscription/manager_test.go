package subscription

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/evm-event-tracker/internal/connection/conntest"
	"github.com/smartdevs17/evm-event-tracker/internal/models"
)

const transferABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"Transfer","type":"event"}]`

func parseABI(t *testing.T) *abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(transferABI))
	require.NoError(t, err)
	return &parsed
}

func transferLog(t *testing.T, contractABI *abi.ABI, amount *big.Int) types.Log {
	t.Helper()
	event := contractABI.Events["Transfer"]
	data, err := event.Inputs.NonIndexed().Pack(amount)
	require.NoError(t, err)

	addrTopic := common.BytesToHash(common.LeftPadBytes(common.HexToAddress("0x01").Bytes(), 32))
	return types.Log{
		Address: common.HexToAddress("0xABC0000000000000000000000000000000000000"),
		Topics:  []common.Hash{event.ID, addrTopic, addrTopic},
		Data:    data,
	}
}

func collectPayloads() (models.Callback, chan interface{}) {
	payloads := make(chan interface{}, 16)
	return func(payload interface{}) {
		payloads <- payload
	}, payloads
}

func TestSubscribeDeliversNormalizedBatches(t *testing.T) {
	contractABI := parseABI(t)
	client := &conntest.Client{}
	manager := NewManager(client)

	callback, payloads := collectPayloads()
	sub, err := manager.Subscribe(context.Background(), Query{
		Address:   common.HexToAddress("0xABC0000000000000000000000000000000000000"),
		ABI:       contractABI,
		FromBlock: big.NewInt(999),
	}, callback)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	client.Push(transferLog(t, contractABI, big.NewInt(42)))

	select {
	case payload := <-payloads:
		batch, ok := payload.([]*models.NormalizedLog)
		require.True(t, ok)
		require.Len(t, batch, 1)
		require.Equal(t, "42", batch[0].Values["amount"])
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	calls := client.SubscribeCalls()
	require.Len(t, calls, 1)
	require.Equal(t, big.NewInt(999), calls[0].FromBlock)
}

func TestSubscribeSkipsUndecodableLogs(t *testing.T) {
	contractABI := parseABI(t)
	client := &conntest.Client{}
	manager := NewManager(client)

	callback, payloads := collectPayloads()
	sub, err := manager.Subscribe(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     contractABI,
	}, callback)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	client.Push(types.Log{Topics: []common.Hash{common.HexToHash("0xbeef")}})
	client.Push(transferLog(t, contractABI, big.NewInt(7)))

	select {
	case payload := <-payloads:
		batch := payload.([]*models.NormalizedLog)
		require.Equal(t, "7", batch[0].Values["amount"], "the undecodable log must be skipped, not delivered")
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
	require.Empty(t, payloads)
}

func TestSubscribeAppliesTransform(t *testing.T) {
	contractABI := parseABI(t)
	client := &conntest.Client{}
	manager := NewManager(client)

	callback, payloads := collectPayloads()
	sub, err := manager.Subscribe(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     contractABI,
		Transform: func(logs []*models.NormalizedLog) interface{} {
			return logs[0].Values["amount"]
		},
	}, callback)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	client.Push(transferLog(t, contractABI, big.NewInt(5)))

	select {
	case payload := <-payloads:
		require.Equal(t, "5", payload)
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestSubscribeResubscribesAfterChannelError(t *testing.T) {
	contractABI := parseABI(t)
	client := &conntest.Client{}
	manager := NewManager(client)

	callback, payloads := collectPayloads()
	sub, err := manager.Subscribe(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     contractABI,
	}, callback)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	client.LastSubscription().Fail(errors.New("connection reset"))

	require.Eventually(t, func() bool {
		return len(client.SubscribeCalls()) == 2
	}, 5*time.Second, 10*time.Millisecond, "expected a resubscription")

	// Delivery continues on the new subscription.
	client.Push(transferLog(t, contractABI, big.NewInt(9)))
	select {
	case payload := <-payloads:
		batch := payload.([]*models.NormalizedLog)
		require.Equal(t, "9", batch[0].Values["amount"])
	case <-time.After(time.Second):
		t.Fatal("no delivery after resubscription")
	}
}

func TestUnsubscribeDuringResubscribeClosesFreshSubscription(t *testing.T) {
	contractABI := parseABI(t)
	client := &conntest.Client{}

	first := conntest.NewSubscription()
	second := conntest.NewSubscription()
	entered := make(chan struct{})
	release := make(chan struct{})

	calls := 0
	client.SubscribeFunc = func(q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		// Hold the resubscription open so the test can tear down the handle
		// while the replacement is still being established.
		close(entered)
		<-release
		return second, nil
	}

	manager := NewManager(client)
	callback, _ := collectPayloads()
	sub, err := manager.Subscribe(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     contractABI,
	}, callback)
	require.NoError(t, err)

	first.Fail(errors.New("connection reset"))
	<-entered

	unsubDone := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(unsubDone)
	}()

	// Teardown reaches the old subscription before the replacement exists.
	require.Eventually(t, func() bool {
		return first.Unsubscribed()
	}, time.Second, 5*time.Millisecond)

	close(release)

	select {
	case <-unsubDone:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe did not return")
	}
	require.True(t, second.Unsubscribed(),
		"a subscription opened while tearing down must be closed, not leaked")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	contractABI := parseABI(t)
	client := &conntest.Client{}
	manager := NewManager(client)

	callback, _ := collectPayloads()
	sub, err := manager.Subscribe(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     contractABI,
	}, callback)
	require.NoError(t, err)

	sub.Unsubscribe()
	require.True(t, client.LastSubscription().Unsubscribed())

	// Idempotent.
	sub.Unsubscribe()
}

func TestSubscribeRequiresCallback(t *testing.T) {
	manager := NewManager(&conntest.Client{})
	_, err := manager.Subscribe(context.Background(), Query{}, nil)
	require.Error(t, err)
}
