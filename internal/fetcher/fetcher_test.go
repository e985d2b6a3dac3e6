package fetcher

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/evm-event-tracker/internal/connection/conntest"
	"github.com/smartdevs17/evm-event-tracker/internal/models"
	"github.com/smartdevs17/evm-event-tracker/internal/retry"
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

func TestFetchLogsRetriesUntilReady(t *testing.T) {
	contractABI := parseABI(t)
	wantLogs := []types.Log{transferLog(t, contractABI, big.NewInt(1000))}

	client := &conntest.Client{
		FilterErrs:    []error{errors.New("logs not ready"), errors.New("logs not ready"), nil},
		FilterResults: [][]types.Log{nil, nil, wantLogs},
	}

	f := New(client, retry.Fixed(5*time.Millisecond))

	q := Query{
		Address:   common.HexToAddress("0xABC0000000000000000000000000000000000000"),
		ABI:       contractABI,
		FromBlock: big.NewInt(100),
		ToBlock:   big.NewInt(200),
	}

	records, err := f.FetchLogs(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "1000", records[0].Values["amount"])

	// The identical query must be issued on every attempt.
	calls := client.FilterCalls()
	require.Len(t, calls, 3)
	for _, call := range calls[1:] {
		require.True(t, reflect.DeepEqual(calls[0], call), "query changed between attempts")
	}
	require.Equal(t, big.NewInt(100), calls[0].FromBlock)
	require.Equal(t, big.NewInt(200), calls[0].ToBlock)
}

func TestFetchLogsBoundedPolicySurfacesError(t *testing.T) {
	client := &conntest.Client{
		FilterErrs: []error{errors.New("still not ready")},
	}

	f := New(client, retry.Policy{Interval: time.Millisecond, MaxAttempts: 2})

	_, err := f.FetchLogs(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     parseABI(t),
	})
	require.Error(t, err)
	require.Len(t, client.FilterCalls(), 3)
}

func TestFetchLogsNormalizesAndDrops(t *testing.T) {
	contractABI := parseABI(t)
	logs := []types.Log{
		transferLog(t, contractABI, big.NewInt(1)),
		{Topics: []common.Hash{common.HexToHash("0xbeef")}}, // undecodable
		transferLog(t, contractABI, big.NewInt(2)),
	}

	client := &conntest.Client{FilterResults: [][]types.Log{logs}}
	f := New(client, retry.Fixed(time.Millisecond))

	records, err := f.FetchLogs(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     contractABI,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestFetchLogsNilBoundsMeanLatest(t *testing.T) {
	client := &conntest.Client{}
	f := New(client, retry.Fixed(time.Millisecond))

	_, err := f.FetchLogs(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     parseABI(t),
	})
	require.NoError(t, err)

	calls := client.FilterCalls()
	require.Len(t, calls, 1)
	require.Nil(t, calls[0].FromBlock)
	require.Nil(t, calls[0].ToBlock)
}

func TestFetchLogsTransformed(t *testing.T) {
	contractABI := parseABI(t)
	client := &conntest.Client{
		FilterResults: [][]types.Log{{transferLog(t, contractABI, big.NewInt(7))}},
	}
	f := New(client, retry.Fixed(time.Millisecond))

	out, err := f.FetchLogsTransformed(context.Background(), Query{
		Address: common.HexToAddress("0x01"),
		ABI:     contractABI,
	}, func(logs []*models.NormalizedLog) interface{} {
		amounts := make([]string, len(logs))
		for i, l := range logs {
			amounts[i] = l.Values["amount"]
		}
		return amounts
	})
	require.NoError(t, err)
	require.Equal(t, []string{"7"}, out)
}

func TestFetchLogsContextCancellation(t *testing.T) {
	client := &conntest.Client{
		FilterErrs: []error{errors.New("never ready")},
	}
	f := New(client, retry.Fixed(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.FetchLogs(ctx, Query{Address: common.HexToAddress("0x01"), ABI: parseABI(t)})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("FetchLogs did not return after cancellation")
	}
}
