package normalizer

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const transferABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"Transfer","type":"event"}]`

func parseABI(t *testing.T, abiJSON string) *abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	require.NoError(t, err)
	return &parsed
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func transferLog(t *testing.T, contractABI *abi.ABI, from, to common.Address, amount *big.Int) types.Log {
	t.Helper()
	event := contractABI.Events["Transfer"]

	data, err := event.Inputs.NonIndexed().Pack(amount)
	require.NoError(t, err)

	return types.Log{
		Address:     common.HexToAddress("0xAbCdEF0123456789abcdef0123456789ABCDef01"),
		Topics:      []common.Hash{event.ID, addressTopic(from), addressTopic(to)},
		Data:        data,
		BlockNumber: 1234,
		TxHash:      common.HexToHash("0xdead"),
		TxIndex:     2,
		Index:       7,
	}
}

func TestNormalizeTransfer(t *testing.T) {
	contractABI := parseABI(t, transferABI)
	from := common.HexToAddress("0xDEf0000000000000000000000000000000000001")
	to := common.HexToAddress("0x1230000000000000000000000000000000000002")

	record, ok := Normalize(transferLog(t, contractABI, from, to, big.NewInt(1000)), contractABI)
	require.True(t, ok)

	require.Equal(t, "Transfer", record.Name)
	require.Equal(t, "Transfer(address,address,uint256)", record.Signature)
	require.Equal(t, contractABI.Events["Transfer"].ID.Hex(), record.Topic)

	// Address and decoded hex values are lowercased, integers are decimal.
	require.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", record.Address)
	require.Equal(t, map[string]string{
		"from":   "0xdef0000000000000000000000000000000000001",
		"to":     "0x1230000000000000000000000000000000000002",
		"amount": "1000",
	}, record.Values)

	require.Equal(t, uint64(1234), record.BlockNumber)
	require.Equal(t, uint(2), record.TxIndex)
	require.Equal(t, uint(7), record.LogIndex)
	require.False(t, record.Removed)
}

func TestNormalizeOnlyDeclaredNamesSurvive(t *testing.T) {
	contractABI := parseABI(t, transferABI)
	from := common.HexToAddress("0x01")
	to := common.HexToAddress("0x02")

	record, ok := Normalize(transferLog(t, contractABI, from, to, big.NewInt(1)), contractABI)
	require.True(t, ok)

	require.Len(t, record.Values, 3)
	for name := range record.Values {
		require.Contains(t, []string{"from", "to", "amount"}, name)
	}
	require.NotContains(t, record.Values, "length")
	require.NotContains(t, record.Values, "0")
}

func TestNormalizeUnknownTopicDropped(t *testing.T) {
	contractABI := parseABI(t, transferABI)

	record, ok := Normalize(types.Log{
		Topics: []common.Hash{common.HexToHash("0x1111")},
	}, contractABI)

	require.False(t, ok)
	require.Nil(t, record)
}

func TestNormalizeIndexedArityMismatchDropped(t *testing.T) {
	contractABI := parseABI(t, transferABI)
	event := contractABI.Events["Transfer"]

	// Same topic0 but only one indexed topic: a different declaration that
	// collides on the signature hash.
	_, ok := Normalize(types.Log{
		Topics: []common.Hash{event.ID, addressTopic(common.HexToAddress("0x01"))},
	}, contractABI)

	require.False(t, ok)
}

func TestNormalizeEmptyDataDropped(t *testing.T) {
	contractABI := parseABI(t, transferABI)
	event := contractABI.Events["Transfer"]

	// Both indexed topics decode, but the data section that should carry
	// "amount" is empty. A partial values map would break the contract that
	// every declared parameter name is present, so the log is dropped.
	record, ok := Normalize(types.Log{
		Topics: []common.Hash{
			event.ID,
			addressTopic(common.HexToAddress("0x01")),
			addressTopic(common.HexToAddress("0x02")),
		},
		Data: nil,
	}, contractABI)

	require.False(t, ok)
	require.Nil(t, record)
}

func TestNormalizeBatchDropsMismatches(t *testing.T) {
	contractABI := parseABI(t, transferABI)
	from := common.HexToAddress("0x01")
	to := common.HexToAddress("0x02")

	logs := []types.Log{
		transferLog(t, contractABI, from, to, big.NewInt(1)),
		{Topics: []common.Hash{common.HexToHash("0x2222")}},
		transferLog(t, contractABI, from, to, big.NewInt(2)),
		{Topics: []common.Hash{common.HexToHash("0x3333")}},
	}

	records := NormalizeBatch(logs, contractABI)
	require.Len(t, records, 2)
	require.Equal(t, "1", records[0].Values["amount"])
	require.Equal(t, "2", records[1].Values["amount"])
}

func TestRenderValueVariants(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"big int", big.NewInt(123456789), "123456789"},
		{"bool", true, "true"},
		{"bytes", []byte{0xAB, 0xCD}, "0xabcd"},
		{"fixed bytes", [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, "0xdeadbeef"},
		{"address", common.HexToAddress("0xDEf0000000000000000000000000000000000001"), "0xdef0000000000000000000000000000000000001"},
		{"plain string", "hello", "hello"},
		{"hex string", "0xABCD", "0xabcd"},
		{"uint64", uint64(42), "42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, renderValue(tc.in))
		})
	}
}
