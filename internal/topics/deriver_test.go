package topics

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const tokenABI = `[
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"Transfer","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"owner","type":"address"},{"indexed":true,"name":"spender","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"Approval","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":false,"name":"paused","type":"bool"}],"name":"Paused","type":"event"}
]`

func newDeriver(t *testing.T) (*Deriver, *abi.ABI) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)
	return NewDeriver(&parsed), &parsed
}

func TestDeriveNoParams(t *testing.T) {
	deriver, parsed := newDeriver(t)

	filter, err := deriver.Derive("Transfer", nil)
	require.NoError(t, err)

	require.Len(t, filter, 3)
	require.Equal(t, []common.Hash{parsed.Events["Transfer"].ID}, filter[0])
	require.Nil(t, filter[1])
	require.Nil(t, filter[2])
}

func TestDeriveWithParam(t *testing.T) {
	deriver, _ := newDeriver(t)
	from := common.HexToAddress("0xDEf0000000000000000000000000000000000001")

	filter, err := deriver.Derive("Transfer", map[string]interface{}{"from": from.Hex()})
	require.NoError(t, err)

	require.Len(t, filter, 3)
	require.Equal(t, []common.Hash{common.BytesToHash(common.LeftPadBytes(from.Bytes(), 32))}, filter[1])
	require.Nil(t, filter[2])
}

func TestDeriveExplicitNilEqualsMissing(t *testing.T) {
	deriver, _ := newDeriver(t)

	withNil, err := deriver.Derive("Transfer", map[string]interface{}{"from": nil})
	require.NoError(t, err)
	without, err := deriver.Derive("Transfer", nil)
	require.NoError(t, err)

	require.True(t, reflect.DeepEqual(withNil, without))
}

func TestDeriveDeterministic(t *testing.T) {
	deriver, _ := newDeriver(t)
	params := map[string]interface{}{"to": "0x1230000000000000000000000000000000000002"}

	first, err := deriver.Derive("Transfer", params)
	require.NoError(t, err)
	second, err := deriver.Derive("Transfer", params)
	require.NoError(t, err)

	require.True(t, reflect.DeepEqual(first, second))
}

func TestDeriveUnknownEventListsNames(t *testing.T) {
	deriver, _ := newDeriver(t)

	_, err := deriver.Derive("Mint", nil)
	require.Error(t, err)

	var unknownErr *UnknownEventError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, []string{"Approval", "Paused", "Transfer"}, unknownErr.Available)
	require.Contains(t, err.Error(), "Approval")
	require.Contains(t, err.Error(), "Paused")
	require.Contains(t, err.Error(), "Transfer")
}

func TestDeriveNonIndexedParamIgnored(t *testing.T) {
	deriver, parsed := newDeriver(t)

	// amount is not indexed; the value cannot become a topic.
	filter, err := deriver.Derive("Transfer", map[string]interface{}{"amount": "1000"})
	require.NoError(t, err)

	require.Len(t, filter, 3)
	require.Equal(t, []common.Hash{parsed.Events["Transfer"].ID}, filter[0])
	require.Nil(t, filter[1])
	require.Nil(t, filter[2])
}

func TestDeriveInvalidAddressValue(t *testing.T) {
	deriver, _ := newDeriver(t)

	_, err := deriver.Derive("Transfer", map[string]interface{}{"from": "not-an-address"})
	require.Error(t, err)
}

func TestDeriveEventWithoutIndexedInputs(t *testing.T) {
	deriver, parsed := newDeriver(t)

	filter, err := deriver.Derive("Paused", nil)
	require.NoError(t, err)

	require.Equal(t, [][]common.Hash{{parsed.Events["Paused"].ID}}, filter)
}
