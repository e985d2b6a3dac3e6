// Package normalizer turns raw provider logs into canonical records.
package normalizer

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/evm-event-tracker/internal/models"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// Normalize decodes a raw log against the contract interface and renders it
// into a canonical record. The second return is false when the log does not
// decode against the interface; that is an expected outcome, not an error.
// A common case is an unrelated transfer-shaped log sharing a topic hash but
// carrying a different indexed layout.
func Normalize(log types.Log, contractABI *abi.ABI) (*models.NormalizedLog, bool) {
	if contractABI == nil || len(log.Topics) == 0 {
		return nil, false
	}

	event, err := contractABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, false
	}

	indexed := make(abi.Arguments, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	// Indexed arity must match the topic list or the log belongs to a
	// different declaration that happens to share topic0.
	if len(log.Topics)-1 != len(indexed) {
		return nil, false
	}

	decoded := make(map[string]interface{})
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(decoded, indexed, log.Topics[1:]); err != nil {
			return nil, false
		}
	}
	if len(indexed) < len(event.Inputs) {
		// An empty data section with declared non-indexed parameters fails
		// here too, so the record never carries a partial values map.
		if err := contractABI.UnpackIntoMap(decoded, event.Name, log.Data); err != nil {
			return nil, false
		}
	}

	// Only declared parameter names survive into the output.
	values := make(map[string]string, len(event.Inputs))
	for _, input := range event.Inputs {
		if v, ok := decoded[input.Name]; ok {
			values[input.Name] = renderValue(v)
		}
	}

	topics := make([]string, len(log.Topics))
	for i, topic := range log.Topics {
		topics[i] = topic.Hex()
	}

	return &models.NormalizedLog{
		Address:     utils.NormalizeAddress(log.Address.Hex()),
		Topics:      topics,
		Data:        "0x" + hex.EncodeToString(log.Data),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
		Removed:     log.Removed,
		Name:        event.RawName,
		Signature:   event.Sig,
		Topic:       event.ID.Hex(),
		Values:      values,
	}, true
}

// NormalizeBatch normalizes a batch, dropping logs that do not decode.
func NormalizeBatch(logs []types.Log, contractABI *abi.ABI) []*models.NormalizedLog {
	records := make([]*models.NormalizedLog, 0, len(logs))
	for _, log := range logs {
		if record, ok := Normalize(log, contractABI); ok {
			records = append(records, record)
		}
	}
	return records
}

// renderValue renders a decoded ABI value to its canonical string form:
// integers as decimal, addresses and hashes as lowercased hex, byte strings
// as lowercased 0x-hex, booleans as literals.
func renderValue(v interface{}) string {
	switch value := v.(type) {
	case *big.Int:
		return value.String()
	case common.Address:
		return utils.NormalizeHex(value.Hex())
	case common.Hash:
		return utils.NormalizeHex(value.Hex())
	case []byte:
		return "0x" + hex.EncodeToString(value)
	case bool:
		return strconv.FormatBool(value)
	case string:
		return utils.NormalizeHex(value)
	case uint8:
		return strconv.FormatUint(uint64(value), 10)
	case uint16:
		return strconv.FormatUint(uint64(value), 10)
	case uint32:
		return strconv.FormatUint(uint64(value), 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case int8:
		return strconv.FormatInt(int64(value), 10)
	case int16:
		return strconv.FormatInt(int64(value), 10)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	}

	// Fixed-size byte arrays ([N]byte) arrive as array values.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		buf := make([]byte, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			buf[i] = byte(rv.Index(i).Uint())
		}
		return "0x" + hex.EncodeToString(buf)
	}

	return utils.NormalizeHex(fmt.Sprintf("%v", v))
}
