// Package topics derives low-level topic filters from an event name and
// optional parameter values.
package topics

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// UnknownEventError reports a requested event name that the interface does
// not declare. The message enumerates the declared names to aid debugging.
type UnknownEventError struct {
	Name      string
	Available []string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event %q, available events: %s", e.Name, strings.Join(e.Available, ", "))
}

// Deriver maps human event names to declarations and encodes topic filters.
// The name lookup table is built once at construction.
type Deriver struct {
	events map[string]abi.Event
	names  []string
	logger *logrus.Logger
}

// NewDeriver builds a deriver for the given contract interface. Overloaded
// events are indexed by their base name; the first declaration wins.
func NewDeriver(contractABI *abi.ABI) *Deriver {
	events := make(map[string]abi.Event, len(contractABI.Events))
	nameSet := make(map[string]struct{}, len(contractABI.Events))

	// Sort map keys so overloads resolve deterministically: geth suffixes
	// later overloads ("Transfer0"), so the unsuffixed key sorts first.
	keys := make([]string, 0, len(contractABI.Events))
	for key := range contractABI.Events {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		event := contractABI.Events[key]
		if _, taken := events[event.RawName]; !taken {
			events[event.RawName] = event
		}
		nameSet[event.RawName] = struct{}{}
	}

	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Deriver{
		events: events,
		names:  names,
		logger: utils.GetLogger(),
	}
}

// Derive produces the ordered topic filter for the named event. params maps
// parameter names to required values; a missing or nil entry leaves that
// position unfiltered. Values supplied for non-indexed parameters cannot be
// expressed as topics and are ignored with a warning.
func (d *Deriver) Derive(eventName string, params map[string]interface{}) ([][]common.Hash, error) {
	event, ok := d.events[eventName]
	if !ok {
		return nil, &UnknownEventError{Name: eventName, Available: d.names}
	}

	filter := [][]common.Hash{{event.ID}}

	for _, input := range event.Inputs {
		value, supplied := lookupParam(params, input.Name)

		if !input.Indexed {
			if supplied {
				d.logger.WithFields(logrus.Fields{
					"event":     eventName,
					"parameter": input.Name,
				}).Warn("Cannot filter on non-indexed parameter, ignoring")
			}
			continue
		}

		if !supplied {
			// Wildcard position.
			filter = append(filter, nil)
			continue
		}

		coerced, err := coerceParam(input.Type, value)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeValidation,
				fmt.Sprintf("Invalid filter value for parameter %q of %s", input.Name, eventName), err.Error())
		}

		encoded, err := abi.MakeTopics([]interface{}{coerced})
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeValidation,
				fmt.Sprintf("Failed to encode filter value for parameter %q of %s", input.Name, eventName), err.Error())
		}
		filter = append(filter, encoded[0])
	}

	return filter, nil
}

// Events returns the sorted declared event names.
func (d *Deriver) Events() []string {
	names := make([]string, len(d.names))
	copy(names, d.names)
	return names
}

func lookupParam(params map[string]interface{}, name string) (interface{}, bool) {
	if params == nil {
		return nil, false
	}
	value, ok := params[name]
	if !ok || value == nil {
		// Explicit nil and missing are the same: no filter on this position.
		return nil, false
	}
	return value, true
}

// coerceParam converts a caller-supplied value into a type MakeTopics can
// encode for the declared parameter type.
func coerceParam(typ abi.Type, value interface{}) (interface{}, error) {
	switch typ.T {
	case abi.AddressTy:
		switch v := value.(type) {
		case common.Address:
			return v, nil
		case string:
			if !common.IsHexAddress(v) {
				return nil, fmt.Errorf("%q is not a hex address", v)
			}
			return common.HexToAddress(v), nil
		}
	case abi.IntTy, abi.UintTy:
		switch v := value.(type) {
		case *big.Int:
			return v, nil
		case int:
			return big.NewInt(int64(v)), nil
		case int64:
			return big.NewInt(v), nil
		case uint64:
			return new(big.Int).SetUint64(v), nil
		case string:
			digits, radix := v, 10
			if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
				digits, radix = v[2:], 16
			}
			parsed, ok := new(big.Int).SetString(digits, radix)
			if !ok {
				return nil, fmt.Errorf("%q is not an integer", v)
			}
			return parsed, nil
		}
	case abi.BoolTy:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return v == "true", nil
		}
	case abi.FixedBytesTy, abi.HashTy:
		switch v := value.(type) {
		case common.Hash:
			return v, nil
		case string:
			return common.HexToHash(v), nil
		}
	}

	// Strings, byte slices and already-typed values pass through; MakeTopics
	// rejects anything it cannot encode.
	return value, nil
}
