// Package stream manages the push-based dlob-server transport: one
// physical websocket per upstream URL multiplexing many logical
// listeners, with watchdog-driven reconnects and bounded-retry
// escalation.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// maxSafeInteger is the largest integer exactly representable in a
// float64. Inbound numeric literals beyond it must survive as strings,
// never be rounded.
const maxSafeInteger = int64(1)<<53 - 1

// SafeValue decodes arbitrary JSON, preserving any numeric literal
// outside the float64-safe integer range as its exact string form.
// In-range numbers come back as float64, same as a plain decode.
func SafeValue(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode stream payload: %w", err)
	}
	return reviveNumbers(value), nil
}

// SafeUnmarshal decodes raw into v through the number-preserving
// pass, so struct fields declared as strings accept oversized numeric
// literals losslessly.
func SafeUnmarshal(raw []byte, v interface{}) error {
	value, err := SafeValue(raw)
	if err != nil {
		return err
	}
	revived, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("re-encode revived payload: %w", err)
	}
	if err := json.Unmarshal(revived, v); err != nil {
		return fmt.Errorf("decode stream payload: %w", err)
	}
	return nil
}

func reviveNumbers(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, elem := range v {
			v[key] = reviveNumbers(elem)
		}
		return v
	case []interface{}:
		for i, elem := range v {
			v[i] = reviveNumbers(elem)
		}
		return v
	case json.Number:
		return reviveNumber(v)
	default:
		return v
	}
}

func reviveNumber(n json.Number) interface{} {
	if i, err := n.Int64(); err == nil {
		if i > maxSafeInteger || i < -maxSafeInteger {
			return n.String()
		}
		return float64(i)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		// fits uint64 but not int64: unconditionally past safe range
		return n.String()
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	// wider than any machine integer: the string form is the value
	return n.String()
}
