package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes v as "json" or "msgpack" and returns the file
// extension to store it under. msgpack reuses the json field names.
func Encode(format string, v any) ([]byte, string, error) {
	switch format {
	case "", "json":
		data, err := json.Marshal(v)
		return data, "json", err
	case "msgpack":
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(v); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "msgpack", nil
	default:
		return nil, "", fmt.Errorf("unknown output format %q", format)
	}
}

// Decode is the inverse of Encode.
func Decode(format string, data []byte, v any) error {
	switch format {
	case "", "json":
		return json.Unmarshal(data, v)
	case "msgpack":
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		return dec.Decode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
