package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/zoobzio/fetchz"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON returns a stage that decodes a JSON document into plain values:
// objects become map[string]any, arrays []any and numbers float64.
func JSON() fetchz.Processor[[]byte, any] {
	return fetchz.Apply("parse_json", func(_ context.Context, data []byte) (any, error) {
		return decodeJSON(data)
	})
}

// JSONRecords returns a stage that decodes a JSON array of objects into
// records. A single top-level object yields one record.
func JSONRecords() fetchz.Processor[[]byte, []fetchz.Record] {
	return fetchz.Apply("parse_json_records", func(_ context.Context, data []byte) ([]fetchz.Record, error) {
		value, err := decodeJSON(data)
		if err != nil {
			return nil, err
		}

		switch v := value.(type) {
		case map[string]any:
			return []fetchz.Record{v}, nil
		case []any:
			records := make([]fetchz.Record, len(v))
			for i, item := range v {
				record, ok := item.(map[string]any)
				if !ok {
					return nil, &fetchz.ParseError{
						Format: "json", Line: -1, Offset: -1,
						Err: fmt.Errorf("element %d is %s, not an object", i, kind(item)),
					}
				}
				records[i] = record
			}
			return records, nil
		}
		return nil, &fetchz.ParseError{
			Format: "json", Line: -1, Offset: -1,
			Err: fmt.Errorf("document is %s, not an array of objects", kind(value)),
		}
	})
}

func decodeJSON(data []byte) (any, error) {
	var value any
	if err := codec.Unmarshal(data, &value); err != nil {
		return nil, jsonError(data, err)
	}
	return value, nil
}

// jsonError locates a decode failure. json-iterator only reports positions
// relative to its read buffer, so the absolute offset comes from the
// standard decoder, which runs on this failure path only.
func jsonError(data []byte, err error) error {
	parseErr := &fetchz.ParseError{Format: "json", Line: -1, Offset: -1, Err: err}

	var discard any
	var syntaxErr *json.SyntaxError
	if errors.As(json.Unmarshal(data, &discard), &syntaxErr) {
		parseErr.Offset = syntaxErr.Offset
		parseErr.Line = bytes.Count(data[:min(int(syntaxErr.Offset), len(data))], []byte("\n")) + 1
	}
	return parseErr
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case float64:
		return "a number"
	case string:
		return "a string"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	}
	return fmt.Sprintf("%T", v)
}
