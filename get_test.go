package fetchz

import (
	"context"
	"errors"
	"testing"
)

type listing struct {
	ID      int
	Address map[string]any
	secret  string
}

func TestGet(t *testing.T) {
	record := Record{
		"id": 7,
		"address": map[string]any{
			"city":  "Lisbon",
			"lines": []any{"Rua A", "Apt 2"},
		},
		"tags": []string{"new", "reduced"},
	}

	t.Run("Top Level Key", func(t *testing.T) {
		result, err := Get[Record]("id").Process(context.Background(), record)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != 7 {
			t.Errorf("expected 7, got %v", result)
		}
	})

	t.Run("Dotted Path", func(t *testing.T) {
		result, err := Get[Record]("address.city").Process(context.Background(), record)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "Lisbon" {
			t.Errorf("expected Lisbon, got %v", result)
		}
	})

	t.Run("Index Segments", func(t *testing.T) {
		tests := map[string]any{
			"address.lines.0":  "Rua A",
			"address.lines.-1": "Apt 2",
			"tags.1":           "reduced",
		}
		for key, expected := range tests {
			result, err := Get[Record](key).Process(context.Background(), record)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", key, err)
			}
			if result != expected {
				t.Errorf("%s: expected %v, got %v", key, expected, result)
			}
		}
	})

	t.Run("Missing Key", func(t *testing.T) {
		_, err := Get[Record]("address.zip").Process(context.Background(), record)
		if !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("expected ErrKeyNotFound, got %v", err)
		}
		var notFound *KeyNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected *KeyNotFoundError, got %T", err)
		}
		if notFound.Key != "address.zip" || notFound.Segment != "zip" {
			t.Errorf("unexpected error fields %+v", notFound)
		}
	})

	t.Run("Out Of Range Index", func(t *testing.T) {
		_, err := Get[Record]("tags.5").Process(context.Background(), record)
		if !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Slices", func(t *testing.T) {
		result, err := Get[[]int]("1").Process(context.Background(), []int{10, 20, 30})
		if err != nil || result != 20 {
			t.Errorf("expected 20, got %v (%v)", result, err)
		}
	})

	t.Run("Typed Map Keys", func(t *testing.T) {
		result, err := Get[map[int]string]("2").Process(context.Background(), map[int]string{2: "two"})
		if err != nil || result != "two" {
			t.Errorf("expected two, got %v (%v)", result, err)
		}
	})

	t.Run("Mixed Key Types", func(t *testing.T) {
		value := []map[any]any{{2: "two", "one": 1}, {1: "uno"}}

		result, err := Get[[]map[any]any]("0.2").Process(context.Background(), value)
		if err != nil || result != "two" {
			t.Errorf("expected two, got %v (%v)", result, err)
		}
		result, err = Get[[]map[any]any]("0.one").Process(context.Background(), value)
		if err != nil || result != 1 {
			t.Errorf("expected 1, got %v (%v)", result, err)
		}
	})

	t.Run("Struct Fields", func(t *testing.T) {
		value := &listing{ID: 3, Address: map[string]any{"city": "Porto"}, secret: "x"}

		result, err := Get[*listing]("Address.city").Process(context.Background(), value)
		if err != nil || result != "Porto" {
			t.Errorf("expected Porto, got %v (%v)", result, err)
		}

		_, err = Get[*listing]("secret").Process(context.Background(), value)
		if !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("unexported fields must not be readable, got %v", err)
		}
	})

	t.Run("GetOr", func(t *testing.T) {
		result, err := GetOr[Record]("address.zip", "unknown").Process(context.Background(), record)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "unknown" {
			t.Errorf("expected default, got %v", result)
		}

		result, _ = GetOr[Record]("address.city", "unknown").Process(context.Background(), record)
		if result != "Lisbon" {
			t.Errorf("expected Lisbon, got %v", result)
		}
	})

	t.Run("Map Over Records", func(t *testing.T) {
		records := []Record{{"id": 1}, {"id": 2}}
		result, err := Map(Get[Record]("id")).Process(context.Background(), records)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result) != 2 || result[0] != 1 || result[1] != 2 {
			t.Errorf("unexpected result %v", result)
		}
	})
}
