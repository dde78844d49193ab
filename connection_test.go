package fetchz

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"
)

// memConn serves files from a map keyed by path.
type memConn struct {
	files   map[string][]byte
	fetched []string
	failing error
}

func (m *memConn) Fetch(_ context.Context, path string) ([]byte, error) {
	m.fetched = append(m.fetched, path)
	if m.failing != nil {
		return nil, m.failing
	}
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such file", path)
	}
	return data, nil
}

func (m *memConn) List(_ context.Context, dir string) ([]string, error) {
	if m.failing != nil {
		return nil, m.failing
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var names []string
	for path := range m.files {
		if strings.HasPrefix(path, prefix) {
			names = append(names, strings.TrimPrefix(path, prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (*memConn) Close() error { return nil }

func TestDownload(t *testing.T) {
	t.Run("Returns File Bytes", func(t *testing.T) {
		conn := &memConn{files: map[string][]byte{"/data/a.csv": []byte("id\n1\n")}}

		result, err := Download(conn).Process(context.Background(), "/data/a.csv")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(result) != "id\n1\n" {
			t.Errorf("unexpected content %q", result)
		}
	})

	t.Run("Failure Is TransferError", func(t *testing.T) {
		conn := &memConn{files: map[string][]byte{}}

		_, err := Download(conn).Process(context.Background(), "/data/missing.csv")
		if !errors.Is(err, ErrTransfer) {
			t.Fatalf("expected ErrTransfer, got %v", err)
		}
		var transfer *TransferError
		if !errors.As(err, &transfer) {
			t.Fatalf("expected *TransferError, got %T", err)
		}
		if transfer.Op != "download" || transfer.Path != "/data/missing.csv" {
			t.Errorf("unexpected error fields %+v", transfer)
		}
	})

	t.Run("Existing TransferError Is Not Wrapped Twice", func(t *testing.T) {
		inner := &TransferError{Op: "retr", Path: "a", Err: errors.New("550")}
		conn := &memConn{failing: inner}

		_, err := Download(conn).Process(context.Background(), "a")
		var transfer *TransferError
		if !errors.As(err, &transfer) || transfer != inner {
			t.Errorf("expected the connection error to be kept, got %v", err)
		}
	})
}

func TestContents(t *testing.T) {
	conn := &memConn{files: map[string][]byte{
		"/data/b.csv":   nil,
		"/data/a.csv":   nil,
		"/other/c.json": nil,
	}}

	result, err := Contents(conn).Process(context.Background(), "/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(result, []string{"a.csv", "b.csv"}) {
		t.Errorf("unexpected listing %v", result)
	}

	conn.failing = errors.New("connection closed")
	_, err = Contents(conn).Process(context.Background(), "/data")
	if !errors.Is(err, ErrTransfer) {
		t.Errorf("expected ErrTransfer, got %v", err)
	}
}

func TestFetchPipeline(t *testing.T) {
	conn := &memConn{files: map[string][]byte{
		"/exports/1.json": []byte(`[{"id":1},{"id":2}]`),
		"/exports/2.json": []byte(`[{"id":2},{"id":3}]`),
		"/exports/3.json": []byte(`[{"id":1}]`),
	}}

	// A minimal decoder keeps this test free of the parse package.
	decode := Apply("decode", func(_ context.Context, data []byte) ([]Record, error) {
		var out []Record
		for _, field := range strings.Split(strings.Trim(string(data), "[]"), "},") {
			var id int
			if _, err := fmt.Sscanf(strings.Trim(field, "{}"), `"id":%d`, &id); err != nil {
				return nil, err
			}
			out = append(out, Record{"id": id})
		}
		return out, nil
	})

	withDir := Lift(func(names []string) []string {
		paths := make([]string, len(names))
		for i, name := range names {
			paths[i] = "/exports/" + name
		}
		return paths
	})

	pipeline := Then5(
		Contents(conn),
		WarnIfNotFound[string](),
		withDir,
		Map(Then(Download(conn), decode)),
		JoinIfDifferentIDs[Record]("id"),
	)

	rec := &recorder{}
	ctx := WithReporter(context.Background(), rec)

	if len(conn.fetched) != 0 {
		t.Fatal("building the pipeline must not touch the connection")
	}

	result, err := Run(ctx, "/exports", pipeline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []Record{{"id": 1}, {"id": 2}, {"id": 3}}
	if !reflect.DeepEqual(result, expected) {
		t.Errorf("expected %v, got %v", expected, result)
	}
	if len(rec.all()) != 0 {
		t.Errorf("expected no reports, got %v", rec.all())
	}
}
