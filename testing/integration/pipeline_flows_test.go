package integration

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/zoobzio/fetchz"
	"github.com/zoobzio/fetchz/archive"
	"github.com/zoobzio/fetchz/parse"
	fetchztest "github.com/zoobzio/fetchz/testing"
)

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipped(t *testing.T, members map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(members[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// listing fetches every gzipped JSON export in a directory and merges them,
// keeping the first record seen for each id.
func listing(conn fetchz.Connection, dir string) fetchz.Processor[string, []fetchz.Record] {
	prefix := fetchz.Lift(func(name string) string { return dir + "/" + name })
	return fetchz.Then4(
		fetchz.Contents(conn),
		fetchz.WarnIfNotFound[string](),
		fetchz.Map(fetchz.Then4(prefix, fetchz.Download(conn), archive.Ungzip(), parse.JSONRecords())),
		fetchz.JoinIfDifferentIDs[fetchz.Record]("id"),
	)
}

func TestPipelineFlows_Listing(t *testing.T) {
	t.Run("merges_exports_by_id", func(t *testing.T) {
		conn := fetchztest.NewMemConnection().
			Put("/exports/a.json.gz", gzipped(t, `[{"id":"1","v":"a"},{"id":"2","v":"b"}]`)).
			Put("/exports/b.json.gz", gzipped(t, `[{"id":"2","v":"dup"},{"id":"3","v":"c"}]`))
		reports := fetchztest.NewRecorder()
		ctx := fetchz.WithReporter(context.Background(), reports)

		records, err := fetchz.Run(ctx, "/exports", listing(conn, "/exports"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{"a", "b", "c"}
		if len(records) != len(want) {
			t.Fatalf("expected %d records, got %v", len(want), records)
		}
		for i, v := range want {
			if records[i]["v"] != v {
				t.Errorf("record %d: expected v=%s, got %v", i, v, records[i]["v"])
			}
		}
		fetchztest.AssertReported(t, reports, fetchz.EmptyResult, 0)
		if conn.FetchCount("/exports/a.json.gz") != 1 {
			t.Errorf("expected a single fetch per export")
		}
	})

	t.Run("empty_directory_is_reported", func(t *testing.T) {
		conn := fetchztest.NewMemConnection().Put("/elsewhere/x.json.gz", nil)
		reports := fetchztest.NewRecorder()
		ctx := fetchz.WithReporter(context.Background(), reports)

		records, err := fetchz.Run(ctx, "/exports", listing(conn, "/exports"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if records == nil || len(records) != 0 {
			t.Errorf("expected empty non-nil result, got %#v", records)
		}
		fetchztest.AssertReported(t, reports, fetchz.EmptyResult, 1)
	})

	t.Run("corrupt_export_fails_with_path", func(t *testing.T) {
		conn := fetchztest.NewMemConnection().
			Put("/exports/a.json.gz", gzipped(t, `[{"id":"1"}]`)).
			Put("/exports/b.json.gz", []byte("not gzip"))

		_, err := fetchz.Run(context.Background(), "/exports", listing(conn, "/exports"))
		if !errors.Is(err, fetchz.ErrDecode) {
			t.Fatalf("expected ErrDecode, got %v", err)
		}
		var decodeErr *fetchz.DecodeError
		if !errors.As(err, &decodeErr) || decodeErr.Format != "gzip" {
			t.Errorf("expected gzip DecodeError, got %v", err)
		}
		var stageErr *fetchz.Error
		if !errors.As(err, &stageErr) {
			t.Fatalf("expected *fetchz.Error, got %T", err)
		}
		if last := stageErr.Path[len(stageErr.Path)-1]; last != "ungzip" {
			t.Errorf("expected path to end at ungzip, got %v", stageErr.Path)
		}
	})

	t.Run("missing_export_is_a_transfer_error", func(t *testing.T) {
		conn := fetchztest.NewMemConnection()
		fetch := fetchz.Then(fetchz.Download(conn), parse.JSONRecords())

		_, err := fetchz.Run(context.Background(), "/exports/none.json", fetch)
		if !errors.Is(err, fetchz.ErrTransfer) {
			t.Errorf("expected ErrTransfer, got %v", err)
		}
	})
}

func TestPipelineFlows_ZippedCSV(t *testing.T) {
	conn := fetchztest.NewMemConnection().Put("/drop/stations.zip", zipped(t, map[string]string{
		"north.csv": "id,city\n1,Porto\n2,Braga\n",
		"south.csv": "id,city\n3,Faro\n",
	}, "north.csv", "south.csv"))

	rows := fetchz.Then4(
		fetchz.Download(conn),
		archive.Unzip(archive.Options{}),
		fetchz.Map(fetchz.Then(archive.Data(), parse.CSV(parse.Options{Delimiter: ','}))),
		fetchz.Concat[fetchz.Record](),
	)

	records, err := fetchz.Run(context.Background(), "/drop/stations.zip", rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cities := make([]any, len(records))
	for i, r := range records {
		cities[i] = r["city"]
	}
	if len(cities) != 3 || cities[0] != "Porto" || cities[2] != "Faro" {
		t.Errorf("unexpected cities %v", cities)
	}

	names, err := fetchz.Run(context.Background(), "/drop/stations.zip",
		fetchz.Then(fetchz.Download(conn), fetchz.Then(archive.Unzip(archive.Options{}), archive.Names())))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "north.csv" {
		t.Errorf("unexpected member names %v", names)
	}
}

func TestPipelineFlows_DatedFilename(t *testing.T) {
	// Export names carry their date; the pipeline reformats it for display.
	stamp := fetchz.Then3(
		fetchz.Strip(`\W+`),
		fetchz.Then(fetchz.Split("_"), fetchz.Get[[]string]("0")),
		fetchz.LiftErr(func(v any) (string, error) {
			s, ok := v.(string)
			if !ok {
				return "", errors.New("not a string")
			}
			return s, nil
		}),
	)
	pipeline := fetchz.Then3(stamp, fetchz.DateFromString("%Y-%m-%d"), fetchz.StringFromDate("%d/%m/%Y"))

	out, err := fetchz.Run(context.Background(), "--2021-01-15_listings.csv", pipeline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "15/01/2021" {
		t.Errorf("expected 15/01/2021, got %q", out)
	}

	_, err = fetchz.Run(context.Background(), "listings_2021.csv", pipeline)
	if !errors.Is(err, fetchz.ErrDateParse) {
		t.Errorf("expected ErrDateParse, got %v", err)
	}
}
