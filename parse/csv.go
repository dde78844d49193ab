// Package parse provides fetchz stages that turn downloaded bytes into
// structured records.
//
// Every parser maps []byte to a slice of values and fails with a
// *fetchz.ParseError that carries the line or byte offset of the problem
// when the underlying decoder exposes it.
package parse

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/zoobzio/fetchz"
)

// DefaultDelimiter is the CSV field delimiter used when none is given.
const DefaultDelimiter = '\t'

// RestKey holds the extra fields of a CSV row that is longer than the header.
const RestKey = "_rest"

// Options configures the parsers. Fields that do not apply to a parser are
// ignored.
type Options struct {
	// Delimiter separates CSV fields. Zero means DefaultDelimiter.
	Delimiter rune
	// Tag selects the XML elements to return. Empty means the whole document.
	Tag string
}

// DelimiterFromString converts a configured delimiter such as "," or "\t"
// to a rune. The empty string means DefaultDelimiter.
func DelimiterFromString(s string) (rune, error) {
	switch s {
	case "":
		return DefaultDelimiter, nil
	case `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("delimiter %q must be a single character", s)
	}
	return r, nil
}

// CSV returns a stage that parses delimited text with a header row into one
// record per data row. Values are strings. A row shorter than the header has
// nil for its missing columns and a longer row keeps its extra fields under
// RestKey. Blank lines are skipped.
//
// CSV panics if the delimiter is a quote, a line break or not a valid rune.
func CSV(opts Options) fetchz.Processor[[]byte, []fetchz.Record] {
	delimiter := opts.Delimiter
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	if !validDelimiter(delimiter) {
		panic(fmt.Sprintf("parse: invalid CSV delimiter %q", delimiter))
	}
	return fetchz.Apply("parse_csv", func(_ context.Context, data []byte) ([]fetchz.Record, error) {
		r := csv.NewReader(bytes.NewReader(data))
		r.Comma = delimiter
		r.FieldsPerRecord = -1

		header, err := r.Read()
		if errors.Is(err, io.EOF) {
			return []fetchz.Record{}, nil
		}
		if err != nil {
			return nil, csvError(err)
		}

		records := []fetchz.Record{}
		for {
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, csvError(err)
			}
			records = append(records, toRecord(header, row))
		}
		return records, nil
	})
}

func validDelimiter(r rune) bool {
	return r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

func toRecord(header, row []string) fetchz.Record {
	record := make(fetchz.Record, len(header)+1)
	for i, column := range header {
		if i < len(row) {
			record[column] = row[i]
		} else {
			record[column] = nil
		}
	}
	if len(row) > len(header) {
		record[RestKey] = append([]string(nil), row[len(header):]...)
	}
	return record
}

func csvError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &fetchz.ParseError{Format: "csv", Line: parseErr.Line, Offset: -1, Err: parseErr.Err}
	}
	return &fetchz.ParseError{Format: "csv", Line: -1, Offset: -1, Err: err}
}
