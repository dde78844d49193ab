package fetchz

import (
	"context"
	"time"

	"github.com/itchyny/timefmt-go"
)

// DefaultDateFormat is the strftime format used when none is given.
const DefaultDateFormat = "%Y-%m-%d"

// DateFromString returns a stage that parses a string with a strftime format
// such as "%Y-%m-%d" or "%b-%Y". An empty format means DefaultDateFormat.
//
// Surrounding non-word characters are stripped and the input is cut to the
// width of a date rendered with the format, so file names such as
// "2021-01-15_listings" parse with "%Y-%m-%d". A mismatch fails with a
// *DateParseError.
func DateFromString(format string) Processor[string, time.Time] {
	if format == "" {
		format = DefaultDateFormat
	}
	return Apply("date_from_str("+format+")", func(_ context.Context, s string) (time.Time, error) {
		input := strip(nonWord, s)
		width := len([]rune(timefmt.Format(time.Now(), format)))
		if runes := []rune(input); len(runes) > width {
			input = string(runes[:width])
		}
		t, err := timefmt.Parse(input, format)
		if err != nil {
			return time.Time{}, &DateParseError{Input: s, Format: format, Err: err}
		}
		return t, nil
	})
}

// StringFromDate returns a stage that renders a time with a strftime format.
// An empty format means DefaultDateFormat.
func StringFromDate(format string) Processor[time.Time, string] {
	if format == "" {
		format = DefaultDateFormat
	}
	return Transform("str_from_date("+format+")", func(_ context.Context, t time.Time) string {
		return timefmt.Format(t, format)
	})
}
