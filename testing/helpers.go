// Package testing provides test utilities and helpers for fetchz pipelines.
//
// This package includes mock stages, an in-memory connection, a recording
// reporter and chaos tools that make remote sources misbehave on purpose.
//
// Example usage:
//
//	func TestListingPipeline(t *testing.T) {
//		conn := fetchztest.NewMemConnection().
//			Put("/exports/a.json", []byte(`[{"id":1}]`))
//		reports := fetchztest.NewRecorder()
//		ctx := fetchz.WithReporter(context.Background(), reports)
//
//		records, err := fetchz.Run(ctx, "/exports", pipeline(conn))
//
//		require.NoError(t, err)
//		assert.Len(t, records, 1)
//		assert.Zero(t, reports.Count(fetchz.EmptyResult))
//	}
package testing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/fetchz"
)

// MockProcessor provides a configurable mock implementation of
// fetchz.Chainable[In, Out]. It tracks calls, allows configuring return
// values and delays, and provides assertion helpers for pipeline tests.
type MockProcessor[In, Out any] struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	t           *testing.T
	name        string
	callCount   int64
	lastInput   In
	returnVal   Out
	returnErr   error
	delay       time.Duration
	panicMsg    string
	mu          sync.RWMutex
	callHistory []MockCall[In]
	maxHistory  int
}

// MockCall represents a single call to the mock processor.
type MockCall[In any] struct {
	Input     In
	Timestamp time.Time
	Context   context.Context
}

// NewMockProcessor creates a new mock processor for testing.
func NewMockProcessor[In, Out any](t *testing.T, name string) *MockProcessor[In, Out] {
	return &MockProcessor[In, Out]{
		t:          t,
		name:       name,
		maxHistory: 100,
	}
}

// WithReturn configures the mock to return specific values.
func (m *MockProcessor[In, Out]) WithReturn(val Out, err error) *MockProcessor[In, Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnVal = val
	m.returnErr = err
	return m
}

// WithDelay configures the mock to delay execution.
// The delay honours context cancellation.
func (m *MockProcessor[In, Out]) WithDelay(d time.Duration) *MockProcessor[In, Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithPanic configures the mock to panic with a specific message.
func (m *MockProcessor[In, Out]) WithPanic(msg string) *MockProcessor[In, Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// WithHistorySize configures how many calls to keep in history.
// Set to 0 to disable history tracking.
func (m *MockProcessor[In, Out]) WithHistorySize(size int) *MockProcessor[In, Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxHistory = size
	if size == 0 {
		m.callHistory = nil
	} else if len(m.callHistory) > size {
		m.callHistory = m.callHistory[len(m.callHistory)-size:]
	}
	return m
}

// Name returns the name of the mock processor.
func (m *MockProcessor[In, Out]) Name() fetchz.Name {
	return m.name
}

// Process implements fetchz.Chainable. It records the call and returns the
// configured values, potentially after a delay or panic.
func (m *MockProcessor[In, Out]) Process(ctx context.Context, data In) (Out, error) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.Lock()
	m.lastInput = data
	if m.maxHistory > 0 {
		m.callHistory = append(m.callHistory, MockCall[In]{
			Input:     data,
			Timestamp: time.Now(),
			Context:   ctx,
		})
		if len(m.callHistory) > m.maxHistory {
			m.callHistory = m.callHistory[1:]
		}
	}
	delay := m.delay
	returnVal := m.returnVal
	returnErr := m.returnErr
	panicMsg := m.panicMsg
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			var zero Out
			return zero, ctx.Err()
		}
	}

	return returnVal, returnErr
}

// CallCount returns the number of times Process has been called.
func (m *MockProcessor[In, Out]) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// LastInput returns the input from the most recent call.
func (m *MockProcessor[In, Out]) LastInput() In {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastInput
}

// CallHistory returns a copy of all recorded calls.
func (m *MockProcessor[In, Out]) CallHistory() []MockCall[In] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.maxHistory == 0 {
		return nil
	}
	history := make([]MockCall[In], len(m.callHistory))
	copy(history, m.callHistory)
	return history
}

// Reset clears all call tracking.
func (m *MockProcessor[In, Out]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreInt64(&m.callCount, 0)
	m.lastInput = *new(In)
	m.callHistory = nil
}

// Assertion Helpers

// AssertProcessed verifies that a mock processor was called exactly n times.
func AssertProcessed[In, Out any](t *testing.T, mock *MockProcessor[In, Out], expectedCalls int) {
	t.Helper()
	actualCalls := mock.CallCount()
	if actualCalls != expectedCalls {
		t.Errorf("expected mock processor %s to be called %d times, but was called %d times",
			mock.name, expectedCalls, actualCalls)
	}
}

// AssertNotProcessed verifies that a mock processor was never called.
func AssertNotProcessed[In, Out any](t *testing.T, mock *MockProcessor[In, Out]) {
	t.Helper()
	AssertProcessed(t, mock, 0)
}

// AssertProcessedWith verifies that a mock processor was last called with
// specific input.
func AssertProcessedWith[In comparable, Out any](t *testing.T, mock *MockProcessor[In, Out], expectedInput In) {
	t.Helper()
	if mock.CallCount() == 0 {
		t.Errorf("expected mock processor %s to be called with input %v, but it was never called",
			mock.name, expectedInput)
		return
	}

	actualInput := mock.LastInput()
	if actualInput != expectedInput {
		t.Errorf("expected mock processor %s to be called with input %v, but was called with %v",
			mock.name, expectedInput, actualInput)
	}
}

// WaitForCalls waits for a mock processor to be called at least n times,
// with a timeout. Returns true if the expected calls were reached.
func WaitForCalls[In, Out any](mock *MockProcessor[In, Out], expectedCalls int, timeout time.Duration) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if mock.CallCount() >= expectedCalls {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Recorder is a fetchz.Reporter that keeps every report in memory.
type Recorder struct {
	mu      sync.Mutex
	reports []fetchz.Report
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Report implements fetchz.Reporter.
func (r *Recorder) Report(_ context.Context, report fetchz.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

// Reports returns a copy of the recorded reports in arrival order.
func (r *Recorder) Reports() []fetchz.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fetchz.Report(nil), r.reports...)
}

// Count returns how many reports of kind were recorded.
func (r *Recorder) Count(kind fetchz.ReportKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, report := range r.reports {
		if report.Kind == kind {
			n++
		}
	}
	return n
}

// AssertReported verifies that exactly n reports of kind were recorded.
func AssertReported(t *testing.T, r *Recorder, kind fetchz.ReportKind, expected int) {
	t.Helper()
	if actual := r.Count(kind); actual != expected {
		t.Errorf("expected %d %s reports, got %d: %v", expected, kind, actual, r.Reports())
	}
}

// MemConnection is an in-memory fetchz.Connection. Paths are plain keys and
// List returns the base names found directly under a directory, sorted.
type MemConnection struct {
	mu       sync.RWMutex
	files    map[string][]byte
	fetches  map[string]int
	failures []error
	closed   bool
}

// NewMemConnection creates an empty MemConnection.
func NewMemConnection() *MemConnection {
	return &MemConnection{
		files:   map[string][]byte{},
		fetches: map[string]int{},
	}
}

// Put stores data at path.
func (c *MemConnection) Put(path string, data []byte) *MemConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = data
	return c
}

// FailNext makes the next len(errs) calls to Fetch or List fail with the
// given errors, in order.
func (c *MemConnection) FailNext(errs ...error) *MemConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
	return c
}

// Fetch implements fetchz.Fetcher.
func (c *MemConnection) Fetch(_ context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches[path]++
	if err := c.nextFailure(); err != nil {
		return nil, err
	}
	if c.closed {
		return nil, fmt.Errorf("fetch %s: connection closed", path)
	}
	data, ok := c.files[path]
	if !ok {
		return nil, fmt.Errorf("fetch %s: no such file", path)
	}
	return append([]byte(nil), data...), nil
}

// List implements fetchz.Lister.
func (c *MemConnection) List(_ context.Context, dir string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.nextFailure(); err != nil {
		return nil, err
	}
	if c.closed {
		return nil, fmt.Errorf("list %s: connection closed", dir)
	}
	return listDir(c.files, dir), nil
}

// Close implements fetchz.Connection.
func (c *MemConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *MemConnection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// FetchCount returns how many times path was fetched.
func (c *MemConnection) FetchCount(path string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetches[path]
}

func (c *MemConnection) nextFailure() error {
	if len(c.failures) == 0 {
		return nil
	}
	err := c.failures[0]
	c.failures = c.failures[1:]
	return err
}

func listDir(files map[string][]byte, dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var names []string
	for path := range files {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names
}
