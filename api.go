// Package fetchz provides a small, type-safe algebra for building declarative
// fetch-and-transform pipelines in Go.
//
// # Overview
//
// A pipeline is a chain of unary stages. Each stage takes the full value
// produced by the stage to its left, runs to completion and hands a concrete
// value to the stage on its right. Stages fetch bytes from a remote connection,
// decompress them, parse them into records and reshape those records until the
// final value is returned to the caller.
//
// # Core Concepts
//
// Every stage implements a single interface:
//
//	type Chainable[In, Out any] interface {
//	    Process(context.Context, In) (Out, error)
//	    Name() Name
//	}
//
// Stages are created with adapter functions (Transform, Apply, Effect, Lift)
// or with combinator factories (Map, Filter, Get, Split, JoinIfDifferentIDs,
// WarnIfNotFound, Download, ...) that close over their configuration.
// Stages are immutable values and may be shared freely.
//
// Stages are connected left to right with Then:
//
//	listing := fetchz.Then4(
//	    fetchz.Contents(conn),
//	    fetchz.Filter(func(name string) bool { return strings.HasSuffix(name, ".csv") }),
//	    fetchz.Map(fetchz.Then(fetchz.Download(conn), parse.CSV(parse.Options{}))),
//	    fetchz.JoinIfDifferentIDs[fetchz.Record]("ListingID"),
//	)
//
//	records, err := fetchz.Run(ctx, "/exports", listing)
//
// Composition never runs either operand, and Then(Then(a, b), c) behaves
// exactly like Then(a, Then(b, c)).
//
// # Error Handling
//
// Errors returned by a stage propagate unchanged through every composed stage
// to the caller of Process. Adapters wrap failures in *Error, which records the
// stage path, the input that caused the failure and timing information. The
// domain failures (TransferError, DecodeError, ParseError, DateParseError,
// KeyNotFoundError) all match their sentinel with errors.Is.
//
// Empty results are not errors. WarnIfNotFound reports them through a
// Reporter and lets the pipeline continue with the empty value.
package fetchz

import "context"

// Chainable defines the interface for any stage that turns a value of type In
// into a value of type Out.
//
// Chainable is the foundation of fetchz - every adapter, combinator and
// connector implements this interface, so any stage can be placed on either
// side of Then.
type Chainable[In, Out any] interface {
	Process(context.Context, In) (Out, error)
	Name() Name
}

// Name is a type alias for stage names.
// Names appear in Error.Path and in report events.
type Name = string

// Record is the structured value produced by the parsers: one row of a CSV
// file, one element of an XML document or one object of a JSON array.
type Record = map[string]any

// Processor is a named, immutable stage created by the adapter functions.
// The fn field is private so processors are only created through adapters,
// which keeps error wrapping and panic recovery consistent.
type Processor[In, Out any] struct {
	fn   func(context.Context, In) (Out, error)
	name Name
}

// Process implements the Chainable interface.
func (p Processor[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	return p.fn(ctx, in)
}

// Name returns the name of the processor.
func (p Processor[In, Out]) Name() Name {
	return p.name
}
