// Package conv provides checked conversions between Go's int and the uint32
// point identifiers used throughout the embedding pipeline.
//
// Point counts come from the host and are validated once at the initialize
// boundary; code that iterates over already validated ranges uses direct
// casts instead.
package conv
