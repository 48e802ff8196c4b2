// Package faults defines the shared failure taxonomy for devflowd.
//
// Every component classifies its failures with one of the typed errors in
// this package so callers can decide, from the type alone, whether an
// operation is retryable, whether it should be chunked and retried, or
// whether the phase must abort. The taxonomy is deliberately
// dependency-free: every other internal package imports it.
package faults
