// Package executor defines the interface every test executor implements, the
// types exchanged between the engine and executor implementations, and the
// registry that selects an executor for an invocation.
package executor
