// Package engine runs test invocations end to end. It records each request as
// a pending invocation, resolves the executor through the registry, streams
// output lines to the store and the log broker, and persists the classified
// terminal result. Invocations can run synchronously, in the background, or
// as a bounded parallel batch.
package engine
