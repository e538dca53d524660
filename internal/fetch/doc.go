// Package fetch owns the only shared mutable state of the proxy: the
// in-flight fetch set. The set guarantees at most one writer per cache key
// process-wide; both the background fetcher here and the proxy tee path
// acquire keys from it before touching the store. Background fetches run as
// detached goroutines that invoke an external download helper (curl by
// default) under a bounded timeout and stream its stdout through the
// store's integrity writer. Failures are logged and swallowed: the client
// that triggered the fetch was already served by direct proxy-through, and
// the next request for the same key simply retries.
package fetch
