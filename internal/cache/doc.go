// Package cache defines the disk-backed content store that maps a remote
// object location (scheme, host, path) onto CacheRoot/<host>/<path> files.
// Entries are published atomically: bytes stream into a sibling .tmp file
// through a sha256-hashing writer, and a rename is the single commit point,
// so the final path is either absent or complete. A .sha256 side-car records
// the content hash and an optional .meta side-car carries upstream metadata;
// neither side-car participates in hit/miss decisions. The package performs
// no concurrency control of its own; writer dedup lives in internal/fetch.
package cache
