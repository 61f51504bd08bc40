// Package sqlite contains the SQLite run store for the frontier mapper.
//
// A run is one mapper session. Each processed, partial or rejected frame
// is recorded with its FrameReport counters, and the persistent frontier
// is snapshotted periodically as zstd-compressed key blobs so runs can be
// compared offline. The schema is managed by embedded golang-migrate
// migrations.
package sqlite
