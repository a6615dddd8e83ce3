// Package memstore provides in-memory implementations of the store
// interfaces, guarded by mutexes. It backs the dev-mode server and the
// engine's concurrency tests; semantics match the postgres package,
// including atomic expired-lease takeover on acquire. Data does not
// survive a restart.
package memstore
