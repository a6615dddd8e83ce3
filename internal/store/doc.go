// Package store defines the persistence interfaces of the leasing engine
// and shared store infrastructure: the DBTX abstraction over connections
// and transactions, the sentinel error taxonomy, and the transaction
// runner. Implementations live under internal/platform.
package store
