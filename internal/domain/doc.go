// Package domain defines the core business entities of the annotation
// platform: tasks, the leases that grant exclusive access to them, and
// per-user navigation histories. Entities carry their own validation and
// the pure parts of their behavior (status transitions, cursor arithmetic)
// so that every store backend shares one implementation.
package domain
