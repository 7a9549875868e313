// Package state provides the SQL-backed durable store shared by every
// component.
package state

import "github.com/user/keepsake/internal/types"

// Compile-time interface compliance checks.
var _ types.MessageStore = (*DB)(nil)
var _ types.MemoryStore = (*DB)(nil)
var _ types.SummaryStore = (*DB)(nil)
var _ types.FactStore = (*DB)(nil)
var _ types.JobStore = (*DB)(nil)
var _ types.StateStore = (*DB)(nil)
var _ types.LeaseStore = (*DB)(nil)
