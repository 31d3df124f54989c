// Package state persists the publish ledger and the engagement ledger.
//
// Each target owns one ledger pair. A ledger is loaded whole, mutated in
// memory, and written back atomically (temp file + rename), so a crash
// mid-write never corrupts the store and readers never observe a partial
// write. Invocations are expected not to overlap; there is no cross-process
// locking.
package state
