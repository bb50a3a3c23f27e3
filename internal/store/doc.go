// Package store persists tracked auctions, bid attempts and the audit log.
//
// The conditional Transition update is the only cross-process concurrency
// primitive in the system; everything else is best-effort.
package store
