// Package orchestrator coordinates approval requests: it persists a pending
// record, registers a waiter, arms the deadline, delivers the notification
// and resolves the waiter when a callback or the timeout arrives. Recover
// reconciles persisted pending records with in-memory waiters after a
// restart.
package orchestrator
