// Package tracker owns the persisted record of already-notified event
// ids. It loads the store at the start of a run, prunes entries older
// than the configured window, filters fresh candidates against the
// remaining ids, and commits newly delivered ids back to disk with an
// atomic replace.
package tracker
