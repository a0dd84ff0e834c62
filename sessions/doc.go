// Package sessions implements the in-memory HTTP session store of a servlet
// context.
//
// A Manager owns every live Session, keyed by session id. Ids are issued by
// the request layer, never by the manager: GetOrCreate either touches the
// session stored under an id or creates one for it.
//
// # Expiry
//
// NewManager starts a sweeper goroutine that wakes every minute (see
// WithSweepInterval) and invalidates each session whose last access plus its
// max inactive interval lies in the past. Close stops the sweeper and waits
// for it to exit. Sweep runs a single pass synchronously and is mostly useful
// in tests.
//
// # Events
//
// Creation, destruction and attribute changes are reported to the Notifier
// supplied at construction. The servlet context implements it and fans the
// events out to its registered listeners. Notifier methods run synchronously
// on the goroutine that triggered the event.
package sessions
