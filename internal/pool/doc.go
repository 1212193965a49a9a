// Package pool maintains a bounded set of processing units shared
// across remote sessions. Units are bound to session ids on checkout,
// reused for the lifetime of the session, and reclaimed either on
// explicit release or when idle past the configured TTL.
package pool
